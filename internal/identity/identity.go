// Package identity resolves a submitted envelope's signature to exactly
// one agent owner, adapted from the teacher's transaction signing flow
// (core/transactions.go's Sign/VerifySig) to the envelope shape used by
// the consensus bridge and module market actions (§4.4, §6).
package identity

import (
	"crypto/ecdsa"
	"errors"

	"github.com/ethereum/go-ethereum/crypto"

	"agentworld/internal/ids"
)

var (
	ErrMalformedSignature = errors.New("identity: malformed signature")
	ErrSignatureMismatch  = errors.New("identity: signature does not verify")
	ErrLocationSubmitter  = errors.New("identity: location owners may not submit this action")
)

// KeyPair is a generated agent signing identity.
type KeyPair struct {
	Private *ecdsa.PrivateKey
	Agent   ids.AgentId
}

// NewKeyPair generates a fresh secp256k1 key and derives its AgentId from
// the hex-encoded address, mirroring the teacher's Address derivation via
// crypto.PubkeyToAddress.
func NewKeyPair() (*KeyPair, error) {
	priv, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	addr := crypto.PubkeyToAddress(priv.PublicKey)
	return &KeyPair{Private: priv, Agent: ids.AgentId(addr.Hex())}, nil
}

// Sign produces a 65-byte {R||S||V} signature over digest.
func Sign(priv *ecdsa.PrivateKey, digest [32]byte) ([]byte, error) {
	return crypto.Sign(digest[:], priv)
}

// Recover resolves a signature over digest back to the signing agent,
// verifying the signature before trusting the recovered address.
func Recover(digest [32]byte, sig []byte) (ids.AgentId, error) {
	if len(sig) != 65 {
		return "", ErrMalformedSignature
	}
	pubKey, err := crypto.SigToPub(digest[:], sig)
	if err != nil {
		return "", ErrMalformedSignature
	}
	if !crypto.VerifySignature(crypto.FromECDSAPub(pubKey), digest[:], sig[:64]) {
		return "", ErrSignatureMismatch
	}
	addr := crypto.PubkeyToAddress(*pubKey)
	return ids.AgentId(addr.Hex()), nil
}

// ResolveSubmitter recovers the signing agent for an envelope digest and,
// when requireAgent is true (module market actions, §4.4), rejects a
// resolved identity that does not correspond to a known agent owner.
func ResolveSubmitter(digest [32]byte, sig []byte, knownAgent func(ids.AgentId) bool, requireAgent bool) (ids.AgentId, error) {
	agent, err := Recover(digest, sig)
	if err != nil {
		return "", err
	}
	if requireAgent && knownAgent != nil && !knownAgent(agent) {
		return "", ErrLocationSubmitter
	}
	return agent, nil
}
