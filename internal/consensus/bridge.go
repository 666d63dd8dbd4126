package consensus

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"sync"

	"agentworld/internal/ids"
)

// ErrNotLeader, ErrQuorumLost and ErrHeightSkew surface to submitters
// only; the bridge mirror never observes them (§7, §4.4).
var (
	ErrNotLeader   = errors.New("consensus: not leader for this height")
	ErrQuorumLost  = errors.New("consensus: quorum not reached")
	ErrHeightSkew  = errors.New("consensus: proposed height does not follow committed height")
)

// Bridge orders submitted envelopes among a fixed staked validator set
// and exposes a drain of committed envelopes in total order (§4.4).
type Bridge struct {
	mu sync.Mutex

	validators    []Validator
	totalStake    uint64
	rankOf        map[ids.AgentId]int

	committedHeight uint64
	votesByProposal map[string]map[ids.AgentId]bool
	batchByProposal map[string][]Envelope
	heightProposal  map[uint64]string

	committed []CommitEnvelope
}

// NewBridge constructs a bridge over a fixed validator set, ranked in
// the order given (ties broken by position, matching a deterministic
// validator table rather than a random leader election).
func NewBridge(validators []Validator) *Bridge {
	rank := make(map[ids.AgentId]int, len(validators))
	var total uint64
	for i, v := range validators {
		rank[v.ID] = i
		total += v.Stake
	}
	return &Bridge{
		validators:      append([]Validator(nil), validators...),
		totalStake:      total,
		rankOf:          rank,
		votesByProposal: make(map[string]map[ids.AgentId]bool),
		batchByProposal: make(map[string][]Envelope),
		heightProposal:  make(map[uint64]string),
	}
}

func (b *Bridge) stakeOf(id ids.AgentId) uint64 {
	for _, v := range b.validators {
		if v.ID == id {
			return v.Stake
		}
	}
	return 0
}

// ProposeBatch registers a candidate batch for height from proposer,
// rejecting a height that does not immediately follow the last
// committed height (§4.4 "heights are strictly monotonic").
func (b *Bridge) ProposeBatch(height uint64, proposer ids.AgentId, batch []Envelope) (proposalHash string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.rankOf[proposer]; !ok {
		return "", ErrNotLeader
	}
	if height != b.committedHeight+1 {
		if existing, ok := b.heightProposal[height]; ok {
			return existing, nil // same height already proposed; idempotent re-propose
		}
		return "", ErrHeightSkew
	}
	hash := batchHash(height, batch)
	if _, exists := b.batchByProposal[hash]; !exists {
		b.batchByProposal[hash] = append([]Envelope(nil), batch...)
		b.votesByProposal[hash] = make(map[ids.AgentId]bool)
	}
	b.heightProposal[height] = hash
	return hash, nil
}

// Vote records a validator's endorsement of a proposal and commits it
// once it crosses a two-thirds-of-stake quorum.
func (b *Bridge) Vote(height uint64, proposalHash string, validator ids.AgentId) (committed bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	votes, ok := b.votesByProposal[proposalHash]
	if !ok {
		return false, errors.New("consensus: unknown proposal")
	}
	if _, ok := b.rankOf[validator]; !ok {
		return false, ErrNotLeader
	}
	votes[validator] = true

	var stakeVoted uint64
	for v := range votes {
		stakeVoted += b.stakeOf(v)
	}
	if stakeVoted*3 < b.totalStake*2 {
		return false, nil
	}
	if height != b.committedHeight+1 {
		return false, ErrHeightSkew
	}

	batch := b.batchByProposal[proposalHash]
	order := Ordering(batch)
	for _, i := range order {
		b.committed = append(b.committed, CommitEnvelope{
			Height: height, Validator: validator, Payload: batch[i],
		})
	}
	b.committedHeight = height
	delete(b.votesByProposal, proposalHash)
	delete(b.batchByProposal, proposalHash)
	delete(b.heightProposal, height)
	return true, nil
}

// DrainCommitted returns all envelopes committed since the previous
// drain, in commit order, and empties the internal buffer (§4.4). The
// caller is responsible for persisting committedHeight and re-requesting
// from last_applied_height+1 after a restart.
func (b *Bridge) DrainCommitted() []CommitEnvelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.committed
	b.committed = nil
	return out
}

// CommittedHeight reports the last height to reach quorum.
func (b *Bridge) CommittedHeight() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.committedHeight
}

// Validators returns a defensive copy of the fixed staked validator set,
// used by the epoch report writer to split minted settlement points by
// stake (§6 "minted_records").
func (b *Bridge) Validators() []Validator {
	return append([]Validator(nil), b.validators...)
}

func batchHash(height uint64, batch []Envelope) string {
	h := sha256.New()
	var hb [8]byte
	binary.BigEndian.PutUint64(hb[:], height)
	h.Write(hb[:])
	for _, e := range batch {
		h.Write([]byte(e.Submitter))
		h.Write(e.ActionPayload)
	}
	return hex.EncodeToString(h.Sum(nil))
}
