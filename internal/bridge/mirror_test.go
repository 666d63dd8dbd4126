package bridge

import (
	"crypto/sha256"
	"encoding/json"
	"testing"

	"agentworld/internal/consensus"
	"agentworld/internal/identity"
	"agentworld/internal/ids"
	"agentworld/internal/kernel"
)

type fakeArtifacts struct{ blobs map[ids.ArtifactHash][]byte }

func newFakeArtifacts() *fakeArtifacts { return &fakeArtifacts{blobs: make(map[ids.ArtifactHash][]byte)} }

func (f *fakeArtifacts) Exists(hash ids.ArtifactHash) bool { _, ok := f.blobs[hash]; return ok }

func (f *fakeArtifacts) Put(b []byte) (ids.ArtifactHash, error) {
	h := ids.HashBytes(b)
	f.blobs[h] = b
	return h, nil
}

type fakeCompiler struct{}

func (fakeCompiler) Compile(manifestPath string, sources map[string]string) ([]byte, error) {
	return nil, nil
}

func newTestWorld(t *testing.T) *kernel.WorldModel {
	t.Helper()
	return kernel.NewWorldModel([]byte("seed-1"), kernel.WorldServices{
		Artifacts: newFakeArtifacts(), Compiler: fakeCompiler{},
	}, kernel.EpochConfig{})
}

func signedPayload(t *testing.T, action kernel.Action, key *identity.KeyPair) []byte {
	t.Helper()
	digest := sha256.Sum256([]byte(action.Kind))
	sig, err := identity.Sign(key.Private, digest)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	b, err := json.Marshal(SimulatorPayload{Action: action, Digest: digest, Signature: sig})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return b
}

func TestApplyCommittedAppliesSignedSimulatorAction(t *testing.T) {
	w := newTestWorld(t)
	key, err := identity.NewKeyPair()
	if err != nil {
		t.Fatalf("keypair: %v", err)
	}

	m := NewMirror(w, identity.ResolveSubmitter, nil, nil, nil)
	action := kernel.Action{Kind: kernel.ActionCreateAgent, TargetAgent: key.Agent}
	payload := signedPayload(t, action, key)

	entries := m.ApplyCommitted([]consensus.CommitEnvelope{{
		Height:    1,
		Validator: "v1",
		Payload: consensus.Envelope{
			PayloadKind:   consensus.PayloadSimulatorAction,
			Submitter:     key.Agent,
			ActionPayload: payload,
		},
	}})

	if len(entries) != 1 || entries[0].Kind != AuditApplied {
		t.Fatalf("expected one applied entry, got %+v", entries)
	}
	if !w.AgentExists(key.Agent) {
		t.Fatalf("expected agent %s to exist after mirroring", key.Agent)
	}
}

func TestApplyCommittedClassifiesRuntimeEnvelopeWithoutApplying(t *testing.T) {
	w := newTestWorld(t)
	m := NewMirror(w, identity.ResolveSubmitter, nil, nil, nil)

	entries := m.ApplyCommitted([]consensus.CommitEnvelope{{
		Height: 1, Validator: "v1",
		Payload: consensus.Envelope{PayloadKind: consensus.PayloadRuntimeAction, ActionPayload: []byte("{}")},
	}})
	if len(entries) != 1 || entries[0].Kind != AuditUnclassified {
		t.Fatalf("expected unclassified entry for a runtime_action envelope, got %+v", entries)
	}
}

func TestApplyCommittedRejectsLocationSubmitterForMarketAction(t *testing.T) {
	w := newTestWorld(t)
	key, err := identity.NewKeyPair()
	if err != nil {
		t.Fatalf("keypair: %v", err)
	}
	m := NewMirror(w, identity.ResolveSubmitter, nil, nil, nil)

	action := kernel.Action{
		Kind: kernel.ActionListModuleArtifactForSale, Submitter: key.Agent,
		WasmHash: ids.HashBytes([]byte("wasm")), PriceKind: "MainToken", PriceAmount: 10,
	}
	payload := signedPayload(t, action, key)

	entries := m.ApplyCommitted([]consensus.CommitEnvelope{{
		Height: 1, Validator: "v1",
		Payload: consensus.Envelope{PayloadKind: consensus.PayloadSimulatorAction, ActionPayload: payload},
	}})
	// key.Agent was never created via CreateAgent, so it is unknown to the
	// world; a market action requires the resolved identity to be a known
	// agent owner and must reject it.
	if len(entries) != 1 || entries[0].Kind != AuditRejected {
		t.Fatalf("expected rejected entry for unknown agent submitting a market action, got %+v", entries)
	}
}
