package kernel

import (
	"testing"

	"agentworld/internal/ids"
)

type fakeArtifacts struct {
	blobs map[ids.ArtifactHash][]byte
}

func newFakeArtifacts() *fakeArtifacts {
	return &fakeArtifacts{blobs: make(map[ids.ArtifactHash][]byte)}
}

func (f *fakeArtifacts) Exists(hash ids.ArtifactHash) bool { _, ok := f.blobs[hash]; return ok }

func (f *fakeArtifacts) Put(b []byte) (ids.ArtifactHash, error) {
	h := ids.HashBytes(b)
	f.blobs[h] = b
	return h, nil
}

type fakeCompiler struct{}

func (fakeCompiler) Compile(manifestPath string, sources map[string]string) ([]byte, error) {
	var out []byte
	for _, v := range sources {
		out = append(out, v...)
	}
	return out, nil
}

func newTestWorld(t *testing.T) *WorldModel {
	t.Helper()
	return NewWorldModel([]byte("seed-1"), WorldServices{
		Artifacts: newFakeArtifacts(),
		Compiler:  fakeCompiler{},
	}, EpochConfig{TicksPerEpoch: 10, RewardPointsPerCredit: 100})
}

func mustCreateAgent(t *testing.T, w *WorldModel, id ids.AgentId) {
	t.Helper()
	if _, err := w.ApplyAction(Action{Kind: ActionCreateAgent, TargetAgent: id}); err != nil {
		t.Fatalf("create agent %s: %v", id, err)
	}
}

func TestCompileDeployInstallUpgrade(t *testing.T) {
	w := newTestWorld(t)
	mustCreateAgent(t, w, "A1")

	manifest := ModuleManifest{
		InterfaceVersion: 1,
		Entrypoints:      map[Stage]bool{StagePreAction: true},
		Subscriptions:    []Subscription{{Stage: StagePreAction, Filter: "MoveAgent"}},
	}
	batch, err := w.ApplyAction(Action{
		Kind:         ActionCompileModuleArtifactFromSource,
		Submitter:    "A1",
		ModuleID:     "m1.rule.move",
		ModuleVersion: "1.0.0",
		ManifestPath: "module.yaml",
		SourceFiles:  map[string]string{"main.rs": "fn apply() {}"},
		Manifest:     manifest,
	})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if len(batch.Events) != 1 || batch.Events[0].Kind != "ModuleArtifactDeployed" {
		t.Fatalf("expected ModuleArtifactDeployed, got %+v", batch.Events)
	}
	h1Hex := batch.Events[0].Payload["wasm_hash"]
	h1, err := ids.ParseArtifactHash(h1Hex)
	if err != nil {
		t.Fatalf("parse hash: %v", err)
	}

	// Re-deploying the same hash is a no-op (§4.1 idempotence).
	batch, err = w.ApplyAction(Action{Kind: ActionDeployModuleArtifact, Submitter: "A1", WasmHash: h1})
	if err != nil {
		t.Fatalf("deploy no-op: %v", err)
	}
	if len(batch.Events) != 0 {
		t.Fatalf("expected no-op deploy, got %+v", batch.Events)
	}

	batch, err = w.ApplyAction(Action{
		Kind: ActionInstallModuleFromArtifact, Submitter: "A1",
		WasmHash: h1, InstanceID: "I1", InstallTarget: ids.AgentOwner("A1"), Activate: true,
	})
	if err != nil {
		t.Fatalf("install: %v", err)
	}
	if len(batch.Events) != 1 || batch.Events[0].Kind != "ModuleInstalled" {
		t.Fatalf("expected ModuleInstalled, got %+v", batch.Events)
	}
	if !w.installedModules["I1"].Active {
		t.Fatalf("expected instance I1 to be active")
	}

	compatManifest := manifest
	compatManifest.Entrypoints = map[Stage]bool{StagePreAction: true, StagePostAction: true}
	batch, err = w.ApplyAction(Action{
		Kind: ActionUpgradeModuleFromArtifact, Submitter: "A1", Upgrader: "A1",
		InstanceID: "I1", WasmHash: h1, ModuleVersion: "2.0.0", Manifest: compatManifest,
	})
	if err != nil {
		t.Fatalf("upgrade: %v", err)
	}
	if len(batch.Events) != 1 || batch.Events[0].Kind != "ModuleUpgraded" {
		t.Fatalf("expected ModuleUpgraded, got %+v", batch.Events)
	}
	if w.installedModules["I1"].ModuleVersion != "2.0.0" {
		t.Fatalf("expected version 2.0.0, got %s", w.installedModules["I1"].ModuleVersion)
	}

	// An upgrade changing interface_version is rejected IncompatibleUpgrade.
	incompatManifest := compatManifest
	incompatManifest.InterfaceVersion = 2
	_, err = w.ApplyAction(Action{
		Kind: ActionUpgradeModuleFromArtifact, Submitter: "A1", Upgrader: "A1",
		InstanceID: "I1", WasmHash: h1, ModuleVersion: "3.0.0", Manifest: incompatManifest,
	})
	rej, ok := err.(*Rejection)
	if !ok || rej.Reason != RejectIncompatibleUpgrade {
		t.Fatalf("expected IncompatibleUpgrade, got %v", err)
	}
}

func TestUnauthorizedUpgradeRejected(t *testing.T) {
	w := newTestWorld(t)
	mustCreateAgent(t, w, "A1")
	mustCreateAgent(t, w, "A2")

	manifest := ModuleManifest{InterfaceVersion: 1, Entrypoints: map[Stage]bool{}}
	batch, _ := w.ApplyAction(Action{
		Kind: ActionCompileModuleArtifactFromSource, Submitter: "A1",
		ModuleID: "m1.rule.move", ModuleVersion: "1.0.0", ManifestPath: "m.yaml",
		SourceFiles: map[string]string{"a": "b"}, Manifest: manifest,
	})
	h1, _ := ids.ParseArtifactHash(batch.Events[0].Payload["wasm_hash"])
	w.ApplyAction(Action{
		Kind: ActionInstallModuleFromArtifact, Submitter: "A1",
		WasmHash: h1, InstanceID: "I1", InstallTarget: ids.AgentOwner("A1"),
	})

	_, err := w.ApplyAction(Action{
		Kind: ActionUpgradeModuleFromArtifact, Submitter: "A2", Upgrader: "A2",
		InstanceID: "I1", WasmHash: h1, ModuleVersion: "2.0.0", Manifest: manifest,
	})
	rej, ok := err.(*Rejection)
	if !ok || rej.Reason != RejectUnauthorized {
		t.Fatalf("expected Unauthorized, got %v", err)
	}
	if w.installedModules["I1"].ModuleVersion != "1.0.0" {
		t.Fatalf("state must be untouched after rejection")
	}
}

func TestMarketMatching(t *testing.T) {
	w := newTestWorld(t)
	mustCreateAgent(t, w, "A1")
	mustCreateAgent(t, w, "A2")

	manifest := ModuleManifest{InterfaceVersion: 1, Entrypoints: map[Stage]bool{}}
	batch, _ := w.ApplyAction(Action{
		Kind: ActionCompileModuleArtifactFromSource, Submitter: "A1",
		ModuleID: "m1.rule.move", ModuleVersion: "1.0.0", ManifestPath: "m.yaml",
		SourceFiles: map[string]string{"a": "b"}, Manifest: manifest,
	})
	h1, _ := ids.ParseArtifactHash(batch.Events[0].Payload["wasm_hash"])

	w.ApplyAction(Action{Kind: ActionMintAsset, To: ids.AgentOwner("A2"), AssetKind: "MainToken", Amount: 100})

	listBatch, err := w.ApplyAction(Action{
		Kind: ActionListModuleArtifactForSale, Submitter: "A1",
		WasmHash: h1, PriceKind: "MainToken", PriceAmount: 100,
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	listOrderID := listBatch.Events[0].Payload["order_id"]

	bidBatch, err := w.ApplyAction(Action{
		Kind: ActionPlaceModuleArtifactBid, Submitter: "A2",
		WasmHash: h1, PriceKind: "MainToken", PriceAmount: 100,
	})
	if err != nil {
		t.Fatalf("bid: %v", err)
	}
	var sawSale bool
	for _, ev := range bidBatch.Events {
		if ev.Kind == "ModuleArtifactSaleCompleted" {
			sawSale = true
			if ev.Payload["order_id"] != listOrderID {
				t.Fatalf("sale matched wrong order: %+v", ev.Payload)
			}
		}
	}
	if !sawSale {
		t.Fatalf("expected ModuleArtifactSaleCompleted, got %+v", bidBatch.Events)
	}
	if w.balance(ids.AgentOwner("A1"), "MainToken") != 100 {
		t.Fatalf("seller should have received 100, got %d", w.balance(ids.AgentOwner("A1"), "MainToken"))
	}
	if w.balance(ids.AgentOwner("A2"), "MainToken") != 0 {
		t.Fatalf("buyer should have spent all 100, got %d", w.balance(ids.AgentOwner("A2"), "MainToken"))
	}
	if w.moduleArtifacts[h1].Owner != "A2" {
		t.Fatalf("artifact owner should transfer to A2, got %s", w.moduleArtifacts[h1].Owner)
	}
}

func TestOverflowRejected(t *testing.T) {
	w := newTestWorld(t)
	mustCreateAgent(t, w, "A1")
	const max = int64(1<<63 - 1)
	if _, err := w.ApplyAction(Action{Kind: ActionMintAsset, To: ids.AgentOwner("A1"), AssetKind: "MainToken", Amount: max}); err != nil {
		t.Fatalf("mint max: %v", err)
	}
	_, err := w.ApplyAction(Action{Kind: ActionMintAsset, To: ids.AgentOwner("A1"), AssetKind: "MainToken", Amount: 1})
	rej, ok := err.(*Rejection)
	if !ok || rej.Reason != RejectOverflow {
		t.Fatalf("expected Overflow, got %v", err)
	}
}

func TestDeterministicReplay(t *testing.T) {
	actions := []Action{
		{Kind: ActionCreateAgent, TargetAgent: "A1"},
		{Kind: ActionCreateAgent, TargetAgent: "A2"},
		{Kind: ActionMintAsset, To: ids.AgentOwner("A1"), AssetKind: "MainToken", Amount: 50},
		{Kind: ActionTransferAsset, From: ids.AgentOwner("A1"), To: ids.AgentOwner("A2"), AssetKind: "MainToken", Amount: 20},
	}
	run := func() [32]byte {
		w := newTestWorld(t)
		for _, act := range actions {
			if _, err := w.ApplyAction(act); err != nil {
				t.Fatalf("apply: %v", err)
			}
		}
		w.Tick()
		return w.WorldHash()
	}
	h1 := run()
	h2 := run()
	if h1 != h2 {
		t.Fatalf("expected identical world hash across independent replays, got %x vs %x", h1, h2)
	}
}
