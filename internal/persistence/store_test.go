package persistence

import (
	"os"
	"path/filepath"
	"testing"

	"agentworld/internal/distfs"
	"agentworld/internal/ids"
	"agentworld/internal/kernel"
)

type fakeCompiler struct{}

func (fakeCompiler) Compile(manifestPath string, sources map[string]string) ([]byte, error) {
	var out []byte
	for _, v := range sources {
		out = append(out, v...)
	}
	return out, nil
}

func buildWorld(t *testing.T, blobs *distfs.Store) *kernel.WorldModel {
	t.Helper()
	w := kernel.NewWorldModel([]byte("seed-1"), kernel.WorldServices{
		Artifacts: blobAdapter{blobs},
		Compiler:  fakeCompiler{},
	}, kernel.EpochConfig{TicksPerEpoch: 10, RewardPointsPerCredit: 100})

	mustApply(t, w, kernel.Action{Kind: kernel.ActionCreateAgent, TargetAgent: "A1"})
	mustApply(t, w, kernel.Action{Kind: kernel.ActionMintAsset, To: ids.AgentOwner("A1"), AssetKind: "MainToken", Amount: 500})

	manifest := kernel.ModuleManifest{
		InterfaceVersion: 1,
		Entrypoints:      map[kernel.Stage]bool{kernel.StagePreAction: true},
	}
	batch := mustApply(t, w, kernel.Action{
		Kind: kernel.ActionCompileModuleArtifactFromSource, Submitter: "A1",
		ModuleID: "m1.rule.move", ModuleVersion: "1.0.0", ManifestPath: "m.yaml",
		SourceFiles: map[string]string{"a": "b"}, Manifest: manifest,
	})
	h1, err := ids.ParseArtifactHash(batch.Events[0].Payload["wasm_hash"])
	if err != nil {
		t.Fatalf("parse hash: %v", err)
	}
	mustApply(t, w, kernel.Action{
		Kind: kernel.ActionInstallModuleFromArtifact, Submitter: "A1",
		WasmHash: h1, InstanceID: "I1", InstallTarget: ids.AgentOwner("A1"), Activate: true,
	})
	w.Tick()
	return w
}

// blobAdapter lets *distfs.Store satisfy kernel.ArtifactResolver.
type blobAdapter struct{ s *distfs.Store }

func (b blobAdapter) Exists(hash ids.ArtifactHash) bool      { return b.s.Exists(hash) }
func (b blobAdapter) Put(bytes []byte) (ids.ArtifactHash, error) { return b.s.Put(bytes) }

func mustApply(t *testing.T, w *kernel.WorldModel, act kernel.Action) kernel.AppliedBatch {
	t.Helper()
	batch, err := w.ApplyAction(act)
	if err != nil {
		t.Fatalf("apply %v: %v", act.Kind, err)
	}
	return batch
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()

	blobs, err := distfs.NewStore(filepath.Join(dir, "live-distfs", "blobs"), 16, nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	w := buildWorld(t, blobs)
	wantWorldHash := w.WorldHash()
	wantModuleHash := w.ModuleRegistryHash()

	saveDir := filepath.Join(dir, "save-1")
	if err := SaveToDir(saveDir, w, nil, blobs, nil); err != nil {
		t.Fatalf("save: %v", err)
	}

	result, err := LoadFromDir(saveDir, kernel.WorldServices{
		Artifacts: blobAdapter{blobs},
		Compiler:  fakeCompiler{},
	}, kernel.EpochConfig{TicksPerEpoch: 10, RewardPointsPerCredit: 100}, []byte("seed-1"), blobs, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if got := result.World.WorldHash(); got != wantWorldHash {
		t.Fatalf("world hash mismatch after reload: got %x want %x", got, wantWorldHash)
	}
	if got := result.World.ModuleRegistryHash(); got != wantModuleHash {
		t.Fatalf("module registry hash mismatch after reload: got %x want %x", got, wantModuleHash)
	}
}

func TestLoadToleratesLegacyDirectoryMissingModuleStore(t *testing.T) {
	dir := t.TempDir()

	blobs, err := distfs.NewStore(filepath.Join(dir, "distfs", "blobs"), 16, nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	w := kernel.NewWorldModel([]byte("seed-1"), kernel.WorldServices{
		Artifacts: blobAdapter{blobs}, Compiler: fakeCompiler{},
	}, kernel.EpochConfig{})
	mustApply(t, w, kernel.Action{Kind: kernel.ActionCreateAgent, TargetAgent: "A1"})

	saveDir := filepath.Join(dir, "legacy")
	if err := SaveToDir(saveDir, w, nil, nil, nil); err != nil {
		t.Fatalf("save: %v", err)
	}
	// Simulate a legacy layout by removing the modules subtree entirely.
	if err := os.RemoveAll(filepath.Join(saveDir, worldDirName, modulesDirName)); err != nil {
		t.Fatalf("strip modules dir: %v", err)
	}

	result, err := LoadFromDir(saveDir, kernel.WorldServices{
		Artifacts: blobAdapter{blobs}, Compiler: fakeCompiler{},
	}, kernel.EpochConfig{}, []byte("seed-1"), blobs, nil)
	if err != nil {
		t.Fatalf("load legacy dir: %v", err)
	}
	if result.World.WorldHash() != w.WorldHash() {
		t.Fatalf("expected world state to survive missing module store")
	}
}
