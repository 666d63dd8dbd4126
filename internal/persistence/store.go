// Package persistence writes and restores a node's full on-disk state:
// the world snapshot, its event journal, the module store, and the
// referenced DistFS blobs, adapted from the teacher's NewLedger/OpenLedger
// WAL+snapshot+archive pattern (core/ledger.go) and generalized from a
// single ledger.wal file to the directory layout spec.md §6 names.
package persistence

import (
	"compress/gzip"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/sirupsen/logrus"

	"agentworld/internal/distfs"
	"agentworld/internal/ids"
	"agentworld/internal/kernel"
	"agentworld/internal/worldutil"
)

const (
	worldDirName     = "world"
	snapshotFileName = "snapshot.json"
	journalFileName  = "journal.json.gz"
	modulesDirName   = "modules"
	registryFileName = "registry.json"
	metaDirName      = "meta"
	artifactsDirName = "artifacts"
	distfsDirName    = "distfs"
	blobsDirName     = "blobs"
)

// moduleRegistryEntry is the persisted per-module-artifact record written
// to modules/registry.json; it duplicates kernel.ModuleArtifactState's
// identity fields so a reader never needs to open the kernel snapshot to
// enumerate known module artifacts (§6 "Module store directory: identity
// + hash manifests and per-module metadata").
type moduleRegistryEntry struct {
	WasmHash      ids.ArtifactHash
	ModuleID      ids.ModuleId
	ModuleVersion string
	Owner         ids.AgentId
}

// SaveToDir writes world/snapshot.json, world/journal.json.gz, the module
// store directory and every DistFS blob referenced by a module artifact
// or installed instance into dir. The module store and referenced blobs
// are always included; save_to_dir_with_modules from spec.md §6 is kept
// only as a thin delegate, the legacy variant never having had a reduced
// form in this implementation.
func SaveToDir(dir string, w *kernel.WorldModel, journal []kernel.Event, blobs *distfs.Store, logger *logrus.Logger) error {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	worldDir := filepath.Join(dir, worldDirName)
	if err := os.MkdirAll(worldDir, 0o755); err != nil {
		return worldutil.Wrap(err, "persistence: mkdir world dir")
	}

	snap := w.Snapshot()
	if err := writeJSON(filepath.Join(worldDir, snapshotFileName), snap); err != nil {
		return worldutil.Wrap(err, "persistence: write snapshot")
	}
	if err := writeJournal(filepath.Join(worldDir, journalFileName), journal); err != nil {
		return worldutil.Wrap(err, "persistence: write journal")
	}
	if err := saveModuleStore(worldDir, snap); err != nil {
		return worldutil.Wrap(err, "persistence: save module store")
	}
	if blobs != nil {
		if err := copyReferencedBlobs(dir, snap, blobs); err != nil {
			return worldutil.Wrap(err, "persistence: copy referenced blobs")
		}
	}
	logger.WithField("dir", dir).Info("persistence: save_to_dir complete")
	return nil
}

// SaveToDirWithModules is the legacy delegate spec.md §6 names; modules
// and referenced blobs are always saved by SaveToDir, so this is exactly
// SaveToDir under another name.
func SaveToDirWithModules(dir string, w *kernel.WorldModel, journal []kernel.Event, blobs *distfs.Store, logger *logrus.Logger) error {
	return SaveToDir(dir, w, journal, blobs, logger)
}

// LoadResult is everything LoadFromDir reconstructs from a saved directory.
type LoadResult struct {
	World   *kernel.WorldModel
	Journal []kernel.Event
}

// LoadFromDir rebuilds a WorldModel (bound to svc/cfg/seed supplied by the
// caller, matching §9's no-singleton rule) and the pending journal from
// dir. The modules/ subtree is never read: module artifacts and instances
// are restored from the snapshot, so a directory missing it (legacy
// layout) loads the same way. If peer is non-nil, any
// artifact hash referenced by the restored snapshot but absent from
// blobs is hydrated from peer before returning.
func LoadFromDir(dir string, svc kernel.WorldServices, cfg kernel.EpochConfig, seed []byte, blobs *distfs.Store, peer distfs.Peer) (*LoadResult, error) {
	worldDir := filepath.Join(dir, worldDirName)

	snap, err := readSnapshot(filepath.Join(worldDir, snapshotFileName))
	if err != nil {
		return nil, worldutil.Wrap(err, "persistence: read snapshot")
	}
	journal, err := readJournal(filepath.Join(worldDir, journalFileName))
	if err != nil {
		return nil, worldutil.Wrap(err, "persistence: read journal")
	}

	w := kernel.NewWorldModel(seed, svc, cfg)
	w.RestoreSnapshot(snap)

	if blobs != nil {
		if err := hydrateReferencedBlobs(snap, blobs, peer); err != nil {
			return nil, worldutil.Wrap(err, "persistence: hydrate blobs")
		}
	}

	return &LoadResult{World: w, Journal: journal}, nil
}

func writeJSON(path string, v interface{}) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func writeJournal(path string, events []kernel.Event) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	gz := gzip.NewWriter(f)
	enc := json.NewEncoder(gz)
	for _, ev := range events {
		if err := enc.Encode(ev); err != nil {
			gz.Close()
			f.Close()
			os.Remove(tmp)
			return err
		}
	}
	if err := gz.Close(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func readJournal(path string) ([]kernel.Event, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer gz.Close()
	dec := json.NewDecoder(gz)
	var events []kernel.Event
	for {
		var ev kernel.Event
		if err := dec.Decode(&ev); err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}
		events = append(events, ev)
	}
	return events, nil
}

func readSnapshot(path string) (kernel.Snapshot, error) {
	var snap kernel.Snapshot
	b, err := os.ReadFile(path)
	if err != nil {
		return snap, err
	}
	if err := json.Unmarshal(b, &snap); err != nil {
		return snap, err
	}
	return snap, nil
}

// saveModuleStore writes modules/registry.json and per-module metadata
// files under modules/meta/<module_id>-<version>.json, matching §6's "identity +
// hash manifests and per-module metadata" without duplicating the DistFS
// blob bytes themselves.
func saveModuleStore(worldDir string, snap kernel.Snapshot) error {
	modulesDir := filepath.Join(worldDir, modulesDirName)
	metaDir := filepath.Join(modulesDir, metaDirName)
	artifactsDir := filepath.Join(modulesDir, artifactsDirName)
	for _, d := range []string{modulesDir, metaDir, artifactsDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return err
		}
	}

	entries := make([]moduleRegistryEntry, 0, len(snap.ModuleArtifacts))
	for _, m := range snap.ModuleArtifacts {
		entries = append(entries, moduleRegistryEntry{
			WasmHash: m.WasmHash, ModuleID: m.ModuleID, ModuleVersion: m.ModuleVersion, Owner: m.Owner,
		})
		if err := writeJSON(filepath.Join(metaDir, string(m.ModuleID)+"-"+m.ModuleVersion+".json"), m); err != nil {
			return err
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].WasmHash.String() < entries[j].WasmHash.String() })
	return writeJSON(filepath.Join(modulesDir, registryFileName), entries)
}

// ReferencedHashes collects every artifact hash the snapshot still cares
// about: deployed module artifacts and any hash an installed instance
// points to (the two sets coincide in a consistent world, but installed
// instances are authoritative for what must never be evicted).
func ReferencedHashes(snap kernel.Snapshot) []ids.ArtifactHash {
	seen := make(map[ids.ArtifactHash]bool)
	var out []ids.ArtifactHash
	add := func(h ids.ArtifactHash) {
		if !seen[h] {
			seen[h] = true
			out = append(out, h)
		}
	}
	for _, m := range snap.ModuleArtifacts {
		add(m.WasmHash)
	}
	for _, im := range snap.InstalledModules {
		add(im.WasmHash)
	}
	return out
}

func copyReferencedBlobs(dir string, snap kernel.Snapshot, blobs *distfs.Store) error {
	dst, err := distfs.NewStore(filepath.Join(dir, distfsDirName, blobsDirName), 0, nil)
	if err != nil {
		return err
	}
	for _, h := range ReferencedHashes(snap) {
		if dst.Exists(h) {
			continue
		}
		b, err := blobs.Get(h)
		if err != nil {
			return worldutil.Wrapf(err, "persistence: missing referenced blob %s", h.String())
		}
		if _, err := dst.Put(b); err != nil {
			return err
		}
	}
	return nil
}

func hydrateReferencedBlobs(snap kernel.Snapshot, blobs *distfs.Store, peer distfs.Peer) error {
	for _, h := range ReferencedHashes(snap) {
		if blobs.Exists(h) {
			continue
		}
		if peer == nil {
			return worldutil.Wrapf(distfs.ErrNotFound, "persistence: artifact %s absent with no peer to hydrate from", h.String())
		}
		if err := blobs.Replicate(h, peer); err != nil {
			return err
		}
	}
	return nil
}
