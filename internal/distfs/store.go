// Package distfs is the content-addressed artifact store: immutable byte
// blobs named by the SHA-256 of their contents, written atomically via
// write-then-rename and served from an on-disk LRU-backed cache, adapted
// from the teacher's IPFS gateway wrapper (core/storage.go) to a purely
// local, hash-addressed fabric (no gateway round-trip is required by the
// specification).
package distfs

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2"
	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"
	"github.com/sirupsen/logrus"

	"agentworld/internal/ids"
	"agentworld/internal/worldutil"
)

var (
	ErrNotFound          = fmt.Errorf("distfs: not found")
	ErrIntegrityMismatch = fmt.Errorf("distfs: integrity mismatch")
)

// IoError wraps an underlying filesystem failure.
type IoError struct{ Err error }

func (e *IoError) Error() string  { return "distfs: io error: " + e.Err.Error() }
func (e *IoError) Unwrap() error  { return e.Err }

// Peer fetches a blob by hash from a remote node for replicate().
type Peer interface {
	FetchBlob(hash ids.ArtifactHash) ([]byte, error)
}

// Store is a SHA-256-addressed blob fabric rooted at a blobs/ directory,
// fronted by a bounded in-memory LRU (§4.1).
type Store struct {
	root   string
	logger *logrus.Logger

	mu    sync.Mutex
	cache *lru.Cache[ids.ArtifactHash, []byte]
}

// NewStore opens (creating if absent) a blob directory at root.
func NewStore(root string, cacheEntries int, logger *logrus.Logger) (*Store, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if cacheEntries <= 0 {
		cacheEntries = 2048
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, &IoError{Err: err}
	}
	cache, err := lru.New[ids.ArtifactHash, []byte](cacheEntries)
	if err != nil {
		return nil, worldutil.Wrap(err, "distfs: lru init")
	}
	return &Store{root: root, logger: logger, cache: cache}, nil
}

func (s *Store) blobPath(hash ids.ArtifactHash) string {
	hex := hash.String()
	return filepath.Join(s.root, hex[:2], hex[2:]+".bin")
}

// cidOf computes the canonical CIDv1/raw/sha2-256 identifier for bytes,
// used only as a display form; the on-disk name stays the raw SHA-256 to
// match the §4.1 path layout exactly.
func cidOf(b []byte) (string, error) {
	sum, err := mh.Sum(b, mh.SHA2_256, -1)
	if err != nil {
		return "", err
	}
	return cid.NewCidV1(cid.Raw, sum).String(), nil
}

// Put computes the SHA-256 of b, writes it atomically (write-then-rename)
// and returns its hash. Re-putting identical bytes is a no-op (§4.1).
func (s *Store) Put(b []byte) (ids.ArtifactHash, error) {
	hash := ids.HashBytes(b)
	path := s.blobPath(hash)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(path); err == nil {
		s.cache.Add(hash, b)
		return hash, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return hash, &IoError{Err: err}
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "blob-*.tmp")
	if err != nil {
		return hash, &IoError{Err: err}
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return hash, &IoError{Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return hash, &IoError{Err: err}
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return hash, &IoError{Err: err}
	}
	s.cache.Add(hash, b)
	if cidStr, err := cidOf(b); err == nil {
		s.logger.WithField("cid", cidStr).Debug("distfs: blob stored")
	}
	return hash, nil
}

// Get reads the bytes for hash, preferring the hot cache.
func (s *Store) Get(hash ids.ArtifactHash) ([]byte, error) {
	if b, ok := s.cache.Get(hash); ok {
		return b, nil
	}
	b, err := os.ReadFile(s.blobPath(hash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, &IoError{Err: err}
	}
	s.cache.Add(hash, b)
	return b, nil
}

func (s *Store) Exists(hash ids.ArtifactHash) bool {
	if _, ok := s.cache.Get(hash); ok {
		return true
	}
	_, err := os.Stat(s.blobPath(hash))
	return err == nil
}

// ChallengeReport summarizes a pass of Challenge over a hash set, in the
// shape the epoch settlement report persists (§6).
type ChallengeReport struct {
	TotalChecks  int
	FailedChecks int
	Elapsed      time.Duration
}

// Challenge recomputes the digest of the on-disk bytes for hash and
// compares it against hash itself, detecting bit-rot or tampering. It
// reads the blob file directly rather than going through Get, since a
// hot cache entry populated at Put time would otherwise mask an
// out-of-band change to the file on disk.
func (s *Store) Challenge(hash ids.ArtifactHash) (ok bool, elapsed time.Duration, err error) {
	start := time.Now()
	b, err := os.ReadFile(s.blobPath(hash))
	if err != nil {
		if os.IsNotExist(err) {
			return false, time.Since(start), ErrNotFound
		}
		return false, time.Since(start), &IoError{Err: err}
	}
	recomputed := ids.HashBytes(b)
	elapsed = time.Since(start)
	if recomputed != hash {
		s.logger.WithField("hash", hash.String()).Warn("distfs: challenge_failed")
		return false, elapsed, nil
	}
	return true, elapsed, nil
}

// ChallengeAll runs Challenge over every hash in hashes and aggregates the
// result into the report structure fed to the epoch audit file.
func (s *Store) ChallengeAll(hashes []ids.ArtifactHash) ChallengeReport {
	report := ChallengeReport{TotalChecks: len(hashes)}
	start := time.Now()
	for _, h := range hashes {
		ok, _, err := s.Challenge(h)
		if err != nil || !ok {
			report.FailedChecks++
		}
	}
	report.Elapsed = time.Since(start)
	return report
}

// Replicate fetches hash from peer and stores it locally if the local
// copy is absent or fails a challenge.
func (s *Store) Replicate(hash ids.ArtifactHash, peer Peer) error {
	stale := false
	if s.Exists(hash) {
		if ok, _, err := s.Challenge(hash); err == nil && ok {
			return nil
		}
		stale = true
	}
	b, err := peer.FetchBlob(hash)
	if err != nil {
		return worldutil.Wrap(err, "distfs: replicate fetch")
	}
	if ids.HashBytes(b) != hash {
		return ErrIntegrityMismatch
	}
	if stale {
		// Put skips an existing file, so the failed copy is removed first.
		if err := os.Remove(s.blobPath(hash)); err != nil && !os.IsNotExist(err) {
			return &IoError{Err: err}
		}
	}
	_, err = s.Put(b)
	return err
}

// FetchBlob implements Peer against this store's own bytes, letting a
// Store double as the remote side of another node's Replicate call.
func (s *Store) FetchBlob(hash ids.ArtifactHash) ([]byte, error) {
	return s.Get(hash)
}
