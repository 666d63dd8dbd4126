package distfs

import (
	"os"
	"testing"

	"agentworld/internal/ids"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := NewStore(dir+"/blobs", 16, nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store, dir
}

func TestPutIsIdempotent(t *testing.T) {
	store, dir := newTestStore(t)
	payload := []byte("module bytes")

	h1, err := store.Put(payload)
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	h2, err := store.Put(payload)
	if err != nil {
		t.Fatalf("put again: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("expected identical hash across puts, got %s vs %s", h1, h2)
	}

	entries, err := os.ReadDir(dir + "/blobs/" + h1.String()[:2])
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly one blob file, got %d", len(entries))
	}
}

func TestGetRoundTrip(t *testing.T) {
	store, _ := newTestStore(t)
	payload := []byte("another artifact")
	h, err := store.Put(payload)
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := store.Get(h)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("round trip mismatch: got %q want %q", got, payload)
	}
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	store, _ := newTestStore(t)
	h, _ := store.Put([]byte("present"))
	h[0] ^= 0xFF // flip to a hash that was never stored
	if _, err := store.Get(h); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestChallengeDetectsBitFlip(t *testing.T) {
	store, dir := newTestStore(t)
	payload := []byte("challenge me")
	h, err := store.Put(payload)
	if err != nil {
		t.Fatalf("put: %v", err)
	}

	ok, _, err := store.Challenge(h)
	if err != nil || !ok {
		t.Fatalf("expected clean challenge before corruption, ok=%v err=%v", ok, err)
	}

	hexName := h.String()
	path := dir + "/blobs/" + hexName[:2] + "/" + hexName[2:] + ".bin"
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read blob file: %v", err)
	}
	raw[0] ^= 0xFF
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatalf("corrupt blob file: %v", err)
	}

	// Challenge reads straight from disk, bypassing the still-hot cache
	// entry populated at Put time, so the corruption above is observed.
	report := store.ChallengeAll([]ids.ArtifactHash{h})
	if report.TotalChecks != 1 || report.FailedChecks != 1 {
		t.Fatalf("expected 1 total / 1 failed check, got %+v", report)
	}
}
