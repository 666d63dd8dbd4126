package bridge

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"agentworld/internal/kernel"
)

func TestHandleSnapshotServesLatestManifest(t *testing.T) {
	s := NewServer(nil)
	want := SnapshotManifest{Height: 7, WorldHash: "deadbeef"}
	s.PublishSnapshot(want)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/snapshot", nil)
	s.ServeHTTP(rec, req)

	var got SnapshotManifest
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.Height != want.Height || got.WorldHash != want.WorldHash {
		t.Fatalf("expected manifest %+v, got %+v", want, got)
	}
}

func TestHandleEventsFiltersBySinceSeq(t *testing.T) {
	s := NewServer(nil)
	s.AppendEvents([]kernel.Event{
		{Seq: 1, Kind: "A"},
		{Seq: 2, Kind: "B"},
		{Seq: 3, Kind: "C"},
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/events?since=2", nil)
	s.ServeHTTP(rec, req)

	var got []kernel.Event
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(got) != 2 || got[0].Seq != 2 || got[1].Seq != 3 {
		t.Fatalf("expected events with seq>=2, got %+v", got)
	}
}

func TestManifestFromWorldReflectsWorldState(t *testing.T) {
	w := newTestWorld(t)
	if _, err := w.ApplyAction(kernel.Action{Kind: kernel.ActionCreateAgent, TargetAgent: "A1"}); err != nil {
		t.Fatalf("create agent: %v", err)
	}

	manifest := ManifestFromWorld(1, w, time.Unix(0, 0), nil)
	if manifest.WorldHash == "" || manifest.ModuleRegistryHash == "" {
		t.Fatalf("expected non-empty hashes in manifest, got %+v", manifest)
	}
	if manifest.Height != 1 {
		t.Fatalf("expected height 1, got %d", manifest.Height)
	}
}
