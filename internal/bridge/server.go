package bridge

import (
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"agentworld/internal/ids"
	"agentworld/internal/kernel"
)

// SnapshotManifest uniquely identifies a node's agreed state (§3): the
// tuple (committed_height, world_hash, module_registry_hash) is what two
// honest nodes compare to confirm they replayed the same commit prefix.
type SnapshotManifest struct {
	Height             uint64
	WallClock          time.Time
	WorldHash          string
	ModuleRegistryHash string
	BlobManifestHashes []string
}

// Server is a minimal read-only HTTP/WS surface over the latest
// SnapshotManifest and event tail, for the out-of-scope viewer to poll or
// subscribe to — contract surface only, no viewer logic, grounded on the
// teacher's cmd/explorer/server.go router (mux there, chi here) with a
// gorilla/websocket broadcast added for the snapshot push stream §5
// mentions.
type Server struct {
	router *chi.Mux
	log    *logrus.Logger

	mu       sync.Mutex
	manifest SnapshotManifest
	events   []kernel.Event

	upgrader websocket.Upgrader
	subsMu   sync.Mutex
	subs     map[*websocket.Conn]chan SnapshotManifest
}

// NewServer builds the router; callers mount it with http.ListenAndServe
// or similar, matching the teacher's explicit Start()/httpServer split.
func NewServer(logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	s := &Server{
		router:   chi.NewRouter(),
		log:      logger,
		upgrader: websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
		subs:     make(map[*websocket.Conn]chan SnapshotManifest),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Get("/snapshot", s.handleSnapshot)
	s.router.Get("/events", s.handleEvents)
	s.router.Get("/ws", s.handleWS)
}

// ServeHTTP lets Server be mounted directly as an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }

// PublishSnapshot updates the latest manifest and broadcasts it to every
// connected websocket subscriber, called once per tick by the simulation
// loop after the tick's events are appended and before the journal flush.
func (s *Server) PublishSnapshot(manifest SnapshotManifest) {
	s.mu.Lock()
	s.manifest = manifest
	s.mu.Unlock()

	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- manifest:
		default: // slow subscriber: drop, next tick supersedes this one anyway
		}
	}
}

// AppendEvents extends the in-memory event tail served by /events. The
// tail is capped to the most recent maxEventTail entries; full history
// lives in the journal, not in this process's memory.
const maxEventTail = 4096

func (s *Server) AppendEvents(events []kernel.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events...)
	if len(s.events) > maxEventTail {
		s.events = s.events[len(s.events)-maxEventTail:]
	}
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	m := s.manifest
	s.mu.Unlock()
	writeJSON(w, m)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	sinceSeq := parseSinceSeq(r.URL.Query().Get("since"))
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]kernel.Event, 0, len(s.events))
	for _, ev := range s.events {
		if ev.Seq >= sinceSeq {
			out = append(out, ev)
		}
	}
	writeJSON(w, out)
}

func parseSinceSeq(raw string) uint64 {
	seq, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0
	}
	return seq
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("bridge: websocket upgrade failed")
		return
	}
	defer conn.Close()

	connID := uuid.NewString()
	s.log.WithField("conn_id", connID).Debug("bridge: websocket subscriber connected")

	ch := make(chan SnapshotManifest, 8)
	s.subsMu.Lock()
	s.subs[conn] = ch
	s.subsMu.Unlock()
	defer func() {
		s.subsMu.Lock()
		delete(s.subs, conn)
		s.subsMu.Unlock()
		s.log.WithField("conn_id", connID).Debug("bridge: websocket subscriber disconnected")
	}()

	for manifest := range ch {
		if err := conn.WriteJSON(manifest); err != nil {
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// ManifestFromWorld builds a SnapshotManifest from the live world model at
// the given committed height, hashing its world and module registries.
func ManifestFromWorld(height uint64, w *kernel.WorldModel, wallClock time.Time, blobHashes []ids.ArtifactHash) SnapshotManifest {
	wh := w.WorldHash()
	mh := w.ModuleRegistryHash()
	blobs := make([]string, 0, len(blobHashes))
	for _, h := range blobHashes {
		blobs = append(blobs, h.String())
	}
	return SnapshotManifest{
		Height:             height,
		WallClock:          wallClock,
		WorldHash:          hex.EncodeToString(wh[:]),
		ModuleRegistryHash: hex.EncodeToString(mh[:]),
		BlobManifestHashes: blobs,
	}
}
