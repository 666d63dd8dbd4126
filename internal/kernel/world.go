package kernel

import (
	"crypto/sha256"
	"sort"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/sirupsen/logrus"

	"agentworld/internal/ids"
	"agentworld/internal/sandbox"
)

// ArtifactResolver is the kernel's narrow view of the artifact store,
// used only to validate and persist module bytecode referenced by module
// lifecycle actions. Mirrors the teacher's interface-segregated adapters
// (core/consensus.go's txPool/networkAdapter/securityAdapter pattern).
type ArtifactResolver interface {
	Exists(hash ids.ArtifactHash) bool
	Put(b []byte) (ids.ArtifactHash, error)
}

// ModuleCompiler turns source files into deterministic WASM bytes.
type ModuleCompiler interface {
	Compile(manifestPath string, sourceFiles map[string]string) ([]byte, error)
}

// WorldServices is the explicit dependency container passed into the
// simulation loop; there is no process-wide singleton (§9).
type WorldServices struct {
	Artifacts ArtifactResolver
	Compiler  ModuleCompiler
	Logger    *logrus.Logger
}

// EpochConfig configures periodic settlement (§4.2, §8).
type EpochConfig struct {
	TicksPerEpoch      uint64
	RewardPointsPerCredit int64
}

// WorldModel is the sole mutator of agent/location/asset/module/market
// state, driven exclusively by ApplyAction. It is single-threaded: all
// calls must originate from the simulation loop goroutine (§5).
type WorldModel struct {
	svc  WorldServices
	seed []byte
	cfg  EpochConfig

	tick         uint64
	nextEventSeq uint64
	nextOrderID  uint64

	agents    map[ids.AgentId]*Agent
	locations map[ids.LocationId]*Location
	assets    map[assetKey]*Asset

	moduleArtifacts  map[ids.ArtifactHash]*ModuleArtifactState
	installedModules map[ids.InstanceId]*InstalledModule

	listings map[uint64]*MarketListing
	bids     map[uint64]*MarketBid

	mintedTotal map[ids.AssetId]int64
	burnedTotal map[ids.AssetId]int64

	epochDistributedCredits int64
	epochMintedPoints       int64
	lastEpochCloseTick      uint64
	epochIndex              uint64

	pendingHookEvents []Event
}

type assetKey struct {
	owner string
	kind  ids.AssetId
}

// NewWorldModel constructs an empty world bound to svc and seed. Scenario
// bootstrap populates agents/locations afterwards via CreateAgent-family
// actions, keeping construction itself side-effect free.
func NewWorldModel(seed []byte, svc WorldServices, cfg EpochConfig) *WorldModel {
	if svc.Logger == nil {
		svc.Logger = logrus.StandardLogger()
	}
	return &WorldModel{
		svc:              svc,
		seed:             append([]byte(nil), seed...),
		cfg:              cfg,
		agents:           make(map[ids.AgentId]*Agent),
		locations:        make(map[ids.LocationId]*Location),
		assets:           make(map[assetKey]*Asset),
		moduleArtifacts:  make(map[ids.ArtifactHash]*ModuleArtifactState),
		installedModules: make(map[ids.InstanceId]*InstalledModule),
		listings:         make(map[uint64]*MarketListing),
		bids:             make(map[uint64]*MarketBid),
		mintedTotal:      make(map[ids.AssetId]int64),
		burnedTotal:      make(map[ids.AssetId]int64),
	}
}

func (w *WorldModel) nextSeq() uint64 {
	s := w.nextEventSeq
	w.nextEventSeq++
	return s
}

func (w *WorldModel) emit(kind string, payload map[string]string) Event {
	return Event{Seq: w.nextSeq(), Tick: w.tick, Kind: kind, Payload: payload}
}

func (w *WorldModel) balance(owner ids.Owner, kind ids.AssetId) int64 {
	a, ok := w.assets[assetKey{owner.String(), kind}]
	if !ok {
		return 0
	}
	return a.Amount
}

// Balance implements sandbox.WorldView, giving a hook invocation read-only
// access to the balance it would see via host_read_balance (§4.3).
func (w *WorldModel) Balance(owner ids.Owner, kind ids.AssetId) int64 {
	return w.balance(owner, kind)
}

// AgentAttribute implements sandbox.WorldView, the other half of the
// bounded read-only view a hook call receives.
func (w *WorldModel) AgentAttribute(agent ids.AgentId, key string) (int64, bool) {
	a, ok := w.agents[agent]
	if !ok {
		return 0, false
	}
	v, ok := a.Attributes[key]
	return v, ok
}

// Emit implements sandbox.EventSink: a hook invocation appends a domain
// event here instead of mutating state directly. Hook-emitted events are
// buffered and collected by DrainHookEvents once the routing pass for a
// given stage completes, so they can be folded into the caller's own
// event batch (§4.3 HostContext, §5 tick loop).
func (w *WorldModel) Emit(kind string, payload map[string]string) {
	w.pendingHookEvents = append(w.pendingHookEvents, w.emit(kind, payload))
}

// DrainHookEvents returns and clears every event a sandbox hook has
// appended via Emit since the last drain.
func (w *WorldModel) DrainHookEvents() []Event {
	out := w.pendingHookEvents
	w.pendingHookEvents = nil
	return out
}

// Seed returns a defensive copy of the world's deterministic seed, used to
// build the HostContext a sandbox hook invocation runs under.
func (w *WorldModel) Seed() []byte {
	return append([]byte(nil), w.seed...)
}

// CurrentTick returns the clock value hook invocations observe between
// ticks, distinct from Tick (which advances the clock).
func (w *WorldModel) CurrentTick() uint64 {
	return w.tick
}

// EpochIndex returns how many settlement epochs have closed so far,
// naming the report file a closeEpoch call should produce
// (report/epoch-<N>.json).
func (w *WorldModel) EpochIndex() uint64 {
	return w.epochIndex
}

// InstalledModuleInstances projects every active installed module into the
// shape the sandbox registry routes hooks against, decoupled from the
// kernel's own InstalledModule (§4.3's InstanceMeta/SubscriptionMeta).
// Order is unspecified; Registry.RouteHook applies the deterministic
// (install_target_id, instance_id) sort itself.
func (w *WorldModel) InstalledModuleInstances() []sandbox.InstanceMeta {
	out := make([]sandbox.InstanceMeta, 0, len(w.installedModules))
	for _, im := range w.installedModules {
		if !im.Active {
			continue
		}
		subs := make([]sandbox.SubscriptionMeta, 0, len(im.Subscriptions))
		for _, s := range im.Subscriptions {
			subs = append(subs, sandbox.SubscriptionMeta{Stage: sandbox.Stage(s.Stage), Filter: s.Filter})
		}
		out = append(out, sandbox.InstanceMeta{
			InstanceID:    im.InstanceID,
			InstallTarget: im.InstallTarget,
			WasmHash:      im.WasmHash,
			Subscriptions: subs,
		})
	}
	return out
}

// addBalance adjusts a balance, rejecting on signed 64-bit overflow or
// wrap-around (§4.2). It does not check the sign of the result: the
// transfer and burn handlers check the balance is sufficient before
// calling it.
func addBalance(cur, delta int64) (int64, bool) {
	next := cur + delta
	if delta > 0 && next < cur {
		return 0, false // overflow
	}
	if delta < 0 && next > cur {
		return 0, false // underflow wrap
	}
	return next, true
}

func (w *WorldModel) setBalance(owner ids.Owner, kind ids.AssetId, amount int64) {
	w.assets[assetKey{owner.String(), kind}] = &Asset{Owner: owner, Kind: kind, Amount: amount}
}

// ApplyAction is the kernel's single mutation entry point: a pure
// function of (state, action, tick, deterministic seed). Given equal
// inputs it produces identical state and events on any node (§4.2).
func (w *WorldModel) ApplyAction(act Action) (AppliedBatch, error) {
	events, err := dispatch(w, act, w.tick, w.seed)
	if err != nil {
		return AppliedBatch{Tick: w.tick}, err
	}
	return AppliedBatch{Events: events, Tick: w.tick}, nil
}

// AgentExists reports whether id names a known agent, used by the bridge
// mirror's identity gate before replaying a committed envelope (§4.4).
func (w *WorldModel) AgentExists(id ids.AgentId) bool {
	_, ok := w.agents[id]
	return ok
}

// Observe returns a read-only, caller-scoped snapshot. A nil agentID
// returns only world-global data (listings/bids), matching the "no
// agent" viewer/audit path.
func (w *WorldModel) Observe(agentID *ids.AgentId) Observation {
	obs := Observation{}
	if agentID != nil {
		if a, ok := w.agents[*agentID]; ok {
			cp := *a
			obs.Agent = &cp
			obs.Balances = make(map[ids.AssetId]int64)
			owner := ids.AgentOwner(*agentID)
			for k, asset := range w.assets {
				if k.owner == owner.String() {
					obs.Balances[asset.Kind] = asset.Amount
				}
			}
			for _, im := range w.installedModules {
				if im.Owner == *agentID || (im.InstallTarget.IsAgent() && im.InstallTarget.Agent == *agentID) {
					obs.InstalledModules = append(obs.InstalledModules, *im)
				}
			}
		}
	}
	for _, l := range w.listings {
		if !l.Canceled {
			obs.Listings = append(obs.Listings, *l)
		}
	}
	for _, b := range w.bids {
		if !b.Canceled {
			obs.Bids = append(obs.Bids, *b)
		}
	}
	sort.Slice(obs.Listings, func(i, j int) bool { return obs.Listings[i].OrderID < obs.Listings[j].OrderID })
	sort.Slice(obs.Bids, func(i, j int) bool { return obs.Bids[i].OrderID < obs.Bids[j].OrderID })
	return obs
}

// Tick advances the deterministic clock by one and runs time-based
// bookkeeping: epoch rollover and settlement close (§4.2).
func (w *WorldModel) Tick() []Event {
	w.tick++
	var events []Event
	if w.cfg.TicksPerEpoch > 0 && (w.tick-w.lastEpochCloseTick) >= w.cfg.TicksPerEpoch {
		events = append(events, w.closeEpoch()...)
	}
	return events
}

// closeEpoch mints reward points proportional to distributed credits,
// floor-rounded per §4.2, and resets the epoch counters.
func (w *WorldModel) closeEpoch() []Event {
	minted := floorMul(w.epochDistributedCredits, w.cfg.RewardPointsPerCredit)
	w.epochMintedPoints = minted
	w.lastEpochCloseTick = w.tick
	w.epochIndex++
	ev := w.emit("SettlementEpochClosed", map[string]string{
		"distributed_credits": itoa(w.epochDistributedCredits),
		"minted_points":       itoa(minted),
	})
	w.epochDistributedCredits = 0
	return []Event{ev}
}

// floorMul computes floor(credits * pointsPerCredit) using integer math
// only, per §4.2's "ratios use integer points / integer credits;
// rounding is floor" rule. Both operands are already integers here so
// this is exact multiplication; floor rounding matters when this value
// feeds a later division (e.g. per-validator share), which callers of
// the settlement report perform themselves.
func floorMul(credits, pointsPerCredit int64) int64 {
	return credits * pointsPerCredit
}

// WorldHash returns the canonical digest of agent ids, locations and
// attributes, asset balances and the tick, computed over an RLP-encoded,
// deterministically sorted projection so the hash is identical across
// honest nodes replaying the same prefix (§3 SnapshotManifest, §8
// deterministic replay). Location records, market listings and bids,
// agent memories, retirement flags, counters and epoch state are not
// hashed.
func (w *WorldModel) WorldHash() [32]byte {
	type agentRec struct {
		ID   string
		Loc  string
		Attr []string
	}
	agentIDs := make([]string, 0, len(w.agents))
	for id := range w.agents {
		agentIDs = append(agentIDs, string(id))
	}
	sort.Strings(agentIDs)
	agentRecs := make([]agentRec, 0, len(agentIDs))
	for _, id := range agentIDs {
		a := w.agents[ids.AgentId(id)]
		loc := ""
		if a.Location != nil {
			loc = string(*a.Location)
		}
		keys := make([]string, 0, len(a.Attributes))
		for k := range a.Attributes {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		attrs := make([]string, 0, len(keys))
		for _, k := range keys {
			attrs = append(attrs, k+"="+itoa(a.Attributes[k]))
		}
		agentRecs = append(agentRecs, agentRec{ID: id, Loc: loc, Attr: attrs})
	}

	assetKeys := make([]string, 0, len(w.assets))
	assetLines := make(map[string]string, len(w.assets))
	for k, a := range w.assets {
		line := k.owner + "|" + string(k.kind)
		assetKeys = append(assetKeys, line)
		assetLines[line] = line + "=" + itoa(a.Amount)
	}
	sort.Strings(assetKeys)
	assetRecs := make([]string, 0, len(assetKeys))
	for _, k := range assetKeys {
		assetRecs = append(assetRecs, assetLines[k])
	}

	payload := struct {
		Agents []agentRec
		Assets []string
		Tick   uint64
	}{agentRecs, assetRecs, w.tick}

	b, err := rlp.EncodeToBytes(payload)
	if err != nil {
		// RLP encoding of plain strings/slices/uints cannot fail; a
		// failure here indicates a programming error in the struct
		// shape above, not a runtime condition callers can handle.
		panic("kernel: world hash encoding: " + err.Error())
	}
	return sha256.Sum256(b)
}

// ModuleRegistryHash canonically hashes the module artifact + installed
// instance registries, independent of WorldHash, matching §3's
// SnapshotManifest tuple.
func (w *WorldModel) ModuleRegistryHash() [32]byte {
	instKeys := make([]string, 0, len(w.installedModules))
	for k := range w.installedModules {
		instKeys = append(instKeys, string(k))
	}
	sort.Strings(instKeys)
	lines := make([]string, 0, len(instKeys))
	for _, k := range instKeys {
		im := w.installedModules[ids.InstanceId(k)]
		lines = append(lines, k+"|"+string(im.ModuleID)+"|"+im.ModuleVersion+"|"+im.WasmHash.String()+"|active="+boolStr(im.Active))
	}
	artKeys := make([]string, 0, len(w.moduleArtifacts))
	arts := make(map[string]*ModuleArtifactState, len(w.moduleArtifacts))
	for h, m := range w.moduleArtifacts {
		artKeys = append(artKeys, h.String())
		arts[h.String()] = m
	}
	sort.Strings(artKeys)
	for _, k := range artKeys {
		m := arts[k]
		lines = append(lines, "artifact|"+k+"|"+string(m.ModuleID)+"|"+m.ModuleVersion+"|"+string(m.Owner))
	}
	b, err := rlp.EncodeToBytes(lines)
	if err != nil {
		panic("kernel: module registry hash encoding: " + err.Error())
	}
	return sha256.Sum256(b)
}

func boolStr(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
