// Package kernel implements the deterministic simulation state machine
// (WorldModel) described by the core specification: the sole mutator of
// agents, locations, assets, module registries and markets, driven
// exclusively by ApplyAction.
package kernel

import (
	"agentworld/internal/ids"
)

// Stage identifies a point in the per-tick hook pipeline a module
// subscription can bind to.
type Stage string

const (
	StagePreAction  Stage = "pre_action"
	StagePostAction Stage = "post_action"
	StageOnTick     Stage = "on_tick"
)

// Agent is an autonomous participant in the world.
type Agent struct {
	ID          ids.AgentId
	OwnerKind   string
	Location    *ids.LocationId
	Attributes  map[string]int64
	ShortMemory []string
	LongMemory  map[string][]byte
	Retired     bool
}

// MaxShortMemory bounds the short-term memory ring buffer.
const MaxShortMemory = 64

// PushShortMemory appends to the bounded short memory ring, evicting the
// oldest entry once MaxShortMemory is reached.
func (a *Agent) PushShortMemory(s string) {
	a.ShortMemory = append(a.ShortMemory, s)
	if len(a.ShortMemory) > MaxShortMemory {
		a.ShortMemory = a.ShortMemory[len(a.ShortMemory)-MaxShortMemory:]
	}
}

// Location is a place agents and locations-as-owners can occupy.
type Location struct {
	ID                  ids.LocationId
	Kind                string
	Coords              [2]float64
	PowerState          string
	ResourceState       map[string]int64
	ModuleInstallTarget bool
}

// Asset is a signed-integer balance for one (owner, kind) pair.
type Asset struct {
	Owner ids.Owner
	Kind  ids.AssetId
	Amount int64
}

// ModuleArtifactState is the deployed, content-addressed record of a
// compiled module, prior to installation.
type ModuleArtifactState struct {
	WasmHash     ids.ArtifactHash
	Owner        ids.AgentId
	ModuleID     ids.ModuleId
	ModuleVersion string
	Manifest     ModuleManifest
	SourceFiles  map[string]string
	DeployedAtTick uint64
}

// ModuleManifest binds a module's interface contract.
type ModuleManifest struct {
	InterfaceVersion uint32
	Entrypoints      map[Stage]bool
	Subscriptions    []Subscription
}

// Subscription binds an installed instance to a hook stage and an
// optional payload filter (matched by action kind tag, per §4.3).
type Subscription struct {
	Stage  Stage
	Filter string
}

// InstalledModule is one live binding of a ModuleArtifactState to an
// install target, identified by InstanceId (not ModuleId).
type InstalledModule struct {
	InstanceID       ids.InstanceId
	ModuleID         ids.ModuleId
	ModuleVersion    string
	WasmHash         ids.ArtifactHash
	Owner            ids.AgentId
	InstallTarget    ids.Owner
	Active           bool
	InstalledAtTick  uint64
	InterfaceVersion uint32
	Entrypoints      map[Stage]bool
	Subscriptions    []Subscription
}

// MarketListing offers a module artifact for sale.
type MarketListing struct {
	OrderID      uint64
	ArtifactHash ids.ArtifactHash
	Seller       ids.AgentId
	PriceKind    ids.AssetId
	PriceAmount  int64
	CreatedAtTick uint64
	Canceled     bool
}

// MarketBid is a standing offer to buy a specific artifact.
type MarketBid struct {
	OrderID      uint64
	ArtifactHash ids.ArtifactHash
	Bidder       ids.AgentId
	PriceKind    ids.AssetId
	PriceAmount  int64
	CreatedAtTick uint64
	Canceled     bool
}

// Event is an append-only, strictly-ordered domain notification.
type Event struct {
	Seq              uint64
	Tick             uint64
	Kind             string
	Payload          map[string]string
	CausingActionHash *[32]byte
}

// AppliedBatch is the result of a single ApplyAction call.
type AppliedBatch struct {
	Events []Event
	Tick   uint64
}

// Observation is a read-only, caller-scoped view of world state.
type Observation struct {
	Agent            *Agent
	Balances         map[ids.AssetId]int64
	InstalledModules []InstalledModule
	Listings         []MarketListing
	Bids             []MarketBid
}
