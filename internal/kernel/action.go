package kernel

import "agentworld/internal/ids"

// ActionKind is the exhaustive set of action families the kernel
// understands. New kinds are added here and nowhere else.
type ActionKind string

const (
	ActionCreateAgent  ActionKind = "CreateAgent"
	ActionRetireAgent  ActionKind = "RetireAgent"
	ActionSetAttribute ActionKind = "SetAttribute"
	ActionTransferAsset ActionKind = "TransferAsset"
	ActionMintAsset     ActionKind = "MintAsset"
	ActionBurnAsset     ActionKind = "BurnAsset"
	ActionMoveAgent     ActionKind = "MoveAgent"

	ActionCompileModuleArtifactFromSource ActionKind = "CompileModuleArtifactFromSource"
	ActionDeployModuleArtifact            ActionKind = "DeployModuleArtifact"
	ActionInstallModuleFromArtifact       ActionKind = "InstallModuleFromArtifact"
	ActionUpgradeModuleFromArtifact       ActionKind = "UpgradeModuleFromArtifact"

	ActionListModuleArtifactForSale ActionKind = "ListModuleArtifactForSale"
	ActionBuyModuleArtifactForSale  ActionKind = "BuyModuleArtifactForSale"
	ActionDelistModuleArtifact      ActionKind = "DelistModuleArtifact"
	ActionDestroyModuleArtifact     ActionKind = "DestroyModuleArtifact"
	ActionPlaceModuleArtifactBid    ActionKind = "PlaceModuleArtifactBid"
	ActionCancelModuleArtifactBid   ActionKind = "CancelModuleArtifactBid"
)

// Action is the decoded, already-authenticated payload the kernel applies.
// Only the fields relevant to Kind are populated by the caller; unused
// fields are left at their zero value. This mirrors the single recognized
// field table of §6 of the specification rather than one struct per kind,
// since the kernel's dispatch table already narrows behavior by Kind.
type Action struct {
	Kind      ActionKind
	Submitter ids.AgentId

	// Agent lifecycle / attributes / movement
	TargetAgent    ids.AgentId
	TargetLocation ids.LocationId
	Attribute      string
	Delta          int64

	// Asset transfer / mint / burn
	AssetKind ids.AssetId
	Amount    int64
	From      ids.Owner
	To        ids.Owner

	// Module lifecycle
	ModuleID      ids.ModuleId
	ModuleVersion string
	ManifestPath  string
	SourceFiles   map[string]string
	WasmHash      ids.ArtifactHash
	WasmBytesHex  string
	Manifest      ModuleManifest
	Activate      bool
	InstanceID    ids.InstanceId
	InstallTarget ids.Owner
	Upgrader      ids.AgentId
	Installer     ids.AgentId
	Publisher     ids.AgentId

	// Module market
	PriceKind   ids.AssetId
	PriceAmount int64
	OrderID     uint64
	BidOrderID  uint64
	Bidder      ids.AgentId
}

// handlerFunc mutates w in response to act at the given tick/seed, or
// returns a typed rejection. It must never panic: any unexpected nil or
// malformed field is an InvalidPayload rejection.
type handlerFunc func(w *WorldModel, act Action, tick uint64, seed []byte) ([]Event, error)

// dispatchTable is populated once in init() below. Registration panics on
// a duplicate key since that can only happen from a programming error,
// never from untrusted input.
var dispatchTable = make(map[ActionKind]handlerFunc, 32)

func registerHandler(kind ActionKind, fn handlerFunc) {
	if _, exists := dispatchTable[kind]; exists {
		panic("kernel: duplicate handler registration for " + string(kind))
	}
	dispatchTable[kind] = fn
}

func dispatch(w *WorldModel, act Action, tick uint64, seed []byte) ([]Event, error) {
	fn, ok := dispatchTable[act.Kind]
	if !ok {
		return nil, reject(RejectInvalidPayload, "unknown action kind "+string(act.Kind))
	}
	return fn(w, act, tick, seed)
}
