package kernel

import "agentworld/internal/ids"

// Snapshot is the exported, JSON-stable projection of a WorldModel's full
// state, used by internal/persistence to write snapshot.json without
// reaching into the model's unexported fields (§6 "snapshot.json: full
// WorldModel at a committed height").
type Snapshot struct {
	Tick         uint64
	NextEventSeq uint64
	NextOrderID  uint64

	Agents    []Agent
	Locations []Location
	Assets    []Asset

	ModuleArtifacts  []ModuleArtifactState
	InstalledModules []InstalledModule

	Listings []MarketListing
	Bids     []MarketBid

	MintedTotal map[ids.AssetId]int64
	BurnedTotal map[ids.AssetId]int64

	EpochDistributedCredits int64
	EpochMintedPoints       int64
	LastEpochCloseTick      uint64
	EpochIndex              uint64
}

// Snapshot captures the full world state as a value safe to marshal.
func (w *WorldModel) Snapshot() Snapshot {
	snap := Snapshot{
		Tick:                     w.tick,
		NextEventSeq:             w.nextEventSeq,
		NextOrderID:              w.nextOrderID,
		MintedTotal:              make(map[ids.AssetId]int64, len(w.mintedTotal)),
		BurnedTotal:              make(map[ids.AssetId]int64, len(w.burnedTotal)),
		EpochDistributedCredits:  w.epochDistributedCredits,
		EpochMintedPoints:        w.epochMintedPoints,
		LastEpochCloseTick:       w.lastEpochCloseTick,
		EpochIndex:               w.epochIndex,
	}
	for _, a := range w.agents {
		snap.Agents = append(snap.Agents, *a)
	}
	for _, l := range w.locations {
		snap.Locations = append(snap.Locations, *l)
	}
	for _, a := range w.assets {
		snap.Assets = append(snap.Assets, *a)
	}
	for _, m := range w.moduleArtifacts {
		snap.ModuleArtifacts = append(snap.ModuleArtifacts, *m)
	}
	for _, im := range w.installedModules {
		snap.InstalledModules = append(snap.InstalledModules, *im)
	}
	for _, l := range w.listings {
		snap.Listings = append(snap.Listings, *l)
	}
	for _, b := range w.bids {
		snap.Bids = append(snap.Bids, *b)
	}
	for k, v := range w.mintedTotal {
		snap.MintedTotal[k] = v
	}
	for k, v := range w.burnedTotal {
		snap.BurnedTotal[k] = v
	}
	return snap
}

// RestoreSnapshot rebuilds world state from a Snapshot produced by an
// earlier call to Snapshot. The WorldModel must be freshly constructed
// via NewWorldModel (services and seed are not part of the snapshot;
// they are re-supplied by the caller at load time, per §9's "no
// process-wide singleton" rule).
func (w *WorldModel) RestoreSnapshot(snap Snapshot) {
	w.tick = snap.Tick
	w.nextEventSeq = snap.NextEventSeq
	w.nextOrderID = snap.NextOrderID
	w.epochDistributedCredits = snap.EpochDistributedCredits
	w.epochMintedPoints = snap.EpochMintedPoints
	w.lastEpochCloseTick = snap.LastEpochCloseTick
	w.epochIndex = snap.EpochIndex

	for i := range snap.Agents {
		a := snap.Agents[i]
		w.agents[a.ID] = &a
	}
	for i := range snap.Locations {
		l := snap.Locations[i]
		w.locations[l.ID] = &l
	}
	for i := range snap.Assets {
		a := snap.Assets[i]
		w.assets[assetKey{a.Owner.String(), a.Kind}] = &a
	}
	for i := range snap.ModuleArtifacts {
		m := snap.ModuleArtifacts[i]
		w.moduleArtifacts[m.WasmHash] = &m
	}
	for i := range snap.InstalledModules {
		im := snap.InstalledModules[i]
		w.installedModules[im.InstanceID] = &im
	}
	for i := range snap.Listings {
		l := snap.Listings[i]
		w.listings[l.OrderID] = &l
	}
	for i := range snap.Bids {
		b := snap.Bids[i]
		w.bids[b.OrderID] = &b
	}
	for k, v := range snap.MintedTotal {
		w.mintedTotal[k] = v
	}
	for k, v := range snap.BurnedTotal {
		w.burnedTotal[k] = v
	}
}
