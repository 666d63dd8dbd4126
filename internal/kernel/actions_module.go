package kernel

import "agentworld/internal/ids"

func init() {
	registerHandler(ActionCompileModuleArtifactFromSource, handleCompileModuleArtifactFromSource)
	registerHandler(ActionDeployModuleArtifact, handleDeployModuleArtifact)
	registerHandler(ActionInstallModuleFromArtifact, handleInstallModuleFromArtifact)
	registerHandler(ActionUpgradeModuleFromArtifact, handleUpgradeModuleFromArtifact)
}

// handleCompileModuleArtifactFromSource runs the module source through the
// injected compiler, content-addresses the resulting WASM bytes in the
// artifact store and records a deployed artifact in one step, matching the
// compile->deploy scenario of §8 #2 where compile itself yields
// ModuleArtifactDeployed.
func handleCompileModuleArtifactFromSource(w *WorldModel, act Action, tick uint64, seed []byte) ([]Event, error) {
	if act.ManifestPath == "" || len(act.SourceFiles) == 0 {
		return nil, reject(RejectInvalidPayload, "manifest_path and source_files required to compile")
	}
	if w.svc.Compiler == nil || w.svc.Artifacts == nil {
		return nil, reject(RejectInvalidPayload, "compiler or artifact store unavailable")
	}
	wasmBytes, err := w.svc.Compiler.Compile(act.ManifestPath, act.SourceFiles)
	if err != nil {
		return nil, reject(RejectInvalidPayload, "compile failed: "+err.Error())
	}
	hash, err := w.svc.Artifacts.Put(wasmBytes)
	if err != nil {
		return nil, reject(RejectInvalidPayload, "artifact store rejected compiled bytes: "+err.Error())
	}
	return w.recordDeployedArtifact(hash, act, tick)
}

// handleDeployModuleArtifact deploys previously-compiled bytes directly
// from their hex-encoded bytes, or is a no-op when the hash is already
// recorded (§4.1 put() idempotence carried into the kernel's own registry).
func handleDeployModuleArtifact(w *WorldModel, act Action, tick uint64, seed []byte) ([]Event, error) {
	if act.WasmHash.IsZero() && act.WasmBytesHex == "" {
		return nil, reject(RejectInvalidPayload, "wasm_hash or wasm_bytes_hex required")
	}
	if !act.WasmHash.IsZero() {
		if _, exists := w.moduleArtifacts[act.WasmHash]; exists {
			return nil, nil // idempotent no-op, no events
		}
	}
	wasmBytes, err := decodeHex(act.WasmBytesHex)
	if err != nil || len(wasmBytes) == 0 {
		return nil, reject(RejectInvalidPayload, "wasm_bytes_hex must decode to non-empty bytes")
	}
	hash := ids.HashBytes(wasmBytes)
	if !act.WasmHash.IsZero() && hash != act.WasmHash {
		return nil, reject(RejectInvalidPayload, "wasm_hash does not match sha-256 of wasm_bytes_hex")
	}
	if w.svc.Artifacts != nil {
		if _, err := w.svc.Artifacts.Put(wasmBytes); err != nil {
			return nil, reject(RejectInvalidPayload, "artifact store rejected bytes: "+err.Error())
		}
	}
	return w.recordDeployedArtifact(hash, act, tick)
}

func (w *WorldModel) recordDeployedArtifact(hash ids.ArtifactHash, act Action, tick uint64) ([]Event, error) {
	if _, exists := w.moduleArtifacts[hash]; exists {
		return nil, nil
	}
	owner := act.Publisher
	if owner == "" {
		owner = act.Submitter
	}
	w.moduleArtifacts[hash] = &ModuleArtifactState{
		WasmHash:       hash,
		Owner:          owner,
		ModuleID:       act.ModuleID,
		ModuleVersion:  act.ModuleVersion,
		Manifest:       act.Manifest,
		SourceFiles:    act.SourceFiles,
		DeployedAtTick: tick,
	}
	return []Event{w.emit("ModuleArtifactDeployed", map[string]string{
		"wasm_hash": hash.String(), "module_id": string(act.ModuleID), "module_version": act.ModuleVersion,
	})}, nil
}

// handleInstallModuleFromArtifact binds a deployed artifact to an install
// target under a caller-supplied instance_id, distinct from module_id
// per §4.3's instance model.
func handleInstallModuleFromArtifact(w *WorldModel, act Action, tick uint64, seed []byte) ([]Event, error) {
	if act.InstanceID == "" {
		return nil, reject(RejectInvalidPayload, "instance_id required")
	}
	if _, exists := w.installedModules[act.InstanceID]; exists {
		return nil, reject(RejectDuplicateInstance, "instance_id already in use: "+string(act.InstanceID))
	}
	artifact, ok := w.moduleArtifacts[act.WasmHash]
	if !ok {
		return nil, reject(RejectNotFound, "artifact not deployed: "+act.WasmHash.String())
	}
	if err := w.validateInstallTarget(act.InstallTarget); err != nil {
		return nil, err
	}
	owner := act.Installer
	if owner == "" {
		owner = act.Submitter
	}
	im := &InstalledModule{
		InstanceID:       act.InstanceID,
		ModuleID:         artifact.ModuleID,
		ModuleVersion:    artifact.ModuleVersion,
		WasmHash:         act.WasmHash,
		Owner:            owner,
		InstallTarget:    act.InstallTarget,
		Active:           act.Activate,
		InstalledAtTick:  tick,
		InterfaceVersion: artifact.Manifest.InterfaceVersion,
		Entrypoints:      artifact.Manifest.Entrypoints,
		Subscriptions:    artifact.Manifest.Subscriptions,
	}
	w.installedModules[im.InstanceID] = im
	return []Event{w.emit("ModuleInstalled", map[string]string{
		"instance_id": string(im.InstanceID), "module_id": string(im.ModuleID), "active": boolStr(im.Active),
	})}, nil
}

func (w *WorldModel) validateInstallTarget(target ids.Owner) error {
	if target.IsAgent() {
		if _, ok := w.agents[target.Agent]; !ok {
			return reject(RejectNotFound, "install target agent not found: "+string(target.Agent))
		}
		return nil
	}
	loc, ok := w.locations[target.Loc]
	if !ok {
		return reject(RejectNotFound, "install target location not found: "+string(target.Loc))
	}
	if !loc.ModuleInstallTarget {
		return reject(RejectInvalidPayload, "location is not a module install target: "+string(target.Loc))
	}
	return nil
}

// handleUpgradeModuleFromArtifact enforces the five upgrade preconditions
// of §4.2 atomically: either all hold and the instance moves to the next
// version in one step, or none of the state changes.
func handleUpgradeModuleFromArtifact(w *WorldModel, act Action, tick uint64, seed []byte) ([]Event, error) {
	im, ok := w.installedModules[act.InstanceID]
	if !ok {
		return nil, reject(RejectNotFound, "instance not found: "+string(act.InstanceID))
	}
	upgrader := act.Upgrader
	if upgrader == "" {
		upgrader = act.Submitter
	}
	if upgrader != im.Owner { // (a) upgrader owns the instance
		return nil, reject(RejectUnauthorized, "only the instance owner may upgrade it")
	}
	newArtifact, ok := w.moduleArtifacts[act.WasmHash]
	if !ok {
		return nil, reject(RejectNotFound, "upgrade target artifact not deployed: "+act.WasmHash.String())
	}
	if newArtifact.ModuleID != im.ModuleID { // (b) module_id unchanged
		return nil, reject(RejectIncompatibleUpgrade, "upgrade changes module_id")
	}
	if act.Manifest.InterfaceVersion != im.InterfaceVersion { // (c) interface_version equal
		return nil, reject(RejectIncompatibleUpgrade, "upgrade changes interface_version")
	}
	for stage, required := range im.Entrypoints { // (d) entrypoints superset
		if required && !act.Manifest.Entrypoints[stage] {
			return nil, reject(RejectIncompatibleUpgrade, "upgrade drops required entrypoint "+string(stage))
		}
	}
	if !subscriptionsSatisfied(im.Subscriptions, act.Manifest.Subscriptions) { // (e) subscriptions satisfiable
		return nil, reject(RejectIncompatibleUpgrade, "upgrade breaks an existing subscription")
	}

	fromVersion := im.ModuleVersion
	im.ModuleVersion = act.ModuleVersion
	im.WasmHash = act.WasmHash
	im.Entrypoints = act.Manifest.Entrypoints
	im.Subscriptions = act.Manifest.Subscriptions

	return []Event{w.emit("ModuleUpgraded", map[string]string{
		"instance_id": string(im.InstanceID), "from_version": fromVersion, "to_version": im.ModuleVersion,
	})}, nil
}

// subscriptionsSatisfied implements the Open Question decision recorded in
// the design notes: filter compatibility requires structural equality of
// (stage, filter) between every prior subscription and some subscription
// in the next manifest.
func subscriptionsSatisfied(prior, next []Subscription) bool {
	for _, p := range prior {
		found := false
		for _, n := range next {
			if n.Stage == p.Stage && n.Filter == p.Filter {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
