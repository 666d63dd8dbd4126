package kernel

func init() {
	registerHandler(ActionCreateAgent, handleCreateAgent)
	registerHandler(ActionRetireAgent, handleRetireAgent)
	registerHandler(ActionSetAttribute, handleSetAttribute)
	registerHandler(ActionMoveAgent, handleMoveAgent)
	registerHandler(ActionTransferAsset, handleTransferAsset)
	registerHandler(ActionMintAsset, handleMintAsset)
	registerHandler(ActionBurnAsset, handleBurnAsset)
}

func handleCreateAgent(w *WorldModel, act Action, tick uint64, seed []byte) ([]Event, error) {
	if act.TargetAgent == "" {
		return nil, reject(RejectInvalidPayload, "target agent id required")
	}
	if _, exists := w.agents[act.TargetAgent]; exists {
		return nil, reject(RejectInvalidPayload, "agent already exists: "+string(act.TargetAgent))
	}
	a := &Agent{
		ID:         act.TargetAgent,
		Attributes: make(map[string]int64),
		LongMemory: make(map[string][]byte),
	}
	if act.TargetLocation != "" {
		if _, ok := w.locations[act.TargetLocation]; !ok {
			return nil, reject(RejectNotFound, "location not found: "+string(act.TargetLocation))
		}
		loc := act.TargetLocation
		a.Location = &loc
	}
	w.agents[a.ID] = a
	return []Event{w.emit("AgentCreated", map[string]string{"agent_id": string(a.ID)})}, nil
}

// only the target agent itself may retire it: the kernel checks that
// Submitter (already verified upstream by the identity gate) equals
// TargetAgent, mirroring the teacher's self-service account operations.
func handleRetireAgent(w *WorldModel, act Action, tick uint64, seed []byte) ([]Event, error) {
	a, ok := w.agents[act.TargetAgent]
	if !ok {
		return nil, reject(RejectNotFound, "agent not found: "+string(act.TargetAgent))
	}
	if act.Submitter != act.TargetAgent {
		return nil, reject(RejectUnauthorized, "only the agent may retire itself")
	}
	a.Retired = true
	return []Event{w.emit("AgentRetired", map[string]string{"agent_id": string(a.ID)})}, nil
}

func handleSetAttribute(w *WorldModel, act Action, tick uint64, seed []byte) ([]Event, error) {
	a, ok := w.agents[act.TargetAgent]
	if !ok {
		return nil, reject(RejectNotFound, "agent not found: "+string(act.TargetAgent))
	}
	if act.Attribute == "" {
		return nil, reject(RejectInvalidPayload, "attribute name required")
	}
	next, ok := addBalance(a.Attributes[act.Attribute], act.Delta)
	if !ok {
		return nil, reject(RejectOverflow, "attribute delta overflow")
	}
	a.Attributes[act.Attribute] = next
	return []Event{w.emit("AttributeChanged", map[string]string{
		"agent_id": string(a.ID), "attribute": act.Attribute, "value": itoa(next),
	})}, nil
}

func handleMoveAgent(w *WorldModel, act Action, tick uint64, seed []byte) ([]Event, error) {
	a, ok := w.agents[act.TargetAgent]
	if !ok {
		return nil, reject(RejectNotFound, "agent not found: "+string(act.TargetAgent))
	}
	if a.Retired {
		return nil, reject(RejectInvalidPayload, "agent retired: "+string(a.ID))
	}
	if _, ok := w.locations[act.TargetLocation]; !ok {
		return nil, reject(RejectNotFound, "location not found: "+string(act.TargetLocation))
	}
	loc := act.TargetLocation
	a.Location = &loc
	return []Event{w.emit("AgentMoved", map[string]string{
		"agent_id": string(a.ID), "location_id": string(loc),
	})}, nil
}

func handleTransferAsset(w *WorldModel, act Action, tick uint64, seed []byte) ([]Event, error) {
	if act.Amount <= 0 {
		return nil, reject(RejectInvalidPayload, "transfer amount must be positive")
	}
	fromBal := w.balance(act.From, act.AssetKind)
	if fromBal < act.Amount {
		return nil, reject(RejectInsufficientFunds, "insufficient balance for "+string(act.AssetKind))
	}
	nextFrom, ok := addBalance(fromBal, -act.Amount)
	if !ok {
		return nil, reject(RejectOverflow, "transfer underflow")
	}
	toBal := w.balance(act.To, act.AssetKind)
	nextTo, ok := addBalance(toBal, act.Amount)
	if !ok {
		return nil, reject(RejectOverflow, "transfer overflow")
	}
	w.setBalance(act.From, act.AssetKind, nextFrom)
	w.setBalance(act.To, act.AssetKind, nextTo)
	return []Event{w.emit("AssetTransferred", map[string]string{
		"from": act.From.String(), "to": act.To.String(),
		"kind": string(act.AssetKind), "amount": itoa(act.Amount),
	})}, nil
}

func handleMintAsset(w *WorldModel, act Action, tick uint64, seed []byte) ([]Event, error) {
	if act.Amount <= 0 {
		return nil, reject(RejectInvalidPayload, "mint amount must be positive")
	}
	cur := w.balance(act.To, act.AssetKind)
	next, ok := addBalance(cur, act.Amount)
	if !ok {
		return nil, reject(RejectOverflow, "mint overflow")
	}
	w.setBalance(act.To, act.AssetKind, next)
	w.mintedTotal[act.AssetKind] += act.Amount
	if act.AssetKind == "credit" {
		w.epochDistributedCredits += act.Amount
	}
	return []Event{w.emit("AssetMinted", map[string]string{
		"to": act.To.String(), "kind": string(act.AssetKind), "amount": itoa(act.Amount),
	})}, nil
}

func handleBurnAsset(w *WorldModel, act Action, tick uint64, seed []byte) ([]Event, error) {
	if act.Amount <= 0 {
		return nil, reject(RejectInvalidPayload, "burn amount must be positive")
	}
	cur := w.balance(act.From, act.AssetKind)
	if cur < act.Amount {
		return nil, reject(RejectInsufficientFunds, "insufficient balance to burn "+string(act.AssetKind))
	}
	w.setBalance(act.From, act.AssetKind, cur-act.Amount)
	w.burnedTotal[act.AssetKind] += act.Amount
	return []Event{w.emit("AssetBurned", map[string]string{
		"from": act.From.String(), "kind": string(act.AssetKind), "amount": itoa(act.Amount),
	})}, nil
}
