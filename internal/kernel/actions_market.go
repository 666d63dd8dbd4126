package kernel

import "agentworld/internal/ids"

func init() {
	registerHandler(ActionListModuleArtifactForSale, handleListModuleArtifactForSale)
	registerHandler(ActionBuyModuleArtifactForSale, handleBuyModuleArtifactForSale)
	registerHandler(ActionDelistModuleArtifact, handleDelistModuleArtifact)
	registerHandler(ActionDestroyModuleArtifact, handleDestroyModuleArtifact)
	registerHandler(ActionPlaceModuleArtifactBid, handlePlaceModuleArtifactBid)
	registerHandler(ActionCancelModuleArtifactBid, handleCancelModuleArtifactBid)
}

func (w *WorldModel) allocOrderID() uint64 {
	w.nextOrderID++
	return w.nextOrderID
}

func handleListModuleArtifactForSale(w *WorldModel, act Action, tick uint64, seed []byte) ([]Event, error) {
	artifact, ok := w.moduleArtifacts[act.WasmHash]
	if !ok {
		return nil, reject(RejectNotFound, "artifact not deployed: "+act.WasmHash.String())
	}
	if artifact.Owner != act.Submitter {
		return nil, reject(RejectUnauthorized, "only the artifact owner may list it")
	}
	if act.PriceAmount <= 0 {
		return nil, reject(RejectInvalidPayload, "price_amount must be positive")
	}
	orderID := w.allocOrderID()
	w.listings[orderID] = &MarketListing{
		OrderID: orderID, ArtifactHash: act.WasmHash, Seller: act.Submitter,
		PriceKind: act.PriceKind, PriceAmount: act.PriceAmount, CreatedAtTick: tick,
	}
	return []Event{w.emit("ModuleArtifactListed", map[string]string{
		"order_id": itoa(int64(orderID)), "wasm_hash": act.WasmHash.String(),
	})}, nil
}

// handleBuyModuleArtifactForSale attempts to fill an existing listing
// immediately. A failed match (insufficient funds, listing already
// consumed) leaves state unchanged rather than queuing, per §4.3.
func handleBuyModuleArtifactForSale(w *WorldModel, act Action, tick uint64, seed []byte) ([]Event, error) {
	listing, ok := w.listings[act.OrderID]
	if !ok || listing.Canceled {
		return nil, reject(RejectNotFound, "listing not found or closed: order_id="+itoa(int64(act.OrderID)))
	}
	artifact, ok := w.moduleArtifacts[listing.ArtifactHash]
	if !ok || artifact.Owner != listing.Seller {
		return nil, reject(RejectMarketMismatch, "seller no longer owns the listed artifact")
	}
	buyerBal := w.balance(ids.AgentOwner(act.Submitter), listing.PriceKind)
	if buyerBal < listing.PriceAmount {
		return nil, reject(RejectInsufficientFunds, "buyer cannot afford listing")
	}
	return w.settleArtifactSale(listing.OrderID, 0, artifact, listing.Seller, act.Submitter, listing.PriceKind, listing.PriceAmount, tick)
}

func handleDelistModuleArtifact(w *WorldModel, act Action, tick uint64, seed []byte) ([]Event, error) {
	listing, ok := w.listings[act.OrderID]
	if !ok || listing.Canceled {
		return nil, reject(RejectNotFound, "listing not found or already closed")
	}
	if listing.Seller != act.Submitter {
		return nil, reject(RejectUnauthorized, "only the seller may delist")
	}
	listing.Canceled = true
	return []Event{w.emit("ModuleArtifactDelisted", map[string]string{"order_id": itoa(int64(act.OrderID))})}, nil
}

// handleDestroyModuleArtifact permanently retires an artifact the
// submitter owns and that is not currently listed for sale or installed at
// an active instance; it is intentionally conservative since destruction
// is irreversible.
func handleDestroyModuleArtifact(w *WorldModel, act Action, tick uint64, seed []byte) ([]Event, error) {
	artifact, ok := w.moduleArtifacts[act.WasmHash]
	if !ok {
		return nil, reject(RejectNotFound, "artifact not deployed: "+act.WasmHash.String())
	}
	if artifact.Owner != act.Submitter {
		return nil, reject(RejectUnauthorized, "only the artifact owner may destroy it")
	}
	for _, im := range w.installedModules {
		if im.WasmHash == act.WasmHash && im.Active {
			return nil, reject(RejectInvalidPayload, "artifact still installed at instance "+string(im.InstanceID))
		}
	}
	for _, l := range w.listings {
		if l.ArtifactHash == act.WasmHash && !l.Canceled {
			return nil, reject(RejectInvalidPayload, "artifact still listed for sale")
		}
	}
	delete(w.moduleArtifacts, act.WasmHash)
	return []Event{w.emit("ModuleArtifactDestroyed", map[string]string{"wasm_hash": act.WasmHash.String()})}, nil
}

func handlePlaceModuleArtifactBid(w *WorldModel, act Action, tick uint64, seed []byte) ([]Event, error) {
	if act.PriceAmount <= 0 {
		return nil, reject(RejectInvalidPayload, "price_amount must be positive")
	}
	orderID := w.allocOrderID()
	bid := &MarketBid{
		OrderID: orderID, ArtifactHash: act.WasmHash, Bidder: act.Submitter,
		PriceKind: act.PriceKind, PriceAmount: act.PriceAmount, CreatedAtTick: tick,
	}
	w.bids[orderID] = bid

	// Immediate matching against the lowest-order-id open listing for the
	// same artifact and currency kind at or below the bid price (§4.2 tie
	// break: order_id ascending / placement order).
	var best *MarketListing
	for _, l := range w.listings {
		if l.Canceled || l.ArtifactHash != act.WasmHash || l.PriceKind != bid.PriceKind {
			continue
		}
		if l.PriceAmount > bid.PriceAmount {
			continue
		}
		if best == nil || l.OrderID < best.OrderID {
			best = l
		}
	}
	events := []Event{w.emit("ModuleArtifactBidPlaced", map[string]string{
		"order_id": itoa(int64(orderID)), "wasm_hash": act.WasmHash.String(),
	})}
	if best == nil {
		return events, nil
	}
	artifact, ok := w.moduleArtifacts[best.ArtifactHash]
	if !ok || artifact.Owner != best.Seller {
		return events, nil
	}
	if w.balance(ids.AgentOwner(act.Submitter), best.PriceKind) < best.PriceAmount {
		return events, nil
	}
	saleEvents, err := w.settleArtifactSale(best.OrderID, bid.OrderID, artifact, best.Seller, act.Submitter, best.PriceKind, best.PriceAmount, tick)
	if err != nil {
		return events, nil
	}
	bid.Canceled = true
	return append(events, saleEvents...), nil
}

func handleCancelModuleArtifactBid(w *WorldModel, act Action, tick uint64, seed []byte) ([]Event, error) {
	bid, ok := w.bids[act.BidOrderID]
	if !ok || bid.Canceled {
		return nil, reject(RejectNotFound, "bid not found or already closed")
	}
	if bid.Bidder != act.Submitter {
		return nil, reject(RejectUnauthorized, "only the bidder may cancel")
	}
	bid.Canceled = true
	return []Event{w.emit("ModuleArtifactBidCanceled", map[string]string{"order_id": itoa(int64(act.BidOrderID))})}, nil
}

// settleArtifactSale performs the three atomic effects a match requires
// (§4.3): balance transfer, ownership transfer, and the completion event.
// listingOrderID/bidOrderID of 0 means "not applicable" for that side.
func (w *WorldModel) settleArtifactSale(listingOrderID, bidOrderID uint64, artifact *ModuleArtifactState, seller, buyer ids.AgentId, priceKind ids.AssetId, priceAmount int64, tick uint64) ([]Event, error) {
	buyerOwner := ids.AgentOwner(buyer)
	sellerOwner := ids.AgentOwner(seller)
	buyerBal := w.balance(buyerOwner, priceKind)
	if buyerBal < priceAmount {
		return nil, reject(RejectInsufficientFunds, "buyer cannot afford artifact")
	}
	nextBuyer, ok := addBalance(buyerBal, -priceAmount)
	if !ok {
		return nil, reject(RejectOverflow, "sale settlement underflow")
	}
	nextSeller, ok := addBalance(w.balance(sellerOwner, priceKind), priceAmount)
	if !ok {
		return nil, reject(RejectOverflow, "sale settlement overflow")
	}
	w.setBalance(buyerOwner, priceKind, nextBuyer)
	w.setBalance(sellerOwner, priceKind, nextSeller)
	artifact.Owner = buyer
	if l, ok := w.listings[listingOrderID]; ok {
		l.Canceled = true
	}
	return []Event{w.emit("ModuleArtifactSaleCompleted", map[string]string{
		"order_id": itoa(int64(listingOrderID)), "bid_order_id": itoa(int64(bidOrderID)),
		"wasm_hash": artifact.WasmHash.String(), "buyer": string(buyer), "seller": string(seller),
		"amount": itoa(priceAmount),
	}), w.emit("OwnerTransferred", map[string]string{
		"wasm_hash": artifact.WasmHash.String(), "to": string(buyer),
	})}, nil
}
