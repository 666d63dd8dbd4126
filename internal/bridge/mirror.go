// Package bridge replays committed consensus envelopes into the
// simulation kernel, enforcing the identity gate and recording an audit
// trail, and exposes a read-only HTTP/WS surface over the latest
// snapshot — the "mirror" of spec.md §4.4/§2's control-flow diagram.
package bridge

import (
	"encoding/json"

	"github.com/sirupsen/logrus"

	"agentworld/internal/consensus"
	"agentworld/internal/ids"
	"agentworld/internal/kernel"
	"agentworld/internal/sandbox"
)

// SimulatorPayload is the JSON encoding of a consensus.Envelope whose
// PayloadKind is consensus.PayloadSimulatorAction: a kernel action plus
// the signature the identity gate verifies before replay (§4.4 "identity
// gate").
type SimulatorPayload struct {
	Action    kernel.Action
	Digest    [32]byte
	Signature []byte
}

// AuditKind classifies how the mirror disposed of one committed envelope.
type AuditKind string

const (
	AuditApplied       AuditKind = "applied"
	AuditRejected      AuditKind = "rejected"
	AuditUnclassified  AuditKind = "unclassified"
)

// AuditEntry is the per-envelope record kept alongside the runtime's own
// execution-state file (§4.4 "the mirror must execute every such envelope
// exactly once and record an audit entry").
type AuditEntry struct {
	Height    uint64
	Validator ids.AgentId
	Submitter ids.AgentId
	Kind      AuditKind
	Detail    string
}

// marketActions requires the submitter to resolve to an agent, never a
// location (§6 "publisher/installer/upgrader/bidder resolves to an
// agent, not a location").
var marketActions = map[kernel.ActionKind]bool{
	kernel.ActionCompileModuleArtifactFromSource: true,
	kernel.ActionDeployModuleArtifact:            true,
	kernel.ActionInstallModuleFromArtifact:       true,
	kernel.ActionUpgradeModuleFromArtifact:       true,
	kernel.ActionListModuleArtifactForSale:       true,
	kernel.ActionBuyModuleArtifactForSale:        true,
	kernel.ActionDelistModuleArtifact:            true,
	kernel.ActionDestroyModuleArtifact:           true,
	kernel.ActionPlaceModuleArtifactBid:          true,
	kernel.ActionCancelModuleArtifactBid:         true,
}

// ResolveFunc verifies a signature over a digest and returns the signing
// agent, with requireAgent gating the market-action identity rule.
// Satisfied by identity.ResolveSubmitter.
type ResolveFunc func(digest [32]byte, sig []byte, knownAgent func(ids.AgentId) bool, requireAgent bool) (ids.AgentId, error)

// Mirror owns the committed-envelope-to-kernel replay path. It is driven
// exclusively by the simulation loop goroutine (§7: the world model's
// exported methods are never called concurrently).
type Mirror struct {
	world    *kernel.WorldModel
	resolve  ResolveFunc
	registry *sandbox.Registry
	onTrap   func(kind sandbox.ErrorKind)
	log      *logrus.Logger
	audit    []AuditEntry
}

// NewMirror constructs a Mirror bound to world and a submitter-resolution
// function (normally identity.ResolveSubmitter). registry routes the
// pre_action/post_action hooks every mirrored action triggers (§4.3
// step 3); it may be nil for callers (tests) that don't exercise the
// sandbox. onTrap, if non-nil, observes a hook failure classification
// for each trapped/timed-out/quota-exceeded invocation (normally
// metrics.Collector.RecordSandboxTrap).
func NewMirror(world *kernel.WorldModel, resolve ResolveFunc, registry *sandbox.Registry, onTrap func(kind sandbox.ErrorKind), logger *logrus.Logger) *Mirror {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Mirror{world: world, resolve: resolve, registry: registry, onTrap: onTrap, log: logger}
}

// hostContextFor builds the bounded HostContext one hook invocation runs
// under, scoped to inst and the world's current tick/seed.
func (m *Mirror) hostContextFor(inst sandbox.InstanceMeta) *sandbox.HostContext {
	return sandbox.NewHostContext(m.world, m.world, m.world.Seed(), m.world.CurrentTick(), inst.InstanceID)
}

func (m *Mirror) onHookError(inst sandbox.InstanceMeta, err error) {
	m.log.WithFields(logrus.Fields{
		"instance_id": inst.InstanceID, "error": err.Error(),
	}).Warn("bridge: sandbox hook failed")
	if m.onTrap != nil {
		m.onTrap(sandbox.ErrorKindOf(err))
	}
}

// routeAction runs registry.RouteHook for stage against every installed
// instance subscribed to (stage, actionKind), a no-op when no registry is
// configured.
func (m *Mirror) routeAction(stage sandbox.Stage, actionKind kernel.ActionKind) {
	if m.registry == nil {
		return
	}
	instances := m.world.InstalledModuleInstances()
	m.registry.RouteHook(instances, stage, string(actionKind), m.hostContextFor, m.onHookError)
}

// ApplyCommitted replays a batch of drained commit envelopes into the
// world model in the order given (already totally ordered by
// consensus.Ordering), never dropping an envelope it cannot interpret —
// it classifies and logs instead (§4.4).
func (m *Mirror) ApplyCommitted(batch []consensus.CommitEnvelope) []AuditEntry {
	entries := make([]AuditEntry, 0, len(batch))
	for _, ce := range batch {
		entry := m.applyOne(ce)
		entries = append(entries, entry)
		m.log.WithFields(logrus.Fields{
			"height": entry.Height, "kind": entry.Kind, "submitter": entry.Submitter,
		}).Debug("bridge: mirrored envelope")
	}
	m.audit = append(m.audit, entries...)
	return entries
}

func (m *Mirror) applyOne(ce consensus.CommitEnvelope) AuditEntry {
	base := AuditEntry{Height: ce.Height, Validator: ce.Validator, Submitter: ce.Payload.Submitter}

	if ce.Payload.PayloadKind != consensus.PayloadSimulatorAction {
		base.Kind = AuditUnclassified
		base.Detail = "payload_kind " + string(ce.Payload.PayloadKind) + " is not simulator-owned"
		return base
	}

	var sp SimulatorPayload
	if err := json.Unmarshal(ce.Payload.ActionPayload, &sp); err != nil {
		base.Kind = AuditUnclassified
		base.Detail = "decode: " + err.Error()
		return base
	}

	requireAgent := marketActions[sp.Action.Kind]
	agent, err := m.resolve(sp.Digest, sp.Signature, m.world.AgentExists, requireAgent)
	if err != nil {
		base.Kind = AuditRejected
		base.Detail = err.Error()
		return base
	}
	sp.Action.Submitter = agent
	base.Submitter = agent

	m.routeAction(sandbox.StagePreAction, sp.Action.Kind)
	if _, err := m.world.ApplyAction(sp.Action); err != nil {
		base.Kind = AuditRejected
		base.Detail = err.Error()
		return base
	}
	m.routeAction(sandbox.StagePostAction, sp.Action.Kind)
	base.Kind = AuditApplied
	return base
}

// Audit returns every audit entry recorded since construction.
func (m *Mirror) Audit() []AuditEntry { return m.audit }
