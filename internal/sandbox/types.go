// Package sandbox executes installed module WASM entrypoints inside a
// wasmer-go VM, bounded by a wall-clock timeout, a gas budget the module
// charges through host_consume_gas, and a read-only world view, adapted
// from the teacher's HeavyVM host-function binding
// (core/virtual_machine.go) to the pre_action/post_action/on_tick hook
// contract of §4.3. Gas is counted only through host_consume_gas (there
// is no instruction metering), and Quota.MaxMemoryPages is not enforced.
package sandbox

import (
	"fmt"
	"time"

	"github.com/wasmerio/wasmer-go/wasmer"

	"agentworld/internal/ids"
)

// Stage mirrors kernel.Stage without importing the kernel package, since
// the sandbox is a bounded context that only borrows instance metadata
// for the duration of one hook call (§5 ownership notes).
type Stage string

const (
	StagePreAction  Stage = "pre_action"
	StagePostAction Stage = "post_action"
	StageOnTick     Stage = "on_tick"
)

// Quota bounds a single hook invocation.
type Quota struct {
	MaxGas      uint64
	MaxMemoryPages uint32
	Timeout     time.Duration
}

// DefaultQuota is used when a caller does not supply one.
var DefaultQuota = Quota{MaxGas: 2_000_000, MaxMemoryPages: 16, Timeout: 50 * time.Millisecond}

// ErrorKind is the exhaustive set of sandbox-local failures (§7).
type ErrorKind string

const (
	ErrTrap          ErrorKind = "trap"
	ErrQuotaExceeded ErrorKind = "quota_exceeded"
	ErrTimeout       ErrorKind = "timeout"
)

// Error is never propagated to world state; the lifecycle subsystem
// swallows it and records it as a counter (§7).
type Error struct {
	Kind   ErrorKind
	Detail string
}

func (e *Error) Error() string { return fmt.Sprintf("sandbox: %s: %s", e.Kind, e.Detail) }

// ErrorKindOf extracts the ErrorKind label a trap/quota/timeout carries,
// for a caller (the metrics collector's sandbox trap counter) that only
// wants the classification and not the full error, falling back to
// ErrTrap for an error this package did not originate.
func ErrorKindOf(err error) ErrorKind {
	if se, ok := err.(*Error); ok {
		return se.Kind
	}
	return ErrTrap
}

// WorldView is the bounded read-only surface exposed to a hook call.
type WorldView interface {
	AgentAttribute(agent ids.AgentId, key string) (int64, bool)
	Balance(owner ids.Owner, kind ids.AssetId) int64
}

// EventSink is the write-only surface a hook call may append domain
// events to; it never lets the module mutate world state directly.
type EventSink interface {
	Emit(kind string, payload map[string]string)
}

// InstanceMeta is the minimal projection of an installed module instance
// the sandbox needs to route and execute a hook, decoupled from the
// kernel's InstalledModule so the two packages do not import each other.
type InstanceMeta struct {
	InstanceID    ids.InstanceId
	InstallTarget ids.Owner
	WasmHash      ids.ArtifactHash
	Subscriptions []SubscriptionMeta
}

type SubscriptionMeta struct {
	Stage  Stage
	Filter string
}

// HostContext is threaded through one hook invocation: a seeded random
// source, the instance's bounded view and sink, and gas accounting state.
type HostContext struct {
	View       WorldView
	Sink       EventSink
	Seed       []byte
	Tick       uint64
	InstanceID ids.InstanceId
	Quota      Quota
	gasUsed    uint64
	mem        *wasmer.Memory
}

// NewHostContext builds a HostContext under the default quota, covering
// the common case where a caller (the tick loop, the bridge mirror) does
// not need to tune per-hook limits.
func NewHostContext(view WorldView, sink EventSink, seed []byte, tick uint64, instanceID ids.InstanceId) *HostContext {
	return &HostContext{View: view, Sink: sink, Seed: seed, Tick: tick, InstanceID: instanceID, Quota: DefaultQuota}
}

func (h *HostContext) consumeGas(amount uint64) error {
	h.gasUsed += amount
	if h.gasUsed > h.Quota.MaxGas {
		return &Error{Kind: ErrQuotaExceeded, Detail: "gas limit exceeded"}
	}
	return nil
}
