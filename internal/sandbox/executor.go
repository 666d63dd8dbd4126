package sandbox

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/wasmerio/wasmer-go/wasmer"

	"agentworld/internal/ids"
)

// Executor compiles and caches wasmer modules by artifact hash and runs
// one named entrypoint per invocation (§4.3).
type Executor struct {
	engine *wasmer.Engine

	mu      sync.Mutex
	modules map[string]*wasmer.Module
}

// NewExecutor constructs an Executor with its own wasmer engine, mirroring
// the teacher's per-VM wasmer.NewEngine() allocation.
func NewExecutor() *Executor {
	return &Executor{engine: wasmer.NewEngine(), modules: make(map[string]*wasmer.Module)}
}

func (e *Executor) compile(wasmHash string, code []byte) (*wasmer.Module, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if m, ok := e.modules[wasmHash]; ok {
		return m, nil
	}
	store := wasmer.NewStore(e.engine)
	mod, err := wasmer.NewModule(store, code)
	if err != nil {
		return nil, &Error{Kind: ErrTrap, Detail: "compile: " + err.Error()}
	}
	e.modules[wasmHash] = mod
	return mod, nil
}

// Invoke runs the export named by stage against code, if present. A
// module that does not export the hook's entrypoint is treated as an
// empty invocation (no-op), matching the "skipped hook" semantics of
// §4.2's failure model rather than an error.
func (e *Executor) Invoke(code []byte, wasmHashHex string, stage Stage, hctx *HostContext) error {
	mod, err := e.compile(wasmHashHex, code)
	if err != nil {
		return err
	}
	store := wasmer.NewStore(e.engine)
	imports := registerHost(store, hctx)

	instance, err := wasmer.NewInstance(mod, imports)
	if err != nil {
		return &Error{Kind: ErrTrap, Detail: "instantiate: " + err.Error()}
	}

	if mem, err := instance.Exports.GetMemory("memory"); err == nil {
		hctx.mem = mem
	}

	fn, err := instance.Exports.GetFunction(string(stage))
	if err != nil {
		return nil // hook not implemented by this module: skipped, not an error
	}

	done := make(chan error, 1)
	go func() {
		_, err := fn()
		done <- err
	}()
	timeout := hctx.Quota.Timeout
	if timeout <= 0 {
		timeout = DefaultQuota.Timeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	select {
	case err := <-done:
		if hctx.gasUsed > hctx.Quota.MaxGas {
			return &Error{Kind: ErrQuotaExceeded, Detail: "gas limit exceeded"}
		}
		if err != nil {
			return &Error{Kind: ErrTrap, Detail: err.Error()}
		}
		return nil
	case <-ctx.Done():
		return &Error{Kind: ErrTimeout, Detail: fmt.Sprintf("hook exceeded %s", timeout)}
	}
}

// registerHost binds the "env" namespace host functions a module may
// import, mirroring the teacher's registerHost but scoped to a read-only
// world view, an event sink and a seeded PRNG instead of generic KV
// storage (§4.3 determinism contract: no host time, no host randomness
// beyond the kernel-provided seed, no network).
func registerHost(store *wasmer.Store, h *HostContext) *wasmer.ImportObject {
	imports := wasmer.NewImportObject()

	read := func(ptr, ln int32) []byte {
		if h.mem == nil {
			return nil
		}
		data := h.mem.Data()
		if int(ptr) < 0 || int(ptr)+int(ln) > len(data) {
			return nil
		}
		out := make([]byte, ln)
		copy(out, data[ptr:ptr+ln])
		return out
	}
	write := func(ptr int32, data []byte) {
		if h.mem == nil {
			return
		}
		mem := h.mem.Data()
		if int(ptr) < 0 || int(ptr)+len(data) > len(mem) {
			return
		}
		copy(mem[ptr:], data)
	}

	hostConsumeGas := wasmer.NewFunction(store,
		wasmer.NewFunctionType(
			wasmer.NewValueTypes(wasmer.I32),
			wasmer.NewValueTypes(wasmer.I32),
		),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			amount := uint64(args[0].I32())
			if err := h.consumeGas(amount); err != nil {
				return nil, err // traps the call; Invoke reports it as quota_exceeded
			}
			return []wasmer.Value{wasmer.NewI32(0)}, nil
		},
	)

	// host_seeded_random(purposePtr, purposeLen, dstPtr) -> i32(written)
	hostSeededRandom := wasmer.NewFunction(store,
		wasmer.NewFunctionType(
			wasmer.NewValueTypes(wasmer.I32, wasmer.I32, wasmer.I32),
			wasmer.NewValueTypes(wasmer.I32),
		),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			pPtr, pLen, dPtr := args[0].I32(), args[1].I32(), args[2].I32()
			purpose := read(pPtr, pLen)
			digest := deterministicRandom(h.Seed, h.Tick, string(purpose))
			write(dPtr, digest)
			return []wasmer.Value{wasmer.NewI32(int32(len(digest)))}, nil
		},
	)

	// host_read_balance(ownerPtr, ownerLen, kindPtr, kindLen) -> i64
	// The owner bytes are an agent id string; any agent's balance can be
	// read this way, never a location's.
	hostReadBalance := wasmer.NewFunction(store,
		wasmer.NewFunctionType(
			wasmer.NewValueTypes(wasmer.I32, wasmer.I32, wasmer.I32, wasmer.I32),
			wasmer.NewValueTypes(wasmer.I64),
		),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			if h.View == nil {
				return []wasmer.Value{wasmer.NewI64(0)}, nil
			}
			oPtr, oLen, kPtr, kLen := args[0].I32(), args[1].I32(), args[2].I32(), args[3].I32()
			owner := ids.AgentId(read(oPtr, oLen))
			kind := ids.AssetId(read(kPtr, kLen))
			bal := h.View.Balance(ids.AgentOwner(owner), kind)
			return []wasmer.Value{wasmer.NewI64(bal)}, nil
		},
	)

	// host_emit_event(kindPtr,kindLen,payloadPtr,payloadLen)
	hostEmitEvent := wasmer.NewFunction(store,
		wasmer.NewFunctionType(
			wasmer.NewValueTypes(wasmer.I32, wasmer.I32, wasmer.I32, wasmer.I32),
			wasmer.NewValueTypes(),
		),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			kPtr, kLen, pPtr, pLen := args[0].I32(), args[1].I32(), args[2].I32(), args[3].I32()
			kind := string(read(kPtr, kLen))
			payload := string(read(pPtr, pLen))
			if h.Sink != nil {
				h.Sink.Emit(kind, map[string]string{"instance_id": string(h.InstanceID), "payload": payload})
			}
			return nil, nil
		},
	)

	imports.Register("env", map[string]wasmer.IntoExtern{
		"host_consume_gas":   hostConsumeGas,
		"host_seeded_random": hostSeededRandom,
		"host_read_balance":  hostReadBalance,
		"host_emit_event":    hostEmitEvent,
	})
	return imports
}

// deterministicRandom mirrors the kernel's hash(world_seed || tick ||
// purpose_tag) policy so a hook's randomness is reproducible across
// platforms without consulting host time (§4.2, §4.3).
func deterministicRandom(worldSeed []byte, tick uint64, purpose string) []byte {
	hsh := sha256.New()
	hsh.Write(worldSeed)
	var tb [8]byte
	binary.BigEndian.PutUint64(tb[:], tick)
	hsh.Write(tb[:])
	hsh.Write([]byte(purpose))
	return hsh.Sum(nil)
}
