package sandbox

import (
	"testing"

	"agentworld/internal/ids"
)

type fakeCodeResolver struct{ byHash map[string][]byte }

var errCodeNotFound = &Error{Kind: ErrTrap, Detail: "fake resolver: hash not found"}

func (f *fakeCodeResolver) Get(hashHex string) ([]byte, error) {
	b, ok := f.byHash[hashHex]
	if !ok {
		return nil, errCodeNotFound
	}
	return b, nil
}

func TestRouteHookInvokesSubscribedInstanceAndSkipsUnsubscribed(t *testing.T) {
	wasm := compileWat(t, logModuleWat)
	hash := ids.HashBytes(wasm)

	resolver := &fakeCodeResolver{byHash: map[string][]byte{hash.String(): wasm}}
	registry := NewRegistry(NewExecutor(), resolver)

	subscribed := InstanceMeta{
		InstanceID:    "I1",
		InstallTarget: ids.AgentOwner("A1"),
		WasmHash:      hash,
		Subscriptions: []SubscriptionMeta{{Stage: StagePreAction}},
	}
	unsubscribed := InstanceMeta{
		InstanceID:    "I2",
		InstallTarget: ids.AgentOwner("A2"),
		WasmHash:      hash,
		Subscriptions: []SubscriptionMeta{{Stage: StageOnTick}},
	}

	sink := &fakeSink{}
	var errs []error
	registry.RouteHook(
		[]InstanceMeta{unsubscribed, subscribed},
		StagePreAction,
		"CreateAgent",
		func(inst InstanceMeta) *HostContext {
			return &HostContext{Sink: sink, Seed: []byte("seed"), InstanceID: inst.InstanceID, Quota: DefaultQuota}
		},
		func(inst InstanceMeta, err error) { errs = append(errs, err) },
	)

	if len(errs) != 0 {
		t.Fatalf("expected no hook errors, got %v", errs)
	}
	if len(sink.events) != 1 {
		t.Fatalf("expected exactly one event from the subscribed instance, got %d", len(sink.events))
	}
}

func TestRouteHookReportsMissingCodeViaOnError(t *testing.T) {
	registry := NewRegistry(NewExecutor(), &fakeCodeResolver{byHash: map[string][]byte{}})

	inst := InstanceMeta{
		InstanceID:    "I1",
		InstallTarget: ids.AgentOwner("A1"),
		WasmHash:      ids.HashBytes([]byte("never stored")),
		Subscriptions: []SubscriptionMeta{{Stage: StageOnTick}},
	}

	var failed InstanceMeta
	var failErr error
	registry.RouteHook(
		[]InstanceMeta{inst},
		StageOnTick,
		"",
		func(InstanceMeta) *HostContext { return &HostContext{Quota: DefaultQuota} },
		func(i InstanceMeta, err error) { failed, failErr = i, err },
	)

	if failErr == nil {
		t.Fatalf("expected onError to be called for code resolution failure")
	}
	if failed.InstanceID != "I1" {
		t.Fatalf("unexpected instance in onError callback: %+v", failed)
	}
}
