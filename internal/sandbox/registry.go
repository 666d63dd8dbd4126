package sandbox

import "sort"

// CodeResolver fetches the WASM bytes for a hash, typically backed by
// the DistFS store.
type CodeResolver interface {
	Get(hashHex string) ([]byte, error)
}

// Registry routes a stage/filter match across installed instances and
// invokes them in the deterministic order required by §4.3.
type Registry struct {
	executor *Executor
	code     CodeResolver
}

func NewRegistry(executor *Executor, code CodeResolver) *Registry {
	return &Registry{executor: executor, code: code}
}

// RouteHook invokes stage on every instance in instances whose
// subscriptions match (stage, filterTag), in
// (install_target_id, instance_id) order (§4.3 step 2). A trap or quota
// violation in one instance is recorded via onError and does not stop
// routing to the remaining instances.
func (r *Registry) RouteHook(instances []InstanceMeta, stage Stage, filterTag string, hctxFor func(InstanceMeta) *HostContext, onError func(InstanceMeta, error)) {
	matched := make([]InstanceMeta, 0, len(instances))
	for _, inst := range instances {
		if subscribed(inst, stage, filterTag) {
			matched = append(matched, inst)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		ti, tj := matched[i].InstallTarget.String(), matched[j].InstallTarget.String()
		if ti != tj {
			return ti < tj
		}
		return matched[i].InstanceID < matched[j].InstanceID
	})

	for _, inst := range matched {
		code, err := r.code.Get(inst.WasmHash.String())
		if err != nil {
			if onError != nil {
				onError(inst, &Error{Kind: ErrTrap, Detail: "code unavailable: " + err.Error()})
			}
			continue
		}
		hctx := hctxFor(inst)
		if err := r.executor.Invoke(code, inst.WasmHash.String(), stage, hctx); err != nil {
			if onError != nil {
				onError(inst, err)
			}
		}
	}
}

func subscribed(inst InstanceMeta, stage Stage, filterTag string) bool {
	for _, sub := range inst.Subscriptions {
		if sub.Stage != stage {
			continue
		}
		if sub.Filter == "" || sub.Filter == filterTag {
			return true
		}
	}
	return false
}
