package distfs

import (
	"fmt"
	"sort"
	"strings"

	"agentworld/internal/ids"
	"agentworld/internal/worldutil"
)

// CanonicalPlatformsEnv names the comma-separated environment variable
// CanonicalPlatforms reads its supported <os>-<arch> tuples from (§6).
const CanonicalPlatformsEnv = "AGENT_WORLD_WASM_CANONICAL_PLATFORMS"

// DefaultCanonicalPlatforms is used when neither a configured list nor the
// environment variable names any platform.
var DefaultCanonicalPlatforms = []string{"darwin-arm64", "linux-x86_64"}

// IdentityManifest binds a module_id to a per-platform hash, so the same
// logical module can carry distinct, independently reproducible WASM
// builds per target (§9 "multi-platform WASM hash divergence").
type IdentityManifest struct {
	ModuleID  ids.ModuleId
	Platforms map[string]ids.ArtifactHash
}

// CanonicalPlatforms loads and validates the platform set this node
// requires artifacts to cover: the trimmed, non-blank configured entries,
// sorted; when configured is empty, the entries of CanonicalPlatformsEnv;
// when that is unset or blank too, DefaultCanonicalPlatforms. It fails
// hard on an entry that is not an <os>-<arch> tuple (no '-'); entries
// outside DefaultCanonicalPlatforms are accepted.
func CanonicalPlatforms(configured []string) ([]string, error) {
	if len(configured) == 0 {
		configured = worldutil.EnvCSV(CanonicalPlatformsEnv, nil)
	}
	if len(configured) == 0 {
		return append([]string(nil), DefaultCanonicalPlatforms...), nil
	}
	allowed := make(map[string]bool, len(DefaultCanonicalPlatforms))
	for _, p := range DefaultCanonicalPlatforms {
		allowed[p] = true
	}
	out := make([]string, 0, len(configured))
	for _, p := range configured {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if !strings.Contains(p, "-") {
			return nil, fmt.Errorf("distfs: malformed platform tuple %q", p)
		}
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}

// HydrateFromManifest ensures a blob exists locally for every platform
// the manifest declares within the canonical platform set, compiling (via
// compile) or replicating (via peer) on a miss (§4.1).
func (s *Store) HydrateFromManifest(manifest IdentityManifest, canonical []string, compile func(platform string) ([]byte, error), peer Peer) error {
	canonicalSet := make(map[string]bool, len(canonical))
	for _, p := range canonical {
		canonicalSet[p] = true
	}
	for platform, hash := range manifest.Platforms {
		if !canonicalSet[platform] {
			return fmt.Errorf("distfs: platform %q for module %s is not in the canonical set", platform, manifest.ModuleID)
		}
		if s.Exists(hash) {
			continue
		}
		if compile != nil {
			b, err := compile(platform)
			if err == nil && ids.HashBytes(b) == hash {
				if _, err := s.Put(b); err != nil {
					return worldutil.Wrapf(err, "distfs: hydrate put %s/%s", manifest.ModuleID, platform)
				}
				continue
			}
		}
		if peer == nil {
			return fmt.Errorf("distfs: cannot hydrate %s/%s: no compiler result and no peer", manifest.ModuleID, platform)
		}
		if err := s.Replicate(hash, peer); err != nil {
			return worldutil.Wrapf(err, "distfs: hydrate replicate %s/%s", manifest.ModuleID, platform)
		}
	}
	return nil
}
