package sandbox

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// WatCompiler implements kernel.ModuleCompiler by shelling out to the
// wat2wasm toolchain, adapted from the teacher's offline CompileWASM
// helper (core/contracts.go) to a multi-file source map instead of a
// single source path.
type WatCompiler struct {
	WorkDir string
}

// ModuleManifest is the package-level declaration a module source bundle
// carries (module.yaml / m.yaml), naming the entrypoint source relative
// to the bundle root. Module packaging formats vary across the examples
// this was grounded on; this one follows the teacher's own manifest-like
// structs (core/contracts.go's ContractMeta) in spirit but is scoped to
// what compilation actually needs.
type ModuleManifest struct {
	ModuleID string `yaml:"module_id"`
	Version  string `yaml:"version"`
	Entry    string `yaml:"entry"`
}

// Compile writes sourceFiles under a scratch directory. If manifestPath
// names a YAML manifest (module.yaml, m.yaml, ...), it is parsed and its
// entry field is compiled instead; otherwise manifestPath itself is
// compiled directly, for callers that skip manifest packaging entirely.
func (c WatCompiler) Compile(manifestPath string, sourceFiles map[string]string) ([]byte, error) {
	if manifestPath == "" {
		return nil, errors.New("sandbox: manifest_path required")
	}
	workDir := c.WorkDir
	if workDir == "" {
		var err error
		workDir, err = os.MkdirTemp("", "agentworld-compile")
		if err != nil {
			return nil, err
		}
		defer os.RemoveAll(workDir)
	}
	for name, content := range sourceFiles {
		p := filepath.Join(workDir, name)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return nil, err
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			return nil, err
		}
	}

	entryPath := manifestPath
	switch filepath.Ext(manifestPath) {
	case ".yaml", ".yml":
		raw, ok := sourceFiles[manifestPath]
		if !ok {
			return nil, errors.New("sandbox: manifest " + manifestPath + " not present in source_files")
		}
		var manifest ModuleManifest
		if err := yaml.Unmarshal([]byte(raw), &manifest); err != nil {
			return nil, errors.New("sandbox: parse manifest: " + err.Error())
		}
		if manifest.Entry == "" {
			return nil, errors.New("sandbox: manifest " + manifestPath + " missing entry")
		}
		entryPath = manifest.Entry
	}

	src := filepath.Join(workDir, entryPath)
	switch filepath.Ext(src) {
	case ".wasm":
		return os.ReadFile(src)
	case ".wat":
		out := src + ".compiled.wasm"
		cmd := exec.Command("wat2wasm", "-o", out, src)
		if err := cmd.Run(); err != nil {
			return nil, err
		}
		return os.ReadFile(out)
	default:
		return nil, errors.New("sandbox: manifest entry must reference a .wat or .wasm source")
	}
}
