package sandbox

import (
	"errors"
	"os/exec"
	"testing"
)

const minimalWat = `(module (memory (export "memory") 1))`

func TestCompileResolvesEntryFromYAMLManifest(t *testing.T) {
	compiler := WatCompiler{WorkDir: t.TempDir()}
	sources := map[string]string{
		"module.yaml": "module_id: m1.rule.move\nversion: 1.0.0\nentry: src/main.wat\n",
		"src/main.wat": minimalWat,
	}
	wasm, err := compiler.Compile("module.yaml", sources)
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			t.Skip("wat2wasm not installed")
		}
		t.Fatalf("compile: %v", err)
	}
	if len(wasm) == 0 {
		t.Fatalf("expected non-empty compiled bytes")
	}
}

func TestCompileRejectsManifestWithoutEntry(t *testing.T) {
	compiler := WatCompiler{WorkDir: t.TempDir()}
	sources := map[string]string{"module.yaml": "module_id: m1.rule.move\nversion: 1.0.0\n"}
	if _, err := compiler.Compile("module.yaml", sources); err == nil {
		t.Fatalf("expected an error for a manifest missing entry")
	}
}

func TestCompileRejectsManifestNotInSourceFiles(t *testing.T) {
	compiler := WatCompiler{WorkDir: t.TempDir()}
	if _, err := compiler.Compile("module.yaml", map[string]string{}); err == nil {
		t.Fatalf("expected an error for a missing manifest file")
	}
}
