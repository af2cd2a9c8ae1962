package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/snowyegret23/EditDllString/internal/model"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigFrom_FullFile(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
[paths]
target = "Assembly-CSharp.dll"
sheet = "strings.xlsx"
search_dir = "Managed"
backup = "Assembly-CSharp.dll.bak"

[filter]
cjk_only = true

[log]
verbose = true
progress = false
`)
	cfg, err := LoadConfigFrom(path)
	if err != nil {
		t.Fatalf("LoadConfigFrom: %v", err)
	}

	base := filepath.Dir(path)
	if cfg.Paths.Target != filepath.Join(base, "Assembly-CSharp.dll") {
		t.Fatalf("relative target should resolve against config dir, got %s", cfg.Paths.Target)
	}
	if cfg.Paths.SearchDir != filepath.Join(base, "Managed") {
		t.Fatalf("search_dir not resolved: %s", cfg.Paths.SearchDir)
	}
	if !cfg.Filter.CJKOnly {
		t.Fatalf("cjk_only not read")
	}
	if !cfg.Log.Verbose || cfg.Log.Progress {
		t.Fatalf("log section not read: %+v", cfg.Log)
	}
	if cfg.Paths.Output != "" {
		t.Fatalf("output should stay empty, got %s", cfg.Paths.Output)
	}
}

func TestLoadConfigFrom_DefaultsApply(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
[paths]
target = "/abs/game.exe"
sheet = "/abs/out.csv"
`)
	cfg, err := LoadConfigFrom(path)
	if err != nil {
		t.Fatalf("LoadConfigFrom: %v", err)
	}
	if cfg.Paths.Target != "/abs/game.exe" {
		t.Fatalf("absolute path must stay untouched, got %s", cfg.Paths.Target)
	}
	if cfg.Filter.CJKOnly {
		t.Fatalf("cjk_only default want=false")
	}
	if cfg.Log.Verbose {
		t.Fatalf("verbose default want=false")
	}
	if !cfg.Log.Progress {
		t.Fatalf("progress default want=true")
	}
}

func TestLoadConfigFrom_Missing(t *testing.T) {
	t.Parallel()

	_, err := LoadConfigFrom(filepath.Join(t.TempDir(), "config.toml"))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound got %v", err)
	}
}

func TestLoadConfigFrom_BadToml(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "[paths\ntarget=")
	if _, err := LoadConfigFrom(path); err == nil {
		t.Fatalf("broken toml should fail")
	}
}

func TestValidateFor(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	if err := cfg.ValidateFor(model.ModeExport); err == nil {
		t.Fatalf("empty target should fail")
	}

	cfg.Paths.Target = "/g/a.dll"
	if err := cfg.ValidateFor(model.ModeExport); err == nil {
		t.Fatalf("empty sheet should fail")
	}

	cfg.Paths.Sheet = "/g/s.csv"
	if err := cfg.ValidateFor(model.ModeExport); err != nil {
		t.Fatalf("export config should pass: %v", err)
	}

	// 原地导入必须有备份路径。
	if err := cfg.ValidateFor(model.ModeImport); err == nil {
		t.Fatalf("in-place import without backup should fail")
	}
	cfg.Paths.Backup = "/g/a.dll.bak"
	if err := cfg.ValidateFor(model.ModeImport); err != nil {
		t.Fatalf("import with backup should pass: %v", err)
	}

	// 指定了输出路径就不再要求备份。
	cfg.Paths.Backup = ""
	cfg.Paths.Output = "/g/out.dll"
	if err := cfg.ValidateFor(model.ModeImport); err != nil {
		t.Fatalf("import with output should pass: %v", err)
	}
}
