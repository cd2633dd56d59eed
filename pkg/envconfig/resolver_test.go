package envconfig

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

const testConfig = `
[[scope]]
path = "tests/e2e/admin"
bootstrap = ["bootstrap/admin.toml", "bootstrap/base.toml"]
[scope.env]
APP_ROLE = "admin"
[scope.params.db]
dsn = "file:admin.db"

[[scope]]
path = "tests"
bootstrap = ["bootstrap/base.toml"]
[scope.env]
APP_ENV = "test"
APP_ROLE = "user"
[scope.params]
locale = "en"
[scope.params.db]
driver = "sqlite"
dsn = "file:e2e.db"

[[scope]]
path = "tests/**/reports"
[scope.env]
APP_DEBUG = "1"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	file := filepath.Join(dir, "e2e.toml")
	if err := os.WriteFile(file, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return file
}

func TestResolver_MergeGeneralToSpecific(t *testing.T) {
	file := writeConfig(t, testConfig)
	r := NewResolver(file)

	cfg, err := r.Resolve("tests/e2e/admin/LoginTest")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if want := []string{"tests", "tests/e2e/admin"}; !reflect.DeepEqual(cfg.Scopes, want) {
		t.Errorf("Scopes = %v, want %v", cfg.Scopes, want)
	}
	wantEnv := map[string]string{"APP_ENV": "test", "APP_ROLE": "admin"}
	if !reflect.DeepEqual(cfg.Env, wantEnv) {
		t.Errorf("Env = %v, want %v", cfg.Env, wantEnv)
	}
	if got := cfg.String("db.driver"); got != "sqlite" {
		t.Errorf("db.driver = %q", got)
	}
	if got := cfg.String("db.dsn"); got != "file:admin.db" {
		t.Errorf("db.dsn = %q", got)
	}
	if got := cfg.String("locale"); got != "en" {
		t.Errorf("locale = %q", got)
	}

	dir := filepath.Dir(file)
	wantBoot := []string{
		filepath.Join(dir, "bootstrap/base.toml"),
		filepath.Join(dir, "bootstrap/admin.toml"),
	}
	if !reflect.DeepEqual(cfg.Bootstrap, wantBoot) {
		t.Errorf("Bootstrap = %v, want %v", cfg.Bootstrap, wantBoot)
	}
}

func TestResolver_Glob(t *testing.T) {
	r := NewResolver(writeConfig(t, testConfig))

	cfg, err := r.Resolve("tests/e2e/reports/ExportTest")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Env["APP_DEBUG"] != "1" {
		t.Errorf("glob scope not applied: %v", cfg.Env)
	}

	cfg, err = r.Resolve("tests/e2e/admin/LoginTest")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := cfg.Env["APP_DEBUG"]; ok {
		t.Error("glob scope applied to unrelated class")
	}
}

func TestResolver_NoMatch(t *testing.T) {
	r := NewResolver(writeConfig(t, testConfig))
	cfg, err := r.Resolve("integration/FooTest")
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Scopes) != 0 || len(cfg.Env) != 0 || len(cfg.Bootstrap) != 0 {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestResolver_PrefixIsSegmentAware(t *testing.T) {
	r := NewStaticResolver([]Scope{{Path: "tests/e2e", Env: map[string]string{"A": "1"}}}, "")
	cfg, err := r.Resolve("tests/e2e-legacy/FooTest")
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Env) != 0 {
		t.Errorf("prefix matched across segment: %v", cfg.Env)
	}
}

func TestResolver_ReturnsCopies(t *testing.T) {
	r := NewStaticResolver([]Scope{{
		Path:   ".",
		Env:    map[string]string{"A": "1"},
		Params: map[string]any{"db": map[string]any{"driver": "sqlite"}},
	}}, "")

	cfg, _ := r.Resolve("x/Test")
	cfg.Env["A"] = "changed"
	cfg.Params["db"].(map[string]any)["driver"] = "changed"

	again, _ := r.Resolve("x/Test")
	if again.Env["A"] != "1" || again.String("db.driver") != "sqlite" {
		t.Errorf("cache mutated: %+v", again)
	}
}

func TestResolver_Invalidate(t *testing.T) {
	file := writeConfig(t, "[[scope]]\npath = \"tests\"\n[scope.env]\nV = \"1\"\n")
	r := NewResolver(file)

	cfg, _ := r.Resolve("tests/A")
	if cfg.Env["V"] != "1" {
		t.Fatalf("V = %q", cfg.Env["V"])
	}

	if err := os.WriteFile(file, []byte("[[scope]]\npath = \"tests\"\n[scope.env]\nV = \"2\"\n"), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, _ = r.Resolve("tests/A")
	if cfg.Env["V"] != "1" {
		t.Errorf("cached value changed before Invalidate: %q", cfg.Env["V"])
	}

	r.Invalidate()
	cfg, _ = r.Resolve("tests/A")
	if cfg.Env["V"] != "2" {
		t.Errorf("V after Invalidate = %q, want 2", cfg.Env["V"])
	}
}

func TestResolver_Errors(t *testing.T) {
	if _, err := NewResolver(filepath.Join(t.TempDir(), "missing.toml")).Resolve("a"); err == nil {
		t.Error("missing file: expected error")
	}
	if _, err := NewResolver(writeConfig(t, "[[scope]\n")).Resolve("a"); err == nil {
		t.Error("bad toml: expected error")
	}
	_, err := NewResolver(writeConfig(t, "[[scope]]\npath = \"tests/[a\"\n")).Resolve("a")
	if !errors.Is(err, ErrInvalidScope) {
		t.Errorf("bad pattern: err = %v, want ErrInvalidScope", err)
	}
}

func TestMergeParams(t *testing.T) {
	dst := map[string]any{
		"db":    map[string]any{"driver": "sqlite", "dsn": "a"},
		"debug": true,
	}
	MergeParams(dst, map[string]any{
		"db":    map[string]any{"dsn": "b"},
		"debug": false,
		"new":   1,
	})

	want := map[string]any{
		"db":    map[string]any{"driver": "sqlite", "dsn": "b"},
		"debug": false,
		"new":   1,
	}
	if !reflect.DeepEqual(dst, want) {
		t.Errorf("dst = %v, want %v", dst, want)
	}
}

func TestConfig_Param(t *testing.T) {
	cfg := Config{Params: map[string]any{"db": map[string]any{"port": int64(5432)}}}
	if v, ok := cfg.Param("db.port"); !ok || v != int64(5432) {
		t.Errorf("db.port = %v, %v", v, ok)
	}
	if _, ok := cfg.Param("db.port.x"); ok {
		t.Error("descended into scalar")
	}
	if cfg.String("db.port") != "" {
		t.Error("String of non-string value")
	}
}
