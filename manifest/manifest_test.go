package manifest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chazu/kiln/compiler"
)

func writeManifest(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[project]
name = "demo"
package = "demo.app"
version = "0.1.0"

[compiler]
language-version = "1.4"
inline = false
switch-tables = false
parallelism = 3

[image]
output = "out/demo.kimg"

[cache]
path = "/var/cache/kiln.db"
`)

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if m.Project.Name != "demo" {
		t.Errorf("project name = %q, want demo", m.Project.Name)
	}
	if m.Project.Package != "demo.app" {
		t.Errorf("project package = %q, want demo.app", m.Project.Package)
	}
	if m.Project.Version != "0.1.0" {
		t.Errorf("project version = %q, want 0.1.0", m.Project.Version)
	}
	if got, want := m.ImagePath(), filepath.Join(m.Dir, "out", "demo.kimg"); got != want {
		t.Errorf("image path = %q, want %q", got, want)
	}
	if m.CachePath() != "/var/cache/kiln.db" {
		t.Errorf("cache path = %q, want /var/cache/kiln.db", m.CachePath())
	}

	cfg, err := m.CompilerConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.FloatEquality != compiler.FloatEqualityIEEE754 {
		t.Errorf("float equality = %v, want ieee754", cfg.FloatEquality)
	}
	if cfg.Inline || cfg.SwitchTables {
		t.Errorf("inline = %v, switch-tables = %v, want both false", cfg.Inline, cfg.SwitchTables)
	}
	if !cfg.LineNumbers {
		t.Error("line-numbers = false, want the default true")
	}
	if cfg.Parallelism != 3 {
		t.Errorf("parallelism = %d, want 3", cfg.Parallelism)
	}
}

func TestLoadManifestDefaults(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[project]
name = "minimal"
`)

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if got, want := m.CachePath(), filepath.Join(m.Dir, ".kiln", "cache.db"); got != want {
		t.Errorf("default cache path = %q, want %q", got, want)
	}
	if m.Image.Output != "minimal.kimg" {
		t.Errorf("default image output = %q, want minimal.kimg", m.Image.Output)
	}
	cfg, err := m.CompilerConfig()
	if err != nil {
		t.Fatal(err)
	}
	def := compiler.DefaultConfig()
	if cfg.FloatEquality != def.FloatEquality || cfg.Inline != def.Inline ||
		cfg.SwitchTables != def.SwitchTables || cfg.LineNumbers != def.LineNumbers {
		t.Errorf("config = %+v, want defaults %+v", cfg, def)
	}
}

func TestFloatEqualitySelection(t *testing.T) {
	tests := []struct {
		version, override string
		want              compiler.FloatEquality
	}{
		{"", "", compiler.FloatEqualityLegacy},
		{"", "ieee754", compiler.FloatEqualityIEEE754},
		{"1.3", "", compiler.FloatEqualityLegacy},
		{"1.3.72", "", compiler.FloatEqualityLegacy},
		{"1.4", "", compiler.FloatEqualityIEEE754},
		{"1.10", "", compiler.FloatEqualityIEEE754},
		{"2.0", "", compiler.FloatEqualityIEEE754},
		{"1.3", "ieee754", compiler.FloatEqualityIEEE754},
		{"1.9", "legacy", compiler.FloatEqualityLegacy},
	}

	for _, tc := range tests {
		m := &Manifest{Compiler: CompilerConfig{LanguageVersion: tc.version, FloatEquality: tc.override}}
		cfg, err := m.CompilerConfig()
		if err != nil {
			t.Errorf("%q/%q: %v", tc.version, tc.override, err)
			continue
		}
		if cfg.FloatEquality != tc.want {
			t.Errorf("%q/%q: float equality = %v, want %v", tc.version, tc.override, cfg.FloatEquality, tc.want)
		}
	}
}

func TestLoadManifestErrors(t *testing.T) {
	tests := []struct {
		name, content, want string
	}{
		{"bad version", "[compiler]\nlanguage-version = \"one\"\n", "not major.minor"},
		{"bad float equality", "[compiler]\nfloat-equality = \"fuzzy\"\n", "fuzzy"},
		{"negative parallelism", "[compiler]\nparallelism = -1\n", "negative"},
		{"reserved package", "[project]\npackage = \"kotlin.collections\"\n", "reserved"},
		{"syntax", "[project\n", "parse error"},
	}

	for _, tc := range tests {
		dir := t.TempDir()
		writeManifest(t, dir, tc.content)
		_, err := Load(dir)
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Errorf("%s: err = %v, want mention of %q", tc.name, err, tc.want)
		}
	}
}

func TestFindAndLoad(t *testing.T) {
	// Create nested directory structure
	dir := t.TempDir()
	subDir := filepath.Join(dir, "a", "b", "c")
	if err := os.MkdirAll(subDir, 0755); err != nil {
		t.Fatal(err)
	}
	writeManifest(t, dir, `[project]
name = "found-project"
`)

	// Should find manifest when starting from a deep subdirectory
	m, err := FindAndLoad(subDir)
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	if m == nil {
		t.Fatal("FindAndLoad returned nil")
	}
	if m.Project.Name != "found-project" {
		t.Errorf("project name = %q, want found-project", m.Project.Name)
	}
}

func TestFindAndLoadNotFound(t *testing.T) {
	dir := t.TempDir()
	m, err := FindAndLoad(dir)
	if err != nil {
		t.Fatalf("FindAndLoad error: %v", err)
	}
	if m != nil {
		t.Error("expected nil manifest when no kiln.toml exists")
	}
}
