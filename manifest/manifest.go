// Package manifest handles kiln.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/chazu/kiln/compiler"
)

// FileName is the manifest looked for in a project directory.
const FileName = "kiln.toml"

// ieeeSince is the first language version whose `==` on floating-point
// operands follows IEEE 754.
var ieeeSince = [2]int{1, 4}

// Manifest represents a kiln.toml project configuration.
type Manifest struct {
	Project  Project        `toml:"project"`
	Compiler CompilerConfig `toml:"compiler"`
	Image    ImageConfig    `toml:"image"`
	Cache    CacheConfig    `toml:"cache"`

	// Dir is the directory containing the kiln.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name    string `toml:"name"`
	Package string `toml:"package"`
	Version string `toml:"version"`
}

// CompilerConfig holds code generation settings. Unset booleans take the
// compiler defaults.
type CompilerConfig struct {
	LanguageVersion string `toml:"language-version"`
	FloatEquality   string `toml:"float-equality"`
	Inline          *bool  `toml:"inline"`
	SwitchTables    *bool  `toml:"switch-tables"`
	LineNumbers     *bool  `toml:"line-numbers"`
	Parallelism     int    `toml:"parallelism"`
}

// ImageConfig configures image output.
type ImageConfig struct {
	Output string `toml:"output"`
}

// CacheConfig configures the unit cache.
type CacheConfig struct {
	Path     string `toml:"path"`
	Disabled bool   `toml:"disabled"`
}

// Load parses a kiln.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	// Defaults
	if m.Cache.Path == "" {
		m.Cache.Path = filepath.Join(".kiln", "cache.db")
	}
	if m.Image.Output == "" && m.Project.Name != "" {
		m.Image.Output = m.Project.Name + ".kimg"
	}

	if _, err := m.CompilerConfig(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if m.Project.Package != "" && IsReservedPackage(m.Project.Package) {
		return nil, fmt.Errorf("%s: package %q is reserved", path, m.Project.Package)
	}
	return &m, nil
}

// FindAndLoad walks up from startDir to find a kiln.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// CompilerConfig maps the [compiler] table onto compiler.Config.
func (m *Manifest) CompilerConfig() (compiler.Config, error) {
	cfg := compiler.DefaultConfig()
	c := m.Compiler

	if c.LanguageVersion != "" {
		v, err := parseVersion(c.LanguageVersion)
		if err != nil {
			return cfg, err
		}
		cfg.FloatEquality = compiler.FloatEqualityLegacy
		if v[0] > ieeeSince[0] || (v[0] == ieeeSince[0] && v[1] >= ieeeSince[1]) {
			cfg.FloatEquality = compiler.FloatEqualityIEEE754
		}
	}
	if c.FloatEquality != "" {
		fe, err := compiler.ParseFloatEquality(c.FloatEquality)
		if err != nil {
			return cfg, err
		}
		cfg.FloatEquality = fe
	}
	if c.Inline != nil {
		cfg.Inline = *c.Inline
	}
	if c.SwitchTables != nil {
		cfg.SwitchTables = *c.SwitchTables
	}
	if c.LineNumbers != nil {
		cfg.LineNumbers = *c.LineNumbers
	}
	if c.Parallelism < 0 {
		return cfg, fmt.Errorf("parallelism %d is negative", c.Parallelism)
	}
	cfg.Parallelism = c.Parallelism
	return cfg, nil
}

// CachePath returns the absolute path of the unit cache.
func (m *Manifest) CachePath() string {
	return m.resolve(m.Cache.Path)
}

// ImagePath returns the absolute path images are written to.
func (m *Manifest) ImagePath() string {
	return m.resolve(m.Image.Output)
}

func (m *Manifest) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(m.Dir, p)
}

// parseVersion reads "major.minor", ignoring any patch component.
func parseVersion(s string) ([2]int, error) {
	parts := strings.Split(s, ".")
	if len(parts) < 2 {
		return [2]int{}, fmt.Errorf("language version %q is not major.minor", s)
	}
	var v [2]int
	for i := 0; i < 2; i++ {
		n, err := strconv.Atoi(parts[i])
		if err != nil || n < 0 {
			return [2]int{}, fmt.Errorf("language version %q is not major.minor", s)
		}
		v[i] = n
	}
	return v, nil
}
