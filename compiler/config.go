package compiler

import (
	"fmt"
	"runtime"
)

// FloatEquality selects how `==` treats floating-point operands that are
// not both statically primitive.
type FloatEquality int

const (
	// FloatEqualityLegacy compares boxed floating values with equals():
	// NaN equals NaN and -0.0 differs from 0.0.
	FloatEqualityLegacy FloatEquality = iota
	// FloatEqualityIEEE754 compares numerically whenever both operands
	// are statically floating, nullable or not.
	FloatEqualityIEEE754
)

func (f FloatEquality) String() string {
	switch f {
	case FloatEqualityLegacy:
		return "legacy"
	case FloatEqualityIEEE754:
		return "ieee754"
	}
	return fmt.Sprintf("float-equality(%d)", int(f))
}

// ParseFloatEquality parses "legacy" or "ieee754".
func ParseFloatEquality(s string) (FloatEquality, error) {
	switch s {
	case "legacy":
		return FloatEqualityLegacy, nil
	case "ieee754":
		return FloatEqualityIEEE754, nil
	}
	return 0, fmt.Errorf("unknown float equality %q", s)
}

// Config controls code generation.
type Config struct {
	FloatEquality FloatEquality
	Inline        bool // inlining enabled; non-local returns need it
	SwitchTables  bool // compile eligible whens to tableswitch/lookupswitch
	LineNumbers   bool
	Parallelism   int // concurrent function translations; 0 means GOMAXPROCS

	Closures ClosureGenerator
	Inliner  Inliner
}

// DefaultConfig returns the configuration used when no language version
// is given. Floating equality defaults to the legacy equals() semantics.
func DefaultConfig() Config {
	return Config{
		FloatEquality: FloatEqualityLegacy,
		Inline:        true,
		SwitchTables:  true,
		LineNumbers:   true,
	}
}

func (c Config) parallelism() int {
	if c.Parallelism > 0 {
		return c.Parallelism
	}
	return runtime.GOMAXPROCS(0)
}
