package manifest

import (
	"path/filepath"
	"strings"
)

// ToPascalCase converts a string to PascalCase.
// "my-app" -> "MyApp", "models" -> "Models", "myApp" -> "MyApp"
func ToPascalCase(s string) string {
	var words []string
	current := ""
	for i, r := range s {
		if r == '-' || r == '_' || r == '.' {
			if current != "" {
				words = append(words, current)
				current = ""
			}
			continue
		}
		if i > 0 && r >= 'A' && r <= 'Z' {
			prev := rune(s[i-1])
			if prev >= 'a' && prev <= 'z' {
				words = append(words, current)
				current = ""
			}
		}
		current += string(r)
	}
	if current != "" {
		words = append(words, current)
	}

	var result string
	for _, w := range words {
		if w == "" {
			continue
		}
		result += strings.ToUpper(w[:1]) + strings.ToLower(w[1:])
	}
	return result
}

// FacadeName returns the internal name of the class holding the top-level
// declarations of a source file: "demo.app" + "main-loop.kt" ->
// "demo/app/MainLoopKt".
func FacadeName(pkg, file string) string {
	base := strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
	name := ToPascalCase(base) + "Kt"
	if pkg == "" {
		return name
	}
	return strings.ReplaceAll(pkg, ".", "/") + "/" + name
}

// reservedPackages lists root packages owned by the platform runtime.
var reservedPackages = map[string]bool{
	"java":   true,
	"javax":  true,
	"kotlin": true,
	"jdk":    true,
	"sun":    true,
}

// IsReservedPackage reports whether a project may not declare code in
// package name. Only the root segment is checked: "demo.kotlin" is fine
// because the root is "demo".
func IsReservedPackage(name string) bool {
	root := name
	if idx := strings.IndexByte(name, '.'); idx >= 0 {
		root = name[:idx]
	}
	return reservedPackages[root]
}
