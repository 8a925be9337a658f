package manifest

import "testing"

func TestToPascalCase(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"models", "Models"},
		{"my-app", "MyApp"},
		{"my_app", "MyApp"},
		{"myApp", "MyApp"},
		{"UPPER", "Upper"},
		{"a", "A"},
		{"", ""},
		{"string.utils", "StringUtils"},
		{"_leading", "Leading"},
	}

	for _, tc := range tests {
		got := ToPascalCase(tc.input)
		if got != tc.want {
			t.Errorf("ToPascalCase(%q) = %q, want %q", tc.input, got, tc.want)
		}
	}
}

func TestFacadeName(t *testing.T) {
	tests := []struct {
		pkg, file string
		want      string
	}{
		{"demo", "main.kt", "demo/MainKt"},
		{"demo.app", "src/main-loop.kt", "demo/app/MainLoopKt"},
		{"", "util.kt", "UtilKt"},
		{"x", "Strings.kt", "x/StringsKt"},
	}

	for _, tc := range tests {
		got := FacadeName(tc.pkg, tc.file)
		if got != tc.want {
			t.Errorf("FacadeName(%q, %q) = %q, want %q", tc.pkg, tc.file, got, tc.want)
		}
	}
}

func TestIsReservedPackage(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"kotlin", true},
		{"kotlin.jvm.internal", true},
		{"java.lang", true},
		{"demo", false},
		{"demo.kotlin", false},
		{"kotlinx", false},
	}

	for _, tc := range tests {
		got := IsReservedPackage(tc.name)
		if got != tc.want {
			t.Errorf("IsReservedPackage(%q) = %v, want %v", tc.name, got, tc.want)
		}
	}
}
