package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chazu/kiln/manifest"
	"github.com/chazu/kiln/store"
)

func newCLI(t *testing.T) (*cli, *bytes.Buffer, string) {
	t.Helper()
	dir := t.TempDir()
	var out bytes.Buffer
	return &cli{out: &out, cachePath: filepath.Join(dir, "cache.db")}, &out, dir
}

func buildDemo(t *testing.T, c *cli, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "demo.kimg")
	if err := c.dispatch(context.Background(), []string{"demo", path}); err != nil {
		t.Fatalf("demo: %v", err)
	}
	return path
}

func TestDemoRun(t *testing.T) {
	c, out, dir := newCLI(t)
	img := buildDemo(t, c, dir)

	tests := []struct {
		method, desc string
		args         []string
		want         string
	}{
		{"fib", "(I)I", []string{"10"}, "55"},
		{"grade", "(I)I", []string{"95"}, "4"},
		{"grade", "(I)I", []string{"72"}, "2"},
		{"grade", "(I)I", []string{"12"}, "0"},
		{"safeDiv", "(II)I", []string{"7", "2"}, "3"},
		{"safeDiv", "(II)I", []string{"7", "0"}, "-1"},
	}
	for _, tc := range tests {
		out.Reset()
		args := append([]string{"run", img, "demo/MainKt", tc.method, tc.desc}, tc.args...)
		if err := c.dispatch(context.Background(), args); err != nil {
			t.Errorf("%s%v: %v", tc.method, tc.args, err)
			continue
		}
		if got := strings.TrimSpace(out.String()); got != tc.want {
			t.Errorf("%s%v = %s, want %s", tc.method, tc.args, got, tc.want)
		}
	}

	err := c.dispatch(context.Background(), []string{"run", img, "demo/MainKt", "fib", "(I)I"})
	if err == nil || !strings.Contains(err.Error(), "takes 1 arguments") {
		t.Errorf("run with missing argument: err = %v", err)
	}
	err = c.dispatch(context.Background(), []string{"run", img, "demo/MainKt", "fib", "(I)I", "ten"})
	if err == nil {
		t.Error("run with a non-numeric argument succeeded")
	}
}

func TestDisasmMultipleImages(t *testing.T) {
	c, out, dir := newCLI(t)
	first := buildDemo(t, c, dir)
	second := filepath.Join(dir, "second.kimg")
	data, err := os.ReadFile(first)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(second, data, 0o644); err != nil {
		t.Fatal(err)
	}

	out.Reset()
	if err := c.dispatch(context.Background(), []string{"disasm", first, second}); err != nil {
		t.Fatal(err)
	}
	text := out.String()
	i, j := strings.Index(text, "; "+first), strings.Index(text, "; "+second)
	if i < 0 || j < 0 || i > j {
		t.Fatalf("images missing or out of order:\n%s", text)
	}
	for _, want := range []string{"TABLESWITCH", "fib", "safeDiv"} {
		if !strings.Contains(text, want) {
			t.Errorf("disassembly lacks %s", want)
		}
	}

	if err := c.dispatch(context.Background(), []string{"disasm", filepath.Join(dir, "missing.kimg")}); err == nil {
		t.Error("disasm of a missing image succeeded")
	}
}

func TestCacheCommands(t *testing.T) {
	c, out, dir := newCLI(t)
	img := buildDemo(t, c, dir)

	out.Reset()
	if err := c.dispatch(context.Background(), []string{"cache", "put", img}); err != nil {
		t.Fatal(err)
	}
	fields := strings.Fields(out.String())
	if len(fields) != 2 || fields[1] != "demo/MainKt" {
		t.Fatalf("cache put printed %q", out.String())
	}
	key := fields[0]

	out.Reset()
	if err := c.dispatch(context.Background(), []string{"cache", "list"}); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out.String(), key) {
		t.Errorf("cache list = %q, want entry %s", out.String(), key)
	}

	restored := filepath.Join(dir, "restored.kimg")
	if err := c.dispatch(context.Background(), []string{"cache", "get", key, restored}); err != nil {
		t.Fatal(err)
	}
	out.Reset()
	if err := c.dispatch(context.Background(), []string{"run", restored, "demo/MainKt", "fib", "(I)I", "7"}); err != nil {
		t.Fatal(err)
	}
	if got := strings.TrimSpace(out.String()); got != "13" {
		t.Errorf("fib(7) from the cache = %s, want 13", got)
	}

	if err := c.dispatch(context.Background(), []string{"cache", "rm", key}); err != nil {
		t.Fatal(err)
	}
	err := c.dispatch(context.Background(), []string{"cache", "get", key, restored})
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("get after rm: err = %v, want ErrNotFound", err)
	}
}

func TestManifestSelectsFacadeAndCache(t *testing.T) {
	dir := t.TempDir()
	toml := "[project]\nname = \"shop\"\npackage = \"acme.shop\"\n\n[compiler]\nswitch-tables = false\n"
	if err := os.WriteFile(filepath.Join(dir, manifest.FileName), []byte(toml), 0o644); err != nil {
		t.Fatal(err)
	}
	m, err := manifest.Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	c := &cli{out: &out, manifest: m}

	if err := c.dispatch(context.Background(), []string{"demo"}); err != nil {
		t.Fatal(err)
	}
	img := filepath.Join(dir, "shop.kimg")
	if _, err := os.Stat(img); err != nil {
		t.Fatalf("demo did not write the manifest's image: %v", err)
	}

	out.Reset()
	if err := c.dispatch(context.Background(), []string{"disasm", img}); err != nil {
		t.Fatal(err)
	}
	if text := out.String(); !strings.Contains(text, "acme/shop/MainKt") || strings.Contains(text, "TABLESWITCH") {
		t.Errorf("disassembly ignores kiln.toml:\n%s", text)
	}

	out.Reset()
	if err := c.dispatch(context.Background(), []string{"cache", "put", img}); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, ".kiln", "cache.db")); err != nil {
		t.Errorf("cache not created under the project: %v", err)
	}
}
