// Kiln CLI - compiles the sample unit and inspects, runs and caches images.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
	"golang.org/x/sync/errgroup"

	"github.com/chazu/kiln/compiler"
	"github.com/chazu/kiln/image"
	"github.com/chazu/kiln/manifest"
	"github.com/chazu/kiln/store"
	"github.com/chazu/kiln/vm"
)

var log = commonlog.GetLogger("kiln.cmd")

func main() {
	verbose := flag.Int("v", 0, "Log verbosity (0 = warnings, 1 = info, 2 = debug)")
	dir := flag.String("C", ".", "Project directory to search for kiln.toml")
	cachePath := flag.String("cache", "", "Unit cache path (overrides kiln.toml)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: kiln [options] <command> [args...]\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  demo [out.kimg]                    Compile the sample unit into an image\n")
		fmt.Fprintf(os.Stderr, "  disasm <image>...                  Disassemble images\n")
		fmt.Fprintf(os.Stderr, "  run <image> <class> <method> <desc> [args...]\n")
		fmt.Fprintf(os.Stderr, "                                     Run a static method\n")
		fmt.Fprintf(os.Stderr, "  cache put <image>                  Store the units of an image\n")
		fmt.Fprintf(os.Stderr, "  cache get <key> <out.kimg>         Write a cached unit as an image\n")
		fmt.Fprintf(os.Stderr, "  cache list                         List cached units\n")
		fmt.Fprintf(os.Stderr, "  cache prune <keep>                 Keep the newest units per facade\n")
		fmt.Fprintf(os.Stderr, "  cache rm <key>                     Remove a cached unit\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	commonlog.Configure(*verbose, nil)

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	m, err := manifest.FindAndLoad(*dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	app := &cli{out: os.Stdout, manifest: m, cachePath: *cachePath}

	if err := app.dispatch(context.Background(), args); err != nil {
		var th *vm.Thrown
		if errors.As(err, &th) {
			fmt.Fprintf(os.Stderr, "Uncaught %v\n", err)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

// cli carries what the subcommands share.
type cli struct {
	out       io.Writer
	manifest  *manifest.Manifest // nil outside a project
	cachePath string
}

var errUsage = errors.New("bad arguments; see kiln -h")

func (c *cli) dispatch(ctx context.Context, args []string) error {
	switch args[0] {
	case "demo":
		out := "demo.kimg"
		if c.manifest != nil {
			out = c.manifest.ImagePath()
		}
		if len(args) > 1 {
			out = args[1]
		}
		return c.demo(ctx, out)
	case "disasm":
		if len(args) < 2 {
			return errUsage
		}
		return c.disasm(ctx, args[1:])
	case "run":
		if len(args) < 5 {
			return errUsage
		}
		return c.run(args[1], args[2], args[3], args[4], args[5:])
	case "cache":
		if len(args) < 2 {
			return errUsage
		}
		return c.cache(args[1], args[2:])
	}
	return fmt.Errorf("unknown command %q", args[0])
}

func (c *cli) config() (compiler.Config, error) {
	if c.manifest == nil {
		return compiler.DefaultConfig(), nil
	}
	return c.manifest.CompilerConfig()
}

func (c *cli) facade() string {
	pkg := "demo"
	if c.manifest != nil && c.manifest.Project.Package != "" {
		pkg = c.manifest.Project.Package
	}
	return manifest.FacadeName(pkg, "main.kt")
}

// demo compiles the sample unit and writes it to out.
func (c *cli) demo(ctx context.Context, out string) error {
	cfg, err := c.config()
	if err != nil {
		return err
	}
	s := newSample(c.facade())
	u, err := compiler.Compile(ctx, s.file, s.tb, cfg)
	if err != nil {
		return err
	}
	for _, d := range u.Diagnostics {
		fmt.Fprintf(os.Stderr, "warning: %s\n", d)
	}
	img, err := image.New(u)
	if err != nil {
		return err
	}
	if err := image.Write(out, img); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "wrote %s: %s, build %s\n", out, u.Facade, img.ID())
	return nil
}

// disasm reads the images concurrently and prints them in argument order.
func (c *cli) disasm(ctx context.Context, paths []string) error {
	texts := make([]string, len(paths))
	g, _ := errgroup.WithContext(ctx)
	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			img, err := image.Read(path)
			if err != nil {
				return err
			}
			classes, err := img.Classes()
			if err != nil {
				return err
			}
			var b strings.Builder
			fmt.Fprintf(&b, "; %s build %s\n", path, img.ID())
			for _, u := range img.Units {
				for _, d := range u.Diagnostics {
					fmt.Fprintf(&b, "; %d:%d: %s\n", d.Line, d.Column, d.Message)
				}
			}
			for _, cls := range classes {
				b.WriteString(vm.DisassembleClass(cls))
				b.WriteByte('\n')
			}
			texts[i] = b.String()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for _, t := range texts {
		if _, err := io.WriteString(c.out, t); err != nil {
			return err
		}
	}
	return nil
}

// run invokes a static method of an image. Arguments are parsed by the
// parameter types of desc.
func (c *cli) run(path, class, method, desc string, raw []string) error {
	img, err := image.Read(path)
	if err != nil {
		return err
	}
	classes, err := img.Classes()
	if err != nil {
		return err
	}
	mt, err := vm.ParseMethodType(desc)
	if err != nil {
		return err
	}
	if len(raw) != len(mt.Params) {
		return fmt.Errorf("%s%s takes %d arguments, got %d", method, desc, len(mt.Params), len(raw))
	}
	args := make([]any, len(raw))
	for i, s := range raw {
		v, err := parseArg(mt.Params[i], s)
		if err != nil {
			return fmt.Errorf("argument %d: %w", i+1, err)
		}
		args[i] = v
	}

	log.Infof("running %s.%s%s", class, method, desc)
	in := vm.NewInterpreter(classes...)
	result, err := in.Invoke(class, method, desc, args...)
	if err != nil {
		return err
	}
	if mt.Return.Sort != vm.SortVoid {
		fmt.Fprintln(c.out, result)
	}
	return nil
}

func parseArg(t vm.Type, s string) (any, error) {
	switch t.Sort {
	case vm.SortInt, vm.SortShort, vm.SortByte:
		n, err := strconv.ParseInt(s, 10, 32)
		return int32(n), err
	case vm.SortChar:
		r := []rune(s)
		if len(r) != 1 {
			return nil, fmt.Errorf("%q is not a single character", s)
		}
		return int32(r[0]), nil
	case vm.SortBoolean:
		b, err := strconv.ParseBool(s)
		if b {
			return int32(1), err
		}
		return int32(0), err
	case vm.SortLong:
		return strconv.ParseInt(s, 10, 64)
	case vm.SortFloat:
		f, err := strconv.ParseFloat(s, 32)
		return float32(f), err
	case vm.SortDouble:
		return strconv.ParseFloat(s, 64)
	}
	if t.Equal(vm.StringType) {
		return s, nil
	}
	return nil, fmt.Errorf("cannot pass %s from the command line", t.Descriptor())
}

func (c *cli) openCache() (*store.Store, error) {
	path := c.cachePath
	if path == "" && c.manifest != nil {
		if c.manifest.Cache.Disabled {
			return nil, errors.New("cache is disabled in kiln.toml")
		}
		path = c.manifest.CachePath()
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating cache dir: %w", err)
		}
	}
	if path == "" {
		return nil, errors.New("no cache: pass -cache or run inside a kiln.toml project")
	}
	return store.Open(path)
}

func (c *cli) cache(sub string, args []string) error {
	st, err := c.openCache()
	if err != nil {
		return err
	}
	defer st.Close()

	switch sub {
	case "put":
		if len(args) != 1 {
			return errUsage
		}
		img, err := image.Read(args[0])
		if err != nil {
			return err
		}
		keys, err := st.PutImage(img)
		if err != nil {
			return err
		}
		for i, k := range keys {
			fmt.Fprintf(c.out, "%s %s\n", k, img.Units[i].Facade)
		}
	case "get":
		if len(args) != 2 {
			return errUsage
		}
		u, err := st.Get(args[0])
		if err != nil {
			return err
		}
		img := &image.Image{Magic: image.Magic, Version: image.Version, Units: []*image.Unit{u}}
		if e, err := st.Entry(args[0]); err == nil {
			img.BuildID = e.BuildID()
		}
		return image.Write(args[1], img)
	case "list":
		entries, err := st.List()
		if err != nil {
			return err
		}
		for _, e := range entries {
			fmt.Fprintf(c.out, "%s %-30s %6d %s\n", e.Hash, e.Facade, e.Size, e.Created.Format("2006-01-02 15:04:05"))
		}
	case "prune":
		if len(args) != 1 {
			return errUsage
		}
		keep, err := strconv.Atoi(args[0])
		if err != nil || keep < 0 {
			return fmt.Errorf("bad count %q", args[0])
		}
		n, err := st.Prune(keep)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "pruned %d units\n", n)
	case "rm":
		if len(args) != 1 {
			return errUsage
		}
		return st.Delete(args[0])
	default:
		return fmt.Errorf("unknown cache command %q", sub)
	}
	return nil
}
