// Command lazydocs serves, lists or explores a directory of markdown
// documents whose rendered forms are built lazily and cached per field.
package main

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/docopt/docopt-go"
	"github.com/river-now/lazyfield/internal/config"
	"github.com/river-now/lazyfield/internal/docs"
	"github.com/river-now/lazyfield/internal/server"
	"github.com/river-now/lazyfield/kit/colorlog"
	"github.com/river-now/lazyfield/kit/lazycache"
	"github.com/river-now/lazyfield/kit/tasks"
)

const version = "lazydocs 0.1.0"

const usage = `lazydocs

Usage:
  lazydocs serve [options] [--warm] [--watch]
  lazydocs list [options]
  lazydocs shell [options]
  lazydocs -h
  lazydocs -v

Options:
  -r, --root=DIR      Directory holding the documents. Overrides LAZYDOCS_ROOT.
  -a, --addr=ADDR     Listen address. Overrides LAZYDOCS_ADDR.
  -g, --glob=PATTERN  Documents to include, relative to the root. Overrides
                      LAZYDOCS_GLOB.
  -e, --env=FILE      Env file to load instead of .env.
  --warm              Build every document before the first request.
  --watch             Invalidate documents as files change. Always on when
                      LAZYDOCS_MODE=development.
  -h, --help          Display this help.
  -v, --version       Print the version.

Settings not given as flags are read from the environment, after loading
the env file.
`

var mainLog = colorlog.New("lazydocs")

type loaded struct {
	cfg *config.Config
	err error
}

var envFile string

// The environment is read once per process; the shell's reload command
// resets it.
var settings lazycache.Value[loaded]

func loadSettings() loaded {
	var files []string
	if envFile != "" {
		files = append(files, envFile)
	}
	cfg, err := config.Load(files...)
	return loaded{cfg: cfg, err: err}
}

func getConfig() (*config.Config, error) {
	l := lazycache.Get(&settings, loadSettings)
	return l.cfg, l.err
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		mainLog.Error(err.Error())
		os.Exit(1)
	}
}

func run(argv []string) error {
	opts, err := docopt.ParseArgs(usage, argv, version)
	if err != nil {
		// Error in the usage doc. This should never happen.
		panic(err.Error())
	}
	envFile, _ = opts.String("--env")

	cfg, err := getConfig()
	if err != nil {
		return err
	}
	applyFlags(cfg, opts)
	colorlog.SetLevel(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(cfg)
	if err != nil {
		return err
	}

	switch {
	case isSet(opts, "serve"):
		warm, _ := opts.Bool("--warm")
		watch, _ := opts.Bool("--watch")
		return serve(ctx, cfg, store, warm, watch || cfg.IsDev())
	case isSet(opts, "list"):
		return list(ctx, store, os.Stdout)
	case isSet(opts, "shell"):
		return runShell(ctx, store)
	}
	return nil
}

func applyFlags(cfg *config.Config, opts docopt.Opts) {
	if s, _ := opts.String("--root"); s != "" {
		cfg.Root = s
	}
	if s, _ := opts.String("--addr"); s != "" {
		cfg.Addr = s
	}
	if s, _ := opts.String("--glob"); s != "" {
		cfg.Glob = s
	}
}

func isSet(opts docopt.Opts, key string) bool {
	b, _ := opts.Bool(key)
	return b
}

func openStore(cfg *config.Config) (*docs.Store, error) {
	info, err := os.Stat(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("error opening root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root %s is not a directory: %w", cfg.Root, fs.ErrInvalid)
	}
	return docs.NewStore(os.DirFS(cfg.Root), docs.Options{
		Glob:      cfg.Glob,
		WarmLimit: cfg.WarmLimit,
	})
}

func serve(ctx context.Context, cfg *config.Config, store *docs.Store, warm, watch bool) error {
	mainLog.Info("serving", "root", cfg.Root, "docs", store.Len(), "mode", cfg.Mode)

	srv := server.New(store, server.Options{Dev: cfg.IsDev()})
	fns := []tasks.Func{
		func(ctx context.Context) error { return srv.ListenAndServe(ctx, cfg.Addr) },
	}
	if warm {
		fns = append(fns, func(ctx context.Context) error {
			if err := store.Warm(ctx); err != nil && ctx.Err() == nil {
				return err
			}
			mainLog.Info("warmed documents", "count", store.Len())
			return nil
		})
	}
	if watch {
		fns = append(fns, func(ctx context.Context) error { return store.Watch(ctx, cfg.Root) })
	}
	return tasks.Go(ctx, 0, fns...)
}
