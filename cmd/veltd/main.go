// Copyright 2024-2026 The Velt Authors
// This file is part of the Velt embedded datastore.
//
// Velt is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Velt is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Velt. If not, see <http://www.gnu.org/licenses/>.

// Command veltd runs one database as a standalone WebSocket server: it
// opens (or creates) a datastore under a data directory, publishes a
// compiled guest module against it, and serves the reducer/subscription
// protocol until interrupted.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/urfave/cli/v2"

	"github.com/veltdb/velt/auth"
	"github.com/veltdb/velt/conf"
	"github.com/veltdb/velt/datastore"
	velterrors "github.com/veltdb/velt/pkg/errors"
	"github.com/veltdb/velt/log"
	"github.com/veltdb/velt/modhost"
	"github.com/veltdb/velt/sats"
	"github.com/veltdb/velt/subscription"
	"github.com/veltdb/velt/wsproto"
)

func main() {
	app := &cli.App{
		Name:      "veltd",
		Usage:     "serve a Velt database over the reducer/subscription WebSocket protocol",
		Copyright: "Copyright 2024-2026 The Velt Authors",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "data-dir", Value: "./data", Usage: "directory the datastore lives under"},
			&cli.StringFlag{Name: "listen-addr", Value: "127.0.0.1:3000", Usage: "address the WebSocket server binds to"},
			&cli.StringFlag{Name: "module", Usage: "path to the compiled guest module to publish", Required: true},
			&cli.BoolFlag{Name: "allow-breaking-schema", Usage: "acknowledge a breaking schema change on publish"},
			&cli.StringFlag{Name: "log-level", Value: "info", Usage: "trace, debug, info, warn, or error"},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "veltd:", err)
		os.Exit(exitCodeFor(err))
	}
}

func run(c *cli.Context) error {
	cfg := conf.DefaultConfig()
	cfg.DataDir = c.String("data-dir")
	cfg.ListenAddr = c.String("listen-addr")
	cfg.Logger.Level = c.String("log-level")
	if err := cfg.Validate(); err != nil {
		return exitErr(conf.ExitConfig, fmt.Errorf("invalid configuration: %w", err))
	}

	if err := log.Init(log.Config{
		Level:      cfg.Logger.Level,
		MaxSizeMB:  int(cfg.Logger.MaxSize / (1 << 20)),
		MaxBackups: cfg.Logger.MaxBackups,
		MaxAgeDays: int(cfg.Logger.MaxAge.Hours() / 24),
		Compress:   cfg.Logger.Compress,
		JSON:       cfg.Logger.JSONFormat,
		Console:    cfg.Logger.Console,
	}); err != nil {
		return exitErr(conf.ExitConfig, err)
	}
	logger := log.New("component", "veltd")

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return exitErr(conf.ExitFatalIO, err)
	}

	lock := flock.New(filepath.Join(cfg.DataDir, "LOCK"))
	locked, err := lock.TryLock()
	if err != nil {
		return exitErr(conf.ExitFatalIO, err)
	}
	if !locked {
		return exitErr(conf.ExitAlreadyRun, fmt.Errorf("data directory %q is already in use by another veltd process", cfg.DataDir))
	}
	defer lock.Unlock()

	programBytes, err := os.ReadFile(c.String("module"))
	if err != nil {
		return exitErr(conf.ExitConfig, fmt.Errorf("reading module: %w", err))
	}

	ts, err := sats.NewTypespace(nil)
	if err != nil {
		return exitErr(conf.ExitConfig, err)
	}
	ds, err := datastore.Open(cfg.DataDir, cfg, ts)
	if err != nil {
		return exitErr(exitCodeForDatastoreErr(err), err)
	}
	defer ds.Close()

	cache, err := modhost.NewModuleCache(8)
	if err != nil {
		return exitErr(conf.ExitFatalIO, err)
	}
	host, _, err := modhost.PublishModule(ds, cache, programBytes, c.Bool("allow-breaking-schema"))
	if err != nil {
		if errors.Is(err, velterrors.ErrBreakingSchemaChange) {
			return exitErr(conf.ExitConfig, err)
		}
		return exitErr(conf.ExitFatalIO, err)
	}

	owner, err := loadOrMintIdentity(filepath.Join(cfg.DataDir, "owner.id"))
	if err != nil {
		return exitErr(conf.ExitFatalIO, err)
	}
	secret, err := loadOrMintSecret(filepath.Join(cfg.DataDir, "auth.secret"))
	if err != nil {
		return exitErr(conf.ExitFatalIO, err)
	}

	engine := subscription.NewEngine(ds, ts, owner)
	issuer := auth.NewIssuer(secret)
	handler := wsproto.NewHandler(ds, ts, host, engine, issuer, logger.New("component", "wsproto"))

	server := &http.Server{Addr: cfg.ListenAddr, Handler: handler}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	serveErr := make(chan error, 1)
	go func() { serveErr <- server.ListenAndServe() }()
	logger.Info("serving", "addr", cfg.ListenAddr, "data_dir", cfg.DataDir, "owner", owner.String())

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return exitErr(conf.ExitFatalIO, err)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return exitErr(conf.ExitFatalIO, err)
		}
	}
	return nil
}

// cliExitErr carries an explicit process exit code alongside the error
// urfave/cli prints, so app.Run's caller can still distinguish failure
// classes after the library's own error formatting.
type cliExitErr struct {
	code int
	err  error
}

func (e *cliExitErr) Error() string { return e.err.Error() }
func (e *cliExitErr) Unwrap() error { return e.err }

func exitErr(code int, err error) error { return &cliExitErr{code: code, err: err} }

func exitCodeFor(err error) int {
	var ce *cliExitErr
	if errors.As(err, &ce) {
		return ce.code
	}
	return conf.ExitFatalIO
}

// exitCodeForDatastoreErr classifies an Open failure as corruption (the
// on-disk log itself is inconsistent) versus a plain I/O failure (the
// directory is unreadable, locked by another process, etc).
func exitCodeForDatastoreErr(err error) int {
	switch {
	case errors.Is(err, velterrors.ErrChecksum),
		errors.Is(err, velterrors.ErrOutOfOrder),
		errors.Is(err, velterrors.ErrForked),
		errors.Is(err, velterrors.ErrLogPoisoned):
		return conf.ExitCorruption
	default:
		return conf.ExitFatalIO
	}
}
