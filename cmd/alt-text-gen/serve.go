package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Sriram-PR/alt-text-gen/pkg/api"
	"github.com/Sriram-PR/alt-text-gen/pkg/queue"
)

// gcInterval is how often badger's value log GC runs while serving
const gcInterval = 10 * time.Minute

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configFile, logLevel := commonFlags(fs)
	addr := fs.String("addr", "", "Listen address (overrides server.addr)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: alt-text-gen serve [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	os.Exit(doServe(*configFile, *logLevel, *addr, os.Stdout, os.Stderr))
}

// doServe runs the HTTP API, queue runner, watchdog and store GC until a signal arrives.
// The first loop to fail stops the others.
func doServe(configPath, logLevel, addrOverride string, stdout, stderr io.Writer) int {
	return withApp(configPath, logLevel, stdout, stderr, func(ctx context.Context, a *app) error {
		addr := a.cfg.Server.Addr
		if addrOverride != "" {
			addr = addrOverride
		}
		srv := &http.Server{
			Addr:              addr,
			Handler:           api.NewServer(a.pipeline, a.queue, a.ledger, a.store, a.log.WithField("addr", addr)).Router(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		g, gctx := errgroup.WithContext(ctx)

		g.Go(func() error {
			a.log.Infof("HTTP API listening on %s", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
			defer cancel()
			a.log.Info("Shutting down HTTP API...")
			return srv.Shutdown(shutdownCtx)
		})
		g.Go(func() error {
			return queue.NewRunner(a.queue).Run(gctx)
		})
		g.Go(func() error {
			return queue.NewWatchdog(a.queue).Run(gctx)
		})
		g.Go(func() error {
			a.store.RunGC(gctx, gcInterval)
			return nil
		})

		err := g.Wait()
		if err == nil && ctx.Err() != nil {
			a.log.Info("Shutdown complete")
		}
		return err
	})
}
