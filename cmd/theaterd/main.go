// Package main is the theater daemon's entrypoint: it wires every
// process-wide singleton once at startup (the content store, the
// handler registry, the loader, the supervisor, the theater runtime
// itself), spawns the manifest named on the command line, and blocks
// until interrupted, tearing down in reverse order.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/golang/glog"
	"go.uber.org/atomic"

	"github.com/theater-rt/theater/cmn"
	"github.com/theater-rt/theater/cmn/cos"
	"github.com/theater-rt/theater/handler"
	"github.com/theater-rt/theater/handler/clock"
	"github.com/theater-rt/theater/handler/env"
	"github.com/theater-rt/theater/handler/fs"
	"github.com/theater-rt/theater/handler/httpclient"
	"github.com/theater-rt/theater/handler/random"
	"github.com/theater-rt/theater/loader"
	"github.com/theater-rt/theater/manifest"
	"github.com/theater-rt/theater/server"
	"github.com/theater-rt/theater/store"
	"github.com/theater-rt/theater/supervisor"
	"github.com/theater-rt/theater/theater"
)

var (
	storeRoot    = flag.String("store", "", "content store root directory")
	manifestPath = flag.String("manifest", "", "path to the actor manifest to spawn at startup")
	metricsAddr  = flag.String("metrics-addr", "", "address to serve /metrics on, e.g. :9400 (disabled if empty)")
	listenAddr   = flag.String("listen", "", "management protocol listen address, e.g. :9700 (disabled if empty)")

	// stopping is set once the daemon begins shutting down.
	stopping atomic.Bool
)

func main() {
	flag.Parse()
	defer glog.Flush()

	cfg := cmn.GCO.Get()
	if *storeRoot != "" {
		updated := cmn.GCO.BeginUpdate()
		updated.Store.RootDir = *storeRoot
		cmn.GCO.CommitUpdate(updated)
		cfg = cmn.GCO.Get()
	}

	st, err := store.Open(cfg.Store.RootDir)
	if err != nil {
		glog.Fatalf("theaterd: open store %s: %v", cfg.Store.RootDir, err)
	}

	reg := handler.NewRegistry()
	fs.Register(reg)
	httpclient.Register(reg)
	clock.Register(reg)
	random.Register(reg)
	env.Register(reg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ld := loader.New(ctx)
	sup := supervisor.New()
	th := theater.New(cfg, st, ld, reg, sup)

	g := &rungroup{}
	if *listenAddr != "" {
		mgmtCtx, mgmtCancel := context.WithCancel(ctx)
		g.add(&mgmtRunner{srv: server.New(th, st, cfg), addr: *listenAddr, ctx: mgmtCtx, cancel: mgmtCancel})
	}
	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", th.MetricsHandler())
		g.add(&metricsRunner{srv: &http.Server{Addr: *metricsAddr, Handler: mux}})
	}

	if *manifestPath != "" {
		if err := spawnFromFile(ctx, th, st, *manifestPath); err != nil {
			glog.Fatalf("theaterd: spawn %s: %v", *manifestPath, err)
		}
	}

	errCh := make(chan error, 1)
	if !g.empty() {
		go func() { errCh <- g.run() }()
	}

	select {
	case err := <-errCh:
		if err != nil {
			glog.Errorf("theaterd: %v", err)
		}
	case <-waitForSignal():
	}
	stopping.Store(true)
	glog.Infof("theaterd: shutting down")
	g.stop(nil)
}

// rungroup starts every long-lived subsystem runner on its own
// goroutine and stops them all once any of them exits; the daemon's
// actors are not in the group - each already owns exactly one
// long-lived goroutine of its own, torn down through the theater.
type rungroup struct {
	runarr []cos.Runner
}

func (g *rungroup) add(r cos.Runner) { g.runarr = append(g.runarr, r) }

func (g *rungroup) empty() bool { return len(g.runarr) == 0 }

// run blocks until the first runner exits, returning its error. A
// daemon started with every listener disabled has an empty group and
// waits on its signal handler alone, actors still running.
func (g *rungroup) run() error {
	errCh := make(chan error, len(g.runarr))
	for _, r := range g.runarr {
		r := r
		go func() {
			glog.Infof("theaterd: starting %s", r.Name())
			errCh <- r.Run()
		}()
	}
	return <-errCh
}

func (g *rungroup) stop(err error) {
	for _, r := range g.runarr {
		r.Stop(err)
	}
}

// mgmtRunner adapts the management-protocol server to the Runner
// contract the rungroup drives.
type mgmtRunner struct {
	srv    *server.Server
	addr   string
	ctx    context.Context
	cancel context.CancelFunc
}

func (r *mgmtRunner) Name() string { return "management" }
func (r *mgmtRunner) Run() error   { return r.srv.ListenAndServe(r.ctx, r.addr) }
func (r *mgmtRunner) Stop(err error) {
	glog.Infof("theaterd: stopping %s, err: %v", r.Name(), err)
	r.cancel()
	_ = r.srv.Close()
}

// metricsRunner serves /metrics; its failures stop the group like any
// other runner's, since a daemon that silently lost its metrics port is
// harder to operate than one that restarts.
type metricsRunner struct {
	srv *http.Server
}

func (r *metricsRunner) Name() string { return "metrics" }
func (r *metricsRunner) Run() error {
	err := r.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}
func (r *metricsRunner) Stop(err error) {
	glog.Infof("theaterd: stopping %s, err: %v", r.Name(), err)
	_ = r.srv.Shutdown(context.Background())
}

func spawnFromFile(ctx context.Context, th *theater.Theater, st *store.Store, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read manifest: %w", err)
	}
	root := "."
	if idx := lastSlash(path); idx >= 0 {
		root = path[:idx]
	}
	m, err := manifest.Load(raw, manifest.Resolver(root, st))
	if err != nil {
		return fmt.Errorf("load manifest: %w", err)
	}
	id, err := th.SpawnActor(ctx, m, nil)
	if err != nil {
		return fmt.Errorf("spawn actor: %w", err)
	}
	glog.Infof("theaterd: spawned %s as %s", m.Name, id)
	return nil
}

func lastSlash(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '/' {
			return i
		}
	}
	return -1
}

func waitForSignal() <-chan os.Signal {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	return sigCh
}
