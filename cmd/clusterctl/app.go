package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cuemby/clusterctl/pkg/backup"
	"github.com/cuemby/clusterctl/pkg/bus"
	"github.com/cuemby/clusterctl/pkg/config"
	"github.com/cuemby/clusterctl/pkg/driver"
	"github.com/cuemby/clusterctl/pkg/ftpsidecar"
	"github.com/cuemby/clusterctl/pkg/health"
	"github.com/cuemby/clusterctl/pkg/lifecycle"
	"github.com/cuemby/clusterctl/pkg/metricspipeline"
	"github.com/cuemby/clusterctl/pkg/portalloc"
	"github.com/cuemby/clusterctl/pkg/storage"
	"github.com/cuemby/clusterctl/pkg/template"
	"github.com/cuemby/clusterctl/pkg/types"
	"github.com/spf13/cobra"
)

// driverTimeout bounds every shelled-out driver invocation.
const driverTimeout = 30 * time.Second

// app bundles every wired component. It is built fresh for each CLI
// invocation from the resolved configuration.
type app struct {
	cfg   *config.Config
	store storage.Store
	drv   *driver.Driver

	lifecycle *lifecycle.Controller
	health    *health.Engine
	pipeline  *metricspipeline.Pipeline
	bus       *bus.Broker
	ftp       *ftpsidecar.Manager
	backup    *backup.Manager
}

// lifecycleStarter satisfies health.Starter. It is constructed empty and
// bound to the real controller once newApp has built it, breaking the
// constructor cycle between the health engine (which drives recovery
// through the lifecycle controller) and the lifecycle controller (which
// notifies the health engine once a cluster starts running).
type lifecycleStarter struct {
	ctrl *lifecycle.Controller
}

func (s *lifecycleStarter) Start(ctx context.Context, clusterID string) error {
	return s.ctrl.Start(ctx, clusterID)
}

// healthActiveSource satisfies metricspipeline.ActiveClusterSource by
// delegating to the health engine's cached active-cluster list. Unlike
// lifecycleStarter it is constructed already bound to the engine.
type healthActiveSource struct {
	eng *health.Engine
}

func (s *healthActiveSource) ActiveClusters() ([]*types.Cluster, error) {
	return s.eng.ActiveClusters()
}

// newApp wires every package together against a resolved configuration.
func newApp(cfg *config.Config) (*app, error) {
	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	drv := driver.New("docker", []string{"compose"}, driverTimeout)
	ports := portalloc.New(cfg.ApplicationPortRange, cfg.FTPPortRange, store)
	tmpl := template.New()

	starter := &lifecycleStarter{}
	healthEngine := health.New(store, drv, starter, cfg.Health)

	activeSource := &healthActiveSource{eng: healthEngine}
	busBroker := bus.New()
	pipeline := metricspipeline.New(store, drv, activeSource, busBroker, cfg.Metrics)

	ctrl := lifecycle.New(store, drv, ports, tmpl, cfg, pipeline, healthEngine)
	starter.ctrl = ctrl

	ftpMgr := ftpsidecar.New(drv, store, cfg.FTP)
	backupMgr := backup.New(store, drv, cfg.Backup)

	return &app{
		cfg:       cfg,
		store:     store,
		drv:       drv,
		lifecycle: ctrl,
		health:    healthEngine,
		pipeline:  pipeline,
		bus:       busBroker,
		ftp:       ftpMgr,
		backup:    backupMgr,
	}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

// ownerOf resolves a cluster id to its owning user, for pkg/bus's
// per-subscriber ownership filter.
func (a *app) ownerOf(clusterID string) (string, bool) {
	c, err := a.store.GetCluster(clusterID)
	if err != nil {
		return "", false
	}
	return c.OwnerID, true
}

// identityFor derives a bus.Identity from an inbound request. There is no
// authentication layer in this control plane (an external collaborator
// per the component contract); a caller-supplied user_id is treated as
// that user, and its absence is treated as an admin, matching the bus's
// own "non-admin identities get filtered" default.
func (a *app) identityFor(r *http.Request) bus.Identity {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		return bus.Identity{IsAdmin: true}
	}
	return bus.Identity{UserID: userID}
}

// loadConfig resolves the --config flag against pkg/config's defaults.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	return config.Load(path)
}

// resolveCluster looks a cluster up by id first, falling back to name,
// so every subcommand accepts either.
func resolveCluster(a *app, nameOrID string) (*types.Cluster, error) {
	if c, err := a.store.GetCluster(nameOrID); err == nil {
		return c, nil
	}
	return a.store.GetClusterByName(nameOrID)
}
