// Package lifecycle is the Cluster Lifecycle Controller: the decision core
// that creates, starts, stops, updates, and destroys clusters, synthesizes
// compose specs, allocates ports and names, and classifies and remediates
// container failure modes.
package lifecycle

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/cuemby/clusterctl/pkg/clerr"
	"github.com/cuemby/clusterctl/pkg/compose"
	"github.com/cuemby/clusterctl/pkg/config"
	"github.com/cuemby/clusterctl/pkg/driver"
	"github.com/cuemby/clusterctl/pkg/log"
	"github.com/cuemby/clusterctl/pkg/metrics"
	"github.com/cuemby/clusterctl/pkg/portalloc"
	"github.com/cuemby/clusterctl/pkg/storage"
	"github.com/cuemby/clusterctl/pkg/template"
	"github.com/cuemby/clusterctl/pkg/types"
)

// DeletionCoordinator is the subset of the metrics pipeline's deletion
// bookkeeping the lifecycle controller must drive: marking a cluster as
// deleting before cascading store deletes, and unmarking only once the
// cascade has completed, per the delete-during-collection race rule.
type DeletionCoordinator interface {
	MarkDeleting(clusterID string)
	UnmarkDeleting(clusterID string)
}

// HealthInitializer is notified once a newly created cluster starts
// running, so it can begin monitoring.
type HealthInitializer interface {
	InitializeMonitoring(clusterID string)
}

// Controller is the Cluster Lifecycle Controller.
type Controller struct {
	store    storage.Store
	drv      *driver.Driver
	ports    *portalloc.Allocator
	tmpl     *template.Service
	cfg      *config.Config
	locks    *clusterLocks
	deletion DeletionCoordinator
	health   HealthInitializer

	maxRemediation int
}

// New constructs a Controller.
func New(store storage.Store, drv *driver.Driver, ports *portalloc.Allocator, tmpl *template.Service, cfg *config.Config, deletion DeletionCoordinator, health HealthInitializer) *Controller {
	return &Controller{
		store:          store,
		drv:            drv,
		ports:          ports,
		tmpl:           tmpl,
		cfg:            cfg,
		locks:          newClusterLocks(),
		deletion:       deletion,
		health:         health,
		maxRemediation: 2,
	}
}

var clusterNameRe = regexp.MustCompile(`^[a-z0-9_]+-[a-z0-9_]+-\d{8}-\d{4}-[0-9a-f]{8}$`)

// CreateRequest describes a new cluster to provision.
type CreateRequest struct {
	BaseName    string
	Template    string
	TemplateDir string
	OwnerID     string
	Limits      types.ResourceLimits
	FTPUsername string
	FTPPassword string
}

// CreateResult carries the outcome of Create, including partial-success
// states the caller surfaces verbatim.
type CreateResult struct {
	Cluster *types.Cluster
	Message string
}

// Create provisions a new cluster end to end: port reservation, name
// generation, filesystem materialization, compose synthesis, persistence,
// and a bounded-retry start attempt.
func (c *Controller) Create(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	if req.TemplateDir == "" {
		return nil, clerr.New(clerr.KindNotFound, "template not found")
	}

	port, err := c.ports.NextApplicationPort()
	if err != nil {
		return nil, clerr.Wrap(clerr.KindRuntimeExternal, "no free application port", err)
	}

	var ftpPort uint16
	if req.FTPUsername != "" {
		ftpPort, err = c.ports.NextFTPPort()
		if err != nil {
			return nil, clerr.Wrap(clerr.KindRuntimeExternal, "no free ftp port", err)
		}
	}

	name, err := c.generateUniqueName(req.BaseName, req.Template)
	if err != nil {
		return nil, err
	}

	cluster := &types.Cluster{
		ID:          newID(),
		Name:        name,
		Port:        port,
		FTPPort:     ftpPort,
		FTPUsername: req.FTPUsername,
		FTPPassword: req.FTPPassword,
		OwnerID:     req.OwnerID,
		Status:      types.ClusterCreated,
		Limits:      req.Limits,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}

	clusterPath, err := c.tmpl.CreateClusterDir(name, c.cfg.ClustersBase)
	if err != nil {
		return nil, clerr.Wrap(clerr.KindRuntimeExternal, "failed to create cluster directory", err)
	}
	cluster.RootPath = clusterPath

	if err := c.tmpl.CopyTemplate(req.TemplateDir, clusterPath); err != nil {
		return nil, clerr.Wrap(clerr.KindRuntimeExternal, "failed to materialize template", err)
	}
	if c.cfg.ScriptsBase != "" {
		if err := c.tmpl.CopyScripts(c.cfg.ScriptsBase, clusterPath); err != nil {
			log.WithComponent("lifecycle").Warn().Err(err).Msg("failed to copy shared scripts")
		}
	}

	composePath := clusterPath + "/docker-compose.yml"
	raw, err := c.tmpl.ReadFile(composePath)
	if err != nil {
		return nil, clerr.Wrap(clerr.KindRuntimeExternal, "failed to read compose template", err)
	}
	rewritten, err := compose.Synthesize(string(raw), cluster)
	if err != nil {
		return nil, clerr.Wrap(clerr.KindValidation, "compose synthesis failed", err)
	}
	if err := c.tmpl.WriteFile(composePath, []byte(rewritten)); err != nil {
		return nil, clerr.Wrap(clerr.KindRuntimeExternal, "failed to write compose file", err)
	}

	if err := c.store.CreateCluster(cluster); err != nil {
		return nil, clerr.Wrap(clerr.KindIntegrityViolation, "failed to persist cluster row", err)
	}

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ClusterCreateDuration)

	outcome := c.startWithRemediation(ctx, cluster)
	if !outcome.Ok {
		cluster.Status = types.ClusterCreated
		msg := fmt.Sprintf("create succeeded but start failed: %s", summarize(outcome))
		cluster.UpdatedAt = time.Now()
		if err := c.store.UpdateCluster(cluster); err != nil {
			log.WithComponent("lifecycle").Error().Err(err).Msg("failed to persist partial-create status")
		}
		return &CreateResult{Cluster: cluster, Message: msg}, nil
	}

	if id, ok := c.drv.ResolveID(ctx, compose.Sanitize(cluster.Name)); ok {
		cluster.ContainerID = id
	}
	cluster.Status = types.ClusterRunning
	cluster.UpdatedAt = time.Now()
	if err := c.store.UpdateCluster(cluster); err != nil {
		return nil, clerr.Wrap(clerr.KindIntegrityViolation, "failed to persist running status", err)
	}

	if c.health != nil {
		c.health.InitializeMonitoring(cluster.ID)
	}

	return &CreateResult{Cluster: cluster, Message: "cluster created and running"}, nil
}

func (c *Controller) generateUniqueName(base, tmplName string) (string, error) {
	sanitizedBase := compose.Sanitize(base)
	sanitizedTmpl := compose.Sanitize(tmplName)
	stamp := time.Now().Format("20060102-1504")

	for attempt := 0; attempt < 10; attempt++ {
		suffix := randomHex(4)
		name := fmt.Sprintf("%s-%s-%s-%s", sanitizedBase, sanitizedTmpl, stamp, suffix)
		if attempt > 0 {
			name = fmt.Sprintf("%s-%d", name, attempt)
		}
		exists, err := c.store.ClusterNameExists(name)
		if err != nil {
			return "", clerr.Wrap(clerr.KindIntegrityViolation, "failed to check name uniqueness", err)
		}
		if !exists {
			return name, nil
		}
	}
	return "", clerr.New(clerr.KindValidation, "failed to generate a unique cluster name")
}

func randomHex(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return strings.Repeat("0", n*2)
	}
	return hex.EncodeToString(buf)
}

func newID() string {
	return randomHex(16)
}

func summarize(o driver.Outcome) string {
	if o.Category != "" {
		return string(o.Category)
	}
	if o.Err != nil {
		return o.Err.Error()
	}
	return "unknown failure"
}
