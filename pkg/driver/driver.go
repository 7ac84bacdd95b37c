// Package driver is the command-line-driven container runtime adapter.
// Every runtime operation shells out to an external binary (docker or
// docker-compose compatible) and classifies its combined stdout/stderr
// into a result sum type instead of sniffing error strings at every call
// site — see Outcome.
package driver

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/cuemby/clusterctl/pkg/log"
)

// Category classifies a failed runtime invocation for the lifecycle
// controller's remediation table.
type Category string

const (
	CategoryNone           Category = ""
	CategoryPortConflict   Category = "PortConflict"
	CategoryNetworkError   Category = "NetworkError"
	CategoryImageError     Category = "ImageError"
	CategoryVolumeError    Category = "VolumeError"
	CategoryResourceError  Category = "ResourceError"
	CategoryPermissionError Category = "PermissionError"
	CategoryComposeError   Category = "ComposeError"
	CategoryExitCodeError  Category = "ExitCodeError"
	CategoryUnknown        Category = "Unknown"
)

// classificationRules is ordered; the first matching substring wins.
var classificationRules = []struct {
	category Category
	needles  []string
}{
	{CategoryPortConflict, []string{"address already in use", "port is already allocated"}},
	{CategoryNetworkError, []string{"network ", "all predefined address pools have been fully subnetted"}},
	{CategoryImageError, []string{"image ", "pull "}},
	{CategoryVolumeError, []string{"volume ", "mount "}},
	{CategoryResourceError, []string{"memory", "cpu", "resource"}},
	{CategoryPermissionError, []string{"permission denied", "access denied"}},
	{CategoryComposeError, []string{"compose", "yaml", "invalid"}},
}

// Classify inspects combined stdout/stderr text and returns the matching
// remediation category. When no substring rule matches it returns
// ExitCodeError for a "process exited with code:" line with a non-zero
// code and Unknown otherwise; Run and RunContainer turn Unknown into
// ExitCodeError.
func Classify(output string) Category {
	lower := strings.ToLower(output)
	for _, rule := range classificationRules {
		for _, needle := range rule.needles {
			if strings.Contains(lower, needle) {
				return rule.category
			}
		}
	}
	if strings.Contains(lower, "process exited with code:") && !strings.Contains(lower, "code: 0") {
		return CategoryExitCodeError
	}
	return CategoryUnknown
}

// Outcome is the result sum type every driver operation classifies into at
// the boundary, per the "no message-string sniffing above this layer" rule:
// Ok carries a value, NotFound/Conflict/Fatal carry a classification and
// the raw combined output.
type Outcome struct {
	Ok       bool
	NotFound bool
	Conflict bool
	Fatal    bool
	Category Category
	Value    string
	Raw      string
	Err      error
}

func okOutcome(value string) Outcome {
	return Outcome{Ok: true, Value: value}
}

func notFoundOutcome() Outcome {
	return Outcome{NotFound: true}
}

func fatalOutcome(category Category, raw string, err error) Outcome {
	return Outcome{Fatal: true, Category: category, Raw: raw, Err: err}
}

func conflictOutcome(category Category, raw string) Outcome {
	return Outcome{Conflict: true, Category: category, Raw: raw}
}

// ContainerStats is a single-point resource sample.
type ContainerStats struct {
	CPUPercentOfHost float64
	MemUsedBytes     int64
	MemLimitBytes    int64
	NetRxBytes       int64
	NetTxBytes       int64
	BlkReadBytes     int64
	BlkWriteBytes    int64
}

// Driver shells out to the configured container runtime binary, with a
// name->id cache and sudo auto-detection.
type Driver struct {
	binary      string
	composeArgs []string
	timeout     time.Duration

	mu        sync.Mutex
	sudo      bool
	sudoKnown bool

	cacheMu sync.Mutex
	nameToID map[string]string
}

// New constructs a Driver for the given runtime binary (e.g. "docker") and
// the compose-subcommand arguments used for run/start (e.g. ["compose"]).
func New(binary string, composeArgs []string, timeout time.Duration) *Driver {
	return &Driver{
		binary:      binary,
		composeArgs: composeArgs,
		timeout:     timeout,
		nameToID:    make(map[string]string),
	}
}

// needsSudo probes "<binary> --version" once and caches whether invocations
// must be prefixed with sudo because the caller lacks permission.
func (d *Driver) needsSudo(ctx context.Context) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sudoKnown {
		return d.sudo
	}

	cmd := exec.CommandContext(ctx, d.binary, "--version")
	if err := cmd.Run(); err == nil {
		d.sudo = false
	} else {
		sudoCmd := exec.CommandContext(ctx, "sudo", "-n", d.binary, "--version")
		d.sudo = sudoCmd.Run() == nil
	}
	d.sudoKnown = true
	return d.sudo
}

// run executes the driver binary (or "sudo <binary>") with args, capturing
// combined stdout/stderr via a logWriter that mirrors it into zerolog.
func (d *Driver) run(ctx context.Context, dir string, args ...string) (string, error) {
	runCtx := ctx
	var cancel context.CancelFunc
	if d.timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	name := d.binary
	fullArgs := args
	if d.needsSudo(runCtx) {
		name = "sudo"
		fullArgs = append([]string{d.binary}, args...)
	}

	cmd := exec.CommandContext(runCtx, name, fullArgs...)
	if dir != "" {
		cmd.Dir = dir
	}

	var buf bytes.Buffer
	writer := newLogWriter(&buf)
	cmd.Stdout = writer
	cmd.Stderr = writer

	err := cmd.Run()
	return buf.String(), err
}

// logWriter mirrors every line written to it into the component logger
// while also buffering it for the caller.
type logWriter struct {
	buf *bytes.Buffer
}

func newLogWriter(buf *bytes.Buffer) *logWriter {
	return &logWriter{buf: buf}
}

func (w *logWriter) Write(p []byte) (int, error) {
	n, err := w.buf.Write(p)
	if err != nil {
		return n, err
	}
	scanner := bufio.NewScanner(bytes.NewReader(p))
	logger := log.WithComponent("driver")
	for scanner.Scan() {
		logger.Debug().Msg(scanner.Text())
	}
	return n, nil
}

// invalidate drops a cached name->id mapping; called on remove, before a
// direct RunContainer create, and when Start, Stop or Inspect report that
// the container does not exist. Compose-based Run, Logs and Stats leave
// the cache as it is.
func (d *Driver) invalidate(name string) {
	d.cacheMu.Lock()
	defer d.cacheMu.Unlock()
	delete(d.nameToID, name)
}

func (d *Driver) cacheStore(name, id string) {
	d.cacheMu.Lock()
	defer d.cacheMu.Unlock()
	d.nameToID[name] = id
}

func (d *Driver) cacheLookup(name string) (string, bool) {
	d.cacheMu.Lock()
	defer d.cacheMu.Unlock()
	id, ok := d.nameToID[name]
	return id, ok
}

// Run launches from a compose specification rooted at dir.
func (d *Driver) Run(ctx context.Context, dir string) Outcome {
	args := append(append([]string{}, d.composeArgs...), "up", "-d")
	out, err := d.run(ctx, dir, args...)
	if err != nil {
		cat := Classify(out)
		if cat == CategoryUnknown {
			cat = CategoryExitCodeError
		}
		return fatalOutcome(cat, out, err)
	}
	return okOutcome(out)
}

// Start starts an idempotent container by id or name; "not found" is not
// an error.
func (d *Driver) Start(ctx context.Context, idOrName string) Outcome {
	out, err := d.run(ctx, "", "start", idOrName)
	if err == nil {
		return okOutcome(out)
	}
	if isNotFound(out) {
		d.invalidate(idOrName)
		return notFoundOutcome()
	}
	return fatalOutcome(Classify(out), out, err)
}

// Stop stops an idempotent container by id or name.
func (d *Driver) Stop(ctx context.Context, idOrName string) Outcome {
	out, err := d.run(ctx, "", "stop", idOrName)
	if err == nil {
		return okOutcome(out)
	}
	if isNotFound(out) {
		d.invalidate(idOrName)
		return notFoundOutcome()
	}
	return fatalOutcome(Classify(out), out, err)
}

// Remove removes a container by id or name. "not found" is not an error.
func (d *Driver) Remove(ctx context.Context, idOrName string, force bool) Outcome {
	args := []string{"rm"}
	if force {
		args = append(args, "-f")
	}
	args = append(args, idOrName)
	out, err := d.run(ctx, "", args...)
	d.invalidate(idOrName)
	if err == nil {
		return okOutcome(out)
	}
	if isNotFound(out) {
		return notFoundOutcome()
	}
	return fatalOutcome(Classify(out), out, err)
}

// Inspect returns the single-line rendering of a named runtime field, e.g.
// "state.status", "restart-count", "state.started-at", "state.exit-code".
func (d *Driver) Inspect(ctx context.Context, idOrName, fieldTemplate string) Outcome {
	format := inspectFormat(fieldTemplate)
	out, err := d.run(ctx, "", "inspect", "--format", format, idOrName)
	if err != nil {
		if isNotFound(out) {
			d.invalidate(idOrName)
			return notFoundOutcome()
		}
		return fatalOutcome(Classify(out), out, err)
	}
	return okOutcome(strings.TrimSpace(out))
}

func inspectFormat(field string) string {
	switch field {
	case "state.status":
		return "{{.State.Status}}"
	case "restart-count":
		return "{{.RestartCount}}"
	case "state.started-at":
		return "{{.State.StartedAt}}"
	case "state.exit-code":
		return "{{.State.ExitCode}}"
	default:
		return "{{." + field + "}}"
	}
}

// ResolveID scans running and stopped containers, returning the first whose
// name contains the sanitized cluster name, since templates may prefix or
// suffix the container name.
func (d *Driver) ResolveID(ctx context.Context, sanitizedName string) (string, bool) {
	if id, ok := d.cacheLookup(sanitizedName); ok {
		return id, true
	}

	out, err := d.run(ctx, "", "ps", "-a", "--format", "{{.ID}}\t{{.Names}}")
	if err != nil {
		return "", false
	}
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		line := scanner.Text()
		parts := strings.SplitN(line, "\t", 2)
		if len(parts) != 2 {
			continue
		}
		id, name := parts[0], parts[1]
		if strings.Contains(name, sanitizedName) {
			d.cacheStore(sanitizedName, id)
			return id, true
		}
	}
	return "", false
}

// ComposeStop stops the compose project rooted at dir without removing it
// (the compose-level fallback behind a direct container stop).
func (d *Driver) ComposeStop(ctx context.Context, dir string) Outcome {
	args := append(append([]string{}, d.composeArgs...), "stop")
	out, err := d.run(ctx, dir, args...)
	if err != nil {
		return fatalOutcome(Classify(out), out, err)
	}
	return okOutcome(out)
}

// PruneUnusedNetworks reclaims unused subnets to avoid address-pool
// exhaustion.
func (d *Driver) PruneUnusedNetworks(ctx context.Context) Outcome {
	out, err := d.run(ctx, "", "network", "prune", "-f")
	if err != nil {
		return fatalOutcome(Classify(out), out, err)
	}
	return okOutcome(out)
}

// Logs returns the trailing tail lines of a container's combined output.
func (d *Driver) Logs(ctx context.Context, idOrName string, tail int) Outcome {
	out, err := d.run(ctx, "", "logs", "--tail", fmt.Sprintf("%d", tail), idOrName)
	if err != nil {
		if isNotFound(out) {
			return notFoundOutcome()
		}
		return fatalOutcome(Classify(out), out, err)
	}
	return okOutcome(out)
}

// Stats returns a single resource-usage sample for a running container.
func (d *Driver) Stats(ctx context.Context, idOrName string) (ContainerStats, Outcome) {
	format := "{{.CPUPerc}}\t{{.MemUsage}}\t{{.NetIO}}\t{{.BlockIO}}"
	out, err := d.run(ctx, "", "stats", "--no-stream", "--format", format, idOrName)
	if err != nil {
		if isNotFound(out) {
			return ContainerStats{}, notFoundOutcome()
		}
		return ContainerStats{}, fatalOutcome(Classify(out), out, err)
	}
	stats, parseErr := parseStatsLine(strings.TrimSpace(out))
	if parseErr != nil {
		return ContainerStats{}, fatalOutcome(CategoryUnknown, out, parseErr)
	}
	return stats, okOutcome(out)
}

func isNotFound(output string) bool {
	lower := strings.ToLower(output)
	return strings.Contains(lower, "no such container") || strings.Contains(lower, "no such object")
}
