// Package log provides structured logging for clusterctl using zerolog.
package log

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	// Logger is the global logger instance
	Logger zerolog.Logger

	clusterErrors = newClusterErrorSink(errorSinkDepth)
)

// errorSinkDepth bounds how many recent error-level messages are retained
// per cluster in clusterErrors.
const errorSinkDepth = 5

// clusterErrorSink retains the last few error-level messages logged against
// each cluster, independent of whatever a single health check cycle
// overwrites into HealthStatus.LastErrorMessage. A cluster that is
// flapping leaves a trail here even between checks that briefly observe it
// healthy.
type clusterErrorSink struct {
	mu    sync.Mutex
	depth int
	byID  map[string][]string
}

func newClusterErrorSink(depth int) *clusterErrorSink {
	return &clusterErrorSink{depth: depth, byID: make(map[string][]string)}
}

func (s *clusterErrorSink) record(clusterID, msg string) {
	if clusterID == "" || msg == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := append(s.byID[clusterID], msg)
	if len(entries) > s.depth {
		entries = entries[len(entries)-s.depth:]
	}
	s.byID[clusterID] = entries
}

func (s *clusterErrorSink) recent(clusterID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.byID[clusterID]
	out := make([]string, len(entries))
	copy(out, entries)
	return out
}

func (s *clusterErrorSink) clear(clusterID string) {
	s.mu.Lock()
	delete(s.byID, clusterID)
	s.mu.Unlock()
}

// RecordClusterError appends msg to the bounded recent-error trail kept for
// clusterID. Call it alongside any HealthStatus.LastErrorMessage update so
// the trail survives across the next healthy check overwriting that field.
func RecordClusterError(clusterID, msg string) {
	clusterErrors.record(clusterID, msg)
}

// RecentClusterErrors returns up to errorSinkDepth of the most recent
// error-level messages recorded for clusterID, oldest first.
func RecentClusterErrors(clusterID string) []string {
	return clusterErrors.recent(clusterID)
}

// ForgetCluster drops a cluster's recent-error trail, called once its
// deletion has committed.
func ForgetCluster(clusterID string) {
	clusterErrors.clear(clusterID)
}

// Level represents log level
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config holds logging configuration
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// Init initializes the global logger
func Init(cfg Config) {
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case InfoLevel:
		level = zerolog.InfoLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}

	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	if cfg.JSONOutput {
		Logger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}
}

func init() {
	// Give every package a usable logger even if the composition root
	// never calls Init (e.g. in tests).
	Init(Config{Level: InfoLevel})
}

// WithComponent creates a child logger with component field
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithCluster creates a component-scoped child logger carrying both
// cluster_id and cluster_name, the combination every health and lifecycle
// log line needs rather than either field alone.
func WithCluster(component, clusterID, clusterName string) zerolog.Logger {
	return Logger.With().Str("component", component).Str("cluster_id", clusterID).Str("cluster_name", clusterName).Logger()
}

// Helper functions for common logging patterns
func Info(msg string) {
	Logger.Info().Msg(msg)
}

func Debug(msg string) {
	Logger.Debug().Msg(msg)
}

func Warn(msg string) {
	Logger.Warn().Msg(msg)
}

func Error(msg string) {
	Logger.Error().Msg(msg)
}

func Errorf(format string, err error) {
	Logger.Error().Err(err).Msg(format)
}

func Fatal(msg string) {
	Logger.Fatal().Msg(msg)
}
