// Package sink writes segments through pluggable transports.
//
// A segment is always written under a pending name first and only takes its
// final name on Commit. How the bytes get there (a local file, an external
// command, nowhere) is up to the Transport.
package sink

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"firestige.xyz/pcapsplit/internal/core"
)

// PendingSuffix is appended to a final name while the segment is being written.
const PendingSuffix = ".pending"

// Output receives the bytes of one segment.
type Output interface {
	io.Writer
	// Commit flushes everything and publishes the segment under its final name.
	Commit() error
	// Abort releases resources without publishing.
	Abort() error
}

// Transport creates outputs.
type Transport interface {
	Name() string
	Create(ctx context.Context, pending, final string) (Output, error)
	// Describe renders what Create would do for final, for logging.
	Describe(final string) string
}

// Compression applied in process by the file transport.
const (
	CompressionNone   = "none"
	CompressionSnappy = "snappy"
	CompressionGzip   = "gzip"
)

// Config configures a transport. Fields a transport does not use are ignored.
type Config struct {
	Name        string      `mapstructure:"name" yaml:"name"`
	Filter      []string    `mapstructure:"filter" yaml:"filter,omitempty"`           // argv the segment is piped through, e.g. [gzip, -c]
	Compression string      `mapstructure:"compression" yaml:"compression,omitempty"` // file transport only
	Write       []string    `mapstructure:"write" yaml:"write,omitempty"`             // pipe transport writer argv, e.g. [rclone, rcat, "{pending}"]
	Move        []string    `mapstructure:"move" yaml:"move,omitempty"`               // pipe transport publish argv, e.g. [rclone, moveto, "{pending}", "{final}"]
	FileMode    os.FileMode `mapstructure:"file_mode" yaml:"file_mode,omitempty"`
	MakeDirs    bool        `mapstructure:"make_dirs" yaml:"make_dirs"`
}

// Constructor builds a transport from its configuration.
type Constructor func(cfg Config) (Transport, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Constructor)
)

// Register makes a transport available to NewTransport under name.
func Register(name string, ctor Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = ctor
}

// Names lists the registered transports.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// NewTransport builds the transport named by cfg.Name.
func NewTransport(cfg Config) (Transport, error) {
	registryMu.RLock()
	ctor, ok := registry[cfg.Name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: unknown transport %q (have %s)",
			core.ErrConfigInvalid, cfg.Name, strings.Join(Names(), ", "))
	}
	return ctor(cfg)
}

// expand substitutes {pending} and {final} in every argument.
func expand(argv []string, pending, final string) []string {
	out := make([]string, len(argv))
	r := strings.NewReplacer("{pending}", pending, "{final}", final)
	for i, a := range argv {
		out[i] = r.Replace(a)
	}
	return out
}
