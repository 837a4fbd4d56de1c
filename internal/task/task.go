// Package task defines benchmark tasks: the API contract a backend must
// implement and the grading procedure that scores an implementation.
//
// A task grades in two kinds of scenarios. A probe runs a handful of
// sequential calls and checks exact responses; it is fatal because a
// backend that cannot serve one request sequentially has no meaningful
// concurrency behavior to measure. A consistency scenario runs a seeded
// concurrent workload through the harness and scores the recorded
// history by a checker verdict.
//
// Outcome lanes are strict and never mixed:
//   - backend misbehavior is scored (0.0), or turns into an error only
//     when the fatal probe fails;
//   - checker and artifact infrastructure failures are errors, never
//     scores;
//   - history protocol violations panic in the harness.
package task

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/roach88/apibench/internal/backend"
	"github.com/roach88/apibench/internal/checker"
	"github.com/roach88/apibench/internal/workload"
)

// Scores maps scenario names to scores in [0,1].
type Scores map[string]float64

// Task is one benchmark: a contract plus a grading procedure.
type Task interface {
	// Name returns the registry name.
	Name() string
	// Contract returns the API contract a backend must implement.
	Contract() *Contract
	// Grade runs the task's scenarios against b and returns their scores.
	// The backend must be started (and deployed, where that applies)
	// before Grade is called. A non-nil error means grading could not
	// judge the backend; it is never a verdict about the backend itself,
	// except when the fatal correctness probe fails.
	Grade(ctx context.Context, b backend.Backend) (Scores, error)
}

// Option configures a task at construction.
type Option func(*options)

type options struct {
	seed         int64
	seedSet      bool
	workload     *workload.Config
	checker      checker.Checker
	artifactsDir string
	logger       *slog.Logger
}

func buildOptions(opts []Option) *options {
	o := &options{logger: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}
	if !o.seedSet {
		// Wall-clock seconds: coarse on purpose, so a rerun within the
		// same second reproduces the run it is debugging.
		o.seed = time.Now().Unix()
	}
	return o
}

// WithSeed fixes the workload seed. Without it the seed derives from the
// wall clock at construction; either way the seed is logged so any run
// can be reproduced.
func WithSeed(seed int64) Option {
	return func(o *options) {
		o.seed = seed
		o.seedSet = true
	}
}

// WithWorkload overrides the task's default workload configuration.
func WithWorkload(cfg workload.Config) Option {
	return func(o *options) {
		o.workload = &cfg
	}
}

// WithChecker overrides the task's default consistency checker.
func WithChecker(c checker.Checker) Option {
	return func(o *options) {
		o.checker = c
	}
}

// WithArtifactsDir sets the directory run artifacts are written under.
// Defaults to a per-run temporary directory.
func WithArtifactsDir(dir string) Option {
	return func(o *options) {
		o.artifactsDir = dir
	}
}

// WithLogger sets the logger for grading progress. Defaults to
// slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// Factory constructs a task from options.
type Factory func(opts ...Option) (Task, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register makes a task constructible by name. It panics on a duplicate
// name or nil factory; registration happens in init functions, where
// failing loud is the only useful behavior.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if factory == nil {
		panic(fmt.Sprintf("task: nil factory for %q", name))
	}
	if _, dup := registry[name]; dup {
		panic(fmt.Sprintf("task: duplicate registration of %q", name))
	}
	registry[name] = factory
}

// New constructs the named task.
func New(name string, opts ...Option) (Task, error) {
	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown task %q (registered: %s)", name, strings.Join(Names(), ", "))
	}
	return factory(opts...)
}

// Names returns the registered task names, sorted.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultWorkload returns the stock workload configuration of a built-in
// task. Callers that override individual workload fields merge on top of
// this.
func DefaultWorkload(name string) (workload.Config, error) {
	switch name {
	case "list-append":
		return defaultListAppendWorkload, nil
	case "kv":
		return defaultKVWorkload, nil
	}
	return workload.Config{}, fmt.Errorf("unknown task %q (registered: %s)", name, strings.Join(Names(), ", "))
}

// Transactions returns the exact transaction sequence a built-in task
// executes for cfg and seed, for inspection and reproduction.
func Transactions(name string, cfg workload.Config, seed int64) ([]workload.Transaction, error) {
	gen, err := workload.NewGenerator(cfg, seed)
	if err != nil {
		return nil, fmt.Errorf("%s workload: %w", name, err)
	}
	switch name {
	case "list-append":
		return gen.ListAppend(), nil
	case "kv":
		return gen.Register(), nil
	}
	return nil, fmt.Errorf("unknown task %q (registered: %s)", name, strings.Join(Names(), ", "))
}
