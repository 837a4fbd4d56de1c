package cli

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/apibench/internal/backend"
	"github.com/roach88/apibench/internal/checker"
	"github.com/roach88/apibench/internal/task"
	"github.com/roach88/apibench/internal/workload"
)

// Backend kinds accepted in a run spec.
const (
	BackendHTTP      = "http"      // out-of-process service reached over HTTP
	BackendReference = "reference" // in-process reference implementation
)

// Checker kinds accepted in a run spec.
const (
	CheckerElle      = "elle"      // external transactional checker process
	CheckerPorcupine = "porcupine" // embedded linearizability checker
)

// RunSpec describes one grading run: which task, against which backend,
// checked how. Loaded from YAML with strict field checking so a typo
// fails the run instead of silently grading with defaults.
type RunSpec struct {
	Task     string        `yaml:"task"`
	Seed     *int64        `yaml:"seed"`
	Backend  BackendSpec   `yaml:"backend"`
	Workload *WorkloadSpec `yaml:"workload"`
	Checker  *CheckerSpec  `yaml:"checker"`
}

// BackendSpec selects and configures the service adapter.
type BackendSpec struct {
	Kind           string `yaml:"kind"`
	BaseURL        string `yaml:"base_url"`
	RequestTimeout string `yaml:"request_timeout"`

	// parsed from RequestTimeout during validation
	timeout time.Duration
}

// WorkloadSpec holds per-field overrides of the task's default workload.
// Unset fields keep the task default.
type WorkloadSpec struct {
	NumKeys         *int     `yaml:"num_keys"`
	NumTransactions *int     `yaml:"num_transactions"`
	TransactionSize *int     `yaml:"transaction_size"`
	Concurrency     *int     `yaml:"concurrency"`
	ReadProbability *float64 `yaml:"read_probability"`
}

// CheckerSpec selects and configures the consistency checker. An empty
// kind keeps the task's default checker; binary and artifacts_dir still
// apply where they make sense.
type CheckerSpec struct {
	Kind         string `yaml:"kind"`
	Binary       string `yaml:"binary"`
	ArtifactsDir string `yaml:"artifacts_dir"`
}

// LoadRunSpec reads and validates a run spec from a YAML file.
func LoadRunSpec(path string) (*RunSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading run spec: %w", err)
	}

	var spec RunSpec
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&spec); err != nil {
		return nil, fmt.Errorf("parsing run spec: %w", err)
	}

	if err := validateRunSpec(&spec); err != nil {
		return nil, fmt.Errorf("invalid run spec: %w", err)
	}
	return &spec, nil
}

// validateRunSpec checks required fields and value constraints.
func validateRunSpec(spec *RunSpec) error {
	if spec.Task == "" {
		return fmt.Errorf("task is required")
	}
	if err := validateBackendSpec(&spec.Backend); err != nil {
		return fmt.Errorf("backend: %w", err)
	}
	if spec.Checker != nil {
		if err := validateCheckerSpec(spec.Checker); err != nil {
			return fmt.Errorf("checker: %w", err)
		}
	}
	return nil
}

func validateBackendSpec(spec *BackendSpec) error {
	switch spec.Kind {
	case "":
		return fmt.Errorf("kind is required")
	case BackendHTTP:
		if spec.BaseURL == "" {
			return fmt.Errorf("base_url is required for the http backend")
		}
		if spec.RequestTimeout != "" {
			d, err := time.ParseDuration(spec.RequestTimeout)
			if err != nil {
				return fmt.Errorf("request_timeout: %w", err)
			}
			if d < 0 {
				return fmt.Errorf("request_timeout must not be negative, got %s", d)
			}
			spec.timeout = d
		}
	case BackendReference:
		if spec.BaseURL != "" {
			return fmt.Errorf("base_url is only valid for the http backend")
		}
		if spec.RequestTimeout != "" {
			return fmt.Errorf("request_timeout is only valid for the http backend")
		}
	default:
		return fmt.Errorf("unknown kind %q (want %s or %s)", spec.Kind, BackendHTTP, BackendReference)
	}
	return nil
}

func validateCheckerSpec(spec *CheckerSpec) error {
	switch spec.Kind {
	case "", CheckerElle, CheckerPorcupine:
	default:
		return fmt.Errorf("unknown kind %q (want %s or %s)", spec.Kind, CheckerElle, CheckerPorcupine)
	}
	if spec.Binary != "" && spec.Kind != CheckerElle {
		return fmt.Errorf("binary is only valid for the elle checker")
	}
	return nil
}

// merge applies the overrides on top of base.
func (w *WorkloadSpec) merge(base workload.Config) workload.Config {
	cfg := base
	if w.NumKeys != nil {
		cfg.NumKeys = *w.NumKeys
	}
	if w.NumTransactions != nil {
		cfg.NumTransactions = *w.NumTransactions
	}
	if w.TransactionSize != nil {
		cfg.TransactionSize = *w.TransactionSize
	}
	if w.Concurrency != nil {
		cfg.Concurrency = *w.Concurrency
	}
	if w.ReadProbability != nil {
		cfg.ReadProbability = *w.ReadProbability
	}
	return cfg
}

// buildTaskOptions resolves a run spec into task options plus the
// effective seed. The seed is resolved here, not left to the task
// default, so the command can report it back to the user.
func buildTaskOptions(spec *RunSpec) ([]task.Option, int64, error) {
	seed := time.Now().Unix()
	if spec.Seed != nil {
		seed = *spec.Seed
	}
	opts := []task.Option{task.WithSeed(seed)}

	if spec.Workload != nil {
		base, err := task.DefaultWorkload(spec.Task)
		if err != nil {
			return nil, 0, err
		}
		opts = append(opts, task.WithWorkload(spec.Workload.merge(base)))
	}

	if spec.Checker != nil {
		if spec.Checker.Kind != "" {
			chk, err := buildChecker(spec.Task, spec.Checker)
			if err != nil {
				return nil, 0, err
			}
			opts = append(opts, task.WithChecker(chk))
		}
		if spec.Checker.ArtifactsDir != "" {
			opts = append(opts, task.WithArtifactsDir(spec.Checker.ArtifactsDir))
		}
	}

	return opts, seed, nil
}

// buildBackend constructs the adapter a run spec selects.
func buildBackend(spec *BackendSpec) (backend.Backend, error) {
	switch spec.Kind {
	case BackendHTTP:
		var opts []backend.HTTPOption
		if spec.timeout > 0 {
			opts = append(opts, backend.WithRequestTimeout(spec.timeout))
		}
		return backend.NewHTTP(spec.BaseURL, opts...), nil
	case BackendReference:
		return backend.NewReference()
	}
	return nil, fmt.Errorf("unknown backend kind %q", spec.Kind)
}

// buildChecker constructs the checker a run spec selects, using the
// model that matches the task's workload.
func buildChecker(taskName string, spec *CheckerSpec) (checker.Checker, error) {
	switch spec.Kind {
	case CheckerElle:
		binary := spec.Binary
		if binary == "" {
			binary = "elle"
		}
		model, err := elleModel(taskName)
		if err != nil {
			return nil, err
		}
		return checker.NewElle(binary, model)
	case CheckerPorcupine:
		model, err := porcupineModel(taskName)
		if err != nil {
			return nil, err
		}
		return checker.NewPorcupine(model)
	}
	return nil, fmt.Errorf("unknown checker kind %q", spec.Kind)
}

func elleModel(taskName string) (string, error) {
	switch taskName {
	case "list-append":
		return checker.ModelListAppend, nil
	case "kv":
		return checker.ModelRWRegister, nil
	}
	return "", fmt.Errorf("no elle model for task %q", taskName)
}

func porcupineModel(taskName string) (checker.PorcupineModel, error) {
	switch taskName {
	case "list-append":
		return checker.ModelList, nil
	case "kv":
		return checker.ModelRegister, nil
	}
	return "", fmt.Errorf("no porcupine model for task %q", taskName)
}
