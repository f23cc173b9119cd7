// Package language implements the compile/run contract for each supported language.
//
// The set of languages is closed: javascript, python, java and cpp.
package language

import (
	"context"
	"fmt"
	"sort"

	"arenajudge/internal/judge/sandbox/engine"
	"arenajudge/internal/judge/sandbox/observer"
	"arenajudge/internal/judge/sandbox/result"
	"arenajudge/internal/judge/sandbox/spec"
	"arenajudge/internal/judge/sandbox/workspace"
	appErr "arenajudge/pkg/errors"
)

const (
	JavaScript = "javascript"
	Python     = "python"
	Java       = "java"
	Cpp        = "cpp"
)

// Supported lists the language IDs in stable order.
func Supported() []string {
	return []string{Cpp, Java, JavaScript, Python}
}

// IsSupported reports whether id names a supported language.
func IsSupported(id string) bool {
	switch id {
	case JavaScript, Python, Java, Cpp:
		return true
	}
	return false
}

// Artifact is the runnable output of Compile.
type Artifact struct {
	Language string
	Cmd      []string
}

// CompileError reports a compile step that failed because of the source.
type CompileError struct {
	Stderr   string
	ExitCode int
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("compilation failed with exit code %d", e.ExitCode)
}

// Adapter compiles and runs code of one language inside the sandbox.
//
// Compile returns *CompileError when the source is at fault. Run encodes every
// program failure in the RunResult. Any other error is an infrastructure failure.
type Adapter interface {
	ID() string
	Compile(ctx context.Context, box *workspace.Box, source string) (Artifact, result.CompileMetrics, error)
	Run(ctx context.Context, box *workspace.Box, artifact Artifact, stdin string, limits spec.ResourceLimit) (result.RunResult, error)
}

// New builds the adapter for id.
func New(id string, eng engine.Engine, cfg Config, metrics observer.MetricsRecorder) (Adapter, error) {
	if eng == nil {
		return nil, fmt.Errorf("sandbox engine is required")
	}
	if metrics == nil {
		metrics = observer.NoopMetricsRecorder{}
	}
	defaults, ok := DefaultConfigs()[id]
	if !ok {
		return nil, appErr.Newf(appErr.LanguageNotSupported, "language not supported: %s", id)
	}
	tc := toolchain{id: id, eng: eng, cfg: defaults.Merge(cfg), metrics: metrics}
	switch id {
	case Cpp:
		return &cppAdapter{toolchain: tc}, nil
	case Java:
		return &javaAdapter{toolchain: tc}, nil
	case Python:
		return &pythonAdapter{toolchain: tc}, nil
	default:
		return &javascriptAdapter{toolchain: tc}, nil
	}
}

// Registry holds one adapter per supported language.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry builds every supported adapter, applying overrides from configs.
func NewRegistry(eng engine.Engine, configs map[string]Config, metrics observer.MetricsRecorder) (*Registry, error) {
	for id := range configs {
		if !IsSupported(id) {
			return nil, fmt.Errorf("unknown language in config: %s", id)
		}
	}
	adapters := make(map[string]Adapter, len(Supported()))
	for _, id := range Supported() {
		adapter, err := New(id, eng, configs[id], metrics)
		if err != nil {
			return nil, err
		}
		adapters[id] = adapter
	}
	return &Registry{adapters: adapters}, nil
}

// Get returns the adapter for id.
func (r *Registry) Get(id string) (Adapter, error) {
	adapter, ok := r.adapters[id]
	if !ok {
		return nil, appErr.Newf(appErr.LanguageNotSupported, "language not supported: %s", id)
	}
	return adapter, nil
}

// IDs lists registered languages.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.adapters))
	for id := range r.adapters {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
