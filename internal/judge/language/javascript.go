package language

import (
	"context"
	"fmt"

	"arenajudge/internal/judge/sandbox/result"
	"arenajudge/internal/judge/sandbox/spec"
	"arenajudge/internal/judge/sandbox/workspace"
)

// javascriptAdapter runs `node --check` as its compile step and node at run time.
type javascriptAdapter struct {
	toolchain
}

func (a *javascriptAdapter) Compile(ctx context.Context, box *workspace.Box, source string) (Artifact, result.CompileMetrics, error) {
	metrics, err := a.compile(ctx, box, source)
	if err != nil {
		return Artifact{}, metrics, err
	}
	cmd, err := buildCommand(a.cfg.RunCmd, a.cfg, box)
	if err != nil {
		return Artifact{}, metrics, err
	}
	return Artifact{Language: a.id, Cmd: cmd}, metrics, nil
}

func (a *javascriptAdapter) Run(ctx context.Context, box *workspace.Box, artifact Artifact, stdin string, limits spec.ResourceLimit) (result.RunResult, error) {
	cmd := artifact.Cmd
	if heapMB := limits.MemoryBytes / mib; heapMB > 0 {
		cmd = insertFlag(cmd, fmt.Sprintf("--max-old-space-size=%d", heapMB))
	}
	return a.run(ctx, box, cmd, a.cfg.Env, stdin, a.runLimits(limits))
}
