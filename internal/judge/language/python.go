package language

import (
	"context"

	"arenajudge/internal/judge/sandbox/result"
	"arenajudge/internal/judge/sandbox/spec"
	"arenajudge/internal/judge/sandbox/workspace"
)

// pythonAdapter only syntax-checks at compile time and interprets the source at run time.
type pythonAdapter struct {
	toolchain
}

func (a *pythonAdapter) Compile(ctx context.Context, box *workspace.Box, source string) (Artifact, result.CompileMetrics, error) {
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

func (a *pythonAdapter) Run(ctx context.Context, box *workspace.Box, artifact Artifact, stdin string, limits spec.ResourceLimit) (result.RunResult, error) {
	env := append([]string{"PYTHONDONTWRITEBYTECODE=1"}, a.cfg.Env...)
	return a.run(ctx, box, artifact.Cmd, env, stdin, a.runLimits(limits))
}
