package language

import (
	"context"

	"arenajudge/internal/judge/sandbox/result"
	"arenajudge/internal/judge/sandbox/spec"
	"arenajudge/internal/judge/sandbox/workspace"
)

// cppAdapter compiles with g++ and runs the native binary.
type cppAdapter struct {
	toolchain
}

func (a *cppAdapter) Compile(ctx context.Context, box *workspace.Box, source string) (Artifact, result.CompileMetrics, error) {
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

func (a *cppAdapter) Run(ctx context.Context, box *workspace.Box, artifact Artifact, stdin string, limits spec.ResourceLimit) (result.RunResult, error) {
	return a.run(ctx, box, artifact.Cmd, a.cfg.Env, stdin, a.runLimits(limits))
}
