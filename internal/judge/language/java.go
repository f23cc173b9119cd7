package language

import (
	"context"
	"fmt"

	"arenajudge/internal/judge/sandbox/result"
	"arenajudge/internal/judge/sandbox/spec"
	"arenajudge/internal/judge/sandbox/workspace"
	appErr "arenajudge/pkg/errors"
)

// javaAdapter compiles Main.java with javac and runs class Main on the JVM.
type javaAdapter struct {
	toolchain
}

func (a *javaAdapter) Compile(ctx context.Context, box *workspace.Box, source string) (Artifact, result.CompileMetrics, error) {
	if box != nil && a.cfg.BinaryFile != "" {
		if err := box.Mkdir(a.cfg.BinaryFile); err != nil {
			return Artifact{}, result.CompileMetrics{}, appErr.SystemError(err, "create class dir failed")
		}
	}
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

// Run caps the heap at the problem's memory limit; the multiplier only widens
// the cgroup limit to leave room for the JVM itself.
func (a *javaAdapter) Run(ctx context.Context, box *workspace.Box, artifact Artifact, stdin string, limits spec.ResourceLimit) (result.RunResult, error) {
	cmd := artifact.Cmd
	if heapMB := limits.MemoryBytes / mib; heapMB > 0 {
		cmd = insertFlag(cmd, fmt.Sprintf("-Xmx%dm", heapMB))
	}
	return a.run(ctx, box, cmd, a.cfg.Env, stdin, a.runLimits(limits))
}

// insertFlag places flag right after the interpreter.
func insertFlag(cmd []string, flag string) []string {
	if len(cmd) == 0 {
		return cmd
	}
	out := make([]string, 0, len(cmd)+1)
	out = append(out, cmd[0], flag)
	return append(out, cmd[1:]...)
}
