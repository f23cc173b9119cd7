package language

import (
	"context"
	"math"
	"strings"
	"unicode/utf8"

	"arenajudge/internal/judge/sandbox/engine"
	"arenajudge/internal/judge/sandbox/observer"
	"arenajudge/internal/judge/sandbox/profile"
	"arenajudge/internal/judge/sandbox/result"
	"arenajudge/internal/judge/sandbox/spec"
	"arenajudge/internal/judge/sandbox/workspace"
	appErr "arenajudge/pkg/errors"

	"github.com/google/shlex"
)

const (
	compileStdoutName = "compile.out"
	compileLogName    = "compile.log"
	inputName         = "input.txt"
	outputName        = "output.txt"
	runtimeLogName    = "runtime.log"

	maxCompileOutput = 64 * 1024
)

// toolchain holds the compile and run steps shared by every adapter.
type toolchain struct {
	id      string
	eng     engine.Engine
	cfg     Config
	metrics observer.MetricsRecorder
}

func (t *toolchain) ID() string {
	return t.id
}

// compile runs the configured compile command, returning *CompileError when the source is at fault.
func (t *toolchain) compile(ctx context.Context, box *workspace.Box, source string) (result.CompileMetrics, error) {
	if box == nil {
		return result.CompileMetrics{}, appErr.ValidationError("box", "required")
	}
	if err := box.WriteFile(t.cfg.SourceFile, []byte(source)); err != nil {
		return result.CompileMetrics{}, appErr.SystemError(err, "write source failed")
	}
	cmd, err := buildCommand(t.cfg.CompileCmd, t.cfg, box)
	if err != nil {
		return result.CompileMetrics{}, err
	}

	limits := t.cfg.CompileLimits
	limits.NoNetwork = true
	runSpec := spec.RunSpec{
		SubmissionID: box.SubmissionID(),
		Step:         "compile",
		WorkDir:      box.SandboxDir(),
		Cmd:          cmd,
		Env:          t.cfg.Env,
		StdoutPath:   box.SandboxPath(compileStdoutName),
		StderrPath:   box.SandboxPath(compileLogName),
		BindMounts:   box.Mounts(),
		Profile:      profile.Name(t.id, profile.TaskTypeCompile),
		Limits:       limits,
	}

	res, err := t.eng.Run(ctx, runSpec)
	if err != nil {
		t.metrics.ObserveCompile(ctx, t.id, false, 0, 0)
		return result.CompileMetrics{}, appErr.SystemError(err, "compile step failed")
	}
	metrics := result.CompileMetrics{TimeMs: res.WallTimeMs, PeakMemoryBytes: res.PeakMemoryBytes}
	ok := !res.TimedOut && !res.KilledForMemory && !res.Crashed()
	t.metrics.ObserveCompile(ctx, t.id, ok, metrics.TimeMs, metrics.PeakMemoryBytes)
	if !ok {
		return metrics, &CompileError{Stderr: compilerOutput(res), ExitCode: res.ExitCode}
	}
	return metrics, nil
}

// run executes cmd once with stdin under limits. Each run gets a fresh scratch
// box as its working directory; the compiled artifact in box is read-only to it.
func (t *toolchain) run(ctx context.Context, box *workspace.Box, cmd []string, env []string, stdin string, limits spec.ResourceLimit) (result.RunResult, error) {
	if box == nil {
		return result.RunResult{}, appErr.ValidationError("box", "required")
	}
	if len(cmd) == 0 {
		return result.RunResult{}, appErr.ValidationError("artifact", "required")
	}
	scratch, err := box.Scratch()
	if err != nil {
		return result.RunResult{}, appErr.SystemError(err, "create run scratch failed")
	}
	defer func() {
		_ = scratch.Close()
	}()
	if err := scratch.WriteFile(inputName, []byte(stdin)); err != nil {
		return result.RunResult{}, appErr.SystemError(err, "write stdin failed")
	}

	runEnv := make([]string, 0, len(env)+1)
	runEnv = append(runEnv, env...)
	runEnv = append(runEnv, "TMPDIR="+scratch.SandboxDir())
	runSpec := spec.RunSpec{
		SubmissionID: box.SubmissionID(),
		Step:         "run",
		WorkDir:      scratch.SandboxDir(),
		Cmd:          cmd,
		Env:          runEnv,
		StdinPath:    scratch.SandboxPath(inputName),
		StdoutPath:   scratch.SandboxPath(outputName),
		StderrPath:   scratch.SandboxPath(runtimeLogName),
		BindMounts:   box.RunMounts(scratch),
		Profile:      profile.Name(t.id, profile.TaskTypeRun),
		Limits:       limits,
	}
	res, err := t.eng.Run(ctx, runSpec)
	if err != nil {
		return result.RunResult{}, appErr.SystemError(err, "run step failed")
	}
	t.metrics.ObserveRun(ctx, t.id, string(result.MapRunVerdict(res)), res.WallTimeMs, res.PeakMemoryBytes)
	return res, nil
}

// runLimits merges problem limits over language defaults and applies multipliers.
// Network is always disabled for user programs.
func (t *toolchain) runLimits(limits spec.ResourceLimit) spec.ResourceLimit {
	merged := t.cfg.RunLimits.Merge(limits)
	merged = applyMultipliers(merged, t.cfg)
	merged.NoNetwork = true
	return merged
}

func buildCommand(tpl string, cfg Config, box *workspace.Box) ([]string, error) {
	if strings.TrimSpace(tpl) == "" {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("command template is required")
	}
	expanded := tpl
	expanded = strings.ReplaceAll(expanded, "{src}", box.SandboxPath(cfg.SourceFile))
	if cfg.BinaryFile != "" {
		expanded = strings.ReplaceAll(expanded, "{bin}", box.SandboxPath(cfg.BinaryFile))
	}
	expanded = strings.ReplaceAll(expanded, "{dir}", box.SandboxDir())
	fields, err := shlex.Split(expanded)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.InvalidParams, "parse command template failed")
	}
	if len(fields) == 0 {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("command is empty after expansion")
	}
	return fields, nil
}

func applyMultipliers(limits spec.ResourceLimit, cfg Config) spec.ResourceLimit {
	limits.CPUTimeMs = scaleLimit(limits.CPUTimeMs, cfg.TimeMultiplier)
	limits.WallTimeMs = scaleLimit(limits.WallTimeMs, cfg.TimeMultiplier)
	limits.MemoryBytes = scaleLimit(limits.MemoryBytes, cfg.MemoryMultiplier)
	return limits
}

func scaleLimit(value int64, multiplier float64) int64 {
	if value <= 0 {
		return 0
	}
	if multiplier <= 0 {
		return value
	}
	return int64(math.Ceil(float64(value) * multiplier))
}

func compilerOutput(res result.RunResult) string {
	out := res.Stderr
	if strings.TrimSpace(out) == "" {
		out = res.Stdout
	}
	if res.TimedOut {
		out = strings.TrimSpace(out + "\ncompilation time limit exceeded")
	} else if res.KilledForMemory {
		out = strings.TrimSpace(out + "\ncompilation memory limit exceeded")
	}
	if len(out) > maxCompileOutput {
		cut := maxCompileOutput
		for cut > 0 && !utf8.RuneStart(out[cut]) {
			cut--
		}
		out = out[:cut]
	}
	return out
}
