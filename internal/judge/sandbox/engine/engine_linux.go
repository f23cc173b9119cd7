//go:build linux

package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"arenajudge/internal/judge/sandbox/result"
	"arenajudge/internal/judge/sandbox/security"
	"arenajudge/internal/judge/sandbox/spec"
	"arenajudge/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	defaultStdoutMaxBytes int64 = 64 * 1024 * 1024
	defaultStderrMaxBytes int64 = 64 * 1024
	statusMaxBytes        int64 = 4096
)

type linuxEngine struct {
	cfg      Config
	resolver ProfileResolver
}

// NewEngine creates a Linux sandbox engine.
func NewEngine(cfg Config, resolver ProfileResolver) (Engine, error) {
	if resolver == nil {
		return nil, fmt.Errorf("profile resolver is required")
	}
	if cfg.EnableCgroup && cfg.CgroupRoot == "" {
		return nil, fmt.Errorf("cgroup root is required")
	}
	if cfg.StdoutMaxBytes <= 0 {
		cfg.StdoutMaxBytes = defaultStdoutMaxBytes
	}
	if cfg.StderrMaxBytes <= 0 {
		cfg.StderrMaxBytes = defaultStderrMaxBytes
	}
	if cfg.HelperPath == "" {
		cfg.HelperPath = "sandbox-init"
	}
	return &linuxEngine{cfg: cfg, resolver: resolver}, nil
}

func (e *linuxEngine) Run(ctx context.Context, runSpec spec.RunSpec) (result.RunResult, error) {
	if err := validateRunSpec(runSpec); err != nil {
		return result.RunResult{}, err
	}

	isoProfile, err := e.resolver.Resolve(runSpec.Profile)
	if err != nil {
		return result.RunResult{}, fmt.Errorf("resolve profile: %w", err)
	}
	if e.cfg.SeccompDir != "" && isoProfile.SeccompProfile != "" && !filepath.IsAbs(isoProfile.SeccompProfile) {
		isoProfile.SeccompProfile = filepath.Join(e.cfg.SeccompDir, isoProfile.SeccompProfile)
	}
	isoProfile.DisableNetwork = isoProfile.DisableNetwork || runSpec.Limits.NoNetwork

	var cg *runCgroup
	if e.cfg.EnableCgroup {
		cg, err = createRunCgroup(e.cfg.CgroupRoot, runSpec.SubmissionID, runSpec.Step)
		if err != nil {
			return result.RunResult{}, fmt.Errorf("create cgroup: %w", err)
		}
		defer cg.Remove()
		if err := cg.ApplyLimits(runSpec.Limits); err != nil {
			return result.RunResult{}, fmt.Errorf("apply cgroup limits: %w", err)
		}
	}

	statusRead, statusWrite, err := os.Pipe()
	if err != nil {
		return result.RunResult{}, fmt.Errorf("create status pipe: %w", err)
	}
	defer statusRead.Close()

	stdinPipe := jsonToPipe(initRequest{
		RunSpec:       runSpec,
		Isolation:     isoProfile,
		EnableSeccomp: e.cfg.EnableSeccomp,
		EnableNs:      e.cfg.EnableNamespaces,
	})
	defer stdinPipe.Close()

	// The wall timer below owns termination; exec.CommandContext would only kill the leader.
	cmd := exec.Command(e.cfg.HelperPath)
	cmd.SysProcAttr = buildSysProcAttr(isoProfile, e.cfg.EnableNamespaces)
	if cg != nil {
		cmd.SysProcAttr.UseCgroupFD = true
		cmd.SysProcAttr.CgroupFD = cg.FD()
	}
	cmd.Stdin = stdinPipe
	cmd.ExtraFiles = []*os.File{statusWrite}

	var helperStderr bytes.Buffer
	cmd.Stdout = io.Discard
	cmd.Stderr = &helperStderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		_ = statusWrite.Close()
		return result.RunResult{}, fmt.Errorf("start helper: %w", err)
	}
	_ = statusWrite.Close()

	var timedOut atomic.Bool
	done := make(chan struct{})
	go func() {
		var wallTimer <-chan time.Time
		if wallLimit := durationFromMs(runSpec.Limits.WallTimeMs); wallLimit > 0 {
			timer := time.NewTimer(wallLimit)
			defer timer.Stop()
			wallTimer = timer.C
		}
		select {
		case <-ctx.Done():
			killProcessGroup(cmd.Process.Pid)
		case <-wallTimer:
			timedOut.Store(true)
			killProcessGroup(cmd.Process.Pid)
		case <-done:
		}
	}()

	waitErr := cmd.Wait()
	close(done)
	wallTimeMs := time.Since(start).Milliseconds()

	setupMsg := readStatus(statusRead)
	if setupMsg != "" {
		logger.Warn(ctx, "sandbox setup failed",
			zap.String("step", runSpec.Step),
			zap.String("reason", setupMsg),
			zap.String("helper_stderr", helperStderr.String()),
		)
		return result.RunResult{}, fmt.Errorf("sandbox setup: %s", setupMsg)
	}
	if err := ctx.Err(); err != nil && !timedOut.Load() {
		return result.RunResult{}, fmt.Errorf("sandbox run canceled: %w", err)
	}
	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) {
		return result.RunResult{}, fmt.Errorf("wait helper: %w", waitErr)
	}

	stdoutPath := resolveHostPath(runSpec.StdoutPath, runSpec)
	stderrPath := resolveHostPath(runSpec.StderrPath, runSpec)
	state := cmd.ProcessState
	runResult := result.RunResult{
		ExitCode:    state.ExitCode(),
		Signal:      signalName(state),
		WallTimeMs:  wallTimeMs,
		CPUTimeMs:   cpuTimeMs(state),
		OutputBytes: fileSize(stdoutPath),
		Stdout:      readLimitedFile(stdoutPath, e.cfg.StdoutMaxBytes),
		Stderr:      readLimitedFile(stderrPath, e.cfg.StderrMaxBytes),
	}
	runResult.OutputTruncated = runResult.OutputBytes > e.cfg.StdoutMaxBytes
	runResult.PeakMemoryBytes = peakMemoryBytes(cg, state)

	limits := runSpec.Limits
	runResult.TimedOut = timedOut.Load() ||
		isSignal(state, syscall.SIGXCPU) ||
		(limits.CPUTimeMs > 0 && runResult.CPUTimeMs > limits.CPUTimeMs)
	runResult.KilledForMemory = cg.OOMKilled() ||
		(limits.MemoryBytes > 0 && runResult.PeakMemoryBytes > limits.MemoryBytes)
	return runResult, nil
}

func validateRunSpec(runSpec spec.RunSpec) error {
	if runSpec.SubmissionID == "" {
		return fmt.Errorf("submission id is required")
	}
	if runSpec.Step == "" {
		return fmt.Errorf("step is required")
	}
	if runSpec.WorkDir == "" {
		return fmt.Errorf("work dir is required")
	}
	if len(runSpec.Cmd) == 0 {
		return fmt.Errorf("command is required")
	}
	if runSpec.Profile == "" {
		return fmt.Errorf("profile is required")
	}
	return nil
}

func jsonToPipe(req initRequest) io.ReadCloser {
	reader, writer := io.Pipe()
	go func() {
		err := json.NewEncoder(writer).Encode(req)
		_ = writer.CloseWithError(err)
	}()
	return reader
}

func readStatus(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, statusMaxBytes))
	return strings.TrimSpace(string(data))
}

func killProcessGroup(pid int) {
	if pid <= 0 {
		return
	}
	_ = syscall.Kill(-pid, syscall.SIGKILL)
}

func buildSysProcAttr(profile security.IsolationProfile, enableNamespaces bool) *syscall.SysProcAttr {
	attr := &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGKILL,
	}
	if !enableNamespaces {
		return attr
	}

	cloneFlags := uintptr(syscall.CLONE_NEWNS | syscall.CLONE_NEWPID | syscall.CLONE_NEWUTS | syscall.CLONE_NEWIPC)
	if profile.DisableNetwork {
		cloneFlags |= syscall.CLONE_NEWNET
	}
	cloneFlags |= syscall.CLONE_NEWUSER

	attr.Cloneflags = cloneFlags
	attr.GidMappingsEnableSetgroups = false
	attr.UidMappings = []syscall.SysProcIDMap{{
		ContainerID: 0,
		HostID:      os.Getuid(),
		Size:        1,
	}}
	attr.GidMappings = []syscall.SysProcIDMap{{
		ContainerID: 0,
		HostID:      os.Getgid(),
		Size:        1,
	}}
	return attr
}
