//go:build linux

package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"arenajudge/internal/judge/sandbox/spec"

	"github.com/google/uuid"
)

// runCgroup is a cgroup v2 leaf owned by a single Run call.
type runCgroup struct {
	path string
	dir  *os.File
}

func createRunCgroup(root, submissionID, step string) (*runCgroup, error) {
	if root == "" {
		return nil, fmt.Errorf("cgroup root is required")
	}
	runDir := fmt.Sprintf("%s-%s", step, uuid.NewString())
	cgroupPath := filepath.Join(root, submissionID, runDir)
	if err := os.MkdirAll(cgroupPath, 0750); err != nil {
		return nil, fmt.Errorf("create cgroup path: %w", err)
	}
	dir, err := os.Open(cgroupPath)
	if err != nil {
		_ = os.Remove(cgroupPath)
		return nil, fmt.Errorf("open cgroup dir: %w", err)
	}
	return &runCgroup{path: cgroupPath, dir: dir}, nil
}

// FD is passed to clone so the helper starts inside the cgroup.
func (c *runCgroup) FD() int {
	return int(c.dir.Fd())
}

func (c *runCgroup) ApplyLimits(limits spec.ResourceLimit) error {
	pidsValue := "max"
	if limits.PIDs > 0 {
		pidsValue = strconv.FormatInt(limits.PIDs, 10)
	}
	if err := c.write("pids.max", pidsValue); err != nil {
		return err
	}
	if limits.MemoryBytes > 0 {
		if err := c.write("memory.max", strconv.FormatInt(limits.MemoryBytes, 10)); err != nil {
			return err
		}
		if c.has("memory.swap.max") {
			if err := c.write("memory.swap.max", "0"); err != nil {
				return err
			}
		}
	}
	return c.write("cpu.max", "max 100000")
}

// Remove kills anything left in the cgroup and deletes it.
func (c *runCgroup) Remove() {
	if c == nil {
		return
	}
	_ = c.write("cgroup.kill", "1")
	_ = c.dir.Close()
	_ = os.Remove(c.path)
	_ = os.Remove(filepath.Dir(c.path))
}

func (c *runCgroup) OOMKilled() bool {
	if c == nil {
		return false
	}
	data, err := os.ReadFile(filepath.Join(c.path, "memory.events"))
	if err != nil {
		return false
	}
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) != 2 || fields[0] != "oom_kill" {
			continue
		}
		val, _ := strconv.ParseInt(fields[1], 10, 64)
		return val > 0
	}
	return false
}

func peakMemoryBytes(c *runCgroup, state *os.ProcessState) int64 {
	if c != nil {
		if val, err := c.readInt("memory.peak"); err == nil && val > 0 {
			return val
		}
	}
	if state == nil {
		return 0
	}
	if usage, ok := state.SysUsage().(*syscall.Rusage); ok {
		return usage.Maxrss * 1024
	}
	return 0
}

func (c *runCgroup) readInt(name string) (int64, error) {
	data, err := os.ReadFile(filepath.Join(c.path, name))
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
}

func (c *runCgroup) has(name string) bool {
	_, err := os.Stat(filepath.Join(c.path, name))
	return err == nil
}

func (c *runCgroup) write(name, value string) error {
	return os.WriteFile(filepath.Join(c.path, name), []byte(value), 0640)
}
