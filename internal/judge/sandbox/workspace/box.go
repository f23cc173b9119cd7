// Package workspace manages the per-submission directories shared with the sandbox.
//
// A submission owns one Box for its source and compiled artifact. Each test run
// gets its own scratch Box from Scratch; runs see the submission box read-only.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"arenajudge/internal/judge/sandbox/spec"
)

const (
	// ContainerDir is where the submission box is mounted inside the sandbox.
	ContainerDir = "/work"
	// ScratchDir is where a run's scratch box is mounted inside the sandbox.
	ScratchDir = "/scratch"
)

// Box is an ephemeral directory owned by one submission.
// Close removes it; callers defer Close right after New.
type Box struct {
	submissionID string
	dir          string
	target       string
	mounted      bool
}

// New creates a fresh box under root. When mounted is true the sandbox sees the
// box at ContainerDir; otherwise sandboxed processes use host paths directly.
func New(root, submissionID string, mounted bool) (*Box, error) {
	if root == "" {
		return nil, fmt.Errorf("work root is required")
	}
	if submissionID == "" {
		return nil, fmt.Errorf("submission id is required")
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("create work root: %w", err)
	}
	dir, err := os.MkdirTemp(root, submissionID+"-")
	if err != nil {
		return nil, fmt.Errorf("create box: %w", err)
	}
	if err := os.Chmod(dir, 0755); err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("chmod box: %w", err)
	}
	return &Box{submissionID: submissionID, dir: dir, target: ContainerDir, mounted: mounted}, nil
}

// Scratch creates an empty writable box for one run, next to b rather than
// inside it so that b can be exposed read-only.
func (b *Box) Scratch() (*Box, error) {
	dir, err := os.MkdirTemp(filepath.Dir(b.dir), b.submissionID+"-run-")
	if err != nil {
		return nil, fmt.Errorf("create scratch: %w", err)
	}
	if err := os.Chmod(dir, 0755); err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("chmod scratch: %w", err)
	}
	return &Box{submissionID: b.submissionID, dir: dir, target: ScratchDir, mounted: b.mounted}, nil
}

// SubmissionID returns the owning submission.
func (b *Box) SubmissionID() string {
	return b.submissionID
}

// Dir returns the host directory.
func (b *Box) Dir() string {
	return b.dir
}

// Path returns the host path of name inside the box.
func (b *Box) Path(name string) string {
	return filepath.Join(b.dir, name)
}

// SandboxDir returns the box directory as seen by sandboxed processes.
func (b *Box) SandboxDir() string {
	if b.mounted {
		return b.target
	}
	return b.dir
}

// SandboxPath returns the path of name as seen by sandboxed processes.
func (b *Box) SandboxPath(name string) string {
	return filepath.Join(b.SandboxDir(), name)
}

// WriteFile writes data to name inside the box.
func (b *Box) WriteFile(name string, data []byte) error {
	if err := checkName(name); err != nil {
		return err
	}
	path := b.Path(name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create dir for %s: %w", name, err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// Mkdir creates the directory name inside the box.
func (b *Box) Mkdir(name string) error {
	if err := checkName(name); err != nil {
		return err
	}
	if err := os.MkdirAll(b.Path(name), 0755); err != nil {
		return fmt.Errorf("mkdir %s: %w", name, err)
	}
	return nil
}

// Mounts returns the writable bind mount exposing the box, if any.
// Compile steps use it.
func (b *Box) Mounts() []spec.MountSpec {
	if !b.mounted {
		return nil
	}
	return []spec.MountSpec{{Source: b.dir, Target: b.target}}
}

// RunMounts exposes b read-only and scratch writable. Unmounted boxes are
// bound over their own host path so the read-only remount still applies.
func (b *Box) RunMounts(scratch *Box) []spec.MountSpec {
	if !b.mounted {
		return []spec.MountSpec{{Source: b.dir, Target: b.dir, ReadOnly: true}}
	}
	return []spec.MountSpec{
		{Source: b.dir, Target: b.target, ReadOnly: true},
		{Source: scratch.dir, Target: scratch.target},
	}
}

// Close removes the box and everything in it.
func (b *Box) Close() error {
	if b == nil || b.dir == "" {
		return nil
	}
	return os.RemoveAll(b.dir)
}

func checkName(name string) error {
	clean := filepath.Clean(name)
	if name == "" || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return fmt.Errorf("invalid box file name: %q", name)
	}
	return nil
}
