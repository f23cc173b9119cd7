// Package spec defines the execution specification and resource limits.
package spec

// ResourceLimit describes hard limits enforced by the sandbox.
// Zero disables a limit.
type ResourceLimit struct {
	CPUTimeMs   int64 `json:"cpuTimeMs" yaml:"cpuTimeMs"`
	WallTimeMs  int64 `json:"wallTimeMs" yaml:"wallTimeMs"`
	MemoryBytes int64 `json:"memoryBytes" yaml:"memoryBytes"`
	StackBytes  int64 `json:"stackBytes,omitempty" yaml:"stackBytes"`
	OutputBytes int64 `json:"outputBytes,omitempty" yaml:"outputBytes"`
	PIDs        int64 `json:"pids,omitempty" yaml:"pids"`
	NoNetwork   bool  `json:"noNetwork" yaml:"noNetwork"`
}

// Merge returns base with every positive field of override applied.
// NoNetwork is sticky: once set on either side it stays set.
func (base ResourceLimit) Merge(override ResourceLimit) ResourceLimit {
	if override.CPUTimeMs > 0 {
		base.CPUTimeMs = override.CPUTimeMs
	}
	if override.WallTimeMs > 0 {
		base.WallTimeMs = override.WallTimeMs
	}
	if override.MemoryBytes > 0 {
		base.MemoryBytes = override.MemoryBytes
	}
	if override.StackBytes > 0 {
		base.StackBytes = override.StackBytes
	}
	if override.OutputBytes > 0 {
		base.OutputBytes = override.OutputBytes
	}
	if override.PIDs > 0 {
		base.PIDs = override.PIDs
	}
	base.NoNetwork = base.NoNetwork || override.NoNetwork
	return base
}

// MountSpec describes a bind mount inside the sandbox.
type MountSpec struct {
	Source   string
	Target   string
	ReadOnly bool
}

// RunSpec is the unified execution specification for one process.
// Paths other than BindMounts sources are container paths.
type RunSpec struct {
	SubmissionID string
	Step         string
	WorkDir      string
	Cmd          []string
	Env          []string
	StdinPath    string
	StdoutPath   string
	StderrPath   string
	BindMounts   []MountSpec
	Profile      string
	Limits       ResourceLimit
}
