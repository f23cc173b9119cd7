package engine

import (
	"arenajudge/internal/judge/sandbox/security"
	"arenajudge/internal/judge/sandbox/spec"
)

// statusFD is the helper's fd for reporting setup failures; it is closed on exec.
const statusFD = 3

type initRequest struct {
	RunSpec       spec.RunSpec
	Isolation     security.IsolationProfile
	EnableSeccomp bool
	EnableNs      bool
}
