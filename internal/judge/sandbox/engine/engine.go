// Package engine runs one process under sandbox limits.
//
// Each Run call owns its cgroup and process group; the engine keeps no
// record of running jobs.
package engine

import (
	"context"

	"arenajudge/internal/judge/sandbox/result"
	"arenajudge/internal/judge/sandbox/spec"
)

// Engine executes a RunSpec inside an isolated sandbox.
//
// A returned error means the sandbox itself failed (setup, helper start,
// cgroup). Program failures are reported through the RunResult.
type Engine interface {
	Run(ctx context.Context, runSpec spec.RunSpec) (result.RunResult, error)
}
