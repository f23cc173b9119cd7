package model

import (
	"arenajudge/internal/judge/comparator"
	"arenajudge/internal/judge/sandbox/spec"
)

// TestCase is one input/expected pair of a problem, in declared order.
type TestCase struct {
	ID             string
	Ordinal        int
	Input          string
	ExpectedOutput string
	Hidden         bool
}

// ProblemConfig is the judge-facing view of a problem.
type ProblemConfig struct {
	ProblemID string
	Policy    comparator.Policy
	Limits    spec.ResourceLimit
	TestCases []TestCase
}
