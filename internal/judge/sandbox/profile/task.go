// Package profile maps sandbox profile names to isolation settings.
package profile

import (
	"fmt"
	"strings"

	"arenajudge/internal/judge/sandbox/security"
	appErr "arenajudge/pkg/errors"
)

// TaskType identifies the sandbox task category.
type TaskType string

const (
	TaskTypeCompile TaskType = "compile"
	TaskTypeRun     TaskType = "run"
)

// TaskProfile defines isolation settings for one language and task type.
type TaskProfile struct {
	LanguageID     string   `yaml:"languageId"`
	TaskType       TaskType `yaml:"taskType"`
	RootFS         string   `yaml:"rootfs"`
	SeccompProfile string   `yaml:"seccompProfile"`
	// AllowNetwork is only honored for compile steps.
	AllowNetwork bool `yaml:"allowNetwork"`
}

// Name returns the profile key used in RunSpec.Profile.
func Name(languageID string, taskType TaskType) string {
	if languageID == "" {
		return string(taskType)
	}
	return fmt.Sprintf("%s-%s", languageID, taskType)
}

// Repository resolves profile names from an in-memory list.
// Unknown names fall back to the bare task type profile, then to a default with no rootfs.
type Repository struct {
	profiles map[string]TaskProfile
}

// NewRepository creates a repository from config lists.
func NewRepository(profiles []TaskProfile) *Repository {
	profileMap := make(map[string]TaskProfile, len(profiles))
	for _, prof := range profiles {
		if prof.TaskType == "" {
			continue
		}
		profileMap[Name(prof.LanguageID, prof.TaskType)] = prof
	}
	return &Repository{profiles: profileMap}
}

// Resolve maps a profile name to isolation settings.
func (r *Repository) Resolve(name string) (security.IsolationProfile, error) {
	if name == "" {
		return security.IsolationProfile{}, appErr.ValidationError("profile", "required")
	}
	prof, ok := r.profiles[name]
	if !ok {
		prof, ok = r.fallback(name)
	}
	if !ok {
		return security.IsolationProfile{DisableNetwork: true}, nil
	}
	return security.IsolationProfile{
		RootFS:         prof.RootFS,
		SeccompProfile: prof.SeccompProfile,
		DisableNetwork: !(prof.AllowNetwork && prof.TaskType == TaskTypeCompile),
	}, nil
}

func (r *Repository) fallback(name string) (TaskProfile, bool) {
	for _, taskType := range []TaskType{TaskTypeCompile, TaskTypeRun} {
		if strings.HasSuffix(name, "-"+string(taskType)) {
			prof, ok := r.profiles[string(taskType)]
			return prof, ok
		}
	}
	return TaskProfile{}, false
}
