package engine

import "arenajudge/internal/judge/sandbox/security"

// ProfileResolver resolves a profile name into an isolation profile.
type ProfileResolver interface {
	Resolve(profile string) (security.IsolationProfile, error)
}

// Config controls sandbox engine behavior.
type Config struct {
	CgroupRoot       string `yaml:"cgroupRoot"`
	SeccompDir       string `yaml:"seccompDir"`
	HelperPath       string `yaml:"helperPath"`
	StdoutMaxBytes   int64  `yaml:"stdoutMaxBytes"`
	StderrMaxBytes   int64  `yaml:"stderrMaxBytes"`
	EnableSeccomp    bool   `yaml:"enableSeccomp"`
	EnableCgroup     bool   `yaml:"enableCgroup"`
	EnableNamespaces bool   `yaml:"enableNamespaces"`
}
