// Package security defines sandbox isolation and security profiles.
package security

// IsolationProfile describes namespace, filesystem and seccomp settings for one process.
type IsolationProfile struct {
	RootFS         string
	SeccompProfile string
	DisableNetwork bool
}
