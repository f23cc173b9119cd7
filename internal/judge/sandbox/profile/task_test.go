package profile_test

import (
	"testing"

	"arenajudge/internal/judge/sandbox/profile"
)

func TestRepositoryResolve(t *testing.T) {
	t.Parallel()
	repo := profile.NewRepository([]profile.TaskProfile{
		{LanguageID: "cpp", TaskType: profile.TaskTypeRun, RootFS: "/srv/rootfs/cpp", SeccompProfile: "cpp-run.json"},
		{LanguageID: "java", TaskType: profile.TaskTypeCompile, AllowNetwork: true},
		{LanguageID: "java", TaskType: profile.TaskTypeRun, AllowNetwork: true},
		{TaskType: profile.TaskTypeRun, RootFS: "/srv/rootfs/base"},
	})

	iso, err := repo.Resolve(profile.Name("cpp", profile.TaskTypeRun))
	if err != nil {
		t.Fatalf("resolve cpp-run: %v", err)
	}
	if iso.RootFS != "/srv/rootfs/cpp" || iso.SeccompProfile != "cpp-run.json" || !iso.DisableNetwork {
		t.Fatalf("unexpected cpp-run profile: %+v", iso)
	}

	iso, err = repo.Resolve("java-compile")
	if err != nil {
		t.Fatalf("resolve java-compile: %v", err)
	}
	if iso.DisableNetwork {
		t.Fatalf("expected compile profile to keep network when allowed")
	}

	iso, err = repo.Resolve("java-run")
	if err != nil {
		t.Fatalf("resolve java-run: %v", err)
	}
	if !iso.DisableNetwork {
		t.Fatalf("expected run profile to always drop network")
	}

	iso, err = repo.Resolve("python-run")
	if err != nil {
		t.Fatalf("resolve python-run: %v", err)
	}
	if iso.RootFS != "/srv/rootfs/base" {
		t.Fatalf("expected fallback to base run profile, got %+v", iso)
	}

	if _, err := repo.Resolve(""); err == nil {
		t.Fatalf("expected error for empty profile name")
	}
}
