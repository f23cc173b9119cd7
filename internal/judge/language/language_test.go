package language_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"arenajudge/internal/judge/language"
	"arenajudge/internal/judge/sandbox/result"
	"arenajudge/internal/judge/sandbox/spec"
	"arenajudge/internal/judge/sandbox/workspace"
	appErr "arenajudge/pkg/errors"
)

type fakeEngine struct {
	mu      sync.Mutex
	specs   []spec.RunSpec
	stdins  []string
	results []result.RunResult
	err     error
}

func (f *fakeEngine) Run(ctx context.Context, runSpec spec.RunSpec) (result.RunResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.specs = append(f.specs, runSpec)
	if runSpec.StdinPath != "" {
		data, _ := os.ReadFile(hostPath(runSpec, runSpec.StdinPath))
		f.stdins = append(f.stdins, string(data))
	}
	if f.err != nil {
		return result.RunResult{}, f.err
	}
	if len(f.results) == 0 {
		return result.RunResult{}, nil
	}
	res := f.results[0]
	f.results = f.results[1:]
	return res, nil
}

// hostPath maps a sandbox path back through the run's bind mounts.
func hostPath(runSpec spec.RunSpec, path string) string {
	for _, m := range runSpec.BindMounts {
		if rel, ok := strings.CutPrefix(path, m.Target+"/"); ok {
			return filepath.Join(m.Source, rel)
		}
	}
	return path
}

func newBox(t *testing.T) *workspace.Box {
	t.Helper()
	box, err := workspace.New(t.TempDir(), "sub-1", true)
	if err != nil {
		t.Fatalf("new box: %v", err)
	}
	t.Cleanup(func() { _ = box.Close() })
	return box
}

func TestNewRejectsUnknownLanguage(t *testing.T) {
	t.Parallel()
	_, err := language.New("ruby", &fakeEngine{}, language.Config{}, nil)
	if !appErr.Is(err, appErr.LanguageNotSupported) {
		t.Fatalf("expected LanguageNotSupported, got %v", err)
	}
	if language.IsSupported("ruby") || !language.IsSupported("cpp") {
		t.Fatalf("unexpected IsSupported result")
	}
}

func TestCppCompileBuildsSandboxedCommand(t *testing.T) {
	t.Parallel()
	eng := &fakeEngine{results: []result.RunResult{{WallTimeMs: 850}}}
	adapter, err := language.New(language.Cpp, eng, language.Config{}, nil)
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	box := newBox(t)
	artifact, metrics, err := adapter.Compile(context.Background(), box, "int main(){}")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if metrics.TimeMs != 850 {
		t.Fatalf("expected compile time 850, got %d", metrics.TimeMs)
	}
	got := eng.specs[0]
	want := "g++ -std=c++17 -O2 -pipe -o /work/main /work/main.cpp"
	if strings.Join(got.Cmd, " ") != want {
		t.Fatalf("expected %q, got %q", want, strings.Join(got.Cmd, " "))
	}
	if got.Profile != "cpp-compile" || !got.Limits.NoNetwork || got.Step != "compile" {
		t.Fatalf("unexpected compile spec: %+v", got)
	}
	if len(got.BindMounts) != 1 || got.BindMounts[0].Source != box.Dir() {
		t.Fatalf("expected the box to be mounted, got %+v", got.BindMounts)
	}
	source, err := os.ReadFile(box.Path("main.cpp"))
	if err != nil || string(source) != "int main(){}" {
		t.Fatalf("expected source written to box, got %q (%v)", source, err)
	}
	if strings.Join(artifact.Cmd, " ") != "/work/main" {
		t.Fatalf("unexpected artifact command %v", artifact.Cmd)
	}
}

func TestCompileFailureReturnsCompileError(t *testing.T) {
	t.Parallel()
	eng := &fakeEngine{results: []result.RunResult{{
		ExitCode:   1,
		Stderr:     "main.cpp:1:1: error: expected unqualified-id",
		WallTimeMs: 300,
	}}}
	adapter, err := language.New(language.Cpp, eng, language.Config{}, nil)
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	_, metrics, err := adapter.Compile(context.Background(), newBox(t), "int main( {")
	var compileErr *language.CompileError
	if !errors.As(err, &compileErr) {
		t.Fatalf("expected CompileError, got %v", err)
	}
	if compileErr.ExitCode != 1 || !strings.Contains(compileErr.Stderr, "expected unqualified-id") {
		t.Fatalf("unexpected compile error: %+v", compileErr)
	}
	if metrics.TimeMs != 300 {
		t.Fatalf("expected compile time recorded on failure, got %d", metrics.TimeMs)
	}
}

func TestCompileOutputKeepsRunesWhole(t *testing.T) {
	t.Parallel()
	stderr := "x" + strings.Repeat("é", 40000)
	eng := &fakeEngine{results: []result.RunResult{{ExitCode: 1, Stderr: stderr}}}
	adapter, err := language.New(language.Cpp, eng, language.Config{}, nil)
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	_, _, err = adapter.Compile(context.Background(), newBox(t), "int main( {")
	var compileErr *language.CompileError
	if !errors.As(err, &compileErr) {
		t.Fatalf("expected CompileError, got %v", err)
	}
	if len(compileErr.Stderr) > 64*1024 || len(compileErr.Stderr) < 64*1024-utf8.UTFMax {
		t.Fatalf("expected output capped near 64 KiB, got %d bytes", len(compileErr.Stderr))
	}
	if !utf8.ValidString(compileErr.Stderr) {
		t.Fatalf("expected truncated output to stay valid UTF-8")
	}
}

func TestCompileTimeoutIsCompileError(t *testing.T) {
	t.Parallel()
	eng := &fakeEngine{results: []result.RunResult{{TimedOut: true, ExitCode: -1, Signal: "killed"}}}
	adapter, err := language.New(language.Java, eng, language.Config{}, nil)
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	_, _, err = adapter.Compile(context.Background(), newBox(t), "class Main {}")
	var compileErr *language.CompileError
	if !errors.As(err, &compileErr) || !strings.Contains(compileErr.Stderr, "time limit") {
		t.Fatalf("expected compile timeout error, got %v", err)
	}
}

func TestSandboxFailureIsSystemError(t *testing.T) {
	t.Parallel()
	eng := &fakeEngine{err: errors.New("create cgroup: no space left on device")}
	adapter, err := language.New(language.Python, eng, language.Config{}, nil)
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	_, _, err = adapter.Compile(context.Background(), newBox(t), "print(1+1)")
	if !appErr.Is(err, appErr.JudgeSystemError) {
		t.Fatalf("expected JudgeSystemError, got %v", err)
	}
	var compileErr *language.CompileError
	if errors.As(err, &compileErr) {
		t.Fatalf("infrastructure failure must not look like a compile error")
	}
}

func TestPythonRunAppliesMultipliers(t *testing.T) {
	t.Parallel()
	eng := &fakeEngine{results: []result.RunResult{{}, {Stdout: "2\n", WallTimeMs: 40}}}
	adapter, err := language.New(language.Python, eng, language.Config{}, nil)
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	box := newBox(t)
	artifact, _, err := adapter.Compile(context.Background(), box, "print(1+1)")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	res, err := adapter.Run(context.Background(), box, artifact, "", spec.ResourceLimit{WallTimeMs: 2000, CPUTimeMs: 1000, MemoryBytes: 256 << 20})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Stdout != "2\n" {
		t.Fatalf("unexpected stdout %q", res.Stdout)
	}
	got := eng.specs[1]
	if got.Limits.WallTimeMs != 4000 || got.Limits.CPUTimeMs != 2000 || got.Limits.MemoryBytes != 256<<20 {
		t.Fatalf("unexpected run limits: %+v", got.Limits)
	}
	if !got.Limits.NoNetwork || got.Profile != "python-run" {
		t.Fatalf("expected network disabled run profile, got %+v", got)
	}
	if got.StdinPath != "/scratch/input.txt" || got.StdoutPath != "/scratch/output.txt" || got.WorkDir != workspace.ScratchDir {
		t.Fatalf("unexpected io paths: %s %s", got.StdinPath, got.StdoutPath)
	}
	if len(got.BindMounts) != 2 || got.BindMounts[0].Target != workspace.ContainerDir || !got.BindMounts[0].ReadOnly {
		t.Fatalf("expected the artifact mounted read-only, got %+v", got.BindMounts)
	}
	if got.BindMounts[1].Target != workspace.ScratchDir || got.BindMounts[1].ReadOnly {
		t.Fatalf("expected a writable scratch mount, got %+v", got.BindMounts[1])
	}
	if _, err := os.Stat(got.BindMounts[1].Source); !os.IsNotExist(err) {
		t.Fatalf("expected scratch removed after the run, got %v", err)
	}
	if !strings.Contains(strings.Join(got.Env, " "), "PYTHONDONTWRITEBYTECODE=1") {
		t.Fatalf("expected bytecode writes disabled, got %v", got.Env)
	}
}

func TestJavaRunCapsHeap(t *testing.T) {
	t.Parallel()
	eng := &fakeEngine{}
	adapter, err := language.New(language.Java, eng, language.Config{}, nil)
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	box := newBox(t)
	artifact, _, err := adapter.Compile(context.Background(), box, "public class Main {}")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if info, err := os.Stat(box.Path("classes")); err != nil || !info.IsDir() {
		t.Fatalf("expected class dir to exist: %v", err)
	}
	if _, err := adapter.Run(context.Background(), box, artifact, "1\n", spec.ResourceLimit{MemoryBytes: 256 << 20}); err != nil {
		t.Fatalf("run: %v", err)
	}
	run := eng.specs[1]
	want := "java -Xmx256m -Xss64m -XX:+UseSerialGC -cp /work/classes Main"
	if strings.Join(run.Cmd, " ") != want {
		t.Fatalf("expected %q, got %q", want, strings.Join(run.Cmd, " "))
	}
	if run.Limits.MemoryBytes != 512<<20 {
		t.Fatalf("expected cgroup limit widened by multiplier, got %d", run.Limits.MemoryBytes)
	}
	if len(eng.stdins) != 1 || eng.stdins[0] != "1\n" {
		t.Fatalf("expected stdin written, got %q", eng.stdins)
	}
}

func TestConfigOverride(t *testing.T) {
	t.Parallel()
	eng := &fakeEngine{}
	adapter, err := language.New(language.Cpp, eng, language.Config{CompileCmd: "clang++ -O2 -o {bin} {src}"}, nil)
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	if _, _, err := adapter.Compile(context.Background(), newBox(t), "int main(){}"); err != nil {
		t.Fatalf("compile: %v", err)
	}
	if eng.specs[0].Cmd[0] != "clang++" {
		t.Fatalf("expected override command, got %v", eng.specs[0].Cmd)
	}
}

func TestRegistry(t *testing.T) {
	t.Parallel()
	reg, err := language.NewRegistry(&fakeEngine{}, nil, nil)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	if got := strings.Join(reg.IDs(), ","); got != "cpp,java,javascript,python" {
		t.Fatalf("unexpected ids %s", got)
	}
	if _, err := reg.Get("go"); !appErr.Is(err, appErr.LanguageNotSupported) {
		t.Fatalf("expected LanguageNotSupported, got %v", err)
	}
	if _, err := language.NewRegistry(&fakeEngine{}, map[string]language.Config{"rust": {}}, nil); err == nil {
		t.Fatalf("expected unknown language in config to fail")
	}
}
