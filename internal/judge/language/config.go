package language

import "arenajudge/internal/judge/sandbox/spec"

// Config describes the toolchain of one language.
//
// Command templates are split with shell rules after expanding {src}, {bin} and {dir}.
type Config struct {
	SourceFile       string             `yaml:"sourceFile"`
	BinaryFile       string             `yaml:"binaryFile"`
	CompileCmd       string             `yaml:"compileCmd"`
	RunCmd           string             `yaml:"runCmd"`
	Env              []string           `yaml:"env"`
	TimeMultiplier   float64            `yaml:"timeMultiplier"`
	MemoryMultiplier float64            `yaml:"memoryMultiplier"`
	CompileLimits    spec.ResourceLimit `yaml:"compileLimits"`
	RunLimits        spec.ResourceLimit `yaml:"runLimits"`
}

// Merge returns c with the non-zero fields of override applied.
func (c Config) Merge(override Config) Config {
	if override.SourceFile != "" {
		c.SourceFile = override.SourceFile
	}
	if override.BinaryFile != "" {
		c.BinaryFile = override.BinaryFile
	}
	if override.CompileCmd != "" {
		c.CompileCmd = override.CompileCmd
	}
	if override.RunCmd != "" {
		c.RunCmd = override.RunCmd
	}
	if len(override.Env) > 0 {
		c.Env = override.Env
	}
	if override.TimeMultiplier > 0 {
		c.TimeMultiplier = override.TimeMultiplier
	}
	if override.MemoryMultiplier > 0 {
		c.MemoryMultiplier = override.MemoryMultiplier
	}
	c.CompileLimits = c.CompileLimits.Merge(override.CompileLimits)
	c.RunLimits = c.RunLimits.Merge(override.RunLimits)
	return c
}

const (
	defaultPath = "PATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"
	mib         = int64(1) << 20
)

var defaultCompileLimits = spec.ResourceLimit{
	CPUTimeMs:   10000,
	WallTimeMs:  15000,
	MemoryBytes: 512 * mib,
	OutputBytes: 64 * mib,
	PIDs:        64,
	NoNetwork:   true,
}

// DefaultConfigs returns the built-in toolchain for every supported language.
func DefaultConfigs() map[string]Config {
	return map[string]Config{
		Cpp: {
			SourceFile:    "main.cpp",
			BinaryFile:    "main",
			CompileCmd:    "g++ -std=c++17 -O2 -pipe -o {bin} {src}",
			RunCmd:        "{bin}",
			Env:           []string{defaultPath},
			CompileLimits: defaultCompileLimits,
			RunLimits:     spec.ResourceLimit{PIDs: 4, StackBytes: 256 * mib, OutputBytes: 64 * mib},
		},
		Java: {
			SourceFile:       "Main.java",
			BinaryFile:       "classes",
			CompileCmd:       "javac -encoding UTF-8 -d {bin} {src}",
			RunCmd:           "java -Xss64m -XX:+UseSerialGC -cp {bin} Main",
			Env:              []string{defaultPath},
			TimeMultiplier:   2,
			MemoryMultiplier: 2,
			CompileLimits:    defaultCompileLimits.Merge(spec.ResourceLimit{MemoryBytes: 1024 * mib, PIDs: 128}),
			RunLimits:        spec.ResourceLimit{PIDs: 64, OutputBytes: 64 * mib},
		},
		Python: {
			SourceFile:       "main.py",
			CompileCmd:       "python3 -m py_compile {src}",
			RunCmd:           "python3 -S {src}",
			Env:              []string{defaultPath, "PYTHONUNBUFFERED=1", "PYTHONIOENCODING=utf-8"},
			TimeMultiplier:   2,
			MemoryMultiplier: 1,
			CompileLimits:    defaultCompileLimits,
			RunLimits:        spec.ResourceLimit{PIDs: 4, OutputBytes: 64 * mib},
		},
		JavaScript: {
			SourceFile:       "main.js",
			CompileCmd:       "node --check {src}",
			RunCmd:           "node {src}",
			Env:              []string{defaultPath},
			TimeMultiplier:   2,
			MemoryMultiplier: 2,
			CompileLimits:    defaultCompileLimits,
			RunLimits:        spec.ResourceLimit{PIDs: 16, OutputBytes: 64 * mib},
		},
	}
}
