//go:build integration

package itest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"
)

const cliTimeout = 30 * time.Second

type robustCase struct {
	name            string
	args            func(t *testing.T, repoRoot string) []string
	env             map[string]string
	wantCode        int
	wantContains    []string
	wantNotContains []string
}

type cliRunResult struct {
	exitCode int
	output   string
}

func TestRobustness_ArgsValidation(t *testing.T) {
	repoRoot := mustRepoRoot(t)
	sample := makeFixture(t)

	cases := []robustCase{
		{
			name:         "no args",
			args:         staticArgs("clip"),
			wantCode:     2,
			wantContains: []string{"accepts 1 arg(s), received 0"},
		},
		{
			name:         "too many args",
			args:         staticArgs("clip", sample, "extra"),
			wantCode:     2,
			wantContains: []string{"accepts 1 arg(s), received 2"},
		},
		{
			name:         "unknown flag",
			args:         staticArgs("clip", sample, "--wat"),
			wantCode:     2,
			wantContains: []string{"unknown flag: --wat"},
		},
		{
			name:         "missing start",
			args:         staticArgs("clip", sample),
			wantCode:     2,
			wantContains: []string{"start time is required"},
		},
		{
			name:         "bad time",
			args:         staticArgs("clip", sample, "--start", "1:2:3:4"),
			wantCode:     2,
			wantContains: []string{"invalid time format"},
		},
		{
			name:         "empty range",
			args:         staticArgs("clip", sample, "--start", "5", "--end", "5"),
			wantCode:     2,
			wantContains: []string{"out_of_range"},
		},
		{
			name:         "past the end",
			args:         staticArgs("plan", sample, "--start", "5", "--end", "90"),
			wantCode:     2,
			wantContains: []string{"out_of_range"},
		},
		{
			name:         "bad mode",
			args:         staticArgs("clip", sample, "--start", "1", "--mode", "fast"),
			wantCode:     2,
			wantContains: []string{"unknown clipping mode"},
		},
		{
			name:         "copy into webm is unsupported",
			args:         staticArgs("clip", sample, "--start", "4", "--end", "6", "--mode", "copy", "--container", "webm"),
			wantCode:     4,
			wantContains: []string{"plan_unsupported"},
		},
		{
			name:         "json error shape",
			args:         staticArgs("--json", "clip", sample, "--start", "9", "--end", "3"),
			wantCode:     2,
			wantContains: []string{`"code": "out_of_range"`, `"phase":`},
		},
	}

	runRobustCases(t, repoRoot, cases)
}

func TestRobustness_InvalidInputMedia(t *testing.T) {
	repoRoot := mustRepoRoot(t)
	dir := t.TempDir()
	notMedia := filepath.Join(dir, "not-media.txt")
	if err := os.WriteFile(notMedia, []byte("hello"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	cases := []robustCase{
		{
			name:         "missing input path",
			args:         staticArgs("clip", filepath.Join(dir, "does-not-exist.mp4"), "--start", "0"),
			wantCode:     2,
			wantContains: []string{"stat input:"},
		},
		{
			name:         "input is non media file",
			args:         staticArgs("clip", notMedia, "--start", "0"),
			wantCode:     3,
			wantContains: []string{"probe_fail"},
		},
		{
			name:         "inspect non media file",
			args:         staticArgs("inspect", notMedia),
			wantCode:     3,
			wantContains: []string{"probe_fail"},
		},
		{
			name: "out parent is a file",
			args: func(t *testing.T, _ string) []string {
				t.Helper()
				return []string{"clip", makeFixture(t), "--start", "4", "--end", "6", "--out", filepath.Join(notMedia, "clip.mp4")}
			},
			wantCode:     5,
			wantContains: []string{"not a directory"},
		},
	}

	runRobustCases(t, repoRoot, cases)
}

func TestRobustness_EnvOverrides(t *testing.T) {
	repoRoot := mustRepoRoot(t)
	sample := makeFixture(t)

	cases := []robustCase{
		{
			name:         "ffprobe override missing",
			args:         staticArgs("inspect", sample),
			env:          map[string]string{"SPLICECUT_FFPROBE": "/nonexistent/ffprobe"},
			wantCode:     3,
			wantContains: []string{"locate /nonexistent/ffprobe"},
		},
		{
			name:         "bad log level",
			args:         staticArgs("inspect", sample),
			env:          map[string]string{"SPLICECUT_LOG_LEVEL": "loud"},
			wantCode:     2,
			wantContains: []string{"logging.level"},
		},
	}

	runRobustCases(t, repoRoot, cases)
}

func runRobustCases(t *testing.T, repoRoot string, cases []robustCase) {
	t.Helper()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := runCLI(t, repoRoot, tc.args(t, repoRoot), tc.env)
			if res.exitCode != tc.wantCode {
				t.Fatalf("expected exit code %d, got %d\noutput:\n%s", tc.wantCode, res.exitCode, res.output)
			}
			for _, want := range tc.wantContains {
				if !strings.Contains(res.output, want) {
					t.Fatalf("expected output to contain %q\noutput:\n%s", want, res.output)
				}
			}
			for _, notWant := range tc.wantNotContains {
				if strings.Contains(res.output, notWant) {
					t.Fatalf("expected output to not contain %q\noutput:\n%s", notWant, res.output)
				}
			}
		})
	}
}

func runCLI(t *testing.T, repoRoot string, args []string, env map[string]string) cliRunResult {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), cliTimeout)
	defer cancel()

	bin := buildCLI(t, repoRoot)
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Dir = repoRoot
	cmd.Env = mergeEnv(
		os.Environ(),
		map[string]string{
			"NO_COLOR":             "1",
			"TERM":                 "dumb",
			"SPLICECUT_CACHE_PATH": filepath.Join(t.TempDir(), "probe.db"),
		},
		env,
	)

	out, err := cmd.CombinedOutput()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		t.Fatalf("command timed out after %s: splicecut %s", cliTimeout, strings.Join(args, " "))
	}

	res := cliRunResult{output: string(out)}
	if err == nil {
		res.exitCode = 0
		return res
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.exitCode = exitErr.ExitCode()
		return res
	}

	t.Fatalf("run command: %v\noutput:\n%s", err, string(out))
	return cliRunResult{}
}

var (
	buildOnce sync.Once
	builtBin  string
	buildErr  error
)

// buildCLI compiles the binary once per test process. go run would replace
// the exit code with its own.
func buildCLI(t *testing.T, repoRoot string) string {
	t.Helper()
	buildOnce.Do(func() {
		dir, err := os.MkdirTemp("", "splicecut-itest-")
		if err != nil {
			buildErr = err
			return
		}
		builtBin = filepath.Join(dir, "splicecut")
		cmd := exec.Command("go", "build", "-o", builtBin, "./cmd/splicecut")
		cmd.Dir = repoRoot
		if out, err := cmd.CombinedOutput(); err != nil {
			buildErr = fmt.Errorf("go build: %w\n%s", err, out)
		}
	})
	if buildErr != nil {
		t.Fatalf("build cli: %v", buildErr)
	}
	return builtBin
}

func mergeEnv(base []string, overrides ...map[string]string) []string {
	env := make(map[string]string, len(base))
	for _, kv := range base {
		i := strings.IndexByte(kv, '=')
		if i <= 0 {
			continue
		}
		env[kv[:i]] = kv[i+1:]
	}

	for _, set := range overrides {
		for k, v := range set {
			env[k] = v
		}
	}

	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, fmt.Sprintf("%s=%s", k, v))
	}
	sort.Strings(out)
	return out
}

func mustRepoRoot(t *testing.T) string {
	t.Helper()

	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("repo root: %v", err)
	}
	for dir := wd; ; {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatalf("repo root: no go.mod above %s", wd)
		}
		dir = parent
	}
}

func staticArgs(args ...string) func(t *testing.T, _ string) []string {
	clone := append([]string(nil), args...)
	return func(t *testing.T, _ string) []string {
		t.Helper()
		return append([]string(nil), clone...)
	}
}
