package report

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestWriteMetrics(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "git-mirror.prom")

	repos := []RepoSample{
		{Name: "a/x", Success: true, Duration: 1500 * time.Millisecond},
		{Name: "a/y", Success: false, Duration: 250 * time.Millisecond},
	}
	sum := Summary{Total: 3, Succeeded: 1, Failed: 1, Skipped: 1, Duration: 2 * time.Second}

	if err := WriteMetrics(path, repos, sum); err != nil {
		t.Fatalf("WriteMetrics() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("unable to read metrics file: %v", err)
	}
	content := string(data)

	for _, want := range []string{
		`git_mirror_repo_success{repo="a/x"} 1`,
		`git_mirror_repo_success{repo="a/y"} 0`,
		`git_mirror_repo_duration_seconds{repo="a/x"} 1.5`,
		`git_mirror_repos_total 3`,
		`git_mirror_repos_succeeded 1`,
		`git_mirror_repos_failed 1`,
		`git_mirror_repos_skipped 1`,
		`git_mirror_run_duration_seconds 2`,
		`git_mirror_last_run_timestamp`,
		`# HELP git_mirror_repo_success`,
		`# TYPE git_mirror_repo_success gauge`,
	} {
		if !strings.Contains(content, want) {
			t.Errorf("metrics file missing %q:\n%s", want, content)
		}
	}
}

func TestWriteMetrics_replaces_previous_snapshot(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "git-mirror.prom")

	first := []RepoSample{{Name: "a/x", Success: true}, {Name: "a/gone", Success: true}}
	if err := WriteMetrics(path, first, Summary{Total: 2, Succeeded: 2}); err != nil {
		t.Fatalf("WriteMetrics() error = %v", err)
	}

	// a repository deleted upstream must not linger from the previous run
	second := []RepoSample{{Name: "a/x", Success: true}}
	if err := WriteMetrics(path, second, Summary{Total: 1, Succeeded: 1}); err != nil {
		t.Fatalf("WriteMetrics() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("unable to read metrics file: %v", err)
	}
	if strings.Contains(string(data), "a/gone") {
		t.Errorf("stale sample survived the rewrite:\n%s", data)
	}

	// the rename must not leave temp files behind
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("unable to list output dir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != filepath.Base(path) {
		t.Errorf("unexpected leftovers in output dir: %v", entries)
	}
}

func TestWriteMetrics_no_repositories(t *testing.T) {
	path := filepath.Join(t.TempDir(), "git-mirror.prom")

	if err := WriteMetrics(path, nil, Summary{}); err != nil {
		t.Fatalf("WriteMetrics() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("unable to read metrics file: %v", err)
	}
	if !strings.Contains(string(data), `git_mirror_repos_total 0`) {
		t.Errorf("empty run snapshot incomplete:\n%s", data)
	}
}
