// Package report renders the collected outcomes of a mirror run into
// machine-consumable artifacts, a Prometheus textfile snapshot and a junit
// xml document. Both files are replaced atomically so a concurrent reader
// never observes a half-written file.
package report

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

const metricsNamespace = "git_mirror"

// RepoSample is the per-repository input of the metrics snapshot.
type RepoSample struct {
	Name     string
	Success  bool
	Duration time.Duration
}

// Summary holds the run level aggregates.
type Summary struct {
	Total     int
	Succeeded int
	Failed    int
	Skipped   int
	Duration  time.Duration
}

// WriteMetrics writes a flat set of samples suitable for the node
// exporter's textfile collector. Available metrics are...
//   - git_mirror_repo_success - (tags: repo)
//     1 if the repository synced successfully, 0 if it failed
//   - git_mirror_repo_duration_seconds - (tags: repo)
//     wall clock duration of the repository sync
//   - git_mirror_repos_total / _succeeded / _failed / _skipped
//   - git_mirror_run_duration_seconds
//   - git_mirror_last_run_timestamp
func WriteMetrics(path string, repos []RepoSample, sum Summary) error {
	reg := prometheus.NewRegistry()

	repoSuccess := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "repo_success",
		Help:      "Whether the last sync of the repository succeeded (1) or failed (0)",
	},
		[]string{
			// full namespace path and name of the repository
			"repo",
		},
	)

	repoDuration := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "repo_duration_seconds",
		Help:      "Duration of the repository sync",
	},
		[]string{
			"repo",
		},
	)

	total := newRunGauge("repos_total", "Number of repositories in the listing")
	succeeded := newRunGauge("repos_succeeded", "Number of repositories synced successfully")
	failed := newRunGauge("repos_failed", "Number of repositories which failed to sync")
	skipped := newRunGauge("repos_skipped", "Number of repositories skipped (dry-run)")
	runDuration := newRunGauge("run_duration_seconds", "Duration of the whole mirror run")
	lastRun := newRunGauge("last_run_timestamp", "Timestamp of the last mirror run")

	reg.MustRegister(repoSuccess, repoDuration, total, succeeded, failed, skipped, runDuration, lastRun)

	for _, r := range repos {
		v := 0.0
		if r.Success {
			v = 1.0
		}
		repoSuccess.WithLabelValues(r.Name).Set(v)
		repoDuration.WithLabelValues(r.Name).Set(r.Duration.Seconds())
	}

	total.Set(float64(sum.Total))
	succeeded.Set(float64(sum.Succeeded))
	failed.Set(float64(sum.Failed))
	skipped.Set(float64(sum.Skipped))
	runDuration.Set(sum.Duration.Seconds())
	lastRun.Set(float64(time.Now().Unix()))

	mfs, err := reg.Gather()
	if err != nil {
		return fmt.Errorf("unable to gather metrics err:%w", err)
	}

	buf := bytes.NewBuffer(nil)
	for _, mf := range mfs {
		if _, err := expfmt.MetricFamilyToText(buf, mf); err != nil {
			return fmt.Errorf("unable to render metrics err:%w", err)
		}
	}

	return atomicWrite(path, buf.Bytes())
}

func newRunGauge(name, help string) prometheus.Gauge {
	return prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      name,
		Help:      help,
	})
}

// atomicWrite writes data to a temporary file next to path and renames it
// into place.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("unable to create temp file err:%w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("unable to write temp file err:%w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("unable to close temp file err:%w", err)
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return fmt.Errorf("unable to chmod temp file err:%w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("unable to replace %s err:%w", path, err)
	}
	return nil
}
