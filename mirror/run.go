package mirror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/beaufort-labs/git-mirror/provider"
	"github.com/beaufort-labs/git-mirror/report"
)

// RunResult is the aggregate of one mirror run.
type RunResult struct {
	// Outcomes sorted by namespace path, then name, so report output is
	// deterministic regardless of scheduling jitter
	Outcomes []Outcome

	Total     int
	Succeeded int
	Failed    int
	Skipped   int
	Duration  time.Duration
}

// Ok reports whether every outcome succeeded.
func (r *RunResult) Ok() bool { return r.Failed == 0 }

// Run mirrors every repository of the provider's namespace below
// conf.MirrorRoot. The full repository list is materialized before any
// worker starts; a listing failure is fatal and nothing is dispatched. Per
// repository failures never abort sibling workers, they are recorded in
// the returned result and in the configured reports.
func Run(ctx context.Context, p provider.Provider, conf Config, log *slog.Logger) (*RunResult, error) {
	if log == nil {
		log = slog.Default()
	}

	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration err:%w", err)
	}

	start := time.Now()

	log.Info("listing repositories", "provider", p.Name())
	repos, err := p.ListRepositories(ctx)
	if err != nil {
		// CI tooling expects an explicit report even when listing fails,
		// a missing file is indistinguishable from a run that never happened
		if conf.JUnitFile != "" {
			if rerr := report.WriteJUnitListingFailure(conf.JUnitFile, err); rerr != nil {
				log.Error("unable to write junit report", "path", conf.JUnitFile, "err", rerr)
			}
		}
		return nil, err
	}
	log.Info("listing complete", "repositories", len(repos))

	// the job queue is seeded with the full fixed list and closed before
	// workers start, so the reported total is exact for the whole run
	jobs := make(chan provider.Descriptor, len(repos))
	for _, repo := range repos {
		jobs <- repo
	}
	close(jobs)

	results := make(chan Outcome)
	wg := &sync.WaitGroup{}
	claims := newPathClaims()

	wg.Add(conf.WorkerCount)
	for i := 0; i < conf.WorkerCount; i++ {
		w := &worker{
			conf:    conf,
			claims:  claims,
			jobs:    jobs,
			results: results,
			wg:      wg,
			log:     log,
		}
		w.start(ctx)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	res := &RunResult{}
	for out := range results {
		res.Outcomes = append(res.Outcomes, out)
		res.Total++
		switch {
		case !out.Success:
			res.Failed++
		case out.Action == ActionSkipped:
			res.Skipped++
		default:
			res.Succeeded++
		}
	}

	slices.SortFunc(res.Outcomes, compareOutcomes)

	res.Duration = time.Since(start)
	log.Info("dispatch complete", "total", res.Total, "succeeded", res.Succeeded,
		"failed", res.Failed, "skipped", res.Skipped, "time", res.Duration)

	// reporting failures do not reclassify repository outcomes
	if err := render(res, conf, log); err != nil {
		return res, err
	}

	return res, nil
}

func compareOutcomes(a, b Outcome) int {
	if c := slices.Compare(a.Repo.Namespace, b.Repo.Namespace); c != 0 {
		return c
	}
	return strings.Compare(a.Repo.Name, b.Repo.Name)
}

// render writes the metrics snapshot and the junit report for the
// collected outcomes. Both sinks are optional.
func render(res *RunResult, conf Config, log *slog.Logger) error {
	var errs []error

	if conf.MetricsFile != "" {
		samples := make([]report.RepoSample, 0, len(res.Outcomes))
		for _, out := range res.Outcomes {
			samples = append(samples, report.RepoSample{
				Name:     out.Repo.FullName(),
				Success:  out.Success,
				Duration: out.Duration,
			})
		}
		sum := report.Summary{
			Total:     res.Total,
			Succeeded: res.Succeeded,
			Failed:    res.Failed,
			Skipped:   res.Skipped,
			Duration:  res.Duration,
		}
		if err := report.WriteMetrics(conf.MetricsFile, samples, sum); err != nil {
			log.Error("unable to write metrics file", "path", conf.MetricsFile, "err", err)
			errs = append(errs, err)
		}
	}

	if conf.JUnitFile != "" {
		cases := make([]report.TestCase, 0, len(res.Outcomes))
		for _, out := range res.Outcomes {
			cases = append(cases, report.TestCase{
				Name:     out.Repo.FullName(),
				Duration: out.Duration,
				Failed:   !out.Success,
				Failure:  out.Error,
				Skipped:  out.Action == ActionSkipped,
				Detail:   out.Detail,
			})
		}
		if err := report.WriteJUnit(conf.JUnitFile, cases); err != nil {
			log.Error("unable to write junit report", "path", conf.JUnitFile, "err", err)
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
