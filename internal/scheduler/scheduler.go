// Package scheduler runs a batch of downloads across a bounded worker
// pool and collects per-item outcomes in input order.
package scheduler

import (
	"context"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/rekku-dl/rekku/internal/fetch"
	"github.com/rekku-dl/rekku/internal/progress"
	"github.com/rekku-dl/rekku/internal/utils"
)

type job struct {
	id   int
	item utils.Item
}

// Summary counts terminal statuses for a finished run.
type Summary struct {
	Success         int
	Fail            int
	AlreadyComplete int
	Cancelled       int
}

// Run downloads all items with at most cfg.EffectiveConcurrency() in
// flight at once. Items are dispatched in input order as workers free
// up; completion order is unspecified, the returned outcomes are not:
// outcome i always belongs to item i.
//
// Run itself only fails for a config error detected before any item
// starts. Per-item failures land in the outcome list; one item failing
// never stops the others. Cancelling ctx stops dispatch, and in-flight
// items finish as Cancelled at their next read or write.
func Run(ctx context.Context, items []utils.Item, cfg utils.Config, sink progress.Sink) ([]utils.Outcome, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	outcomes := make([]utils.Outcome, len(items))
	if len(items) == 0 {
		return outcomes, nil
	}
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, &utils.ConfigError{Reason: "cannot create destination directory: " + err.Error()}
	}

	runID := uuid.New().String()[:8]
	numWorkers := cfg.EffectiveConcurrency()
	log.Debug().Str("run", runID).Int("items", len(items)).Int("workers", numWorkers).Msg("Starting run")

	tracker := progress.NewTracker(len(items), sink)
	client := utils.NewRekkuHTTPClient(cfg)
	executor := fetch.NewExecutor(client, cfg, tracker)

	jobCh := make(chan job, len(items))
	for i, item := range items {
		jobCh <- job{id: i, item: item}
	}
	close(jobCh)

	var wg sync.WaitGroup
	for range numWorkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobCh {
				if ctx.Err() != nil {
					// Dispatch stops once the run is cancelled; queued
					// items finish as Cancelled without starting.
					path, _ := j.item.ResolvePath(cfg.Dir)
					outcomes[j.id] = utils.Outcome{
						Status: utils.StatusCancelled,
						Err:    ctx.Err().Error(),
						Path:   path,
					}
					tracker.ItemFinished(j.id, utils.StatusCancelled)
					continue
				}
				tracker.ItemStarted(j.id, displayName(j.item))
				outcome := executor.Fetch(ctx, j.id, j.item)
				outcomes[j.id] = outcome
				tracker.ItemFinished(j.id, outcome.Status)
			}
		}()
	}
	wg.Wait()
	tracker.AllFinished()

	summary := Summarize(outcomes)
	log.Debug().Str("run", runID).
		Int("success", summary.Success).
		Int("fail", summary.Fail).
		Int("alreadyComplete", summary.AlreadyComplete).
		Int("cancelled", summary.Cancelled).
		Msg("Run finished")
	return outcomes, nil
}

// Summarize tallies outcomes by terminal status. The switch is
// exhaustive over the terminal set so a new status cannot slip through
// uncounted.
func Summarize(outcomes []utils.Outcome) Summary {
	var s Summary
	for _, out := range outcomes {
		switch out.Status {
		case utils.StatusSuccess:
			s.Success++
		case utils.StatusFail:
			s.Fail++
		case utils.StatusAlreadyComplete:
			s.AlreadyComplete++
		case utils.StatusCancelled:
			s.Cancelled++
		case utils.StatusNotStarted, utils.StatusProbing, utils.StatusResuming,
			utils.StatusRestarting, utils.StatusDownloading:
			// non-terminal statuses never appear in an outcome list
			s.Fail++
		}
	}
	return s
}

func displayName(item utils.Item) string {
	if item.Name != "" {
		return item.Name
	}
	return item.URL
}
