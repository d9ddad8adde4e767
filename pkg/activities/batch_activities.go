package activities

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mouradhm/mongo-planbench/pkg/models"
)

const defaultWorkerCount = 3

// BatchOptions controls how RunBatch schedules comparisons
type BatchOptions struct {
	Workers int
	// Timeout bounds each comparison separately; zero means no bound
	Timeout time.Duration
}

type batchJob struct {
	position int
	request  models.ComparisonRequest
}

// RunBatch runs every request through comparator using a pool of workers.
// Requests on the same collection still run one at a time because the
// comparator locks per collection. Results keep the order of requests.
func RunBatch(ctx context.Context, comparator *PlanComparator, requests []models.ComparisonRequest, opts BatchOptions, logger zerolog.Logger) models.BatchResult {
	result := models.BatchResult{
		Results:        make([]models.ComparisonResult, len(requests)),
		OverallSuccess: true,
	}
	if len(requests) == 0 {
		return result
	}

	workerCount := opts.Workers
	if workerCount <= 0 {
		workerCount = defaultWorkerCount
	}
	if workerCount > len(requests) {
		workerCount = len(requests)
	}

	logger.Info().
		Int("comparisons", len(requests)).
		Int("workers", workerCount).
		Msg("Starting batch")

	jobs := make(chan batchJob, len(requests))
	for i, req := range requests {
		jobs <- batchJob{position: i, request: req}
	}
	close(jobs)

	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()

			workerLogger := logger.With().Int("worker", workerID).Logger()
			for job := range jobs {
				workerLogger.Debug().
					Str("collection", job.request.Query.Collection).
					Str("index", job.request.Index.Name()).
					Msg("Processing comparison")
				// Each worker writes only its own slots
				result.Results[job.position] = runOne(ctx, comparator, job.request, opts.Timeout, workerLogger)
			}
		}(i)
	}
	wg.Wait()

	for _, res := range result.Results {
		if !res.Success {
			result.OverallSuccess = false
		}
		if res.Delta != nil && res.Delta.Improved() {
			result.Improved++
		}
	}

	return result
}

func runOne(ctx context.Context, comparator *PlanComparator, req models.ComparisonRequest, timeout time.Duration, logger zerolog.Logger) models.ComparisonResult {
	res := models.ComparisonResult{
		Collection: req.Query.Collection,
		IndexName:  req.Index.Name(),
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	report, err := comparator.Compare(ctx, req.Query, req.Index, req.KeepIndex)
	res.Report = report
	if err != nil {
		logger.Error().Err(err).Str("collection", res.Collection).Msg("Comparison failed")
		res.ErrorMessage = err.Error()
		return res
	}

	if delta, derr := models.Delta(report); derr == nil {
		res.Delta = &delta
	}
	if report.CleanupError != nil {
		res.ErrorMessage = report.Warning
		return res
	}

	res.Success = true
	return res
}
