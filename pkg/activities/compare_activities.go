package activities

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	planerrors "github.com/mouradhm/mongo-planbench/pkg/errors"
	"github.com/mouradhm/mongo-planbench/pkg/metrics"
	"github.com/mouradhm/mongo-planbench/pkg/models"
)

const defaultCleanupTimeout = 30 * time.Second

// Driver is the set of database capabilities a comparison needs. MongoDriver
// is the production implementation.
type Driver interface {
	Ping(ctx context.Context) error
	RunQuery(ctx context.Context, query models.QuerySpec) (models.ExecutionStats, error)
	// FindIndex returns the index on index.Collection that has the same name
	// or the same key pattern as index, if there is one.
	FindIndex(ctx context.Context, index models.IndexSpec) (models.IndexSpec, bool, error)
	CreateIndex(ctx context.Context, index models.IndexSpec) error
	DropIndex(ctx context.Context, index models.IndexSpec) error
}

// PlanComparator measures a query before and after creating an index. It
// holds no per-call state; concurrent calls on the same collection are
// serialized through its CollectionLocks.
type PlanComparator struct {
	driver         Driver
	locks          *CollectionLocks
	logger         zerolog.Logger
	metrics        metrics.Collector
	cleanupTimeout time.Duration
}

// ComparatorOption configures a PlanComparator
type ComparatorOption func(*PlanComparator)

// WithLogger sets the logger used for phase logging
func WithLogger(logger zerolog.Logger) ComparatorOption {
	return func(c *PlanComparator) { c.logger = logger }
}

// WithMetrics sets the metrics collector
func WithMetrics(collector metrics.Collector) ComparatorOption {
	return func(c *PlanComparator) { c.metrics = collector }
}

// WithCleanupTimeout bounds how long index removal may take once the
// caller's context is gone.
func WithCleanupTimeout(d time.Duration) ComparatorOption {
	return func(c *PlanComparator) {
		if d > 0 {
			c.cleanupTimeout = d
		}
	}
}

// WithLocks shares a lock set between comparators using the same database
func WithLocks(locks *CollectionLocks) ComparatorOption {
	return func(c *PlanComparator) { c.locks = locks }
}

// NewPlanComparator creates a comparator on top of driver
func NewPlanComparator(driver Driver, opts ...ComparatorOption) *PlanComparator {
	c := &PlanComparator{
		driver:         driver,
		locks:          NewCollectionLocks(),
		logger:         zerolog.Nop(),
		metrics:        metrics.NewNoOpCollector(),
		cleanupTimeout: defaultCleanupTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compare runs query, creates index, runs query again and drops the index
// unless keepIndex is set or the index already existed.
//
// A failure before the first measurement returns a nil report. A failure
// after it returns the partial report together with the error. A failed
// index drop never replaces the result; it is attached to the report as
// CleanupError.
func (c *PlanComparator) Compare(ctx context.Context, query models.QuerySpec, index models.IndexSpec, keepIndex bool) (report *models.ComparisonReport, err error) {
	runID := uuid.NewString()
	logger := c.logger.With().
		Str("run_id", runID).
		Str("collection", query.Collection).
		Str("index", index.Name()).
		Logger()

	defer func() { c.recordOutcome(query.Collection, report, err) }()

	if err := validatePair(query, index); err != nil {
		return nil, err
	}

	unlock, err := c.locks.Lock(ctx, query.Collection)
	if err != nil {
		return nil, &planerrors.PlanError{
			Kind:       planerrors.KindCanceled,
			Phase:      planerrors.PhaseLock,
			Collection: query.Collection,
			Cause:      err,
		}
	}
	defer unlock()

	startedAt := time.Now()

	if err := c.driver.Ping(ctx); err != nil {
		return nil, planerrors.As(err, planerrors.KindConnection).
			WithPhase(planerrors.PhaseConnect).
			WithCollection(query.Collection)
	}

	before, err := c.measure(ctx, planerrors.PhaseBefore, query)
	if err != nil {
		return nil, err
	}
	logger.Debug().
		Str("plan", string(before.PlanStage)).
		Int64("docs_examined", before.DocsExamined).
		Msg("Captured baseline measurement")

	report = &models.ComparisonReport{
		ID:        runID,
		Query:     query,
		Index:     index,
		KeepIndex: keepIndex,
		Before:    &before,
		StartedAt: startedAt,
	}
	defer func() { report.FinishedAt = time.Now() }()

	state, err := c.acquireIndex(ctx, report)
	if err != nil {
		report.Error = err.Error()
		if state == indexUncertain && !keepIndex {
			c.releaseIndex(ctx, report, logger)
		}
		return report, err
	}
	switch {
	case state == indexReused:
		logger.Warn().Str("existing", report.Index.Name()).Msg("Equivalent index already exists, reusing it")
	case keepIndex:
		logger.Info().Msg("Index will be kept after measurement")
	default:
		defer c.releaseIndex(ctx, report, logger)
	}

	after, err := c.measure(ctx, planerrors.PhaseAfter, query)
	if err != nil {
		report.Error = err.Error()
		return report, err
	}
	report.After = &after
	logger.Debug().
		Str("plan", string(after.PlanStage)).
		Int64("docs_examined", after.DocsExamined).
		Msg("Captured indexed measurement")

	return report, nil
}

// validatePair rejects specs that cannot describe a meaningful comparison.
// No I/O happens here.
func validatePair(query models.QuerySpec, index models.IndexSpec) error {
	invalid := func(cause error) error {
		return &planerrors.PlanError{
			Kind:       planerrors.KindInvalidSpec,
			Phase:      planerrors.PhaseValidate,
			Collection: query.Collection,
			Cause:      cause,
		}
	}
	if err := query.Validate(); err != nil {
		return invalid(err)
	}
	if err := index.Validate(); err != nil {
		return invalid(err)
	}
	if query.Collection != index.Collection {
		return invalid(fmt.Errorf("index targets collection %s but query targets %s", index.Collection, query.Collection))
	}
	return nil
}

func (c *PlanComparator) measure(ctx context.Context, phase planerrors.Phase, query models.QuerySpec) (models.ExecutionStats, error) {
	timer := c.metrics.StartTimer(metrics.PhaseDuration, "phase", string(phase))
	stats, err := c.driver.RunQuery(ctx, query)
	timer.Stop()
	if err != nil {
		return stats, planerrors.As(err, planerrors.KindQuery).
			WithPhase(phase).
			WithCollection(query.Collection).
			WithQuery(query)
	}
	return stats, nil
}

// indexState describes what acquireIndex left behind on the server
type indexState int

const (
	// indexAbsent: nothing was created, nothing to release
	indexAbsent indexState = iota
	indexCreated
	// indexReused: an equivalent index existed before the call and stays
	indexReused
	// indexUncertain: the index was confirmed absent but the create failed
	// in a way that may still have built it
	indexUncertain
)

// acquireIndex makes the index available for the second measurement. An
// existing index with the same name or key pattern is reused and
// report.Index is rewritten to describe it.
func (c *PlanComparator) acquireIndex(ctx context.Context, report *models.ComparisonReport) (indexState, error) {
	timer := c.metrics.StartTimer(metrics.PhaseDuration, "phase", string(planerrors.PhaseIndexCreate))
	defer timer.Stop()

	wrap := func(err error) error {
		return planerrors.As(err, planerrors.KindIndexCreation).
			WithPhase(planerrors.PhaseIndexCreate).
			WithCollection(report.Index.Collection)
	}

	existing, found, err := c.driver.FindIndex(ctx, report.Index)
	if err != nil {
		return indexAbsent, wrap(err)
	}
	if found {
		c.reuseIndex(report, existing)
		return indexReused, nil
	}

	err = c.driver.CreateIndex(ctx, report.Index)
	switch {
	case err == nil:
		return indexCreated, nil
	case errors.Is(err, planerrors.ErrIndexConflict):
		// Built by someone else between the lookup and the create
		report.Index.PreExisting = true
		return indexReused, nil
	case mayHaveCreated(err):
		return indexUncertain, wrap(err)
	default:
		return indexAbsent, wrap(err)
	}
}

// reuseIndex records existing as the index the second measurement runs with
func (c *PlanComparator) reuseIndex(report *models.ComparisonReport, existing models.IndexSpec) {
	requested := report.Index
	existing.Collection = requested.Collection
	existing.IndexName = existing.Name()
	existing.PreExisting = true
	report.Index = existing

	if !sameKeys(existing.Keys(), requested.Keys()) {
		report.Warning = fmt.Sprintf("index %s already exists with key pattern %v instead of the requested %v; it was measured as is",
			existing.Name(), existing.Keys(), requested.Keys())
	}
}

// mayHaveCreated reports whether a failed create could still have left the
// index behind, e.g. when the connection dropped after the server built it.
func mayHaveCreated(err error) bool {
	return errors.Is(err, planerrors.ErrCanceled) || errors.Is(err, planerrors.ErrConnection)
}

// releaseIndex drops the index created for the report. It runs on a context
// detached from the caller's cancellation so that a canceled comparison still
// cleans up.
func (c *PlanComparator) releaseIndex(ctx context.Context, report *models.ComparisonReport, logger zerolog.Logger) {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cleanupTimeout)
	defer cancel()

	err := c.driver.DropIndex(cleanupCtx, report.Index)
	if err == nil || errors.Is(err, planerrors.ErrIndexNotFound) {
		logger.Debug().Msg("Released index")
		return
	}

	cleanupErr := &planerrors.PlanError{
		Kind:       planerrors.KindCleanup,
		Phase:      planerrors.PhaseCleanup,
		Collection: report.Index.Collection,
		Cause:      err,
	}
	report.CleanupError = cleanupErr
	report.Warning = cleanupErr.Error()
	c.metrics.IncrementCounter(metrics.IndexCleanupFailed, "collection", report.Index.Collection)
	logger.Warn().Err(err).Msg("Failed to drop index after measurement")
}

func (c *PlanComparator) recordOutcome(collection string, report *models.ComparisonReport, err error) {
	outcome := "success"
	switch {
	case report == nil:
		outcome = "failed"
	case err != nil:
		outcome = "partial"
	}
	c.metrics.IncrementCounter(metrics.ComparisonsTotal, "collection", collection, "outcome", outcome)

	if delta, derr := models.Delta(report); derr == nil {
		c.metrics.RecordGauge(metrics.DocsExaminedDelta, float64(delta.DocsExaminedDelta), "collection", collection)
		c.metrics.RecordGauge(metrics.KeysExaminedDelta, float64(delta.KeysExaminedDelta), "collection", collection)
	}
}
