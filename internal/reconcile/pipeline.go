// Package reconcile drives the row normalizer and registry service over entire
// batches and single field observations, aggregating per-row outcomes.
package reconcile

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/groveworks/canopy/internal/model"
	"github.com/groveworks/canopy/internal/normalize"
	"github.com/groveworks/canopy/internal/registry"
	"github.com/groveworks/canopy/internal/store"
)

// defaultWorkers bounds row concurrency when the caller does not set one.
// Cell locking in the registry keeps concurrent rows safe; the bound exists to
// keep store connection pressure sane.
const defaultWorkers = 4

// Pipeline runs bulk reconciliation passes.
type Pipeline struct {
	normalizer *normalize.Normalizer
	registry   *registry.Service
	store      store.Store
	workers    int
	now        func() time.Time
}

// New creates a Pipeline. workers <= 0 selects the default bound.
func New(n *normalize.Normalizer, reg *registry.Service, st store.Store, workers int) *Pipeline {
	if workers <= 0 {
		workers = defaultWorkers
	}
	return &Pipeline{
		normalizer: n,
		registry:   reg,
		store:      st,
		workers:    workers,
		now:        time.Now,
	}
}

// Run reconciles a batch of raw rows against the registry. Rows are
// independent: a failed row is recorded in the report and never aborts the
// batch. The report is persisted before returning.
func (p *Pipeline) Run(ctx context.Context, rows []model.RawRow) (*model.ReconcileReport, error) {
	report := &model.ReconcileReport{
		BatchID: uuid.NewString(),
		Total:   len(rows),
		PerRow:  make([]model.RowResult, len(rows)),
	}
	log := zap.L().With(zap.String("batch_id", report.BatchID))
	log.Info("reconcile: starting batch", zap.Int("rows", len(rows)))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for i, row := range rows {
		g.Go(func() error {
			report.PerRow[i] = p.reconcileRow(gCtx, row)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "reconcile: batch aborted")
	}

	for _, res := range report.PerRow {
		switch res.Outcome {
		case model.RowOutcomeCreated:
			report.Created++
		case model.RowOutcomeUpdated:
			report.Updated++
		case model.RowOutcomeError:
			report.Errors++
		}
	}

	log.Info("reconcile: batch complete",
		zap.Int("created", report.Created),
		zap.Int("updated", report.Updated),
		zap.Int("errors", report.Errors),
	)

	if err := p.store.SaveReconcileReport(ctx, report); err != nil {
		return nil, eris.Wrap(err, "reconcile: persist report")
	}
	return report, nil
}

// reconcileRow runs one row through normalize and resolve-or-create. Soft
// failures become error outcomes, never returned errors.
func (p *Pipeline) reconcileRow(ctx context.Context, row model.RawRow) model.RowResult {
	res := model.RowResult{RowIndex: row.Index}

	cand := p.normalizer.Row(row)
	rec, created, err := p.registry.ResolveOrCreate(ctx, &cand, registry.ResolveOptions{})
	if err != nil {
		res.Outcome = model.RowOutcomeError
		res.Message = err.Error()
		zap.L().Warn("reconcile: row rejected",
			zap.Int("row", row.Index),
			zap.Error(err),
		)
		return res
	}

	res.PublicID = rec.PublicID
	if created {
		res.Outcome = model.RowOutcomeCreated
	} else {
		res.Outcome = model.RowOutcomeUpdated
	}
	return res
}

// SubmitObservation resolves a single field capture against the registry,
// appends the immutable observation, and derives the record status from the
// classification verdict. The owner comes from the authenticated caller, so
// the creation path requires one.
func (p *Pipeline) SubmitObservation(ctx context.Context, owner model.OwnerInfo, req *model.ObservationRequest) (*model.UpsertResult, *model.Observation, error) {
	cand := &model.ImportCandidate{
		DeclaredType: req.DeclaredType,
		Location:     &model.Point{Latitude: req.GPS.Latitude, Longitude: req.GPS.Longitude},
		Owner:        owner,
	}
	if req.Measurements != nil {
		cand.Measurements = *req.Measurements
	}

	rec, created, err := p.registry.ResolveOrCreate(ctx, cand, registry.ResolveOptions{RequireOwner: true})
	if err != nil {
		return nil, nil, err
	}

	obs := &model.Observation{
		ID:           uuid.NewString(),
		TreeRef:      rec.PublicID,
		CapturedAt:   p.now().UTC(),
		GPS:          req.GPS,
		DeclaredType: req.DeclaredType,
		Verdict:      req.Verdict,
		Notes:        req.Notes,
	}
	if err := p.store.AppendObservation(ctx, obs); err != nil {
		return nil, nil, eris.Wrap(err, "reconcile: append observation")
	}

	if err := p.registry.ApplyObservationOutcome(ctx, rec, req.Verdict); err != nil {
		return nil, nil, err
	}

	zap.L().Info("reconcile: observation recorded",
		zap.String("observation_id", obs.ID),
		zap.String("public_id", rec.PublicID),
		zap.Bool("created", created),
	)
	return &model.UpsertResult{Record: rec, WasCreated: created}, obs, nil
}
