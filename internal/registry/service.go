// Package registry owns the canonical tree store: it decides create-vs-reuse
// for every incoming candidate, generates identifiers for new records, and
// applies attribute merges to existing ones.
package registry

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/groveworks/canopy/internal/geo"
	"github.com/groveworks/canopy/internal/match"
	"github.com/groveworks/canopy/internal/model"
	"github.com/groveworks/canopy/internal/normalize"
	"github.com/groveworks/canopy/internal/store"
)

// ErrOwnerNotFound indicates a creation path that mandates a known owner was
// given none. Import paths substitute a sentinel instead of failing.
var ErrOwnerNotFound = eris.New("registry: owner not found")

// ErrInvalidLocation indicates missing or out-of-range candidate coordinates.
var ErrInvalidLocation = eris.New("registry: invalid location")

// createAttempts bounds retry-on-conflict for generated identifiers.
const createAttempts = 3

// ResolveOptions tunes a single resolve-or-create call.
type ResolveOptions struct {
	// RequireOwner rejects creation with ErrOwnerNotFound when the candidate
	// carries no resolved owner. Used by the observation path; imports leave
	// it false and rely on sentinel substitution.
	RequireOwner bool
}

// Service resolves candidates against the registry and owns all writes to it.
type Service struct {
	store   store.Store
	matcher *match.Matcher
	now     func() time.Time
}

// New creates a registry service.
func New(st store.Store, matcher *match.Matcher) *Service {
	return &Service{store: st, matcher: matcher, now: time.Now}
}

// NewWithClock creates a registry service with an injected clock for tests.
func NewWithClock(st store.Store, matcher *match.Matcher, now func() time.Time) *Service {
	return &Service{store: st, matcher: matcher, now: now}
}

// ResolveOrCreate decides whether the candidate refers to an existing record
// and either merges into it or creates a new one. The whole match-and-create
// sequence runs under a cell advisory lock so two concurrent callers cannot
// both decide "no match" for the same physical tree.
//
// Resolution order:
//  1. Exact identifier override: a valid source identifier equal to an
//     existing public id wins regardless of distance.
//  2. Tiered spatial match (exact site, then same type).
//  3. No match: create with a fresh record.
func (s *Service) ResolveOrCreate(ctx context.Context, cand *model.ImportCandidate, opts ResolveOptions) (*model.TreeRecord, bool, error) {
	if cand.Location == nil {
		return nil, false, eris.Wrap(ErrInvalidLocation, "candidate has no coordinates")
	}
	if err := geo.ValidatePoint(*cand.Location); err != nil {
		return nil, false, eris.Wrap(ErrInvalidLocation, err.Error())
	}
	if opts.RequireOwner && !ownerResolved(cand.Owner) {
		return nil, false, eris.Wrap(ErrOwnerNotFound, "candidate owner is unresolved")
	}

	var (
		record  *model.TreeRecord
		created bool
	)
	err := s.store.WithCellLock(ctx, geo.CellKey(*cand.Location), func(ctx context.Context) error {
		var err error
		record, created, err = s.resolveOrCreateLocked(ctx, cand)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return record, created, nil
}

func (s *Service) resolveOrCreateLocked(ctx context.Context, cand *model.ImportCandidate) (*model.TreeRecord, bool, error) {
	// Pass 1: exact identifier override.
	if cand.IdentifierRaw && normalize.ValidIdentifier(cand.Identifier) {
		existing, err := s.store.GetTreeByPublicID(ctx, cand.Identifier)
		if err != nil {
			return nil, false, eris.Wrap(err, "registry: resolve by identifier")
		}
		if existing != nil && !existing.Archived {
			s.logIdentifierJump(existing, cand)
			return s.update(ctx, existing, cand)
		}
	}

	// Pass 2: tiered spatial match over a fresh snapshot.
	snapshot, err := s.store.ListActiveTrees(ctx)
	if err != nil {
		return nil, false, eris.Wrap(err, "registry: load matching snapshot")
	}
	best, err := s.matcher.Best(*cand.Location, cand.DeclaredType, snapshot)
	if err != nil {
		return nil, false, err
	}
	if best != nil {
		zap.L().Debug("registry: spatial match",
			zap.String("public_id", best.PublicID),
			zap.Int("row", cand.SourceRowIndex),
		)
		return s.update(ctx, best, cand)
	}

	// Pass 3: no match, create.
	return s.create(ctx, cand)
}

func (s *Service) update(ctx context.Context, rec *model.TreeRecord, cand *model.ImportCandidate) (*model.TreeRecord, bool, error) {
	mergeCandidate(rec, cand, s.now())
	rec.LastUpdatedAt = s.now().UTC()
	if err := s.store.UpdateTree(ctx, rec); err != nil {
		return nil, false, eris.Wrapf(err, "registry: update %s", rec.PublicID)
	}
	return rec, false, nil
}

func (s *Service) create(ctx context.Context, cand *model.ImportCandidate) (*model.TreeRecord, bool, error) {
	status := cand.Status
	if status == "" {
		status = model.StatusHealthy
	}

	rec := &model.TreeRecord{
		DeclaredType:  cand.DeclaredType,
		Location:      *cand.Location,
		Owner:         cand.Owner,
		Measurements:  cand.Measurements,
		Fruit:         cand.Fruit,
		Status:        status,
		Archived:      false,
		LastUpdatedAt: s.now().UTC(),
	}
	if rec.DeclaredType == "" {
		rec.DeclaredType = model.Sentinel
	}
	if cand.Fruit.Present && rec.Fruit.LastObservedAt == nil {
		observedAt := s.now().UTC()
		if cand.ObservedAt != nil {
			observedAt = *cand.ObservedAt
		}
		rec.Fruit.LastObservedAt = &observedAt
	}

	// A valid source identifier becomes the public id, which is what makes
	// re-running a batch idempotent. Conflicts on it are real consistency
	// errors; only generated identifiers retry.
	if cand.IdentifierRaw && normalize.ValidIdentifier(cand.Identifier) {
		rec.PublicID = cand.Identifier
		if err := s.store.CreateTree(ctx, rec); err != nil {
			return nil, false, err
		}
		s.logCreated(rec, cand)
		return rec, true, nil
	}

	for attempt := range createAttempts {
		publicID, err := GeneratePublicID()
		if err != nil {
			return nil, false, err
		}
		rec.PublicID = publicID

		err = s.store.CreateTree(ctx, rec)
		if err == nil {
			s.logCreated(rec, cand)
			return rec, true, nil
		}
		if !eris.Is(err, store.ErrDuplicateIdentifier) {
			return nil, false, err
		}
		zap.L().Warn("registry: generated identifier collided, retrying",
			zap.String("public_id", publicID),
			zap.Int("attempt", attempt+1),
		)
	}
	return nil, false, eris.Wrap(store.ErrDuplicateIdentifier, "registry: exhausted identifier attempts")
}

// ApplyObservationOutcome derives the record status from a classification
// verdict: any issue of high or critical severity escalates to critical, any
// issue at all to warning, and a clean verdict leaves the status untouched.
// The check is a one-way escalation within this call; it never averages
// history. LastUpdatedAt is stamped regardless.
func (s *Service) ApplyObservationOutcome(ctx context.Context, rec *model.TreeRecord, verdict *model.ClassificationVerdict) error {
	if verdict != nil {
		worst := model.Status("")
		for _, issue := range verdict.Issues {
			switch strings.ToLower(issue.Severity) {
			case "high", "critical":
				worst = model.StatusCritical
			default:
				if worst != model.StatusCritical {
					worst = model.StatusWarning
				}
			}
		}
		if worst != "" {
			rec.Status = worst
		}
	}

	rec.LastUpdatedAt = s.now().UTC()
	if err := s.store.UpdateTree(ctx, rec); err != nil {
		return eris.Wrapf(err, "registry: apply outcome %s", rec.PublicID)
	}
	return nil
}

func ownerResolved(o model.OwnerInfo) bool {
	return o.Email != "" && o.Email != model.Sentinel
}

func (s *Service) logCreated(rec *model.TreeRecord, cand *model.ImportCandidate) {
	zap.L().Info("registry: created new tree",
		zap.String("public_id", rec.PublicID),
		zap.String("declared_type", rec.DeclaredType),
		zap.Float64("latitude", rec.Location.Latitude),
		zap.Float64("longitude", rec.Location.Longitude),
		zap.Int("row", cand.SourceRowIndex),
	)
}

// logIdentifierJump flags identifier-matched rows that relocate a record far
// beyond the type radius. The override is intentional but worth surfacing.
func (s *Service) logIdentifierJump(rec *model.TreeRecord, cand *model.ImportCandidate) {
	d, err := geo.Distance(rec.Location, *cand.Location)
	if err != nil || d <= s.matcher.TypeRadiusM() {
		return
	}
	zap.L().Warn("registry: identifier override relocates record",
		zap.String("public_id", rec.PublicID),
		zap.Float64("distance_m", d),
	)
}
