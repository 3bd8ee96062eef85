package registry

import (
	"time"

	"github.com/groveworks/canopy/internal/model"
)

// mergeCandidate applies the fields present in the candidate over the
// existing record. A field the candidate leaves unset (nil, empty, or the
// sentinel) never clears the existing value. Returns true when anything
// changed.
func mergeCandidate(rec *model.TreeRecord, cand *model.ImportCandidate, now time.Time) bool {
	changed := false

	if cand.DeclaredType != "" && cand.DeclaredType != model.Sentinel && cand.DeclaredType != rec.DeclaredType {
		rec.DeclaredType = cand.DeclaredType
		changed = true
	}
	if cand.Location != nil && *cand.Location != rec.Location {
		rec.Location = *cand.Location
		changed = true
	}

	changed = mergeOwner(&rec.Owner, cand.Owner) || changed
	changed = mergeMeasurements(&rec.Measurements, cand.Measurements) || changed

	if cand.Fruit.Present {
		observedAt := now
		if cand.ObservedAt != nil {
			observedAt = *cand.ObservedAt
		}
		rec.Fruit = model.FruitState{
			Present:           true,
			EstimatedQuantity: cand.Fruit.EstimatedQuantity,
			LastObservedAt:    &observedAt,
		}
		changed = true
	}

	if cand.Status != "" && cand.Status != rec.Status {
		rec.Status = cand.Status
		changed = true
	}

	return changed
}

func mergeOwner(dst *model.OwnerInfo, src model.OwnerInfo) bool {
	changed := false
	if src.FirstName != "" && src.FirstName != model.Sentinel && src.FirstName != dst.FirstName {
		dst.FirstName = src.FirstName
		changed = true
	}
	if src.LastName != "" && src.LastName != model.Sentinel && src.LastName != dst.LastName {
		dst.LastName = src.LastName
		changed = true
	}
	if src.Email != "" && src.Email != model.Sentinel && src.Email != dst.Email {
		dst.Email = src.Email
		changed = true
	}
	return changed
}

func mergeMeasurements(dst *model.Measurements, src model.Measurements) bool {
	changed := false
	if src.Height != nil {
		if dst.Height == nil || *dst.Height != *src.Height {
			changed = true
		}
		dst.Height = src.Height
	}
	if src.Width != nil {
		if dst.Width == nil || *dst.Width != *src.Width {
			changed = true
		}
		dst.Width = src.Width
	}
	if src.ApproximateShape != "" && src.ApproximateShape != model.Sentinel && src.ApproximateShape != dst.ApproximateShape {
		dst.ApproximateShape = src.ApproximateShape
		changed = true
	}
	return changed
}
