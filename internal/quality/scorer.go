// Package quality evaluates registry records against completeness rules for
// admin reporting. Verdicts never block creation or update.
package quality

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/groveworks/canopy/internal/model"
	"github.com/groveworks/canopy/internal/store"
)

// Field names reported for missing or sentinel values. They mirror the JSON
// field paths of TreeRecord so dashboards can link verdicts back to fields.
const (
	FieldDeclaredType     = "declared_type"
	FieldOwnerFirstName   = "owner_first_name"
	FieldOwnerLastName    = "owner_last_name"
	FieldOwnerEmail       = "owner_email"
	FieldHeight           = "height"
	FieldWidth            = "width"
	FieldApproximateShape = "approximate_shape"
)

// Score evaluates a single record. It is a pure function over the record: a
// field is flagged when it is unset, empty, zero, or carries the sentinel.
func Score(rec *model.TreeRecord) (incomplete bool, missing []string) {
	if rec.DeclaredType == "" || rec.DeclaredType == model.Sentinel {
		missing = append(missing, FieldDeclaredType)
	}
	if rec.Owner.FirstName == "" || rec.Owner.FirstName == model.Sentinel {
		missing = append(missing, FieldOwnerFirstName)
	}
	if rec.Owner.LastName == "" || rec.Owner.LastName == model.Sentinel {
		missing = append(missing, FieldOwnerLastName)
	}
	if rec.Owner.Email == "" || rec.Owner.Email == model.Sentinel {
		missing = append(missing, FieldOwnerEmail)
	}
	if rec.Measurements.Height == nil || *rec.Measurements.Height == 0 {
		missing = append(missing, FieldHeight)
	}
	if rec.Measurements.Width == nil || *rec.Measurements.Width == 0 {
		missing = append(missing, FieldWidth)
	}
	if rec.Measurements.ApproximateShape == "" || rec.Measurements.ApproximateShape == model.Sentinel {
		missing = append(missing, FieldApproximateShape)
	}
	return len(missing) > 0, missing
}

// Report scores the given records and aggregates the incomplete ones.
func Report(records []*model.TreeRecord) *model.QualityReport {
	report := &model.QualityReport{}
	for _, rec := range records {
		incomplete, missing := Score(rec)
		if !incomplete {
			continue
		}
		report.IncompleteCount++
		report.Records = append(report.Records, model.QualityRecord{
			PublicID:      rec.PublicID,
			MissingFields: missing,
		})
	}
	return report
}

// ReportFromStore loads the active registry and scores it.
func ReportFromStore(ctx context.Context, st store.Store) (*model.QualityReport, error) {
	records, err := st.ListActiveTrees(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "quality: load registry")
	}
	report := Report(records)
	zap.L().Info("quality: scored registry",
		zap.Int("total", len(records)),
		zap.Int("incomplete", report.IncompleteCount),
	)
	return report, nil
}
