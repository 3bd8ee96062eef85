package quality

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/groveworks/canopy/internal/model"
)

func ptrFloat64(v float64) *float64 { return &v }

func completeRecord() *model.TreeRecord {
	return &model.TreeRecord{
		PublicID:     "123456789",
		DeclaredType: "Olive",
		Location:     model.Point{Latitude: 36.8065, Longitude: 10.1815},
		Owner: model.OwnerInfo{
			FirstName: "Amel",
			LastName:  "Ben Salah",
			Email:     "amel@example.com",
		},
		Measurements: model.Measurements{
			Height:           ptrFloat64(4.2),
			Width:            ptrFloat64(2.1),
			ApproximateShape: "conical",
		},
		Status: model.StatusHealthy,
	}
}

func TestScoreCompleteRecord(t *testing.T) {
	incomplete, missing := Score(completeRecord())
	assert.False(t, incomplete)
	assert.Empty(t, missing)
}

func TestScoreFlagsExactFields(t *testing.T) {
	rec := completeRecord()
	rec.DeclaredType = model.Sentinel
	rec.Owner.Email = model.Sentinel
	rec.Measurements.Height = ptrFloat64(0)
	rec.Measurements.ApproximateShape = ""

	incomplete, missing := Score(rec)
	assert.True(t, incomplete)
	assert.Equal(t, []string{
		FieldDeclaredType,
		FieldOwnerEmail,
		FieldHeight,
		FieldApproximateShape,
	}, missing)
}

func TestScoreFieldRules(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*model.TreeRecord)
		want   []string
	}{
		{
			name:   "empty type",
			mutate: func(r *model.TreeRecord) { r.DeclaredType = "" },
			want:   []string{FieldDeclaredType},
		},
		{
			name:   "sentinel first name",
			mutate: func(r *model.TreeRecord) { r.Owner.FirstName = model.Sentinel },
			want:   []string{FieldOwnerFirstName},
		},
		{
			name:   "empty last name",
			mutate: func(r *model.TreeRecord) { r.Owner.LastName = "" },
			want:   []string{FieldOwnerLastName},
		},
		{
			name:   "unset height",
			mutate: func(r *model.TreeRecord) { r.Measurements.Height = nil },
			want:   []string{FieldHeight},
		},
		{
			name:   "zero width",
			mutate: func(r *model.TreeRecord) { r.Measurements.Width = ptrFloat64(0) },
			want:   []string{FieldWidth},
		},
		{
			name:   "sentinel shape",
			mutate: func(r *model.TreeRecord) { r.Measurements.ApproximateShape = model.Sentinel },
			want:   []string{FieldApproximateShape},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := completeRecord()
			tt.mutate(rec)
			incomplete, missing := Score(rec)
			assert.True(t, incomplete)
			assert.Equal(t, tt.want, missing)
		})
	}
}

func TestReportAggregation(t *testing.T) {
	good := completeRecord()

	bad := completeRecord()
	bad.PublicID = "987654321"
	bad.DeclaredType = model.Sentinel
	bad.Measurements.Width = nil

	report := Report([]*model.TreeRecord{good, bad})
	assert.Equal(t, 1, report.IncompleteCount)
	assert.Len(t, report.Records, 1)
	assert.Equal(t, "987654321", report.Records[0].PublicID)
	assert.Equal(t, []string{FieldDeclaredType, FieldWidth}, report.Records[0].MissingFields)
}

func TestReportEmptyRegistry(t *testing.T) {
	report := Report(nil)
	assert.Zero(t, report.IncompleteCount)
	assert.Empty(t, report.Records)
}
