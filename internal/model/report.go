package model

// RowOutcome classifies what happened to one batch row.
type RowOutcome string

const (
	RowOutcomeCreated RowOutcome = "created"
	RowOutcomeUpdated RowOutcome = "updated"
	RowOutcomeError   RowOutcome = "error"
)

// RowResult is the per-row detail line of a reconciliation report.
type RowResult struct {
	RowIndex int        `json:"row_index"`
	Outcome  RowOutcome `json:"outcome"`
	PublicID string     `json:"public_id,omitempty"`
	Message  string     `json:"message,omitempty"`
}

// ReconcileReport aggregates the outcome of one bulk reconciliation pass.
type ReconcileReport struct {
	BatchID string      `json:"batch_id"`
	Total   int         `json:"total"`
	Created int         `json:"created"`
	Updated int         `json:"updated"`
	Errors  int         `json:"errors"`
	PerRow  []RowResult `json:"per_row"`
}

// QualityRecord lists the missing or sentinel fields of one incomplete record.
type QualityRecord struct {
	PublicID      string   `json:"public_id"`
	MissingFields []string `json:"missing_fields"`
}

// QualityReport aggregates completeness verdicts across the registry.
type QualityReport struct {
	IncompleteCount int             `json:"incomplete_count"`
	Records         []QualityRecord `json:"records"`
}
