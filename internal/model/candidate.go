package model

import "time"

// RawRow is one row from an external tabular source: a flat key-value map with
// source-specific column naming plus its position in the batch.
type RawRow struct {
	Index  int               `json:"index"`
	Values map[string]string `json:"values"`
}

// ImportCandidate is a normalized, not-yet-committed representation of an
// observation or import row, ready for matching. It exists only within a
// single reconciliation pass.
type ImportCandidate struct {
	Identifier    string       `json:"identifier"`
	IdentifierRaw bool         `json:"identifier_raw"` // true when the source supplied a valid identifier
	DeclaredType  string       `json:"declared_type"`
	Location      *Point       `json:"location,omitempty"`
	Owner         OwnerInfo    `json:"owner"`
	Measurements  Measurements `json:"measurements"`
	Fruit         FruitState   `json:"fruit"`
	Status        Status       `json:"status"`
	ObservedAt    *time.Time   `json:"observed_at,omitempty"`

	SourceRowIndex int               `json:"source_row_index"`
	RawPayload     map[string]string `json:"raw_payload,omitempty"`
}
