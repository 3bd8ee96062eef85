package model

import "time"

// GPS is a captured device fix. Accuracy is meters of estimated error, when the
// device reported one.
type GPS struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Accuracy  *float64 `json:"accuracy,omitempty"`
}

// Issue is one condition reported by the external classification service.
type Issue struct {
	Name     string `json:"name"`
	Severity string `json:"severity"`
}

// ClassificationVerdict is the opaque result of the external image classifier.
// The core only inspects issue severities for status derivation; everything
// else is carried as data.
type ClassificationVerdict struct {
	Issues      []Issue           `json:"issues,omitempty"`
	HealthScore float64           `json:"health_score"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

// Observation is a single field capture, append-only and immutable once stored.
// TreeRef is resolved at ingestion time and never changed afterwards.
type Observation struct {
	ID           string                 `json:"id"`
	TreeRef      string                 `json:"tree_ref"`
	CapturedAt   time.Time              `json:"captured_at"`
	GPS          GPS                    `json:"gps"`
	DeclaredType string                 `json:"declared_type"`
	Verdict      *ClassificationVerdict `json:"verdict,omitempty"`
	Notes        string                 `json:"notes,omitempty"`
}

// ObservationRequest is what a mobile client submits. The verdict is obtained
// from the classification collaborator by the caller before the core runs.
type ObservationRequest struct {
	DeclaredType string                 `json:"declared_type"`
	GPS          GPS                    `json:"gps"`
	Measurements *Measurements          `json:"measurements,omitempty"`
	Notes        string                 `json:"notes,omitempty"`
	Verdict      *ClassificationVerdict `json:"verdict,omitempty"`
}
