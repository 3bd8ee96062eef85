package model

import "time"

// Sentinel marks a field whose value was missing at ingestion time. Records
// carrying it stay usable for matching but are surfaced by the quality scorer.
const Sentinel = "unspecified"

// Status represents the health state of a tree record.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusWarning  Status = "warning"
	StatusCritical Status = "critical"
	StatusArchived Status = "archived"
)

// Point is a WGS84 coordinate pair in degrees.
type Point struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// OwnerInfo is a denormalized snapshot of the responsible party at last update.
type OwnerInfo struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
}

// Measurements holds optional physical dimensions. Nil means unknown, never zero.
type Measurements struct {
	Height           *float64 `json:"height,omitempty"`
	Width            *float64 `json:"width,omitempty"`
	ApproximateShape string   `json:"approximate_shape,omitempty"`
}

// FruitState tracks fruit presence as of the last observation.
type FruitState struct {
	Present           bool       `json:"present"`
	EstimatedQuantity int        `json:"estimated_quantity"`
	LastObservedAt    *time.Time `json:"last_observed_at,omitempty"`
}

// TreeRecord is the canonical registry entry for one physical tree.
//
// PublicID is immutable and unique across the registry for the lifetime of the
// record. Location is always set once the record exists. Archived records keep
// StatusArchived and are excluded from spatial matching.
type TreeRecord struct {
	PublicID      string       `json:"public_id"`
	DeclaredType  string       `json:"declared_type"`
	Location      Point        `json:"location"`
	Owner         OwnerInfo    `json:"owner"`
	Measurements  Measurements `json:"measurements"`
	Fruit         FruitState   `json:"fruit"`
	Status        Status       `json:"status"`
	Archived      bool         `json:"archived"`
	ArchivedAt    *time.Time   `json:"archived_at,omitempty"`
	LastUpdatedAt time.Time    `json:"last_updated_at"`
}

// UpsertResult is returned by the registry for every resolve-or-create call.
type UpsertResult struct {
	Record     *TreeRecord `json:"record"`
	WasCreated bool        `json:"was_created"`
}
