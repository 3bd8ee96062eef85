// Package normalize converts heterogeneous external rows into canonical import
// candidates. Soft-missing fields degrade to nil or sentinel values rather
// than failing the row; only the reconciliation pipeline rejects rows, and
// only for absent or out-of-range coordinates.
package normalize

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/groveworks/canopy/internal/model"
)

// identifierPattern is the hard compatibility contract for externally-supplied
// identifiers; downstream consumers key off it.
var identifierPattern = regexp.MustCompile(`^\d{3,9}$`)

// Column aliases accepted across known survey sources. Matching is
// case-insensitive and ignores spaces, underscores and dashes.
var (
	idAliases       = []string{"id", "identifier", "tree_id", "tree_code", "code", "ref", "reference"}
	latAliases      = []string{"latitude", "lat", "y"}
	lonAliases      = []string{"longitude", "lon", "lng", "long", "x"}
	combinedAliases = []string{"coordinates", "coords", "gps", "position", "location", "latlon", "lat_lon"}
	typeAliases     = []string{"type", "tree_type", "species", "variety", "essence"}
	heightAliases   = []string{"height", "tree_height", "hauteur"}
	widthAliases    = []string{"width", "tree_width", "diameter", "largeur"}
	shapeAliases    = []string{"shape", "approximate_shape", "crown_shape", "forme"}
	firstAliases    = []string{"first_name", "firstname", "owner_first_name", "prenom"}
	lastAliases     = []string{"last_name", "lastname", "owner_last_name", "nom"}
	emailAliases    = []string{"email", "owner_email", "mail", "contact"}
	diseaseAliases  = []string{"disease", "condition", "health", "status", "state", "etat"}
	fruitAliases    = []string{"fruit", "has_fruit", "fruit_present", "fruits"}
	qtyAliases      = []string{"fruit_quantity", "fruit_count", "quantity", "estimated_quantity"}
	dateAliases     = []string{"observed_at", "date", "survey_date", "captured_at"}
)

// severityVocabulary maps free-text disease/condition labels to the canonical
// status enum. Unrecognized labels pass through lowercased.
var severityVocabulary = map[string]model.Status{
	"healthy":   model.StatusHealthy,
	"ok":        model.StatusHealthy,
	"sain":      model.StatusHealthy,
	"suspected": model.StatusWarning,
	"suspect":   model.StatusWarning,
	"warning":   model.StatusWarning,
	"severe":    model.StatusCritical,
	"critical":  model.StatusCritical,
	"grave":     model.StatusCritical,
}

// dateLayouts tried in order when parsing observation dates.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02",
	"02/01/2006",
	"2006/01/02",
}

// Normalizer converts raw survey rows into import candidates.
type Normalizer struct {
	now func() time.Time
}

// New creates a Normalizer using the wall clock for identifier regeneration.
func New() *Normalizer {
	return &Normalizer{now: time.Now}
}

// NewWithClock creates a Normalizer with an injected clock for tests.
func NewWithClock(now func() time.Time) *Normalizer {
	return &Normalizer{now: now}
}

// Row normalizes one raw row into an ImportCandidate. It never fails: missing
// or malformed columns degrade to nil or sentinel values, and coordinate
// absence is represented by a nil Location for the pipeline to reject.
func (n *Normalizer) Row(row model.RawRow) model.ImportCandidate {
	c := model.ImportCandidate{
		SourceRowIndex: row.Index,
		RawPayload:     row.Values,
	}

	c.Identifier, c.IdentifierRaw = n.extractIdentifier(row)
	c.Location = extractLocation(row.Values)

	c.DeclaredType = getCol(row.Values, typeAliases...)
	if c.DeclaredType == "" {
		c.DeclaredType = model.Sentinel
	}

	c.Owner = extractOwner(row.Values)
	c.Measurements = extractMeasurements(row.Values)
	c.Fruit = extractFruit(row.Values)
	c.Status = MapSeverity(getCol(row.Values, diseaseAliases...))

	if raw := getCol(row.Values, dateAliases...); raw != "" {
		for _, layout := range dateLayouts {
			if ts, err := time.Parse(layout, raw); err == nil {
				c.ObservedAt = &ts
				break
			}
		}
	}

	return c
}

// extractIdentifier pulls and validates the external identifier, regenerating
// a time-derived one when absent or invalid. A bad identifier never fails the
// row.
func (n *Normalizer) extractIdentifier(row model.RawRow) (string, bool) {
	raw := getCol(row.Values, idAliases...)
	if identifierPattern.MatchString(raw) {
		return raw, true
	}
	if raw != "" {
		zap.L().Debug("normalize: invalid identifier regenerated",
			zap.Int("row", row.Index),
			zap.String("identifier", raw),
		)
	}
	return n.generateIdentifier(row.Index), false
}

// generateIdentifier derives a 9-digit identifier from the current time plus
// the row index, keeping collisions deterministically unlikely within a batch.
func (n *Normalizer) generateIdentifier(rowIndex int) string {
	v := (n.now().UnixNano()/1000 + int64(rowIndex)) % 1_000_000_000
	if v < 100_000_000 {
		v += 100_000_000
	}
	return fmt.Sprintf("%09d", v)
}

// extractLocation reads split latitude/longitude columns, falling back to a
// combined "lat,lon" or "lat;lon" cell. Split columns take precedence when
// both are present. Returns nil when no usable pair exists; range checking is
// left to the caller.
func extractLocation(values map[string]string) *model.Point {
	latRaw := getCol(values, latAliases...)
	lonRaw := getCol(values, lonAliases...)
	if latRaw != "" && lonRaw != "" {
		lat := parseFloatTolerant(latRaw)
		lon := parseFloatTolerant(lonRaw)
		if lat != nil && lon != nil {
			return &model.Point{Latitude: *lat, Longitude: *lon}
		}
	}

	combined := getCol(values, combinedAliases...)
	if combined == "" {
		return nil
	}
	return splitCombined(combined)
}

// splitCombined parses a combined coordinate cell. A semicolon separator
// allows decimal commas in each half; a comma separator requires decimal
// points in both halves, otherwise a single decimal-comma number like "36,8"
// would be misread as a coordinate pair.
func splitCombined(cell string) *model.Point {
	sep := ";"
	if !strings.Contains(cell, ";") {
		sep = ","
	}
	parts := strings.SplitN(cell, sep, 2)
	if len(parts) != 2 {
		return nil
	}
	if sep == "," && (!strings.Contains(parts[0], ".") || !strings.Contains(parts[1], ".")) {
		return nil
	}
	lat := parseFloatTolerant(parts[0])
	lon := parseFloatTolerant(parts[1])
	if lat == nil || lon == nil {
		return nil
	}
	return &model.Point{Latitude: *lat, Longitude: *lon}
}

func extractOwner(values map[string]string) model.OwnerInfo {
	o := model.OwnerInfo{
		FirstName: getCol(values, firstAliases...),
		LastName:  getCol(values, lastAliases...),
		Email:     getCol(values, emailAliases...),
	}
	if o.FirstName == "" {
		o.FirstName = model.Sentinel
	}
	if o.LastName == "" {
		o.LastName = model.Sentinel
	}
	if o.Email == "" {
		o.Email = model.Sentinel
	}
	return o
}

func extractMeasurements(values map[string]string) model.Measurements {
	m := model.Measurements{
		Height:           parseFloatTolerant(getCol(values, heightAliases...)),
		Width:            parseFloatTolerant(getCol(values, widthAliases...)),
		ApproximateShape: getCol(values, shapeAliases...),
	}
	// Negative dimensions are as unusable as unparsable ones.
	if m.Height != nil && *m.Height < 0 {
		m.Height = nil
	}
	if m.Width != nil && *m.Width < 0 {
		m.Width = nil
	}
	return m
}

// extractFruit parses fruit presence and quantity. Quantity defaults to zero
// when presence is false or absent; that is the one place an unknown numeric
// collapses to zero.
func extractFruit(values map[string]string) model.FruitState {
	f := model.FruitState{
		Present: parseBoolTolerant(getCol(values, fruitAliases...)),
	}
	if f.Present {
		if qty := parseIntTolerant(getCol(values, qtyAliases...)); qty != nil && *qty >= 0 {
			f.EstimatedQuantity = *qty
		}
	}
	return f
}

// MapSeverity maps a free-text disease/condition label to the canonical
// status enum. Empty input stays empty so the registry can default new
// records to healthy; unrecognized labels pass through lowercased.
func MapSeverity(label string) model.Status {
	label = strings.ToLower(strings.TrimSpace(label))
	if label == "" {
		return ""
	}
	if status, ok := severityVocabulary[label]; ok {
		return status
	}
	return model.Status(label)
}

// ValidIdentifier reports whether id satisfies the external identifier
// contract.
func ValidIdentifier(id string) bool {
	return identifierPattern.MatchString(id)
}
