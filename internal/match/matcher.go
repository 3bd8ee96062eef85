// Package match implements the tiered spatial matching policy used to decide
// whether a candidate refers to an existing tree record.
package match

import (
	"github.com/groveworks/canopy/internal/geo"
	"github.com/groveworks/canopy/internal/model"
	"github.com/groveworks/canopy/internal/normalize"
)

// Config holds the matching radii in meters. The defaults materially affect
// matching outcomes; change them only deliberately.
type Config struct {
	SiteRadiusM float64 `yaml:"site_radius_m" mapstructure:"site_radius_m"`
	TypeRadiusM float64 `yaml:"type_radius_m" mapstructure:"type_radius_m"`
}

// DefaultConfig returns the standard 10 m exact-site / 100 m same-type radii.
func DefaultConfig() Config {
	return Config{SiteRadiusM: 10, TypeRadiusM: 100}
}

// Matcher resolves candidates against a registry snapshot.
type Matcher struct {
	cfg Config
}

// New creates a Matcher. Zero radii fall back to the defaults.
func New(cfg Config) *Matcher {
	def := DefaultConfig()
	if cfg.SiteRadiusM <= 0 {
		cfg.SiteRadiusM = def.SiteRadiusM
	}
	if cfg.TypeRadiusM <= 0 {
		cfg.TypeRadiusM = def.TypeRadiusM
	}
	return &Matcher{cfg: cfg}
}

// TypeRadiusM exposes the effective same-type radius.
func (m *Matcher) TypeRadiusM() float64 {
	return m.cfg.TypeRadiusM
}

// Best returns the registry record the candidate refers to, or nil for no
// match. The policy is tiered and fully deterministic:
//
//  1. Exact site: any non-archived record within the site radius, nearest
//     first, ties broken by lexicographically smallest public id. Exact
//     co-location wins over type agreement because GPS noise is assumed
//     smaller than the spacing between distinct trees of the same type.
//  2. Same type: among records whose declared type folds equal to the
//     candidate's, the nearest within the type radius. Skipped entirely when
//     the candidate type is empty or the sentinel.
//
// Archived records never match. The snapshot is read-only; Best has no side
// effects.
func (m *Matcher) Best(location model.Point, declaredType string, snapshot []*model.TreeRecord) (*model.TreeRecord, error) {
	if err := geo.ValidatePoint(location); err != nil {
		return nil, err
	}

	var (
		site     *model.TreeRecord
		siteDist float64
	)
	for _, rec := range snapshot {
		if rec == nil || rec.Archived {
			continue
		}
		d, err := geo.Distance(location, rec.Location)
		if err != nil {
			return nil, err
		}
		if d > m.cfg.SiteRadiusM {
			continue
		}
		if site == nil || d < siteDist || (d == siteDist && rec.PublicID < site.PublicID) {
			site = rec
			siteDist = d
		}
	}
	if site != nil {
		return site, nil
	}

	typeKey := normalize.FoldType(declaredType)
	if typeKey == "" || typeKey == normalize.FoldType(model.Sentinel) {
		return nil, nil
	}

	var (
		typed     *model.TreeRecord
		typedDist float64
	)
	for _, rec := range snapshot {
		if rec == nil || rec.Archived {
			continue
		}
		if normalize.FoldType(rec.DeclaredType) != typeKey {
			continue
		}
		d, err := geo.Distance(location, rec.Location)
		if err != nil {
			return nil, err
		}
		if typed == nil || d < typedDist || (d == typedDist && rec.PublicID < typed.PublicID) {
			typed = rec
			typedDist = d
		}
	}
	if typed != nil && typedDist <= m.cfg.TypeRadiusM {
		return typed, nil
	}

	return nil, nil
}
