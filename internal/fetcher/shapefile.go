package fetcher

import (
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/groveworks/canopy/internal/model"
)

// ReadShapefile parses a point shapefile into raw rows. Every DBF attribute
// becomes a column under its lowercased field name, and the point geometry is
// exposed as latitude/longitude columns so the normalizer treats shapefile
// records like any other tabular source. Non-point and nil geometries are
// skipped, not failed.
func ReadShapefile(path string) ([]model.RawRow, error) {
	reader, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "shapefile: open %s", path)
	}
	defer func() { _ = reader.Close() }()

	fields := reader.Fields()
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = strings.ToLower(strings.TrimRight(f.String(), "\x00"))
	}

	var (
		rows    []model.RawRow
		skipped int
	)
	for reader.Next() {
		_, shape := reader.Shape()
		point, ok := shape.(*shp.Point)
		if !ok || point == nil {
			skipped++
			continue
		}

		values := make(map[string]string, len(names)+2)
		for i, name := range names {
			if name == "" {
				continue
			}
			val := strings.TrimSpace(strings.TrimRight(reader.Attribute(i), "\x00"))
			if val != "" {
				values[name] = val
			}
		}
		// Shapefile axis order is X=longitude, Y=latitude.
		values["latitude"] = strconv.FormatFloat(point.Y, 'f', -1, 64)
		values["longitude"] = strconv.FormatFloat(point.X, 'f', -1, 64)

		rows = append(rows, model.RawRow{Index: len(rows), Values: values})
	}

	if skipped > 0 {
		zap.L().Warn("shapefile: skipped non-point records",
			zap.String("path", path),
			zap.Int("skipped", skipped),
		)
	}
	return rows, nil
}
