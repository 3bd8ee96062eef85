// Package fetcher loads survey batches from local and remote tabular sources:
// CSV and XLSX exports, point shapefiles, and zipped bundles of any of those,
// over plain files, HTTP, or FTP.
package fetcher

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/groveworks/canopy/internal/model"
)

// Fetcher downloads remote survey files.
type Fetcher interface {
	// Download fetches the URL and returns the response body.
	Download(ctx context.Context, url string) (io.ReadCloser, error)

	// DownloadToFile fetches the URL and writes it to the given path. Returns
	// bytes written.
	DownloadToFile(ctx context.Context, url string, path string) (int64, error)
}

// Load reads a survey file into raw rows, dispatching on the file extension.
// Supported: .csv, .xlsx, .shp, and .zip bundles containing one of those.
func Load(ctx context.Context, path string) ([]model.RawRow, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		f, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrapf(err, "fetcher: open %s", path)
		}
		defer func() { _ = f.Close() }()
		return ReadCSV(ctx, f, CSVOptions{TrimSpace: true})
	case ".xlsx":
		return ReadXLSX(path, XLSXOptions{})
	case ".shp":
		return ReadShapefile(path)
	case ".zip":
		return loadZip(ctx, path)
	default:
		return nil, eris.Errorf("fetcher: unsupported source %s", path)
	}
}

// LoadRemote downloads a survey file over the given fetcher and loads it. The
// URL path decides the format, same as Load.
func LoadRemote(ctx context.Context, f Fetcher, rawURL string) ([]model.RawRow, error) {
	dir, err := os.MkdirTemp("", "canopy-fetch-*")
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: temp dir")
	}
	defer func() { _ = os.RemoveAll(dir) }()

	local := filepath.Join(dir, filepath.Base(rawURL))
	n, err := f.DownloadToFile(ctx, rawURL, local)
	if err != nil {
		return nil, err
	}
	zap.L().Info("fetcher: downloaded source",
		zap.String("url", rawURL),
		zap.Int64("bytes", n),
	)
	return Load(ctx, local)
}

// loadZip extracts a bundle and loads the first supported file inside it.
// Shapefiles take priority since their .dbf sidecar must sit next to the .shp.
func loadZip(ctx context.Context, zipPath string) ([]model.RawRow, error) {
	dir, err := os.MkdirTemp("", "canopy-zip-*")
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: temp dir")
	}
	defer func() { _ = os.RemoveAll(dir) }()

	extracted, err := ExtractZIP(zipPath, dir)
	if err != nil {
		return nil, err
	}

	for _, ext := range []string{".shp", ".csv", ".xlsx"} {
		for _, path := range extracted {
			if strings.EqualFold(filepath.Ext(path), ext) {
				return Load(ctx, path)
			}
		}
	}
	return nil, eris.Errorf("fetcher: no supported file in %s", zipPath)
}

// zipRow pairs a header with one record, dropping cells beyond the header and
// empty column names.
func zipRow(index int, header, cells []string) model.RawRow {
	values := make(map[string]string, len(header))
	for i, col := range header {
		if col == "" || i >= len(cells) {
			continue
		}
		values[col] = cells[i]
	}
	return model.RawRow{Index: index, Values: values}
}
