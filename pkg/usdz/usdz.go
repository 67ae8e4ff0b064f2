// Package usdz packs and inspects USDZ archives: uncompressed zip files
// whose first entry is the root USD layer.
package usdz

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"path"
	"strings"
)

var (
	ErrNotArchive   = errors.New("usdz: not a zip archive")
	ErrEmptyArchive = errors.New("usdz: archive has no entries")
	ErrNoRootLayer  = errors.New("usdz: first entry is not a usd layer")
	ErrCompressed   = errors.New("usdz: entries must be stored uncompressed")
)

var zipMagic = []byte("PK\x03\x04")

// Asset is one file inside the package.
type Asset struct {
	Filename string
	Data     []byte
}

// Info summarises an inspected package.
type Info struct {
	RootLayer string
	Entries   int
	Size      int64
}

// IsZip reports whether data starts with a local file header.
func IsZip(data []byte) bool {
	return bytes.HasPrefix(data, zipMagic)
}

// IsLayerName reports whether name is a USD layer file.
func IsLayerName(name string) bool {
	switch strings.ToLower(path.Ext(name)) {
	case ".usd", ".usda", ".usdc":
		return true
	default:
		return false
	}
}

// Pack archives assets in order, uncompressed. The first asset must be a
// USD layer.
func Pack(assets []Asset) ([]byte, error) {
	if len(assets) == 0 {
		return nil, ErrEmptyArchive
	}
	if !IsLayerName(assets[0].Filename) {
		return nil, fmt.Errorf("%w: %q", ErrNoRootLayer, assets[0].Filename)
	}
	buf := &bytes.Buffer{}
	zw := zip.NewWriter(buf)
	for _, asset := range assets {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: asset.Filename, Method: zip.Store})
		if err != nil {
			return nil, fmt.Errorf("usdz: add %q: %w", asset.Filename, err)
		}
		if _, err := w.Write(asset.Data); err != nil {
			return nil, fmt.Errorf("usdz: write %q: %w", asset.Filename, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("usdz: close: %w", err)
	}
	return buf.Bytes(), nil
}

// Inspect validates data as a USDZ package.
func Inspect(data []byte) (Info, error) {
	zr, err := OpenArchive(data)
	if err != nil {
		return Info{}, err
	}
	first := zr.File[0]
	if !IsLayerName(first.Name) {
		return Info{}, fmt.Errorf("%w: %q", ErrNoRootLayer, first.Name)
	}
	for _, f := range zr.File {
		if f.Method != zip.Store {
			return Info{}, fmt.Errorf("%w: %q", ErrCompressed, f.Name)
		}
	}
	return Info{RootLayer: first.Name, Entries: len(zr.File), Size: int64(len(data))}, nil
}

// OpenArchive opens data as a non-empty zip archive.
func OpenArchive(data []byte) (*zip.Reader, error) {
	if !IsZip(data) {
		return nil, ErrNotArchive
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotArchive, err)
	}
	if len(zr.File) == 0 {
		return nil, ErrEmptyArchive
	}
	return zr, nil
}
