// geocode/file.go
package geocode

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/jszwec/csvutil"
)

// fileRow is one line of a lookup file: address,lat,lng[,formatted_address].
type fileRow struct {
	Address string `csv:"address"`
	Result
}

// FileGeocoder answers from a CSV of known coordinates, typically exported from a county GIS
// portal. Addresses not in the file are unknown.
type FileGeocoder struct {
	known map[string]Result
}

// LoadFile reads a lookup CSV from disk.
func LoadFile(path string) (*FileGeocoder, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open geocode lookup file: %w", err)
	}
	defer f.Close()
	return ReadFile(f)
}

// ReadFile parses a lookup CSV. Later rows win for duplicate addresses.
func ReadFile(r io.Reader) (*FileGeocoder, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	var rows []fileRow
	if err := csvutil.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("failed to parse geocode lookup file: %w", err)
	}
	g := &FileGeocoder{known: make(map[string]Result, len(rows))}
	for _, row := range rows {
		key := CacheKey(row.Address)
		if key == "" {
			continue
		}
		g.known[key] = row.Result
	}
	return g, nil
}

func (g *FileGeocoder) Geocode(_ context.Context, address string) (*Result, error) {
	res, ok := g.known[CacheKey(address)]
	if !ok {
		return nil, nil
	}
	return &res, nil
}

func (g *FileGeocoder) Len() int { return len(g.known) }
