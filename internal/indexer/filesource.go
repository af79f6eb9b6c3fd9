package indexer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chantio/chantio/internal/vector"
)

// FileSource reads indexable records exported by the management app as text
// files: one subdirectory per source type, one .txt or .md file per record,
// named after the record ID. File modification time drives ChangedSince.
type FileSource struct {
	root string
}

// NewFileSource creates a source over root. The directory may not exist yet;
// a missing root simply yields no records.
func NewFileSource(root string) *FileSource {
	return &FileSource{root: root}
}

var sourceTypes = []string{
	vector.SourceTypeClient,
	vector.SourceTypeSite,
	vector.SourceTypeQuote,
	vector.SourceTypeSubcontractor,
	vector.SourceTypeDocument,
}

// All returns every record under the root.
func (s *FileSource) All(ctx context.Context) ([]Record, error) {
	return s.scan(ctx, time.Time{})
}

// ChangedSince returns records whose file changed after t.
func (s *FileSource) ChangedSince(ctx context.Context, t time.Time) ([]Record, error) {
	return s.scan(ctx, t)
}

func (s *FileSource) scan(ctx context.Context, since time.Time) ([]Record, error) {
	var records []Record
	for _, st := range sourceTypes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		dir := filepath.Join(s.root, st)
		entries, err := os.ReadDir(dir)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reading %s records: %w", st, err)
		}

		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			ext := filepath.Ext(entry.Name())
			if ext != ".txt" && ext != ".md" {
				continue
			}
			info, err := entry.Info()
			if err != nil {
				return nil, fmt.Errorf("stating %s: %w", entry.Name(), err)
			}
			if !since.IsZero() && !info.ModTime().After(since) {
				continue
			}

			data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
			if err != nil {
				return nil, fmt.Errorf("reading record %s: %w", entry.Name(), err)
			}
			records = append(records, Record{
				SourceType: st,
				ID:         strings.TrimSuffix(entry.Name(), ext),
				Text:       string(data),
				UpdatedAt:  info.ModTime(),
			})
		}
	}
	return records, nil
}
