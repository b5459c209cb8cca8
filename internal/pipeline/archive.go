package pipeline

import (
	"bytes"
	"fmt"

	"github.com/dunamismax/pixelvariant/internal/domain"
	"github.com/klauspost/compress/zip"
)

const ArchiveMIMEType = "application/zip"

// WriteArchive deflates entries into a ZIP in the given order. Duplicate names
// are written as separate entries.
func WriteArchive(entries []BatchEntry) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	for _, entry := range entries {
		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:   entry.Name,
			Method: zip.Deflate,
		})
		if err != nil {
			return nil, fmt.Errorf("create archive entry %q: %w", entry.Name, err)
		}
		if _, err := w.Write(entry.Data); err != nil {
			return nil, fmt.Errorf("write archive entry %q: %w", entry.Name, err)
		}
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("finalize archive: %w", err)
	}
	return buf.Bytes(), nil
}

func ArchiveName(set domain.VariantSet) string {
	if set.All {
		return "batch_all_variants.zip"
	}
	return fmt.Sprintf("batch_%s.zip", set.String())
}
