package compress

import (
	"fmt"

	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

var infoKeys = []string{"Title", "Author", "Subject", "Keywords", "Producer", "Creator"}

// stripMetadata removes the descriptive document information entries and the
// catalog level XMP stream. The writer stamps its own Producer afterwards.
func stripMetadata(pdfCtx *model.Context) error {
	if pdfCtx.Info != nil {
		info, err := pdfCtx.DereferenceDict(*pdfCtx.Info)
		if err != nil {
			return fmt.Errorf("failed to read document info: %w", err)
		}
		for _, key := range infoKeys {
			info.Delete(key)
		}
	}

	catalog, err := pdfCtx.Catalog()
	if err != nil {
		return fmt.Errorf("failed to read catalog: %w", err)
	}
	catalog.Delete("Metadata")
	return nil
}
