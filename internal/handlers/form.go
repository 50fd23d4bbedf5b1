package handlers

import (
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/maneesh/pdfsqueeze/internal/apperr"
	"github.com/maneesh/pdfsqueeze/internal/compress"
	"github.com/maneesh/pdfsqueeze/internal/pipeline"
)

const (
	formFiles            = "files"
	formTargetSize       = "targetSize"
	formPassword         = "password"
	formPreserveMetadata = "preserveMetadata"
	formAsZip            = "asZip"

	// Parts beyond this are spooled to disk by mime/multipart.
	multipartMemory = 32 << 20
	bytesPerMB      = 1024 * 1024
)

// compressForm is a validated POST /compress request.
type compressForm struct {
	Files            []pipeline.Input
	TargetMB         float64
	Password         string
	PreserveMetadata bool
	AsZip            bool
}

// Options maps the form onto compressor options.
func (f *compressForm) Options() compress.Options {
	return compress.Options{
		TargetSize:       int64(f.TargetMB * bytesPerMB),
		Password:         f.Password,
		PreserveMetadata: f.PreserveMetadata,
	}
}

func validation(format string, args ...any) error {
	return apperr.New(apperr.KindValidation, fmt.Sprintf(format, args...), nil)
}

// parseCompressForm reads and validates the multipart body. The body must
// already be limited with http.MaxBytesReader.
func parseCompressForm(r *http.Request, maxFiles int) (*compressForm, error) {
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, validation("Upload exceeds %d MB", tooLarge.Limit/bytesPerMB)
		}
		return nil, apperr.New(apperr.KindValidation, "Expected a multipart/form-data body", err)
	}

	form := &compressForm{}

	raw := strings.TrimSpace(r.FormValue(formTargetSize))
	if raw == "" {
		return nil, validation("targetSize is required")
	}
	target, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(target) || math.IsInf(target, 0) || target <= 0 {
		return nil, validation("targetSize must be a positive number of megabytes")
	}
	form.TargetMB = target

	if form.PreserveMetadata, err = parseFlag(r.FormValue(formPreserveMetadata)); err != nil {
		return nil, validation("preserveMetadata must be a boolean")
	}
	if form.AsZip, err = parseFlag(r.FormValue(formAsZip)); err != nil {
		return nil, validation("asZip must be a boolean")
	}
	form.Password = r.FormValue(formPassword)

	headers := r.MultipartForm.File[formFiles]
	if len(headers) == 0 {
		return nil, validation("No files uploaded")
	}
	if len(headers) > maxFiles {
		return nil, validation("Maximum %d files allowed", maxFiles)
	}

	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			return nil, apperr.ForFile(apperr.KindValidation, fh.Filename, "Failed to read upload", err)
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, apperr.ForFile(apperr.KindValidation, fh.Filename, "Failed to read upload", err)
		}
		form.Files = append(form.Files, pipeline.Input{
			Name: compress.SanitizeName(fh.Filename),
			Data: data,
		})
	}

	return form, nil
}

// parseFlag accepts the usual spellings of a form checkbox. Empty is false.
func parseFlag(v string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "false", "0", "off", "no":
		return false, nil
	case "true", "1", "on", "yes":
		return true, nil
	default:
		return false, fmt.Errorf("invalid boolean %q", v)
	}
}
