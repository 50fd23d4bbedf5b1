package compress

import (
	"path"
	"strings"
	"unicode"
)

const fallbackName = "document.pdf"

// SanitizeName reduces a client supplied file name to a safe base name.
func SanitizeName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(name)
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) || r == '"' || r == '/' {
			return -1
		}
		return r
	}, name)
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." {
		return fallbackName
	}
	return name
}

// CompressedName derives the download name for a compressed upload:
// "report.pdf" becomes "report_compressed.pdf".
func CompressedName(original string) string {
	name := SanitizeName(original)
	base := name
	if ext := path.Ext(name); strings.EqualFold(ext, ".pdf") {
		base = strings.TrimSuffix(name, ext)
	}
	if base == "" {
		base = "document"
	}
	return base + "_compressed.pdf"
}
