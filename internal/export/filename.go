package export

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

const maxFilenameLength = 255

// exportFilename builds the canonical export filename:
// iwsa_<sanitized domain>_<timestamp>.<ext> under dir.
func exportFilename(dir, sourceDomain, ext string, now time.Time) string {
	if sourceDomain == "" {
		sourceDomain = "scraped_data"
	}
	name := fmt.Sprintf("iwsa_%s_%s.%s", sourceDomain, now.Format("20060102_150405"), ext)
	return filepath.Join(dir, sanitizeFilename(name))
}

var filenameReplacer = strings.NewReplacer(
	"<", "_", ">", "_", ":", "_", `"`, "_",
	"/", "_", `\`, "_", "|", "_", "?", "_", "*", "_",
)

// sanitizeFilename makes a string safe as a filename across platforms:
// reserved characters become underscores, trailing dots and spaces are
// trimmed, length is capped, and an empty result falls back to untitled.
func sanitizeFilename(name string) string {
	cleaned := filenameReplacer.Replace(name)
	cleaned = strings.Trim(cleaned, ". ")
	if len(cleaned) > maxFilenameLength {
		cleaned = cleaned[:maxFilenameLength]
	}
	if cleaned == "" {
		return "untitled"
	}
	return cleaned
}
