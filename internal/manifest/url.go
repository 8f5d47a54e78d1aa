package manifest

import (
	"fmt"
	"strings"
)

// ResolveFileURL builds the download URL for a single file entry.
func ResolveFileURL(m *Manifest, f FileEntry) (string, error) {
	base := strings.TrimSpace(f.OverrideBaseURL)
	if base == "" {
		base = strings.TrimSpace(m.BaseDownloadURL)
	}
	if base == "" {
		return "", fmt.Errorf("%w: %w (file %s)", ErrFormat, ErrMissingBaseURL, f.RelativePath)
	}

	url := strings.TrimRight(base, "/") + "/"
	if m.AppendVersionToPath {
		url += strings.Trim(m.Version, "/") + "/"
	}

	return url + strings.TrimLeft(f.DownloadSegment, "/"), nil
}
