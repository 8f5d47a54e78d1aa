// Package manifest describes the remote file manifest, fetches it over HTTP and
// reconciles the download policies published by the origin and set locally.
package manifest

import (
	"errors"
	"strings"
)

var (
	// ErrNetwork marks transport failures and non-success HTTP responses.
	ErrNetwork = errors.New("network error")
	// ErrFormat marks a manifest that cannot be decoded or lacks required fields.
	ErrFormat = errors.New("manifest format error")
	// ErrMissingBaseURL is returned when neither the file nor the manifest names a base URL.
	ErrMissingBaseURL = errors.New("manifest has no base_download_url")
)

// Manifest is the remote description of the expected file set
type Manifest struct {
	Info                string          `json:"info"`
	Version             string          `json:"version"`
	BaseDownloadURL     string          `json:"base_download_url"`
	AppendVersionToPath bool            `json:"append_version_to_path"`
	LaunchExecutable    string          `json:"launch_executable"`
	DownloadPolicy      *DownloadPolicy `json:"download_control"`
	Files               []FileEntry     `json:"files"`
}

// FileEntry is a single file the installation should contain
type FileEntry struct {
	RelativePath    string `json:"relative_path"`
	Hash            string `json:"hash"`
	DownloadSegment string `json:"download_segment"`
	OverrideBaseURL string `json:"override_base_url,omitempty"`
}

// Path returns the entry's relative path with forward slashes.
func (f FileEntry) Path() string {
	return NormalizePath(f.RelativePath)
}

// Paths returns the manifest's relative paths, normalized and deduplicated
// case-insensitively. The first spelling of a path wins and order is preserved.
func (m *Manifest) Paths() []string {
	seen := make(map[string]bool, len(m.Files))
	paths := make([]string, 0, len(m.Files))
	for _, f := range m.Files {
		p := f.Path()
		key := strings.ToLower(p)
		if seen[key] {
			continue
		}
		seen[key] = true
		paths = append(paths, p)
	}
	return paths
}

// NormalizePath converts Windows separators to forward slashes.
func NormalizePath(p string) string {
	return strings.ReplaceAll(p, `\`, "/")
}
