// Package state holds the local installation state and persists it as JSON.
package state

import (
	"slices"
	"strings"

	"github.com/schaermu/modsync/internal/manifest"
)

// InitialVersion is the version recorded for a freshly initialized installation.
const InitialVersion = "0.0.0"

// LocalState tracks what the local installation looks like
type LocalState struct {
	CurrentVersion             string                   `json:"current_version"`
	UpdateURL                  string                   `json:"update_url,omitempty"`
	LaunchExecutable           string                   `json:"launch_executable"`
	DownloadPolicy             *manifest.DownloadPolicy `json:"download_control"`
	IgnoreSSLErrors            bool                     `json:"ignore_ssl_errors"`
	IgnoredRemoteLaunchVersion string                   `json:"ignored_remote_launch_version"`
	IgnorePatterns             []string                 `json:"ignore_patterns"`
	ManagedFiles               []string                 `json:"managed_files"`
}

// NewLocalState returns the state of an installation that has never synced.
func NewLocalState(updateURL, launchExecutable string) *LocalState {
	return &LocalState{
		CurrentVersion:   InitialVersion,
		UpdateURL:        updateURL,
		LaunchExecutable: launchExecutable,
		IgnorePatterns:   []string{},
		ManagedFiles:     []string{},
	}
}

// IsManaged reports whether rel is a managed file. Comparison ignores case and
// separator style.
func (s *LocalState) IsManaged(rel string) bool {
	rel = manifest.NormalizePath(rel)
	for _, m := range s.ManagedFiles {
		if strings.EqualFold(manifest.NormalizePath(m), rel) {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the state.
func (s *LocalState) Clone() *LocalState {
	if s == nil {
		return nil
	}
	c := *s
	if s.DownloadPolicy != nil {
		p := *s.DownloadPolicy
		c.DownloadPolicy = &p
	}
	c.IgnorePatterns = slices.Clone(s.IgnorePatterns)
	c.ManagedFiles = slices.Clone(s.ManagedFiles)
	return &c
}
