package publish

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/Masterminds/semver/v3"

	"github.com/schaermu/modsync/internal/manifest"
)

// FirstVersion is used when no profile exists yet.
const FirstVersion = "1.0.0"

// fallbackVersion is used when the last version cannot be parsed.
const fallbackVersion = "1.0.1"

// Profile remembers the publisher's settings between generations
type Profile struct {
	LastGeneratedVersion string                   `json:"last_generated_version"`
	Info                 string                   `json:"info"`
	BaseDownloadURL      string                   `json:"base_download_url"`
	AppendVersionToPath  bool                     `json:"append_version_to_path"`
	LaunchExecutable     string                   `json:"launch_executable"`
	DownloadPolicy       *manifest.DownloadPolicy `json:"download_control_settings"`
}

// LoadProfile reads the profile at path. A missing file yields nil and no error.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read publisher profile: %w", err)
	}

	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse publisher profile %s: %w", path, err)
	}
	return &p, nil
}

// SaveProfile writes the profile to path
func SaveProfile(path string, p *Profile) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode publisher profile: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create profile directory: %w", err)
	}
	return os.WriteFile(path, append(data, '\n'), 0644)
}

// NextVersion proposes the version of the next manifest: the patch-bumped last
// version, FirstVersion without a profile, or 1.0.1 when the last version is
// unparsable.
func NextVersion(p *Profile) string {
	if p == nil {
		return FirstVersion
	}
	return BumpPatch(p.LastGeneratedVersion)
}

// BumpPatch increments the patch component of v.
func BumpPatch(v string) string {
	parsed, err := semver.NewVersion(v)
	if err != nil {
		return fallbackVersion
	}
	next := parsed.IncPatch()
	return next.String()
}
