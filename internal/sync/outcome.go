package sync

import (
	"context"
	"errors"

	"github.com/schaermu/modsync/internal/launch"
	"github.com/schaermu/modsync/internal/manifest"
	"github.com/schaermu/modsync/internal/state"
)

var (
	// ErrConfigMissing is returned when no local state file exists.
	ErrConfigMissing = errors.New("local state not found")
	// ErrConfigIncomplete is returned when the local state has no update URL.
	ErrConfigIncomplete = errors.New("update_url is not configured")
	// ErrIntegrity is returned when a downloaded file does not match its manifest hash.
	ErrIntegrity = errors.New("integrity check failed")
)

// ErrorKind names the class of a failed pass
type ErrorKind string

const (
	KindNone             ErrorKind = ""
	KindConfigMissing    ErrorKind = "config_missing"
	KindConfigIncomplete ErrorKind = "config_incomplete"
	KindNetwork          ErrorKind = "network"
	KindManifestFormat   ErrorKind = "manifest_format"
	KindIntegrity        ErrorKind = "integrity"
	KindIO               ErrorKind = "io"
	KindCanceled         ErrorKind = "canceled"
)

// Classify maps an error returned by a pass to its kind.
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, context.Canceled):
		return KindCanceled
	case errors.Is(err, ErrConfigMissing):
		return KindConfigMissing
	case errors.Is(err, ErrConfigIncomplete):
		return KindConfigIncomplete
	case errors.Is(err, ErrIntegrity):
		return KindIntegrity
	case errors.Is(err, manifest.ErrFormat):
		return KindManifestFormat
	case errors.Is(err, manifest.ErrNetwork), errors.Is(err, context.DeadlineExceeded):
		return KindNetwork
	default:
		return KindIO
	}
}

// Outcome is the result of one sync pass. A pass never returns an error
// directly; failures are described here.
type Outcome struct {
	Success     bool
	AppLaunched bool
	Err         error
	Message     string
	ErrorKind   ErrorKind

	// Manifest is the fetched manifest, nil when the fetch failed.
	Manifest *manifest.Manifest
	// State is the best-known local state. After a successful pass it is the
	// state that was saved.
	State *state.LocalState
	// Launch holds the launch resolution and any pending decision.
	Launch launch.Resolution

	// AdminMode is set when the skip flag disabled the update.
	AdminMode bool
	// Updated is set when the remote version was newer and files were synced.
	Updated    bool
	Downloaded int
	Skipped    int
	// FellBack counts files that could not use ranged downloads.
	FellBack  int
	Untracked []string
}

// NeedsDecision reports whether the caller must resolve a launch mismatch.
func (o *Outcome) NeedsDecision() bool {
	return o.Success && o.Launch.NeedsDecision()
}

func (o *Outcome) fail(err error) *Outcome {
	o.Success = false
	o.Err = err
	o.Message = err.Error()
	o.ErrorKind = Classify(err)
	return o
}
