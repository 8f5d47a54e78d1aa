// Package launch decides which executable to start after a sync and starts it.
package launch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/schaermu/modsync/internal/manifest"
	"github.com/schaermu/modsync/internal/state"
)

// ErrTargetMissing is returned when the launch executable does not exist.
var ErrTargetMissing = errors.New("launch target missing")

// State is the outcome of comparing the local and remote launch executables
type State int

const (
	// Unchanged keeps the configured executable.
	Unchanged State = iota
	// AutoUpdated switched the configured executable to the manifest's.
	AutoUpdated
	// NeedsDecision means the manifest proposes an executable that does not exist
	// locally and the caller has to choose.
	NeedsDecision
)

func (s State) String() string {
	switch s {
	case AutoUpdated:
		return "auto_updated"
	case NeedsDecision:
		return "needs_decision"
	default:
		return "unchanged"
	}
}

// Resolution is the result of Resolve
type Resolution struct {
	State State
	// Executable and Version are the manifest's proposal.
	Executable string
	Version    string
}

// NeedsDecision reports whether the caller must pick a Choice before launching.
func (r Resolution) NeedsDecision() bool {
	return r.State == NeedsDecision
}

// Resolve compares the manifest's launch executable with the local one. When the
// proposed executable exists below root the state is rewritten to use it.
func Resolve(root string, st *state.LocalState, m *manifest.Manifest) Resolution {
	res := Resolution{Executable: m.LaunchExecutable, Version: m.Version}

	if strings.EqualFold(m.LaunchExecutable, st.LaunchExecutable) {
		return res
	}
	if strings.EqualFold(m.Version, st.IgnoredRemoteLaunchVersion) {
		return res
	}

	if _, err := Target(root, m.LaunchExecutable); err == nil {
		st.LaunchExecutable = m.LaunchExecutable
		res.State = AutoUpdated
		return res
	}

	res.State = NeedsDecision
	return res
}

// Choice is the caller's answer to a pending launch decision
type Choice string

const (
	IgnoreOnce        Choice = "once"
	IgnorePermanently Choice = "permanent"
	Cancel            Choice = "cancel"
)

// ParseChoice parses a choice name.
func ParseChoice(s string) (Choice, error) {
	switch c := Choice(strings.ToLower(strings.TrimSpace(s))); c {
	case IgnoreOnce, IgnorePermanently, Cancel:
		return c, nil
	default:
		return "", fmt.Errorf("invalid launch decision %q (must be once, permanent, or cancel)", s)
	}
}

// Apply records choice in st. It reports whether the configured executable
// should be launched and whether st changed and must be saved.
func Apply(st *state.LocalState, res Resolution, choice Choice) (launch, changed bool) {
	switch choice {
	case IgnorePermanently:
		st.IgnoredRemoteLaunchVersion = res.Version
		return true, true
	case IgnoreOnce:
		return true, false
	default:
		return false, false
	}
}

// Target returns the absolute path of exe below root. It fails with
// ErrTargetMissing when no regular file exists there or exe escapes root.
func Target(root, exe string) (string, error) {
	if strings.TrimSpace(exe) == "" {
		return "", fmt.Errorf("%w: no launch executable configured", ErrTargetMissing)
	}
	local := filepath.FromSlash(manifest.NormalizePath(exe))
	if !filepath.IsLocal(local) {
		return "", fmt.Errorf("%w: %s is outside the install root", ErrTargetMissing, exe)
	}
	path := filepath.Join(root, local)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrTargetMissing, path)
	}
	return path, nil
}

// Launcher starts processes
type Launcher interface {
	// Start runs the executable at path with dir as working directory and
	// returns once the process is running.
	Start(ctx context.Context, path, dir string) error
}

// ExecLauncher implements Launcher with os/exec
type ExecLauncher struct{}

// NewExecLauncher creates a new launcher
func NewExecLauncher() *ExecLauncher {
	return &ExecLauncher{}
}

// Start starts the process and releases it. The child is not bound to ctx so it
// outlives the sync command.
func (l *ExecLauncher) Start(ctx context.Context, path, dir string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cmd := exec.Command(path)
	cmd.Dir = dir
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", path, err)
	}
	return cmd.Process.Release()
}

// Run launches exe below root. A missing executable is a soft failure: it is
// logged and reported as not launched without an error.
func Run(ctx context.Context, l Launcher, root, exe string, logger *slog.Logger) (bool, error) {
	path, err := Target(root, exe)
	if err != nil {
		logger.Error("launch target missing", "executable", exe, "error", err)
		return false, nil
	}

	logger.Info("launching application", "executable", exe)
	if err := l.Start(ctx, path, filepath.Dir(path)); err != nil {
		return false, err
	}
	return true, nil
}
