// Package sync runs update passes: it fetches the manifest, brings the local
// file tree in line with it and launches the configured executable.
package sync

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	gosync "sync"
	"sync/atomic"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/schaermu/modsync/internal/config"
	"github.com/schaermu/modsync/internal/digest"
	"github.com/schaermu/modsync/internal/fetch"
	"github.com/schaermu/modsync/internal/launch"
	"github.com/schaermu/modsync/internal/manifest"
	"github.com/schaermu/modsync/internal/scan"
	"github.com/schaermu/modsync/internal/state"
	"github.com/schaermu/modsync/internal/transport"
)

// tempSuffix is appended to a target path while its download is in flight.
const tempSuffix = ".tmp"

// StatusFunc receives human-readable status lines. Calls are serialized.
type StatusFunc func(message string)

// ProgressFunc receives the fraction of files processed, in [0, 1]
type ProgressFunc func(fraction float64)

// Engine orchestrates the sync process
type Engine struct {
	cfg      *config.Config
	store    *state.Store
	launcher launch.Launcher
	logger   *slog.Logger
	limiter  *rate.Limiter
	noLaunch bool

	// newManifestClient builds the manifest client for a pass.
	newManifestClient func(*http.Client) manifest.Client
}

// NewEngine creates a new sync engine
func NewEngine(cfg *config.Config, launcher launch.Launcher, logger *slog.Logger, noLaunch bool) *Engine {
	return &Engine{
		cfg:      cfg,
		store:    cfg.Store(),
		launcher: launcher,
		logger:   logger,
		limiter:  fetch.NewLimiter(cfg.HTTP.MaxBytesPerSecond),
		noLaunch: noLaunch,
		newManifestClient: func(c *http.Client) manifest.Client {
			return manifest.NewHTTPClient(c)
		},
	}
}

// Store returns the state store used by the engine.
func (e *Engine) Store() *state.Store {
	return e.store
}

// RunUpdateAndLaunch executes one complete pass. Status and progress callbacks
// may be nil.
func (e *Engine) RunUpdateAndLaunch(ctx context.Context, status StatusFunc, progress ProgressFunc) *Outcome {
	if status == nil {
		status = func(string) {}
	} else {
		var mu gosync.Mutex
		next := status
		status = func(msg string) {
			mu.Lock()
			defer mu.Unlock()
			next(msg)
		}
	}
	if progress == nil {
		progress = func(float64) {}
	}

	logger := e.logger.With("run_id", uuid.NewString())
	out := &Outcome{}

	status("checking for updates")
	logger.Info("starting sync", "root", e.cfg.Paths.RootDir, "state_file", e.store.Path)

	st, err := e.store.Load()
	if err != nil {
		logger.Error("failed to load local state", "error", err)
		return out.fail(err)
	}

	if e.store.SkipFlagExists() {
		logger.Info("skip flag present, update disabled", "flag", e.store.SkipFlagPath)
		status("admin mode: update disabled")
		out.AdminMode = true
		out.State = st
		out.Success = true
		if st != nil && !e.noLaunch {
			out.AppLaunched = e.launchLogged(ctx, st, logger)
		}
		return out
	}

	if st == nil {
		err := fmt.Errorf("%w: %s", ErrConfigMissing, e.store.Path)
		logger.Error("sync failed", "error", err)
		return out.fail(err)
	}
	out.State = st

	if strings.TrimSpace(st.UpdateURL) == "" {
		logger.Error("sync failed", "error", ErrConfigIncomplete)
		return out.fail(ErrConfigIncomplete)
	}

	if err := e.run(ctx, out, st, status, progress, logger); err != nil {
		logger.Error("sync failed", "error", err, "kind", Classify(err))
		return out.fail(err)
	}

	if out.Launch.NeedsDecision() {
		logger.Warn("manifest proposes a launch executable that does not exist locally",
			"executable", out.Launch.Executable,
			"version", out.Launch.Version)
		return out
	}

	if !e.noLaunch {
		out.AppLaunched = e.launchLogged(ctx, st, logger)
	}

	logger.Info("sync completed successfully",
		"updated", out.Updated,
		"downloaded", out.Downloaded,
		"skipped", out.Skipped,
		"launched", out.AppLaunched)
	return out
}

// run performs steps that can fail the pass. On success out.Success is set and
// the state has been saved.
func (e *Engine) run(ctx context.Context, out *Outcome, st *state.LocalState, status StatusFunc, progress ProgressFunc, logger *slog.Logger) error {
	if st.IgnoreSSLErrors {
		logger.Warn("TLS certificate verification disabled by local state")
	}

	m, err := e.newManifestClient(e.manifestHTTPClient(st)).Fetch(ctx, st.UpdateURL)
	if err != nil {
		return fmt.Errorf("failed to fetch manifest: %w", err)
	}
	out.Manifest = m
	logger.Info("manifest fetched", "version", m.Version, "files", len(m.Files))

	local, remote := e.compareVersions(st.CurrentVersion, m.Version, logger)
	if local.LessThan(remote) {
		logger.Info("new version available", "local", st.CurrentVersion, "remote", m.Version)
		status(fmt.Sprintf("updating to v%s", m.Version))

		// Work on a copy so a failed pass leaves the loaded state untouched.
		next := st.Clone()
		if err := e.update(ctx, out, next, m, status, progress, logger); err != nil {
			return err
		}
		next.CurrentVersion = m.Version
		*st = *next
		out.Updated = true
	} else {
		logger.Info("already up to date", "local", st.CurrentVersion, "remote", m.Version)
		status("already up to date")
	}

	out.Launch = launch.Resolve(e.cfg.Paths.RootDir, st, m)
	if out.Launch.State == launch.AutoUpdated {
		logger.Info("launch executable updated", "executable", st.LaunchExecutable)
		status(fmt.Sprintf("launch executable updated to %s", st.LaunchExecutable))
	}

	st.ManagedFiles = m.Paths()
	if err := e.store.Save(st); err != nil {
		return fmt.Errorf("failed to save state: %w", err)
	}

	untracked, err := scan.FindUntracked(ctx, e.cfg.Paths.RootDir, st, e.cfg.Scan.ExtraRoots)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		logger.Warn("untracked file scan failed", "error", err)
	}
	out.Untracked = untracked
	if len(untracked) > 0 {
		for _, p := range untracked {
			logger.Warn("untracked file", "file", p)
		}
		status(fmt.Sprintf("warning: %d untracked files found", len(untracked)))
	} else {
		status("update complete")
	}

	out.Success = true
	return nil
}

// compareVersions parses both versions. An unparsable local version counts as
// 0.0.0 and an unparsable remote version as equal to the local one, so a broken
// manifest never triggers an update.
func (e *Engine) compareVersions(localRaw, remoteRaw string, logger *slog.Logger) (*semver.Version, *semver.Version) {
	local, err := semver.NewVersion(strings.TrimSpace(localRaw))
	if err != nil {
		logger.Warn("unparsable local version, assuming 0.0.0", "version", localRaw)
		local = semver.New(0, 0, 0, "", "")
	}

	remote, err := semver.NewVersion(strings.TrimSpace(remoteRaw))
	if err != nil {
		logger.Warn("unparsable remote version, skipping update", "version", remoteRaw)
		remote = local
	}

	return local, remote
}

// update removes obsolete files and downloads changed ones.
func (e *Engine) update(ctx context.Context, out *Outcome, st *state.LocalState, m *manifest.Manifest, status StatusFunc, progress ProgressFunc, logger *slog.Logger) error {
	if err := e.cleanup(ctx, st, m, logger); err != nil {
		return err
	}

	policy := manifest.ResolvePolicy(st.DownloadPolicy, m.DownloadPolicy)
	logger.Debug("effective download policy",
		"multi_file", policy.EnableMultiFileDownload,
		"max_files", policy.MaxConcurrentFiles,
		"multi_thread", policy.EnableMultiThreadDownload,
		"threads", policy.ThreadsPerFile)

	files := uniqueFiles(m.Files)
	if len(files) == 0 {
		progress(1)
		return nil
	}

	dl := fetch.NewDownloader(e.downloadHTTPClient(st, policy.Connections()), e.limiter, logger)

	var (
		processed  atomic.Int64
		downloaded atomic.Int64
		skipped    atomic.Int64
		fellBack   atomic.Int64
		reportMu   gosync.Mutex
	)
	total := float64(len(files))
	report := func() {
		reportMu.Lock()
		defer reportMu.Unlock()
		progress(min(1, max(0, float64(processed.Add(1))/total)))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(policy.FileWorkers())
	for _, f := range files {
		g.Go(func() error {
			defer report()
			if err := gctx.Err(); err != nil {
				return err
			}

			r, err := e.syncFile(gctx, dl, m, f, policy, status, logger)
			if err != nil {
				return err
			}
			if r.skipped {
				skipped.Add(1)
			} else {
				downloaded.Add(1)
			}
			if r.fellBack {
				fellBack.Add(1)
			}
			return nil
		})
	}

	err := g.Wait()
	out.Downloaded = int(downloaded.Load())
	out.Skipped = int(skipped.Load())
	out.FellBack = int(fellBack.Load())
	if err != nil {
		return err
	}

	progress(1)
	return nil
}

// cleanup deletes managed files the manifest no longer lists. Failures are
// logged and do not fail the pass.
func (e *Engine) cleanup(ctx context.Context, st *state.LocalState, m *manifest.Manifest, logger *slog.Logger) error {
	remote := make(map[string]bool, len(m.Files))
	for _, f := range m.Files {
		remote[strings.ToLower(f.Path())] = true
	}

	for _, managed := range st.ManagedFiles {
		if err := ctx.Err(); err != nil {
			return err
		}

		rel := manifest.NormalizePath(managed)
		if remote[strings.ToLower(rel)] {
			continue
		}

		path, err := e.targetPath(rel)
		if err != nil {
			logger.Warn("skipping cleanup of unsafe path", "file", managed, "error", err)
			continue
		}

		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			continue
		}
		if err := os.Remove(path); err != nil {
			logger.Warn("failed to delete obsolete file", "file", rel, "error", err)
			continue
		}
		logger.Info("deleted obsolete file", "file", rel)
	}

	return nil
}

type fileResult struct {
	skipped  bool
	fellBack bool
}

// syncFile brings one file up to date. The target is only replaced by a
// verified download.
func (e *Engine) syncFile(ctx context.Context, dl *fetch.Downloader, m *manifest.Manifest, f manifest.FileEntry, policy manifest.EffectivePolicy, status StatusFunc, logger *slog.Logger) (fileResult, error) {
	rel := f.Path()
	target, err := e.targetPath(rel)
	if err != nil {
		return fileResult{}, err
	}

	if info, err := os.Stat(target); err == nil && info.Mode().IsRegular() {
		local, err := digest.File(ctx, target)
		switch {
		case err == nil && digest.Equal(local, f.Hash):
			logger.Debug("file unchanged, skipping", "file", rel)
			return fileResult{skipped: true}, nil
		case err != nil && ctx.Err() != nil:
			return fileResult{}, ctx.Err()
		case err != nil:
			logger.Warn("failed to hash local file, downloading again", "file", rel, "error", err)
		}
	}

	url, err := manifest.ResolveFileURL(m, f)
	if err != nil {
		return fileResult{}, err
	}

	status(fmt.Sprintf("downloading %s", rel))
	tmp := target + tempSuffix
	res, err := dl.Download(ctx, url, tmp, policy)
	if err != nil {
		removeTemp(tmp, logger)
		return fileResult{}, fmt.Errorf("failed to download %s: %w", rel, err)
	}

	got, err := digest.File(ctx, tmp)
	if err != nil {
		removeTemp(tmp, logger)
		return fileResult{}, fmt.Errorf("failed to verify %s: %w", rel, err)
	}
	if !digest.Equal(got, f.Hash) {
		removeTemp(tmp, logger)
		logger.Error("downloaded file failed hash verification", "file", rel, "expected", f.Hash, "actual", got)
		return fileResult{}, fmt.Errorf("%w: %s: expected %s, got %s", ErrIntegrity, rel, f.Hash, got)
	}

	if err := os.Rename(tmp, target); err != nil {
		removeTemp(tmp, logger)
		return fileResult{}, fmt.Errorf("failed to replace %s: %w", rel, err)
	}

	logger.Info("updated file", "file", rel, "bytes", res.Bytes, "mode", res.Mode)
	return fileResult{fellBack: res.FellBack}, nil
}

// targetPath maps a manifest path below the install root. Paths that would
// escape the root are rejected.
func (e *Engine) targetPath(rel string) (string, error) {
	local := filepath.FromSlash(rel)
	if !filepath.IsLocal(local) {
		return "", fmt.Errorf("%w: path %q escapes the install root", manifest.ErrFormat, rel)
	}
	return filepath.Join(e.cfg.Paths.RootDir, local), nil
}

func removeTemp(path string, logger *slog.Logger) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Warn("failed to remove temp file", "path", path, "error", err)
	}
}

// uniqueFiles drops entries whose path repeats an earlier one case-insensitively
// so no two workers write the same target.
func uniqueFiles(files []manifest.FileEntry) []manifest.FileEntry {
	seen := make(map[string]bool, len(files))
	out := make([]manifest.FileEntry, 0, len(files))
	for _, f := range files {
		key := strings.ToLower(f.Path())
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, f)
	}
	return out
}

// manifestHTTPClient bounds the whole manifest request by the configured timeout.
func (e *Engine) manifestHTTPClient(st *state.LocalState) *http.Client {
	return transport.New(transport.Options{
		InsecureSkipVerify: st.IgnoreSSLErrors,
		Timeout:            e.cfg.HTTP.Timeout,
		RequestTimeout:     e.cfg.HTTP.Timeout,
		UserAgent:          e.cfg.HTTP.UserAgent,
	})
}

// downloadHTTPClient applies the configured timeout to connecting and to the
// response headers only, so large bodies may stream for as long as they need.
func (e *Engine) downloadHTTPClient(st *state.LocalState, connections int) *http.Client {
	return transport.New(transport.Options{
		InsecureSkipVerify: st.IgnoreSSLErrors,
		Timeout:            e.cfg.HTTP.Timeout,
		Connections:        connections,
		UserAgent:          e.cfg.HTTP.UserAgent,
	})
}

// InitializeFromRemote creates and saves a fresh local state for the manifest
// at url. The launch executable is taken from the manifest.
func (e *Engine) InitializeFromRemote(ctx context.Context, url string) (*state.LocalState, error) {
	e.logger.Info("initializing from remote manifest", "url", url)

	m, err := e.newManifestClient(e.manifestHTTPClient(&state.LocalState{})).Fetch(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch manifest: %w", err)
	}

	st := state.NewLocalState(url, m.LaunchExecutable)
	if err := e.store.Save(st); err != nil {
		return nil, fmt.Errorf("failed to save state: %w", err)
	}

	if _, err := launch.Target(e.cfg.Paths.RootDir, st.LaunchExecutable); err != nil {
		e.logger.Warn("launch executable does not exist yet, it should appear after the first sync",
			"executable", st.LaunchExecutable)
	}
	return st, nil
}

// Launch starts the executable configured in st. A missing executable reports
// false without an error.
func (e *Engine) Launch(ctx context.Context, st *state.LocalState) (bool, error) {
	return launch.Run(ctx, e.launcher, e.cfg.Paths.RootDir, st.LaunchExecutable, e.logger)
}

func (e *Engine) launchLogged(ctx context.Context, st *state.LocalState, logger *slog.Logger) bool {
	ok, err := e.Launch(ctx, st)
	if err != nil {
		logger.Error("failed to launch application", "executable", st.LaunchExecutable, "error", err)
	}
	return ok
}

// ApplyLaunchDecision resolves a pending launch decision from out. It persists
// the state when the choice changes it and launches unless the choice is Cancel.
func (e *Engine) ApplyLaunchDecision(ctx context.Context, out *Outcome, choice launch.Choice) (bool, error) {
	if out == nil || out.State == nil {
		return false, errors.New("no sync outcome to apply a launch decision to")
	}

	doLaunch, changed := launch.Apply(out.State, out.Launch, choice)
	e.logger.Info("launch decision", "choice", choice, "version", out.Launch.Version)

	if changed {
		if err := e.store.Save(out.State); err != nil {
			return false, fmt.Errorf("failed to save state: %w", err)
		}
	}
	if !doLaunch || e.noLaunch {
		return false, nil
	}

	launched, err := e.Launch(ctx, out.State)
	out.AppLaunched = launched
	return launched, err
}
