// Package publish generates manifests from a directory of release files.
package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"runtime"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/schaermu/modsync/internal/digest"
	"github.com/schaermu/modsync/internal/manifest"
	"github.com/schaermu/modsync/internal/scan"
)

// ErrNoFiles is returned when the directory contains nothing to publish.
var ErrNoFiles = errors.New("no files to publish")

// Options controls manifest generation
type Options struct {
	Version             string
	Info                string
	BaseDownloadURL     string
	AppendVersionToPath bool
	LaunchExecutable    string
	Policy              manifest.DownloadPolicy
	// SegmentFromPath uses the relative path as download segment instead of
	// the file name.
	SegmentFromPath bool
	// Exclude lists wildcard patterns of relative paths to leave out.
	Exclude []string
	// Workers bounds concurrent hashing. Zero uses runtime.NumCPU().
	Workers int
}

// OptionsFromProfile fills options from a saved profile and proposes the next
// version. A nil profile yields the defaults.
func OptionsFromProfile(p *Profile) Options {
	opts := Options{
		Version:             NextVersion(p),
		AppendVersionToPath: true,
		Policy:              manifest.DefaultPolicy,
	}
	if p == nil {
		return opts
	}

	opts.Info = p.Info
	opts.BaseDownloadURL = p.BaseDownloadURL
	opts.AppendVersionToPath = p.AppendVersionToPath
	opts.LaunchExecutable = p.LaunchExecutable
	if p.DownloadPolicy != nil {
		opts.Policy = *p.DownloadPolicy
	}
	return opts
}

// Profile returns the profile to save after generating with these options.
func (o Options) Profile() *Profile {
	policy := o.floorPolicy()
	return &Profile{
		LastGeneratedVersion: o.Version,
		Info:                 o.Info,
		BaseDownloadURL:      o.BaseDownloadURL,
		AppendVersionToPath:  o.AppendVersionToPath,
		LaunchExecutable:     o.LaunchExecutable,
		DownloadPolicy:       &policy,
	}
}

func (o Options) floorPolicy() manifest.DownloadPolicy {
	p := o.Policy
	p.MaxConcurrentFiles = max(1, p.MaxConcurrentFiles)
	p.ThreadsPerFile = max(1, p.ThreadsPerFile)
	return p
}

// Generate hashes every file below dir and returns the manifest describing them.
// Entries are ordered by relative path, ignoring case.
func Generate(ctx context.Context, dir string, opts Options, logger *slog.Logger) (*manifest.Manifest, error) {
	paths, err := scan.DiscoverFiles(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to discover files: %w", err)
	}

	var rels []string
	for _, p := range paths {
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return nil, fmt.Errorf("failed to compute relative path: %w", err)
		}
		rel = filepath.ToSlash(rel)
		if excluded(rel, opts.Exclude) {
			logger.Debug("excluding file", "file", rel)
			continue
		}
		rels = append(rels, rel)
	}
	if len(rels) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoFiles, dir)
	}

	slices.SortFunc(rels, func(a, b string) int {
		return strings.Compare(strings.ToLower(a), strings.ToLower(b))
	})

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	hashes := make([]string, len(rels))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, rel := range rels {
		g.Go(func() error {
			h, err := digest.File(gctx, filepath.Join(dir, filepath.FromSlash(rel)))
			if err != nil {
				return fmt.Errorf("failed to hash %s: %w", rel, err)
			}
			hashes[i] = h
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	policy := opts.floorPolicy()
	m := &manifest.Manifest{
		Info:                opts.Info,
		Version:             opts.Version,
		BaseDownloadURL:     opts.BaseDownloadURL,
		AppendVersionToPath: opts.AppendVersionToPath,
		LaunchExecutable:    opts.LaunchExecutable,
		DownloadPolicy:      &policy,
		Files:               make([]manifest.FileEntry, len(rels)),
	}
	for i, rel := range rels {
		segment := path.Base(rel)
		if opts.SegmentFromPath {
			segment = rel
		}
		m.Files[i] = manifest.FileEntry{
			RelativePath:    rel,
			Hash:            hashes[i],
			DownloadSegment: segment,
		}
	}

	logger.Info("manifest generated", "version", m.Version, "files", len(m.Files))
	return m, nil
}

func excluded(rel string, patterns []string) bool {
	for _, p := range patterns {
		if scan.Match(p, rel) {
			return true
		}
	}
	return false
}
