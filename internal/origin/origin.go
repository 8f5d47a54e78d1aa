// Package origin serves a publish directory over HTTP: the generated manifest
// and the files it lists, with byte-range support.
package origin

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/schaermu/modsync/internal/activation"
	"github.com/schaermu/modsync/internal/config"
	"github.com/schaermu/modsync/internal/manifest"
	"github.com/schaermu/modsync/internal/publish"
)

const (
	// ManifestPath is where the generated manifest is served.
	ManifestPath = "/manifest.json"
	// FilesPrefix is the URL prefix of published files.
	FilesPrefix = "/files/"
	// RebuildPath accepts signed rebuild requests.
	RebuildPath = "/-/rebuild"
	// SignatureHeader carries "sha256=<hex hmac of body>".
	SignatureHeader = "X-Modsync-Signature"

	defaultDebounce = 2 * time.Second
)

// ErrNotBuilt is returned before the first successful manifest build.
var ErrNotBuilt = errors.New("manifest not built yet")

// Server implements the origin HTTP server
type Server struct {
	dir    string
	addr   string
	logger *slog.Logger
	secret []byte
	opts   publish.Options

	mu      sync.RWMutex // guards current, index and builtAt
	current *manifest.Manifest
	index   map[string]bool
	builtAt time.Time

	debounce *debouncer
	rebuild  func(context.Context) error

	buildMu      sync.Mutex // guards buildRunning and buildPending
	buildRunning bool
	buildPending bool
}

// NewServer creates an origin server for cfg.Serve.PublishDir. Manifest
// settings come from the publisher profile when one exists.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	secret, err := os.ReadFile(cfg.Serve.RebuildSecretFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read rebuild secret: %w", err)
	}
	secret = []byte(strings.TrimSpace(string(secret)))
	if len(secret) == 0 {
		return nil, fmt.Errorf("rebuild secret file %s is empty", cfg.Serve.RebuildSecretFile)
	}

	profile, err := publish.LoadProfile(cfg.Paths.PublisherProfile)
	if err != nil {
		return nil, err
	}

	opts := publish.OptionsFromProfile(profile)
	// the served version is the last published one; rebuilds bump it on change
	if profile != nil && profile.LastGeneratedVersion != "" {
		opts.Version = profile.LastGeneratedVersion
	}
	opts.BaseDownloadURL = ""
	opts.AppendVersionToPath = false
	opts.SegmentFromPath = true

	s := &Server{
		dir:      cfg.Serve.PublishDir,
		addr:     cfg.Serve.ListenAddr,
		logger:   logger,
		secret:   secret,
		opts:     opts,
		debounce: &debouncer{delay: defaultDebounce},
	}
	s.rebuild = s.Rebuild
	return s, nil
}

// Handler returns the HTTP handler serving the manifest, files and rebuild hook.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(ManifestPath, s.handleManifest)
	mux.HandleFunc(FilesPrefix, s.handleFile)
	mux.HandleFunc(RebuildPath, s.handleRebuild)
	return mux
}

// Start builds the manifest and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if err := s.Rebuild(ctx); err != nil {
		return err
	}

	listener, activated, err := activation.Listen(s.addr)
	if err != nil {
		return err
	}
	return s.serve(ctx, listener, activated)
}

func (s *Server) serve(ctx context.Context, listener net.Listener, activated bool) error {
	server := &http.Server{
		Handler:           s.Handler(),
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		// no WriteTimeout: large files outlive any fixed deadline
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("origin server starting",
			"addr", listener.Addr().String(),
			"socket_activated", activated,
			"dir", s.dir)
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down origin server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// Manifest returns the currently served manifest.
func (s *Server) Manifest() *manifest.Manifest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Rebuild regenerates the manifest from the publish directory. The version is
// patch-bumped whenever the file set or any digest changed.
func (s *Server) Rebuild(ctx context.Context) error {
	s.mu.RLock()
	prev := s.current
	opts := s.opts
	s.mu.RUnlock()

	if prev != nil {
		opts.Version = prev.Version
	}

	m, err := publish.Generate(ctx, s.dir, opts, s.logger)
	if err != nil {
		return fmt.Errorf("failed to build manifest: %w", err)
	}
	if prev != nil && !sameFiles(prev, m) {
		m.Version = publish.BumpPatch(prev.Version)
	}

	index := make(map[string]bool, len(m.Files))
	for _, f := range m.Files {
		index[f.RelativePath] = true
	}

	s.mu.Lock()
	s.current = m
	s.index = index
	s.builtAt = time.Now()
	s.mu.Unlock()

	s.logger.Info("manifest ready", "version", m.Version, "files", len(m.Files))
	return nil
}

func sameFiles(a, b *manifest.Manifest) bool {
	if len(a.Files) != len(b.Files) {
		return false
	}
	for i := range a.Files {
		if a.Files[i].RelativePath != b.Files[i].RelativePath || a.Files[i].Hash != b.Files[i].Hash {
			return false
		}
	}
	return true
}

// handleManifest serves the manifest with a base URL pointing back at this server
func (s *Server) handleManifest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.mu.RLock()
	current, builtAt := s.current, s.builtAt
	s.mu.RUnlock()
	if current == nil {
		http.Error(w, ErrNotBuilt.Error(), http.StatusServiceUnavailable)
		return
	}

	m := *current
	m.BaseDownloadURL = baseURL(r) + strings.TrimSuffix(FilesPrefix, "/")
	data, err := manifest.Encode(&m)
	if err != nil {
		s.logger.Error("failed to encode manifest", "error", err)
		http.Error(w, "Failed to encode manifest", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	http.ServeContent(w, r, "manifest.json", builtAt, bytes.NewReader(data))
}

// handleFile serves a file listed in the current manifest
func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rel := strings.TrimPrefix(r.URL.Path, FilesPrefix)
	s.mu.RLock()
	listed := s.index[rel]
	s.mu.RUnlock()
	if !listed || !filepath.IsLocal(filepath.FromSlash(rel)) {
		http.NotFound(w, r)
		return
	}

	f, err := os.Open(filepath.Join(s.dir, filepath.FromSlash(rel)))
	if err != nil {
		s.logger.Warn("listed file unavailable", "file", rel, "error", err)
		http.NotFound(w, r)
		return
	}
	defer func() {
		_ = f.Close()
	}()

	info, err := f.Stat()
	if err != nil {
		http.Error(w, "Failed to stat file", http.StatusInternalServerError)
		return
	}

	s.logger.Debug("serving file", "file", rel, "range", r.Header.Get("Range"))
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

// handleRebuild verifies the request signature and schedules a rebuild
func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.logger.Warn("rejecting non-POST request", "method", r.Method)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		s.logger.Error("failed to read request body", "error", err)
		http.Error(w, "Failed to read body", http.StatusInternalServerError)
		return
	}
	defer func() {
		_ = r.Body.Close()
	}()

	if !s.verifySignature(body, r.Header.Get(SignatureHeader)) {
		s.logger.Warn("rejecting request with invalid signature")
		http.Error(w, "Invalid signature", http.StatusForbidden)
		return
	}

	s.logger.Info("rebuild requested")
	s.debounce.trigger(func() {
		s.performRebuild(context.Background())
	})

	w.WriteHeader(http.StatusAccepted)
	_, _ = fmt.Fprintf(w, "Rebuild scheduled\n")
}

// verifySignature checks the "sha256=<hex>" HMAC of body
func (s *Server) verifySignature(body []byte, signature string) bool {
	if !strings.HasPrefix(signature, "sha256=") {
		return false
	}
	return hmac.Equal([]byte(signature), []byte(Sign(s.secret, body)))
}

// Sign returns the signature header value for body.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// performRebuild runs Rebuild with single-flight semantics: at most one
// rebuild runs and at most one more is queued behind it.
func (s *Server) performRebuild(ctx context.Context) {
	s.buildMu.Lock()
	if s.buildRunning {
		s.buildPending = true
		s.buildMu.Unlock()
		s.logger.Info("rebuild already in progress, queuing pending re-run")
		return
	}
	s.buildRunning = true
	s.buildMu.Unlock()

	for {
		if err := s.rebuild(ctx); err != nil {
			s.logger.Error("rebuild failed", "error", err)
		}

		s.buildMu.Lock()
		if !s.buildPending {
			s.buildRunning = false
			s.buildMu.Unlock()
			break
		}
		s.buildPending = false
		s.buildMu.Unlock()

		s.logger.Info("re-running rebuild due to pending request")
	}
}

func baseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto == "http" || proto == "https" {
		scheme = proto
	}
	return scheme + "://" + r.Host
}

// debouncer collapses bursts of rebuild requests into one run
type debouncer struct {
	mu       sync.Mutex
	timer    *time.Timer
	delay    time.Duration
	callback func()
}

// trigger schedules the callback to run after the debounce delay
func (d *debouncer) trigger(callback func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.callback = callback
	if d.timer != nil {
		d.timer.Stop()
	}

	d.timer = time.AfterFunc(d.delay, func() {
		d.mu.Lock()
		cb := d.callback
		d.mu.Unlock()

		if cb != nil {
			cb()
		}
	})
}
