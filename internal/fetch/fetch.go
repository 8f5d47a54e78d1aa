// Package fetch downloads single files, either as one stream or as concurrent
// byte ranges written into a pre-sized file.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/schaermu/modsync/internal/manifest"
)

// copyBufferSize is the read size used when streaming response bodies.
const copyBufferSize = 32 * 1024

// Mode describes how a file was transferred
type Mode string

const (
	ModeSingle Mode = "single"
	ModeRanged Mode = "ranged"
)

// Result describes a finished download
type Result struct {
	Mode Mode
	// FellBack is set when ranged mode was requested but the server did not
	// advertise byte ranges or a content length.
	FellBack bool
	Bytes    int64
}

// Downloader fetches files over HTTP
type Downloader struct {
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewDownloader creates a downloader. The limiter is optional and shared by every
// transfer made through this downloader.
func NewDownloader(client *http.Client, limiter *rate.Limiter, logger *slog.Logger) *Downloader {
	return &Downloader{
		client:  client,
		limiter: limiter,
		logger:  logger,
	}
}

// NewLimiter returns a limiter capping throughput at bytesPerSecond, or nil when
// the value is not positive.
func NewLimiter(bytesPerSecond int64) *rate.Limiter {
	if bytesPerSecond <= 0 {
		return nil
	}
	burst := int(max(bytesPerSecond, copyBufferSize))
	return rate.NewLimiter(rate.Limit(bytesPerSecond), burst)
}

// Download fetches url into dst. Any existing file at dst is replaced. On error
// dst may hold partial content and must be discarded by the caller.
func (d *Downloader) Download(ctx context.Context, url, dst string, policy manifest.EffectivePolicy) (Result, error) {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return Result{}, fmt.Errorf("create directory for %s: %w", dst, err)
	}

	if policy.RangeWorkers() <= 1 {
		return d.downloadSingle(ctx, url, dst)
	}

	length, ok := d.probe(ctx, url)
	if !ok {
		d.logger.Warn("ranged download unavailable, falling back to a single stream", "url", url)
		res, err := d.downloadSingle(ctx, url, dst)
		res.FellBack = true
		return res, err
	}

	return d.downloadRanged(ctx, url, dst, length, policy.RangeWorkers())
}

// probe reports the content length when the server supports byte ranges.
func (d *Downloader) probe(ctx context.Context, url string) (int64, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return 0, false
	}

	resp, err := d.client.Do(req)
	if err != nil {
		d.logger.Debug("range probe failed", "url", url, "error", err)
		return 0, false
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, false
	}
	if !acceptsByteRanges(resp.Header) {
		return 0, false
	}

	length := resp.ContentLength
	if length <= 0 {
		length, _ = strconv.ParseInt(resp.Header.Get("Content-Length"), 10, 64)
	}
	if length <= 0 {
		return 0, false
	}

	return length, true
}

func acceptsByteRanges(h http.Header) bool {
	for _, v := range h.Values("Accept-Ranges") {
		for _, token := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(token), "bytes") {
				return true
			}
		}
	}
	return false
}

func (d *Downloader) downloadSingle(ctx context.Context, url, dst string) (Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Result{}, fmt.Errorf("%w: invalid url %q: %w", manifest.ErrNetwork, url, err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("%w: download %s: %w", manifest.ErrNetwork, url, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Result{}, fmt.Errorf("%w: download %s: unexpected status %s", manifest.ErrNetwork, url, resp.Status)
	}

	f, err := os.Create(dst)
	if err != nil {
		return Result{}, fmt.Errorf("create %s: %w", dst, err)
	}

	n, err := io.CopyBuffer(f, d.throttle(ctx, resp.Body), make([]byte, copyBufferSize))
	if err != nil {
		_ = f.Close()
		return Result{}, fmt.Errorf("%w: download %s: %w", manifest.ErrNetwork, url, err)
	}
	if err := f.Close(); err != nil {
		return Result{}, fmt.Errorf("close %s: %w", dst, err)
	}

	return Result{Mode: ModeSingle, Bytes: n}, nil
}

func (d *Downloader) downloadRanged(ctx context.Context, url, dst string, length int64, workers int) (Result, error) {
	f, err := os.OpenFile(dst, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0644)
	if err != nil {
		return Result{}, fmt.Errorf("create %s: %w", dst, err)
	}

	if err := f.Truncate(length); err != nil {
		_ = f.Close()
		return Result{}, fmt.Errorf("preallocate %s: %w", dst, err)
	}

	ranges := Partition(length, workers)
	d.logger.Debug("starting ranged download", "url", url, "bytes", length, "ranges", len(ranges))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, r := range ranges {
		g.Go(func() error {
			return d.downloadRange(gctx, url, f, r)
		})
	}

	if err := g.Wait(); err != nil {
		_ = f.Close()
		return Result{}, err
	}
	if err := f.Close(); err != nil {
		return Result{}, fmt.Errorf("close %s: %w", dst, err)
	}

	return Result{Mode: ModeRanged, Bytes: length}, nil
}

// downloadRange writes exactly r.Len() bytes at r.Start. Workers never write
// outside their own range so the file needs no lock.
func (d *Downloader) downloadRange(ctx context.Context, url string, f *os.File, r Range) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("%w: invalid url %q: %w", manifest.ErrNetwork, url, err)
	}
	req.Header.Set("Range", r.Header())

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: download %s %s: %w", manifest.ErrNetwork, url, r, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusPartialContent {
		return fmt.Errorf("%w: download %s %s: expected 206 Partial Content, got %s", manifest.ErrNetwork, url, r, resp.Status)
	}

	w := io.NewOffsetWriter(f, r.Start)
	if _, err := io.CopyN(w, d.throttle(ctx, resp.Body), r.Len()); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return fmt.Errorf("%w: download %s %s: %w", manifest.ErrNetwork, url, r, err)
	}

	return nil
}

func (d *Downloader) throttle(ctx context.Context, r io.Reader) io.Reader {
	if d.limiter == nil {
		return r
	}
	return &limitedReader{ctx: ctx, r: r, limiter: d.limiter}
}

type limitedReader struct {
	ctx     context.Context
	r       io.Reader
	limiter *rate.Limiter
}

func (l *limitedReader) Read(p []byte) (int, error) {
	if burst := l.limiter.Burst(); len(p) > burst {
		p = p[:burst]
	}
	n, err := l.r.Read(p)
	if n > 0 {
		if werr := l.limiter.WaitN(l.ctx, n); werr != nil {
			return n, werr
		}
	}
	return n, err
}
