package testutil

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/schaermu/modsync/internal/digest"
	"github.com/schaermu/modsync/internal/manifest"
)

// Origin is an in-process HTTP server that serves a manifest at /manifest.json
// and file bodies below /files/. File bodies support byte ranges unless
// NoRanges is set.
type Origin struct {
	Server *httptest.Server

	mu       sync.Mutex
	manifest *manifest.Manifest
	content  map[string][]byte
	fetches  map[string]int
	noRanges bool
}

// NewOrigin starts an origin that is closed when the test ends.
func NewOrigin(t testing.TB) *Origin {
	t.Helper()
	o := &Origin{
		content: make(map[string][]byte),
		fetches: make(map[string]int),
	}
	o.Server = httptest.NewServer(http.HandlerFunc(o.serve))
	t.Cleanup(o.Server.Close)
	return o
}

// ManifestURL is the URL clients fetch the manifest from.
func (o *Origin) ManifestURL() string {
	return o.Server.URL + "/manifest.json"
}

// FilesURL is the base download URL of published files.
func (o *Origin) FilesURL() string {
	return o.Server.URL + "/files"
}

// Publish replaces the served manifest with one listing files, keyed by
// relative path. Each file is served under its relative path.
func (o *Origin) Publish(version, launchExe string, files map[string]string) *manifest.Manifest {
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	m := &manifest.Manifest{
		Info:             "test pack",
		Version:          version,
		BaseDownloadURL:  o.FilesURL(),
		LaunchExecutable: launchExe,
		Files:            make([]manifest.FileEntry, 0, len(files)),
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.content = make(map[string][]byte, len(files))
	for _, p := range paths {
		data := []byte(files[p])
		o.content[p] = data
		m.Files = append(m.Files, manifest.FileEntry{
			RelativePath:    p,
			Hash:            digest.Bytes(data),
			DownloadSegment: p,
		})
	}
	o.manifest = m
	return m
}

// SetManifest serves m as is.
func (o *Origin) SetManifest(m *manifest.Manifest) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.manifest = m
}

// SetContent changes the bytes served for segment without touching the manifest.
func (o *Origin) SetContent(segment string, data []byte) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.content[segment] = data
}

// DisableRanges makes file responses ignore Range headers and stop
// advertising byte ranges.
func (o *Origin) DisableRanges() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.noRanges = true
}

// Fetches returns how often each file was fetched. A ranged download of one
// file counts once.
func (o *Origin) Fetches() map[string]int {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[string]int, len(o.fetches))
	for k, v := range o.fetches {
		out[k] = v
	}
	return out
}

// TotalFetches sums Fetches.
func (o *Origin) TotalFetches() int {
	n := 0
	for _, v := range o.Fetches() {
		n += v
	}
	return n
}

func (o *Origin) serve(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/manifest.json" {
		o.mu.Lock()
		m := o.manifest
		o.mu.Unlock()
		if m == nil {
			http.NotFound(w, r)
			return
		}
		data, err := manifest.Encode(m)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(data)
		return
	}

	segment, ok := strings.CutPrefix(r.URL.Path, "/files/")
	if !ok {
		http.NotFound(w, r)
		return
	}

	o.mu.Lock()
	data, found := o.content[segment]
	noRanges := o.noRanges
	rng := r.Header.Get("Range")
	if found && r.Method == http.MethodGet && (rng == "" || strings.HasPrefix(rng, "bytes=0-")) {
		o.fetches[segment]++
	}
	o.mu.Unlock()

	if !found {
		http.NotFound(w, r)
		return
	}

	if noRanges {
		r.Header.Del("Range")
		w.Header().Set("Accept-Ranges", "none")
		_, _ = w.Write(data)
		return
	}
	http.ServeContent(w, r, segment, time.Time{}, bytes.NewReader(data))
}
