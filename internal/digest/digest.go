// Package digest computes and compares the "sha256:<hex>" content digests
// that manifests use to identify file versions.
package digest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// Prefix is prepended to every digest string.
const Prefix = "sha256:"

// chunkSize bounds how much of a stream is held in memory at once.
const chunkSize = 64 * 1024

// ErrIO is wrapped by every error caused by an unreadable source.
var ErrIO = errors.New("io error")

// Reader computes the digest of everything readable from r.
// The context is checked between chunks so hashing a large file can be cancelled.
func Reader(ctx context.Context, r io.Reader) (string, error) {
	h := sha256.New()
	buf := make([]byte, chunkSize)

	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		n, err := r.Read(buf)
		if n > 0 {
			_, _ = h.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("%w: read: %w", ErrIO, err)
		}
	}

	return Prefix + hex.EncodeToString(h.Sum(nil)), nil
}

// File computes the digest of the file at path
func File(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrIO, err)
	}
	defer func() {
		_ = f.Close()
	}()

	return Reader(ctx, f)
}

// Bytes computes the digest of an in-memory buffer.
func Bytes(data []byte) string {
	sum := sha256.Sum256(data)
	return Prefix + hex.EncodeToString(sum[:])
}

// Equal reports whether two digest strings name the same content.
// Manifests written by hand sometimes carry upper-case hex.
func Equal(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
