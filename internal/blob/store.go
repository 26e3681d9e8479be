// Package blob stores opaque byte objects under string keys. Core components
// only see Store; the backend (filesystem, S3, GCS) is picked at startup.
package blob

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"
)

// ErrNotFound is returned by Get when the key has no object.
var ErrNotFound = errors.New("blob: not found")

// Store is the minimal contract every backend satisfies.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	// List returns every key starting with prefix, sorted lexicographically.
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, key string) error
}

// URLSigner is implemented by backends that can hand out time-limited direct URLs.
type URLSigner interface {
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// Pinger is implemented by backends that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Key layout shared by writers. Readers treat keys as opaque.

func ReferenceKey(courseID string, week int, filename string) string {
	return join("professor", courseID, "week_"+strconv.Itoa(week), filename)
}

func PeerKey(studentID, courseID string, week int, filename string) string {
	return join("students", studentID, courseID, "week_"+strconv.Itoa(week), filename)
}

func CustomKey(studentID, customID string) string {
	return join("custom", studentID, customID+".pdf")
}

func PageAssetPrefix(documentID string) string {
	return join("thumbnails", documentID) + "/"
}

func join(parts ...string) string {
	clean := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Trim(p, "/")
		if p != "" {
			clean = append(clean, p)
		}
	}
	return strings.Join(clean, "/")
}
