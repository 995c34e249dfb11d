// Package archive keeps the original receipt images so a user can look at
// them again. The expense pipeline itself never reads from it.
package archive

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// ErrNotFound is returned when an object does not exist
var ErrNotFound = errors.New("object not found")

// Storage defines the interface for receipt image storage
type Storage interface {
	// Save stores data under key and returns the key
	Save(ctx context.Context, key string, data []byte, contentType string) (string, error)

	// Get retrieves an object by key
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes an object
	Delete(ctx context.Context, key string) error
}

var (
	unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	spaces      = regexp.MustCompile(`\s+`)
	validKey    = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9\-_. ]*$`)
)

// ObjectKey builds a storage key from an ID and the uploaded filename,
// cleaning up the long names phones generate
func ObjectKey(id, filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if !validKey.MatchString(strings.TrimPrefix(ext, ".")) {
		ext = ""
	}
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))

	base = unsafeChars.ReplaceAllString(base, "")
	base = strings.TrimSpace(spaces.ReplaceAllString(base, "-"))

	if len(base) > 50 {
		base = base[:50]
	}
	if base == "" {
		base = "receipt"
	}
	return fmt.Sprintf("%s_%s%s", id, base, ext)
}

// ValidKey reports whether key is safe to hand to a backend. Keys never
// contain path separators.
func ValidKey(key string) bool {
	return validKey.MatchString(key) && !strings.Contains(key, "..")
}
