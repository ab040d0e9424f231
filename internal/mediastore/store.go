// Package mediastore manages the local media directory: fetched media is
// written there under deterministic names and served back read-only under a
// public URL prefix so Instagram and Gemini can reach it.
//
// Writes go through a temp-file-and-rename so a file is never reachable at
// its public URL in a truncated state.
package mediastore

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

// PublicPrefix is the URL prefix under which stored media is served.
const PublicPrefix = "/uploads/"

// Store owns the local media directory.
type Store struct {
	dir     string
	baseURL string
}

// New creates a Store rooted at dir, creating the directory if needed.
// baseURL is the externally reachable base URL of this service.
func New(dir, baseURL string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create media dir: %w", err)
	}
	return &Store{
		dir:     dir,
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}, nil
}

// Save writes the full byte stream to the store under name, replacing any
// prior content for the same name. The stream is written to a temp file in
// the same directory and renamed into place only after it has been fully
// drained, so a failed save leaves nothing at the public path.
func (s *Store) Save(name string, r io.Reader) error {
	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	n, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close %s: %w", name, err)
	}

	if err := os.Rename(tmp.Name(), s.Path(name)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename %s: %w", name, err)
	}

	log.Debug().Str("file", name).Int64("bytes", n).Msg("Media saved")
	return nil
}

// Path returns the local filesystem path for a stored file name.
func (s *Store) Path(name string) string {
	return filepath.Join(s.dir, name)
}

// PublicURL returns the externally reachable URL for a stored file name.
func (s *Store) PublicURL(name string) string {
	return s.baseURL + PublicPrefix + name
}

// Handler returns a read-only file-serving handler for the media directory,
// to be mounted at PublicPrefix.
func (s *Store) Handler() http.Handler {
	return http.StripPrefix(PublicPrefix, http.FileServer(http.Dir(s.dir)))
}
