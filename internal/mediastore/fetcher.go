package mediastore

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"
)

const (
	filePrefix    = "line_"
	fileExtension = ".jpg"
)

// ContentSource supplies the raw media byte stream for a platform media
// identifier. Implemented by the LINE client.
type ContentSource interface {
	Content(ctx context.Context, messageID string) (io.ReadCloser, error)
}

// Fetcher downloads chat-platform media into the Store.
type Fetcher struct {
	src   ContentSource
	store *Store
}

// NewFetcher creates a Fetcher that pulls media from src into store.
func NewFetcher(src ContentSource, store *Store) *Fetcher {
	return &Fetcher{src: src, store: store}
}

// FileName returns the stored file name for a media identifier. The name is
// deterministic, so repeated delivery of the same identifier overwrites
// rather than duplicates.
func FileName(mediaID string) string {
	return filePrefix + mediaID + fileExtension
}

// Fetch downloads the media identified by mediaID and persists it to the
// store, returning the stored file name. Any transport or write error fails
// the fetch as a whole; no partial file is exposed.
func (f *Fetcher) Fetch(ctx context.Context, mediaID string) (string, error) {
	name := FileName(mediaID)

	body, err := f.src.Content(ctx, mediaID)
	if err != nil {
		return "", fmt.Errorf("download media %s: %w", mediaID, err)
	}
	defer body.Close()

	if err := f.store.Save(name, body); err != nil {
		return "", fmt.Errorf("store media %s: %w", mediaID, err)
	}

	log.Info().Str("mediaId", mediaID).Str("file", name).Msg("Media fetched")
	return name, nil
}
