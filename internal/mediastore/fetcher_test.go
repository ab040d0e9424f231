package mediastore

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"testing"
)

type fakeSource struct {
	content map[string]string
	err     error
}

func (f *fakeSource) Content(ctx context.Context, messageID string) (io.ReadCloser, error) {
	if f.err != nil {
		return nil, f.err
	}
	data, ok := f.content[messageID]
	if !ok {
		return nil, errors.New("not found")
	}
	return io.NopCloser(strings.NewReader(data)), nil
}

func TestFetch(t *testing.T) {
	store := newTestStore(t)
	fetcher := NewFetcher(&fakeSource{content: map[string]string{"M1": "jpeg-bytes"}}, store)

	name, err := fetcher.Fetch(context.Background(), "M1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if name != "line_M1.jpg" {
		t.Errorf("expected line_M1.jpg, got %s", name)
	}

	got, err := os.ReadFile(store.Path(name))
	if err != nil {
		t.Fatalf("read stored file: %v", err)
	}
	if string(got) != "jpeg-bytes" {
		t.Errorf("unexpected content: %s", got)
	}
}

func TestFetchIdempotentNaming(t *testing.T) {
	store := newTestStore(t)
	fetcher := NewFetcher(&fakeSource{content: map[string]string{"M1": "v2"}}, store)

	first, err := fetcher.Fetch(context.Background(), "M1")
	if err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	second, err := fetcher.Fetch(context.Background(), "M1")
	if err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	if first != second {
		t.Errorf("expected stable name, got %s then %s", first, second)
	}
}

func TestFetchDownloadError(t *testing.T) {
	store := newTestStore(t)
	fetcher := NewFetcher(&fakeSource{err: errors.New("boom")}, store)

	if _, err := fetcher.Fetch(context.Background(), "M1"); err == nil {
		t.Fatal("expected error when download fails")
	}

	if _, err := os.Stat(store.Path(FileName("M1"))); !os.IsNotExist(err) {
		t.Errorf("expected no stored file after failed fetch, stat err: %v", err)
	}
}
