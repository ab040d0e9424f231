package webhook

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fpang/line-instagram-relay/internal/caption"
	"github.com/fpang/line-instagram-relay/internal/instructions"
	"github.com/fpang/line-instagram-relay/internal/line"
	"github.com/fpang/line-instagram-relay/internal/publisher"
	"github.com/fpang/line-instagram-relay/internal/tasks"
)

// --- Fakes ---

type fakeFetcher struct {
	mu      sync.Mutex
	err     error
	fetched []string
}

func (f *fakeFetcher) Fetch(ctx context.Context, mediaID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.fetched = append(f.fetched, mediaID)
	return "line_" + mediaID + ".jpg", nil
}

func (f *fakeFetcher) fetchedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.fetched...)
}

type fakeReplier struct {
	mu      sync.Mutex
	err     error
	replies []string
}

func (r *fakeReplier) Reply(ctx context.Context, replyToken, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.replies = append(r.replies, text)
	return nil
}

func (r *fakeReplier) sent() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.replies...)
}

type publishCall struct {
	filename    string
	instruction string
}

type fakePublisher struct {
	mu    sync.Mutex
	block chan struct{} // when set, Run blocks until closed
	calls []publishCall
}

func (p *fakePublisher) Run(ctx context.Context, filename, instruction string) publisher.Outcome {
	if p.block != nil {
		<-p.block
	}
	p.mu.Lock()
	p.calls = append(p.calls, publishCall{filename: filename, instruction: instruction})
	p.mu.Unlock()
	return publisher.Outcome{Step: publisher.StepDone, ContainerID: "container-001", PostID: "post-001"}
}

func (p *fakePublisher) published() []publishCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]publishCall(nil), p.calls...)
}

type dispatcherFixture struct {
	store    *instructions.MemoryStore
	fetcher  *fakeFetcher
	replier  *fakeReplier
	publish  *fakePublisher
	registry *tasks.Registry
	d        *Dispatcher
}

func newFixture() *dispatcherFixture {
	f := &dispatcherFixture{
		store:    instructions.NewMemoryStore(),
		fetcher:  &fakeFetcher{},
		replier:  &fakeReplier{},
		publish:  &fakePublisher{},
		registry: tasks.NewRegistry(),
	}
	f.d = NewDispatcher(f.store, f.fetcher, f.replier, f.publish, f.registry)
	return f
}

func textEvent(userID, text string) line.Event {
	return line.Event{
		Type:       line.EventTypeMessage,
		ReplyToken: "rt-" + userID,
		Source:     line.Source{Type: "user", UserID: userID},
		Message:    line.Message{ID: "T1", Type: line.MessageTypeText, Text: text},
	}
}

func imageEvent(userID, mediaID string) line.Event {
	return line.Event{
		Type:       line.EventTypeMessage,
		ReplyToken: "rt-" + userID,
		Source:     line.Source{Type: "user", UserID: userID},
		Message:    line.Message{ID: mediaID, Type: line.MessageTypeImage},
	}
}

// --- Tests ---

func TestTextEventStoresInstructionAndReplies(t *testing.T) {
	f := newFixture()

	f.d.DispatchBatch(context.Background(), []line.Event{textEvent("U1", "sunny day")})
	f.registry.Wait()

	got, ok := f.store.Take("U1")
	if !ok || got != "sunny day" {
		t.Errorf("expected stored instruction 'sunny day', got %q (ok=%v)", got, ok)
	}
	if len(f.fetcher.fetchedIDs()) != 0 {
		t.Error("text event must not trigger a media fetch")
	}
	if len(f.publish.published()) != 0 {
		t.Error("text event must not trigger a publish")
	}

	replies := f.replier.sent()
	if len(replies) != 1 || !strings.Contains(replies[0], "sunny day") {
		t.Errorf("expected one acknowledgment echoing the instruction, got %v", replies)
	}
}

func TestImageEventWithoutInstructionUsesDefault(t *testing.T) {
	f := newFixture()

	f.d.DispatchBatch(context.Background(), []line.Event{imageEvent("U1", "M1")})
	f.registry.Wait()

	if got := f.fetcher.fetchedIDs(); len(got) != 1 || got[0] != "M1" {
		t.Fatalf("expected fetch of M1, got %v", got)
	}

	published := f.publish.published()
	if len(published) != 1 {
		t.Fatalf("expected one publish, got %d", len(published))
	}
	if published[0].filename != "line_M1.jpg" {
		t.Errorf("expected filename line_M1.jpg, got %s", published[0].filename)
	}
	if published[0].instruction != caption.DefaultInstruction {
		t.Errorf("expected default instruction, got %q", published[0].instruction)
	}

	if replies := f.replier.sent(); len(replies) != 1 {
		t.Errorf("expected one receipt reply, got %v", replies)
	}
}

func TestReplyDoesNotWaitForPublish(t *testing.T) {
	f := newFixture()
	f.publish.block = make(chan struct{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		f.d.DispatchBatch(context.Background(), []line.Event{imageEvent("U1", "M1")})
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("batch did not settle while publish was still in flight")
	}

	if replies := f.replier.sent(); len(replies) != 1 {
		t.Fatalf("expected receipt reply before publish completion, got %v", replies)
	}
	if len(f.publish.published()) != 0 {
		t.Fatal("publish must still be in flight")
	}

	close(f.publish.block)
	f.registry.Wait()

	if len(f.publish.published()) != 1 {
		t.Error("expected publish to complete after release")
	}
}

func TestInstructionConsumedByNextImageOnly(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.d.DispatchBatch(ctx, []line.Event{textEvent("U1", "make it funny")})
	f.d.DispatchBatch(ctx, []line.Event{imageEvent("U1", "M1")})
	f.d.DispatchBatch(ctx, []line.Event{imageEvent("U1", "M2")})
	f.registry.Wait()

	published := f.publish.published()
	if len(published) != 2 {
		t.Fatalf("expected two publishes, got %d", len(published))
	}

	byFile := map[string]string{}
	for _, p := range published {
		byFile[p.filename] = p.instruction
	}
	if byFile["line_M1.jpg"] != "make it funny" {
		t.Errorf("first image should use the stored instruction, got %q", byFile["line_M1.jpg"])
	}
	if byFile["line_M2.jpg"] != caption.DefaultInstruction {
		t.Errorf("second image should fall back to the default, got %q", byFile["line_M2.jpg"])
	}
}

// orderedStore pins the store-write-before-read ordering for the mixed-batch
// test below. Within one concurrent batch no such ordering is guaranteed;
// this is the documented ordering dependency, not a cross-batch contract.
type orderedStore struct {
	inner   *instructions.MemoryStore
	setDone chan struct{}
}

func (s *orderedStore) Set(userID, text string) {
	s.inner.Set(userID, text)
	close(s.setDone)
}

func (s *orderedStore) Take(userID string) (string, bool) {
	<-s.setDone
	return s.inner.Take(userID)
}

func TestMixedBatchTextBeforeImage(t *testing.T) {
	f := newFixture()
	store := &orderedStore{inner: f.store, setDone: make(chan struct{})}
	f.d = NewDispatcher(store, f.fetcher, f.replier, f.publish, f.registry)

	f.d.DispatchBatch(context.Background(), []line.Event{
		textEvent("U1", "make it funny"),
		imageEvent("U1", "M1"),
	})
	f.registry.Wait()

	published := f.publish.published()
	if len(published) != 1 {
		t.Fatalf("expected one publish, got %d", len(published))
	}
	if published[0].instruction != "make it funny" {
		t.Errorf("expected image to consume the batch's instruction, got %q", published[0].instruction)
	}
	if len(f.replier.sent()) != 2 {
		t.Errorf("expected replies for both events, got %v", f.replier.sent())
	}
}

func TestFetchFailureSkipsReplyAndPublish(t *testing.T) {
	f := newFixture()
	f.fetcher.err = errors.New("download failed")

	f.d.DispatchBatch(context.Background(), []line.Event{imageEvent("U1", "M1")})
	f.registry.Wait()

	if len(f.publish.published()) != 0 {
		t.Error("publish must not run when fetch fails")
	}
	if len(f.replier.sent()) != 0 {
		t.Error("no reply is sent when fetch fails")
	}
}

func TestFetchFailureConsumesInstruction(t *testing.T) {
	f := newFixture()
	f.fetcher.err = errors.New("download failed")
	f.store.Set("U1", "beach vibes")

	f.d.DispatchBatch(context.Background(), []line.Event{imageEvent("U1", "M1")})
	f.registry.Wait()

	// Read-and-clear happens before the fetch; the instruction is gone.
	if _, ok := f.store.Take("U1"); ok {
		t.Error("expected instruction to be consumed even though fetch failed")
	}
}

func TestSiblingFailureIsIsolated(t *testing.T) {
	f := newFixture()
	f.fetcher.err = errors.New("download failed")

	f.d.DispatchBatch(context.Background(), []line.Event{
		imageEvent("U1", "M1"),
		textEvent("U2", "city lights"),
	})
	f.registry.Wait()

	// U2's text event succeeds despite U1's fetch failure.
	got, ok := f.store.Take("U2")
	if !ok || got != "city lights" {
		t.Errorf("expected U2 instruction stored, got %q (ok=%v)", got, ok)
	}
	if replies := f.replier.sent(); len(replies) != 1 {
		t.Errorf("expected exactly the text acknowledgment, got %v", replies)
	}
}

func TestReplyFailureIsIsolated(t *testing.T) {
	f := newFixture()
	f.replier.err = errors.New("reply token expired")

	f.d.DispatchBatch(context.Background(), []line.Event{imageEvent("U1", "M1")})
	f.registry.Wait()

	// The publish still runs; the failed reply is only logged.
	if len(f.publish.published()) != 1 {
		t.Error("expected publish despite reply failure")
	}
}

func TestNonMessageEventsIgnored(t *testing.T) {
	f := newFixture()

	f.d.DispatchBatch(context.Background(), []line.Event{
		{Type: "follow", ReplyToken: "rt-x", Source: line.Source{UserID: "U1"}},
		{Type: line.EventTypeMessage, Source: line.Source{UserID: "U1"},
			Message: line.Message{ID: "S1", Type: "sticker"}},
	})
	f.registry.Wait()

	if len(f.replier.sent()) != 0 || len(f.publish.published()) != 0 || len(f.fetcher.fetchedIDs()) != 0 {
		t.Error("non-text, non-image events must be no-ops")
	}
}
