package webhook

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/fpang/line-instagram-relay/internal/caption"
	"github.com/fpang/line-instagram-relay/internal/instructions"
	"github.com/fpang/line-instagram-relay/internal/line"
	"github.com/fpang/line-instagram-relay/internal/publisher"
	"github.com/fpang/line-instagram-relay/internal/tasks"
)

// Fetcher downloads a media attachment to local storage and returns the
// stored file name. Implemented by mediastore.Fetcher.
type Fetcher interface {
	Fetch(ctx context.Context, mediaID string) (string, error)
}

// Replier sends a text reply to a single-use reply token. Implemented by
// line.Client.
type Replier interface {
	Reply(ctx context.Context, replyToken, text string) error
}

// PublishRunner executes one publish job to completion. Implemented by
// publisher.Publisher.
type PublishRunner interface {
	Run(ctx context.Context, filename, instruction string) publisher.Outcome
}

// Dispatcher routes inbound webhook events: text messages store a caption
// instruction, image messages consume it and kick off a publish job.
type Dispatcher struct {
	store   instructions.Store
	fetcher Fetcher
	replies Replier
	publish PublishRunner
	tasks   *tasks.Registry
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(store instructions.Store, fetcher Fetcher, replies Replier, publish PublishRunner, registry *tasks.Registry) *Dispatcher {
	return &Dispatcher{
		store:   store,
		fetcher: fetcher,
		replies: replies,
		publish: publish,
		tasks:   registry,
	}
}

// DispatchBatch processes every event of one webhook delivery concurrently
// and returns once all of them have settled. Individual event failures are
// logged and isolated; they never abort the batch and never surface to the
// transport.
func (d *Dispatcher) DispatchBatch(ctx context.Context, events []line.Event) {
	var wg sync.WaitGroup
	for _, ev := range events {
		wg.Add(1)
		go func(ev line.Event) {
			defer wg.Done()
			d.dispatchEvent(ctx, ev)
		}(ev)
	}
	wg.Wait()
}

func (d *Dispatcher) dispatchEvent(ctx context.Context, ev line.Event) {
	switch {
	case ev.IsTextMessage():
		d.handleText(ctx, ev)
	case ev.IsImageMessage():
		d.handleImage(ctx, ev)
	default:
		log.Debug().Str("eventType", ev.Type).Str("messageType", ev.Message.Type).Msg("Ignoring event")
	}
}

// handleText stores the instruction for the sender and acknowledges it.
func (d *Dispatcher) handleText(ctx context.Context, ev line.Event) {
	d.store.Set(ev.Source.UserID, ev.Message.Text)
	log.Info().Str("userId", ev.Source.UserID).Int("length", len(ev.Message.Text)).Msg("Instruction stored")

	ack := fmt.Sprintf("Got it! I'll caption your next photo with: %q", ev.Message.Text)
	if err := d.replies.Reply(ctx, ev.ReplyToken, ack); err != nil {
		log.Warn().Err(err).Str("userId", ev.Source.UserID).Msg("Instruction reply failed")
	}
}

// handleImage consumes the sender's stored instruction (or the default),
// fetches the media, hands the publish job to the background registry, and
// confirms receipt without waiting for the publish to finish.
func (d *Dispatcher) handleImage(ctx context.Context, ev line.Event) {
	instruction, ok := d.store.Take(ev.Source.UserID)
	if !ok {
		instruction = caption.DefaultInstruction
	}

	filename, err := d.fetcher.Fetch(ctx, ev.Message.ID)
	if err != nil {
		// No reply and no publish for this event; the failure stays local.
		log.Error().Err(err).
			Str("userId", ev.Source.UserID).
			Str("mediaId", ev.Message.ID).
			Msg("Media fetch failed, skipping publish")
		return
	}

	d.tasks.Go("publish", func(ctx context.Context) error {
		return d.publish.Run(ctx, filename, instruction).Err
	})

	if err := d.replies.Reply(ctx, ev.ReplyToken, "Photo received! Posting it to Instagram shortly."); err != nil {
		log.Warn().Err(err).Str("userId", ev.Source.UserID).Msg("Receipt reply failed")
	}
}
