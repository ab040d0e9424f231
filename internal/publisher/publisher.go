// Package publisher runs the publish pipeline for a fetched media file:
// resolve the public URL, generate a caption, create the Instagram media
// container, wait for Instagram to finish ingesting the image, and commit
// the publish.
//
// The pipeline is fire-and-forget from the dispatcher's perspective. Run
// never panics and never propagates an error; every failure is logged and
// absorbed into the returned Outcome so tests can assert on it.
package publisher

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Step identifies where a publish job ended.
type Step string

const (
	StepCreateContainer Step = "create_container"
	StepWait            Step = "wait"
	StepPublish         Step = "publish"
	StepDone            Step = "done"
)

// Outcome is the terminal state of one publish job. Err is nil only when
// Step is StepDone.
type Outcome struct {
	Step        Step
	ContainerID string
	PostID      string
	Err         error
}

// OK reports whether the job published successfully.
func (o Outcome) OK() bool {
	return o.Err == nil
}

// URLResolver maps a stored file name to its publicly reachable URL.
// Implemented by mediastore.Store.
type URLResolver interface {
	PublicURL(name string) string
}

// Captioner produces a caption for an image URL. It never fails; a
// fallback caption substitutes for any internal error.
type Captioner interface {
	Generate(ctx context.Context, imageURL, instruction string) string
}

// ContainerAPI is the two-leg Instagram publish surface.
type ContainerAPI interface {
	CreateImageContainer(ctx context.Context, imageURL, caption string) (string, error)
	Publish(ctx context.Context, containerID string) (string, error)
}

// WaitFunc blocks until the container is ready to publish (or fails).
type WaitFunc func(ctx context.Context, containerID string) error

// FixedWait returns a WaitFunc that sleeps a fixed grace interval instead
// of polling the container status. Container creation returns before
// Instagram finishes ingesting the image, so an immediate publish can fail
// or commit a broken asset; the fixed delay is the crude substitute when
// status polling is unavailable.
func FixedWait(d time.Duration) WaitFunc {
	return func(ctx context.Context, containerID string) error {
		log.Debug().Str("containerId", containerID).Dur("grace", d).Msg("Waiting fixed grace interval")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d):
			return nil
		}
	}
}

// Publisher executes publish jobs.
type Publisher struct {
	media     URLResolver
	captions  Captioner
	instagram ContainerAPI
	wait      WaitFunc
}

// New creates a Publisher.
func New(media URLResolver, captions Captioner, instagram ContainerAPI, wait WaitFunc) *Publisher {
	return &Publisher{
		media:     media,
		captions:  captions,
		instagram: instagram,
		wait:      wait,
	}
}

// Run publishes the stored media file with a caption guided by the
// instruction. Steps are strictly sequential; the first failure aborts the
// rest of the job. No retry, no cleanup of an orphaned container.
func (p *Publisher) Run(ctx context.Context, filename, instruction string) Outcome {
	imageURL := p.media.PublicURL(filename)
	log.Info().Str("file", filename).Str("imageUrl", imageURL).Msg("Publish job started")

	caption := p.captions.Generate(ctx, imageURL, instruction)

	containerID, err := p.instagram.CreateImageContainer(ctx, imageURL, caption)
	if err != nil {
		log.Error().Err(err).Str("file", filename).Msg("Publish failed: container creation")
		return Outcome{Step: StepCreateContainer, Err: err}
	}

	if err := p.wait(ctx, containerID); err != nil {
		log.Error().Err(err).Str("containerId", containerID).Msg("Publish failed: waiting for container")
		return Outcome{Step: StepWait, ContainerID: containerID, Err: err}
	}

	postID, err := p.instagram.Publish(ctx, containerID)
	if err != nil {
		log.Error().Err(err).Str("containerId", containerID).Msg("Publish failed: publish commit")
		return Outcome{Step: StepPublish, ContainerID: containerID, Err: err}
	}

	log.Info().Str("file", filename).Str("postId", postID).Msg("Publish job complete")
	return Outcome{Step: StepDone, ContainerID: containerID, PostID: postID}
}
