// Package caption generates Instagram captions for stored media using
// Gemini.
//
// Captioning is a quality enhancement, never a gate: Generate does not
// return an error. Any failure along the way — image download, API error,
// empty response — is logged and replaced by a fixed fallback caption, so
// the publish pipeline always has some caption to proceed with.
package caption

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"
)

const (
	// DefaultInstruction is used when a user submits an image without
	// having sent a text instruction first.
	DefaultInstruction = "Write a short, friendly caption for this photo."

	// modelName is the Gemini model used for captioning.
	modelName = "gemini-2.5-flash"

	// maxOutputTokens bounds the caption length.
	maxOutputTokens = 256

	// fallbackHashtags pads the fallback caption so it still reads like a
	// post rather than a bare instruction echo.
	fallbackHashtags = "#photo #daily #bot"

	// systemPrompt is the captioning persona.
	systemPrompt = "You write Instagram captions. Given a photo and optional guidance " +
		"from the user, respond with a single ready-to-post caption: one or two short " +
		"sentences, warm and natural tone, followed by three to five relevant hashtags. " +
		"Respond with the caption text only, no quotes and no explanations."

	// imageFetchTimeout bounds the download of the image being captioned.
	imageFetchTimeout = 15 * time.Second
)

// model is the captioning backend. Wrapped in an interface so tests can
// exercise the fallback path without a live API.
type model interface {
	GenerateCaption(ctx context.Context, imageData []byte, mimeType, prompt string) (string, error)
}

// geminiModel calls the Gemini API with the image inlined as bytes.
type geminiModel struct {
	client *genai.Client
}

func (m *geminiModel) GenerateCaption(ctx context.Context, imageData []byte, mimeType, prompt string) (string, error) {
	config := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: systemPrompt}},
		},
		MaxOutputTokens: maxOutputTokens,
	}

	contents := []*genai.Content{{
		Role: "user",
		Parts: []*genai.Part{
			{InlineData: &genai.Blob{MIMEType: mimeType, Data: imageData}},
			{Text: prompt},
		},
	}}

	resp, err := m.client.Models.GenerateContent(ctx, modelName, contents, config)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	if resp == nil {
		return "", fmt.Errorf("empty response from Gemini API")
	}
	return resp.Text(), nil
}

// Generator produces captions for publicly reachable image URLs.
type Generator struct {
	httpClient *http.Client
	model      model
}

// New creates a Generator backed by Gemini. An empty apiKey disables the
// API entirely; the generator then always serves the fallback caption.
func New(ctx context.Context, apiKey string) (*Generator, error) {
	g := &Generator{
		httpClient: &http.Client{Timeout: imageFetchTimeout},
	}

	if apiKey == "" {
		log.Warn().Msg("GEMINI_API_KEY not set — captions will use the fallback template")
		return g, nil
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create Gemini client: %w", err)
	}
	g.model = &geminiModel{client: client}
	return g, nil
}

// Generate returns a caption for the image at imageURL, guided by the
// user's instruction. An empty instruction means "no specific instruction"
// and is replaced by DefaultInstruction. The returned caption is always
// non-empty; Generate never fails its caller.
func (g *Generator) Generate(ctx context.Context, imageURL, instruction string) string {
	if instruction == "" {
		instruction = DefaultInstruction
	}

	if g.model == nil {
		return Fallback(instruction)
	}

	imageData, mimeType, err := g.fetchImage(ctx, imageURL)
	if err != nil {
		log.Warn().Err(err).Str("imageUrl", imageURL).Msg("Caption image download failed, using fallback")
		return Fallback(instruction)
	}

	prompt := fmt.Sprintf("Guidance from the user: %s", instruction)

	start := time.Now()
	text, err := g.model.GenerateCaption(ctx, imageData, mimeType, prompt)
	if err != nil {
		log.Warn().Err(err).Dur("duration", time.Since(start)).Msg("Caption generation failed, using fallback")
		return Fallback(instruction)
	}

	caption := strings.TrimSpace(text)
	if caption == "" {
		log.Warn().Msg("Caption generation returned empty text, using fallback")
		return Fallback(instruction)
	}

	log.Info().Int("captionLength", len(caption)).Dur("duration", time.Since(start)).Msg("Caption generated")
	return caption
}

// Fallback is the caption used when generation is unavailable or fails.
// It interpolates the instruction so the post still reflects the user's
// intent, and is never empty.
func Fallback(instruction string) string {
	if instruction == "" {
		instruction = DefaultInstruction
	}
	return fmt.Sprintf("%s %s", strings.TrimSpace(instruction), fallbackHashtags)
}

// fetchImage downloads the image being captioned. Gemini takes image bytes,
// not URLs, so the generator resolves the public URL itself.
func (g *Generator) fetchImage(ctx context.Context, imageURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("fetch image: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read image: %w", err)
	}

	mimeType := resp.Header.Get("Content-Type")
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = "image/jpeg"
	}
	return data, mimeType, nil
}
