// Package genai wraps the remote generative API behind the four calls the
// pipeline needs: transcribe, explain, diagram and speech.
package genai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	log "log/slog"
	"net/http"
	"strings"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"sage/internal/pipeline"
	"sage/pkg/pcm"
)

const systemPrompt = `
You are SAGE — an explainer that produces material for a visual learning UI.

GENERAL RULES:
1. Do NOT converse.
2. Do NOT add preambles or explanations of your output.
3. Output ONLY JSON. No markdown fences.

OUTPUT FORMAT (all three fields required, all strings, none empty):
{
  "explanation": "<markdown explanation of the topic, headings allowed>",
  "spatialDescription": "<how a diagram of this topic is laid out, e.g. 'Flow starts top-left...'>",
  "imagePrompt": "<a short prompt for an image model that would draw that diagram>"
}

RULES FOR CONTENT:
- explanation: thorough but focused; markdown only.
- spatialDescription: one paragraph, plain prose, no markdown.
- imagePrompt: describe the diagram, not the topic's story.

Do not generate text other than the JSON.
`

// Fixed rendering style appended to every image prompt.
const diagramStyle = "high contrast, schematic flowchart, white background, clear lines, minimalist design"

// Synthesized speech covers at most this many characters of the
// explanation; beyond that the clip gets unreasonably long.
const speechCharLimit = 800

// Verbatim-only instruction for the transcription model.
const transcribePrompt = "Transcribe the audio verbatim. Output the transcript only."

type Config struct {
	ChatModel   string
	SpeechModel string
	ImageModel  string
	Voice       string
}

// Client implements pipeline.Generator and pipeline.Transcriber against
// the OpenAI API. One attempt per call; retries are the caller's problem
// and the caller deliberately has none.
type Client struct {
	api openai.Client
	cfg Config
}

func NewClient(apiKey string, cfg Config, httpClient *http.Client) *Client {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	return &Client{
		api: openai.NewClient(opts...),
		cfg: cfg,
	}
}

// Explain asks the chat model for the three-field explanation record.
// A response that is not JSON or misses a field is a total failure.
func (c *Client) Explain(ctx context.Context, query string) (pipeline.Explanation, error) {
	resp, err := c.api.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(query),
		},
		Model: openai.ChatModel(c.cfg.ChatModel),
	})
	if err != nil {
		return pipeline.Explanation{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return pipeline.Explanation{}, errors.New("no choices in response")
	}

	return parseExplanation(resp.Choices[0].Message.Content)
}

// Diagram renders the image prompt with the fixed style suffix at 16:9
// and returns the result as a PNG data URI.
func (c *Client) Diagram(ctx context.Context, prompt string) (string, error) {
	resp, err := c.api.Images.Generate(ctx, openai.ImageGenerateParams{
		Prompt:         prompt + ", " + diagramStyle,
		Model:          openai.ImageModel(c.cfg.ImageModel),
		Size:           openai.ImageGenerateParamsSize1792x1024,
		ResponseFormat: openai.ImageGenerateParamsResponseFormatB64JSON,
	})
	if err != nil {
		return "", fmt.Errorf("image generation: %w", err)
	}
	if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		return "", errors.New("no image in response")
	}

	return imageDataURI(resp.Data[0].B64JSON), nil
}

// Speak synthesizes the text with the fixed voice and returns the raw
// 24 kHz s16le PCM stream as a base64 payload.
func (c *Client) Speak(ctx context.Context, text string) (string, error) {
	resp, err := c.api.Audio.Speech.New(ctx, openai.AudioSpeechNewParams{
		Model:          openai.SpeechModel(c.cfg.SpeechModel),
		Voice:          openai.AudioSpeechNewParamsVoice(c.cfg.Voice),
		Input:          truncateRunes(text, speechCharLimit),
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormatPCM,
	})
	if err != nil {
		return "", fmt.Errorf("speech synthesis: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read speech stream: %w", err)
	}
	if len(raw) == 0 {
		return "", errors.New("empty speech stream")
	}

	log.Debug("speech synthesized", "bytes", len(raw))
	return base64.StdEncoding.EncodeToString(raw), nil
}

// Transcribe uploads WAV-packaged 16 kHz samples and returns the plain
// transcript.
func (c *Client) Transcribe(ctx context.Context, samples []float32) (string, error) {
	if len(samples) == 0 {
		return "", errors.New("no audio samples")
	}

	wav := pcm.EncodeWAV(samples, 16000)
	resp, err := c.api.Audio.Transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
		Model:  openai.AudioModelWhisper1,
		File:   openai.File(bytes.NewReader(wav), "query.wav", "audio/wav"),
		Prompt: openai.String(transcribePrompt),
	})
	if err != nil {
		return "", fmt.Errorf("transcription: %w", err)
	}

	return strings.TrimSpace(resp.Text), nil
}

// parseExplanation validates the fixed three-field contract. Models
// occasionally wrap the JSON in a code fence despite the instructions;
// that wrapper is stripped, nothing else is repaired.
func parseExplanation(raw string) (pipeline.Explanation, error) {
	raw = stripFence(raw)

	var exp pipeline.Explanation
	if err := json.Unmarshal([]byte(raw), &exp); err != nil {
		return pipeline.Explanation{}, fmt.Errorf("unmarshal explanation: %w (raw: %.120s)", err, raw)
	}

	switch {
	case exp.Explanation == "":
		return pipeline.Explanation{}, errors.New("response missing explanation")
	case exp.SpatialDescription == "":
		return pipeline.Explanation{}, errors.New("response missing spatialDescription")
	case exp.ImagePrompt == "":
		return pipeline.Explanation{}, errors.New("response missing imagePrompt")
	}

	return exp, nil
}

func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

func imageDataURI(b64 string) string {
	return "data:image/png;base64," + b64
}
