// Package assistant delivers finished voice clips to the processing
// endpoint and surfaces the transcription and reply it returns.
package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/normanking/cortexvoice/internal/audio"
	"github.com/normanking/cortexvoice/internal/bus"
	"github.com/normanking/cortexvoice/internal/recorder"
)

// ErrMissingToken means no credential is configured; sends are refused
// before any network traffic.
var ErrMissingToken = errors.New("assistant token not configured")

// Config holds the voice endpoint configuration
type Config struct {
	Endpoint string        `json:"endpoint"`
	Token    string        `json:"token"`
	Timeout  time.Duration `json:"timeout"`
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Endpoint: "http://localhost:8790/api/voice",
		Timeout:  30 * time.Second,
	}
}

// VoiceResponse is the processing result. The contract is the
// endpoint's; fields it omits stay zero.
type VoiceResponse struct {
	Transcript string         `json:"transcript"`
	Reply      string         `json:"reply"`
	ReplyAudio string         `json:"reply_audio,omitempty"` // base64 opus/wav, optional
	Usage      map[string]any `json:"usage,omitempty"`
}

// Client posts clips to the voice endpoint. It implements the
// recorder's Sender contract.
type Client struct {
	config   Config
	token    string
	client   *http.Client
	eventBus *bus.EventBus
	logger   zerolog.Logger
}

// NewClient creates a voice endpoint client
func NewClient(config Config, eventBus *bus.EventBus, logger zerolog.Logger) *Client {
	if config.Endpoint == "" {
		config.Endpoint = DefaultConfig().Endpoint
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultConfig().Timeout
	}

	token := config.Token
	if token == "" {
		token = os.Getenv("CORTEXVOICE_ASSISTANT_TOKEN")
	}

	return &Client{
		config:   config,
		token:    token,
		client:   &http.Client{Timeout: config.Timeout},
		eventBus: eventBus,
		logger:   logger.With().Str("component", "assistant").Logger(),
	}
}

// SetToken replaces the credential
func (c *Client) SetToken(token string) {
	c.token = token
}

// IsAvailable reports whether a credential is configured
func (c *Client) IsAvailable() bool {
	return c.token != ""
}

// Send posts one clip as multipart form data. A missing credential is a
// fatal precondition for the send; the caller drops the clip.
func (c *Client) Send(ctx context.Context, clip recorder.Clip) error {
	if c.token == "" {
		return ErrMissingToken
	}
	if len(clip.Data) == 0 {
		return errors.New("empty clip")
	}

	c.publishStatus(audio.StatusProcessing)

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("audio", clipFilename(clip.MIME))
	if err != nil {
		return fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(clip.Data); err != nil {
		return fmt.Errorf("failed to write audio data: %w", err)
	}
	if err := writer.WriteField("session_id", clip.SessionID); err != nil {
		return fmt.Errorf("failed to write session field: %w", err)
	}
	if err := writer.WriteField("mime_type", clip.MIME); err != nil {
		return fmt.Errorf("failed to write mime field: %w", err)
	}
	if err := writer.WriteField("duration_ms", strconv.FormatInt(clip.Duration.Milliseconds(), 10)); err != nil {
		return fmt.Errorf("failed to write duration field: %w", err)
	}
	if err := writer.WriteField("bitrate", strconv.Itoa(clip.Bitrate)); err != nil {
		return fmt.Errorf("failed to write bitrate field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.config.Endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	c.logger.Debug().
		Str("sessionId", clip.SessionID).
		Int("bytes", len(clip.Data)).
		Msg("Sending clip to voice endpoint")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		c.publishStatus(audio.StatusIdle)
		return fmt.Errorf("voice request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		c.publishStatus(audio.StatusIdle)
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		c.publishStatus(audio.StatusIdle)
		c.logger.Error().Int("status", resp.StatusCode).Str("body", string(respBody)).Msg("Voice endpoint error")
		return fmt.Errorf("voice endpoint returned %d: %s", resp.StatusCode, string(respBody))
	}

	var result VoiceResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		c.publishStatus(audio.StatusIdle)
		return fmt.Errorf("failed to parse voice response: %w", err)
	}

	c.logger.Info().
		Str("sessionId", clip.SessionID).
		Str("transcript", result.Transcript).
		Dur("time", time.Since(start)).
		Msg("Voice processing complete")

	if result.Transcript != "" {
		c.eventBus.Publish(bus.Event{
			Type: bus.EventTypeTranscript,
			Data: map[string]any{"sessionId": clip.SessionID, "text": result.Transcript},
		})
	}
	if result.Reply != "" {
		c.eventBus.Publish(bus.Event{
			Type: bus.EventTypeReply,
			Data: map[string]any{
				"sessionId": clip.SessionID,
				"text":      result.Reply,
				"hasAudio":  result.ReplyAudio != "",
			},
		})
	}

	if result.ReplyAudio != "" {
		c.publishStatus(audio.StatusSpeaking)
	} else {
		c.publishStatus(audio.StatusIdle)
	}
	return nil
}

func (c *Client) publishStatus(status audio.Status) {
	c.eventBus.Publish(bus.Event{
		Type: bus.EventTypeStatusChanged,
		Data: map[string]any{"status": string(status)},
	})
}

func clipFilename(mime string) string {
	if strings.HasPrefix(mime, "audio/webm") {
		return "clip.webm"
	}
	return "clip.wav"
}
