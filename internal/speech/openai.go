package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"voicefront/internal/config"
	"voicefront/internal/session"
)

const openAIBase = "https://api.openai.com/v1"

const summarizeSystemPrompt = "You are an assistant that summarizes phone call voicemails. Produce: summary and action items."

// Client is the speech & language gateway: audio transcription, transcript
// summarization, and conversational replies for live agent calls. Thin
// REST adapter; failures are returned as-is for callers to classify.
type Client struct {
	apiKey          string
	transcribeModel string
	chatModel       string
	baseURL         string
	httpClient      *http.Client
}

func NewClient(cfg config.OpenAIConfig) *Client {
	return &Client{
		apiKey:          cfg.APIKey,
		transcribeModel: cfg.TranscribeModel,
		chatModel:       cfg.ChatModel,
		baseURL:         openAIBase,
		httpClient:      &http.Client{Timeout: 60 * time.Second},
	}
}

// WithBaseURL overrides the API origin; tests point it at httptest servers.
func (c *Client) WithBaseURL(base string) *Client {
	c.baseURL = strings.TrimRight(base, "/")
	return c
}

// Transcription is the result of one audio transcription.
type Transcription struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

// Transcribe sends audio bytes for transcription and returns text plus
// the detected language when the model reports one.
func (c *Client) Transcribe(ctx context.Context, audio []byte, filename string) (Transcription, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return Transcription{}, err
	}
	if _, err := fw.Write(audio); err != nil {
		return Transcription{}, err
	}
	if err := mw.WriteField("model", c.transcribeModel); err != nil {
		return Transcription{}, err
	}
	if err := mw.WriteField("response_format", "verbose_json"); err != nil {
		return Transcription{}, err
	}
	if err := mw.Close(); err != nil {
		return Transcription{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/audio/transcriptions", &buf)
	if err != nil {
		return Transcription{}, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out Transcription
	if err := c.send(req, &out); err != nil {
		return Transcription{}, fmt.Errorf("speech: transcribe: %w", err)
	}
	return out, nil
}

// Summarize produces a short summary (with action items) of a transcript.
func (c *Client) Summarize(ctx context.Context, transcript string) (string, error) {
	return c.chat(ctx, summarizeSystemPrompt,
		[]chatMessage{{Role: "user", Content: "Transcript:\n" + transcript}}, 0.2)
}

// Reply generates the agent's next utterance from the session window.
func (c *Client) Reply(ctx context.Context, personaPrompt string, turns []session.Turn) (string, error) {
	msgs := make([]chatMessage, 0, len(turns))
	for _, t := range turns {
		role := "user"
		if t.Role == session.RoleAgent {
			role = "assistant"
		}
		msgs = append(msgs, chatMessage{Role: role, Content: t.Text})
	}
	return c.chat(ctx, personaPrompt, msgs, 0.7)
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (c *Client) chat(ctx context.Context, systemPrompt string, msgs []chatMessage, temperature float64) (string, error) {
	payload := struct {
		Model       string        `json:"model"`
		Messages    []chatMessage `json:"messages"`
		Temperature float64       `json:"temperature"`
	}{
		Model:       c.chatModel,
		Messages:    append([]chatMessage{{Role: "system", Content: systemPrompt}}, msgs...),
		Temperature: temperature,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	var out struct {
		Choices []struct {
			Message chatMessage `json:"message"`
		} `json:"choices"`
	}
	if err := c.send(req, &out); err != nil {
		return "", fmt.Errorf("speech: chat: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("speech: chat: empty completion")
	}
	return out.Choices[0].Message.Content, nil
}

func (c *Client) send(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("model service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
