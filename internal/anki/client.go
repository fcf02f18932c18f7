// Package anki is a typed client for the AnkiConnect add-on. It implements
// store.NoteSource over AnkiConnect's JSON-over-HTTP action protocol.
package anki

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/nvandessel/cardsync/internal/store"
)

// Defaults matching a stock AnkiConnect install and the "Basic" note type.
const (
	DefaultURL        = "http://localhost:8765"
	DefaultTimeout    = 5 * time.Second
	DefaultModelName  = "Basic"
	DefaultFrontField = "Front"
	DefaultBackField  = "Back"

	// protocolVersion is the AnkiConnect API version requested on every call.
	protocolVersion = 6
)

// Options configures a Client.
type Options struct {
	URL        string
	Timeout    time.Duration
	ModelName  string
	FrontField string
	BackField  string
	Logger     *slog.Logger
}

// Client talks to AnkiConnect.
type Client struct {
	url        string
	httpClient *http.Client
	modelName  string
	frontField string
	backField  string
	logger     *slog.Logger
}

// New creates a Client, filling unset options with defaults.
func New(opts Options) *Client {
	if opts.URL == "" {
		opts.URL = DefaultURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.ModelName == "" {
		opts.ModelName = DefaultModelName
	}
	if opts.FrontField == "" {
		opts.FrontField = DefaultFrontField
	}
	if opts.BackField == "" {
		opts.BackField = DefaultBackField
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	return &Client{
		url:        opts.URL,
		httpClient: &http.Client{Timeout: opts.Timeout},
		modelName:  opts.ModelName,
		frontField: opts.FrontField,
		backField:  opts.BackField,
		logger:     opts.Logger,
	}
}

// ActionError is an error reported by AnkiConnect itself in the response
// envelope, as opposed to a transport failure.
type ActionError struct {
	Action  string
	Message string
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("anki %s: %s", e.Action, e.Message)
}

type request struct {
	Action  string `json:"action"`
	Version int    `json:"version"`
	Params  any    `json:"params,omitempty"`
}

type response struct {
	Result json.RawMessage `json:"result"`
	Error  *string         `json:"error"`
}

// invoke performs one action and decodes its result into out (if non-nil).
func (c *Client) invoke(ctx context.Context, action string, params, out any) error {
	op := "anki " + action

	body, err := json.Marshal(request{Action: action, Version: protocolVersion, Params: params})
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", action, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", action, err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("AnkiConnect request failed", "action", action, "err", err)
		return store.Connectivity(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return store.Connectivity(op, fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet)))
	}

	var env response
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		c.logger.Error("failed to parse AnkiConnect response", "action", action, "err", err)
		return store.Connectivity(op, fmt.Errorf("invalid JSON response: %w", err))
	}
	c.logger.Debug("AnkiConnect call", "action", action, "duration", time.Since(start))

	if env.Error != nil {
		return &ActionError{Action: action, Message: *env.Error}
	}
	if out == nil || len(env.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return store.Connectivity(op, fmt.Errorf("unexpected result shape: %w", err))
	}
	return nil
}

// Version returns the AnkiConnect API version; useful as a health check.
func (c *Client) Version(ctx context.Context) (int, error) {
	var v int
	if err := c.invoke(ctx, "version", nil, &v); err != nil {
		return 0, err
	}
	return v, nil
}

// DeckNames lists every deck in the collection.
func (c *Client) DeckNames(ctx context.Context) ([]string, error) {
	var decks []string
	if err := c.invoke(ctx, "deckNames", nil, &decks); err != nil {
		return nil, err
	}
	return decks, nil
}
