// Package engine talks to a ComfyUI-compatible execution engine over HTTP.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"headswap/internal/graph"
	"headswap/internal/metrics"
)

// Options configures a Client
type Options struct {
	BaseURL          string
	RequestTimeout   time.Duration
	SubmitAttempts   int
	SubmitRetryDelay time.Duration
	PollInterval     time.Duration
	Timeout          time.Duration
	OutputNode       string
	HTTPClient       *http.Client
}

// Client submits prompts and waits for their output
type Client struct {
	httpClient *http.Client
	opts       Options
}

// NewClient creates a new engine client
func NewClient(opts Options) *Client {
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.SubmitAttempts < 1 {
		opts.SubmitAttempts = 1
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.RequestTimeout}
	}

	return &Client{httpClient: httpClient, opts: opts}
}

// Submit posts the graph to /prompt and returns the acknowledgement id.
// Transport failures are retried up to SubmitAttempts times; any response
// from the engine ends the loop. onAttempt, if set, runs before every request.
func (c *Client) Submit(ctx context.Context, g graph.Graph, clientID string, onAttempt func(attempt int)) (string, error) {
	logger := zerolog.Ctx(ctx)

	body, err := json.Marshal(promptRequest{Prompt: g, ClientID: clientID})
	if err != nil {
		return "", fmt.Errorf("failed to marshal prompt: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= c.opts.SubmitAttempts; attempt++ {
		if onAttempt != nil {
			onAttempt(attempt)
		}

		promptID, err := c.submitOnce(ctx, body)
		if err == nil {
			logger.Info().Str("promptId", promptID).Int("attempt", attempt).Msg("Prompt accepted")
			return promptID, nil
		}

		var te *transportError
		if !errors.As(err, &te) {
			return "", err
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		lastErr = err
		if attempt == c.opts.SubmitAttempts {
			break
		}

		metrics.SubmitRetries.Inc()
		logger.Warn().Err(err).Int("attempt", attempt).Dur("delay", c.opts.SubmitRetryDelay).Msg("Engine unreachable, retrying")
		if err := sleep(ctx, c.opts.SubmitRetryDelay); err != nil {
			return "", err
		}
	}

	return "", fmt.Errorf("%w after %d attempts: %v", ErrUnreachable, c.opts.SubmitAttempts, lastErr)
}

func (c *Client) submitOnce(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.BaseURL+"/prompt", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &transportError{err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		// Connection dropped mid-response
		return "", &transportError{err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var result promptResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if result.PromptID == "" {
		return "", ErrNoPromptID
	}

	return result.PromptID, nil
}

// History queries the status of one prompt. The bool is false while the
// engine has no record for promptID yet.
func (c *Client) History(ctx context.Context, promptID string) (*HistoryEntry, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.opts.BaseURL+"/history/"+url.PathEscape(promptID), nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, false, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var history map[string]HistoryEntry
	if err := json.NewDecoder(resp.Body).Decode(&history); err != nil {
		return nil, false, fmt.Errorf("failed to decode response: %w", err)
	}

	entry, ok := history[promptID]
	if !ok {
		return nil, false, nil
	}
	return &entry, true, nil
}

// Wait polls History until the output node reports an image or Timeout
// elapses. Failed polls count as "not ready yet". onPoll, if set, runs
// before every query.
func (c *Client) Wait(ctx context.Context, promptID string, onPoll func(poll int)) (*Image, error) {
	logger := zerolog.Ctx(ctx)
	deadline := time.Now().Add(c.opts.Timeout)

	for poll := 1; ; poll++ {
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: generation took longer than %s", ErrTimeout, c.opts.Timeout)
		}
		if err := sleep(ctx, c.opts.PollInterval); err != nil {
			return nil, err
		}

		if onPoll != nil {
			onPoll(poll)
		}
		metrics.Polls.Inc()

		entry, found, err := c.History(ctx, promptID)
		if err != nil {
			logger.Debug().Err(err).Int("poll", poll).Msg("History query failed")
			continue
		}
		if !found {
			continue
		}
		if entry.Status != nil && entry.Status.StatusStr == "error" {
			return nil, fmt.Errorf("%w: prompt %s", ErrExecutionFailed, promptID)
		}

		output, ok := entry.Outputs[c.opts.OutputNode]
		if !ok {
			continue
		}
		if len(output.Images) == 0 {
			return nil, fmt.Errorf("output node %s %w", c.opts.OutputNode, ErrNoImages)
		}

		logger.Debug().Int("poll", poll).Str("filename", output.Images[0].Filename).Msg("Output ready")
		return &output.Images[0], nil
	}
}

// Ping checks that the engine answers /system_stats
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.opts.BaseURL+"/system_stats", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
