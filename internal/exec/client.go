package exec

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Remote operations exposed by the execution service. Every payload carries
// an "action" discriminator (start, continue, status, cancel, approve,
// approve_all, update_shot, add_shot, remove_shot, reset_plan, regenerate,
// submit, poll).
const (
	OpImportCatalog = "studio-import-catalog"
	OpGeneratePlans = "studio-generate-plans"
	OpManagePlans   = "studio-manage-plans"
	OpExecuteShoot  = "studio-execute-shoot"
	OpVideoShot     = "studio-generate-video-shot"
	OpStoryboard    = "studio-generate-storyboard"
	OpAssembleVideo = "studio-assemble-video"
)

// Invoker is the single call primitive every stage controller depends on.
type Invoker interface {
	Invoke(ctx context.Context, operation string, payload any) (json.RawMessage, error)
}

// CallError carries the server-supplied failure message when one is present,
// else an HTTP-status-derived one.
type CallError struct {
	Operation  string
	StatusCode int
	Message    string
}

func (e *CallError) Error() string {
	return fmt.Sprintf("%s: %s", e.Operation, e.Message)
}

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:  strings.TrimSpace(apiKey),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *Client) Invoke(ctx context.Context, operation string, payload any) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", operation, err)
	}

	url := c.baseURL + "/functions/v1/" + operation
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", operation, err)
	}
	request.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		request.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("invoke %s: %w", operation, err)
	}
	defer response.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(response.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", operation, err)
	}

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return nil, &CallError{
			Operation:  operation,
			StatusCode: response.StatusCode,
			Message:    serverMessage(raw, response.StatusCode),
		}
	}

	return json.RawMessage(raw), nil
}

func serverMessage(raw []byte, statusCode int) string {
	shaped := struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}{}
	if err := json.Unmarshal(raw, &shaped); err == nil {
		if msg := strings.TrimSpace(shaped.Error); msg != "" {
			return msg
		}
		if msg := strings.TrimSpace(shaped.Message); msg != "" {
			return msg
		}
	}
	return fmt.Sprintf("request failed with status %d", statusCode)
}
