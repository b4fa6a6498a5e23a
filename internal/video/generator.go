package video

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"syncstudio/services/studio/internal/exec"
)

// GenerationFailedError is the server reporting a terminal failure for one
// unit. Distinct from GenerationTimeoutError, which is the client giving up.
type GenerationFailedError struct {
	Message string
}

func (e *GenerationFailedError) Error() string {
	return "generation failed: " + e.Message
}

type GenerationTimeoutError struct {
	Attempts int
}

func (e *GenerationTimeoutError) Error() string {
	return fmt.Sprintf("generation timed out after %d poll attempts", e.Attempts)
}

// Generator is the submit-then-poll primitive for one externally executed
// generation unit. Transport errors during polling propagate and abort the
// unit; only server-reported FAILED and attempt exhaustion are typed.
type Generator struct {
	invoker     exec.Invoker
	pollDelay   time.Duration
	maxAttempts int
}

func NewGenerator(invoker exec.Invoker, pollDelay time.Duration, maxAttempts int) *Generator {
	if pollDelay < 0 {
		pollDelay = 8 * time.Second
	}
	if maxAttempts <= 0 {
		maxAttempts = 60
	}
	return &Generator{
		invoker:     invoker,
		pollDelay:   pollDelay,
		maxAttempts: maxAttempts,
	}
}

type UnitParams struct {
	UnitID          string `json:"unitId"`
	Prompt          string `json:"prompt"`
	DurationSeconds int    `json:"durationSeconds"`
	ImageRef        string `json:"imageRef,omitempty"`
}

type UnitResult struct {
	UnitID   string `json:"unitId"`
	MediaRef string `json:"mediaRef"`
}

func (g *Generator) Generate(ctx context.Context, params UnitParams) (UnitResult, error) {
	raw, err := g.invoker.Invoke(ctx, exec.OpVideoShot, map[string]any{
		"action":          "submit",
		"unitId":          params.UnitID,
		"prompt":          params.Prompt,
		"durationSeconds": params.DurationSeconds,
		"imageRef":        params.ImageRef,
	})
	if err != nil {
		return UnitResult{}, err
	}

	submitted := struct {
		RequestID   string `json:"requestId"`
		StatusRef   string `json:"statusRef"`
		ResponseRef string `json:"responseRef"`
	}{}
	if err := json.Unmarshal(raw, &submitted); err != nil {
		return UnitResult{}, fmt.Errorf("decode submit response: %w", err)
	}
	if submitted.RequestID == "" {
		return UnitResult{}, errors.New("submit returned no request id")
	}

	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		if err := g.wait(ctx); err != nil {
			return UnitResult{}, err
		}

		raw, err := g.invoker.Invoke(ctx, exec.OpVideoShot, map[string]any{
			"action":      "poll",
			"requestId":   submitted.RequestID,
			"statusRef":   submitted.StatusRef,
			"responseRef": submitted.ResponseRef,
		})
		if err != nil {
			return UnitResult{}, err
		}

		polled := struct {
			Status   string `json:"status"`
			MediaRef string `json:"mediaRef"`
			Error    string `json:"error"`
		}{}
		if err := json.Unmarshal(raw, &polled); err != nil {
			return UnitResult{}, fmt.Errorf("decode poll response: %w", err)
		}

		switch polled.Status {
		case "COMPLETED":
			return UnitResult{UnitID: params.UnitID, MediaRef: polled.MediaRef}, nil
		case "FAILED":
			message := polled.Error
			if message == "" {
				message = "unit reported failure without a message"
			}
			return UnitResult{}, &GenerationFailedError{Message: message}
		}
		// IN_QUEUE / IN_PROGRESS: keep polling.
	}

	return UnitResult{}, &GenerationTimeoutError{Attempts: g.maxAttempts}
}

func (g *Generator) wait(ctx context.Context) error {
	if g.pollDelay == 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(g.pollDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
