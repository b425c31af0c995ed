package delivery

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Mindburn-Labs/intake/pkg/contracts"
)

var ErrUnknownJob = errors.New("delivery job not found")

// Deliverer hands a completed submission to its downstream consumer. The
// returned receipt becomes the submission.finalized event payload.
type Deliverer interface {
	Deliver(ctx context.Context, sub *contracts.Submission) (map[string]any, error)
}

// NopDeliverer accepts everything. It is the default when no downstream is
// configured, so submissions still reach finalized.
type NopDeliverer struct{}

func (NopDeliverer) Deliver(context.Context, *contracts.Submission) (map[string]any, error) {
	return map[string]any{"deliverer": "nop"}, nil
}

// DelivererFunc adapts a function to Deliverer.
type DelivererFunc func(ctx context.Context, sub *contracts.Submission) (map[string]any, error)

func (f DelivererFunc) Deliver(ctx context.Context, sub *contracts.Submission) (map[string]any, error) {
	return f(ctx, sub)
}

// SignatureHeader carries the hex HMAC-SHA256 of the request body.
const SignatureHeader = "X-Intake-Signature"

// WebhookDeliverer POSTs the submission as JSON to URL. Any 2xx response
// counts as delivered.
type WebhookDeliverer struct {
	URL    string
	Secret []byte
	Client *http.Client
}

type webhookBody struct {
	SubmissionID string                     `json:"submissionId"`
	DefinitionID string                     `json:"definitionId"`
	State        contracts.State            `json:"state"`
	Fields       map[string]any             `json:"fields"`
	Attribution  map[string]any             `json:"fieldAttribution"`
	CreatedBy    contracts.Actor            `json:"createdBy"`
	UpdatedAt    time.Time                  `json:"updatedAt"`
	Decisions    []contracts.ReviewDecision `json:"reviewDecisions,omitempty"`
}

func (w *WebhookDeliverer) Deliver(ctx context.Context, sub *contracts.Submission) (map[string]any, error) {
	attribution := make(map[string]any, len(sub.FieldAttribution))
	for p, a := range sub.FieldAttribution {
		attribution[p] = a
	}
	body, err := json.Marshal(webhookBody{
		SubmissionID: sub.ID,
		DefinitionID: sub.DefinitionID,
		State:        sub.State,
		Fields:       sub.Fields,
		Attribution:  attribution,
		CreatedBy:    sub.CreatedBy,
		UpdatedAt:    sub.UpdatedAt,
		Decisions:    sub.ReviewDecisions,
	})
	if err != nil {
		return nil, fmt.Errorf("encode webhook body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if len(w.Secret) > 0 {
		req.Header.Set(SignatureHeader, "sha256="+Sign(w.Secret, body))
	}

	client := w.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("webhook request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("webhook responded %d", resp.StatusCode)
	}
	return map[string]any{
		"deliverer":  "webhook",
		"url":        w.URL,
		"statusCode": resp.StatusCode,
	}, nil
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
