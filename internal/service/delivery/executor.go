package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/chatline/webhook-api/internal/model"
	"github.com/chatline/webhook-api/internal/repository"
	"github.com/chatline/webhook-api/pkg/logger"
	"github.com/chatline/webhook-api/pkg/metrics"
)

const (
	// DeliveryTimeout bounds one HTTP attempt; a timeout is classified the
	// same as any other transport error.
	DeliveryTimeout = 10 * time.Second

	// maxResponseBytes caps the stored response body snippet.
	maxResponseBytes = 1000

	HeaderEvent     = "X-Webhook-Event"
	HeaderTimestamp = "X-Webhook-Timestamp"
	HeaderSignature = "X-Webhook-Signature"
)

// envelope is the canonical request body. Field order is fixed, so
// serialization is deterministic for a given entry and timestamp.
type envelope struct {
	Event     string          `json:"event"`
	Timestamp string          `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Executor performs single HTTP delivery attempts and classifies outcomes.
// Side effects are confined to the one log entry and, on success, the
// subscription's last_triggered_at.
type Executor struct {
	httpClient *http.Client
	logs       repository.DeliveryLogRepository
	subs       repository.SubscriptionRepository
	metrics    *metrics.Metrics
	logger     *logger.Logger
	now        func() time.Time
}

func NewExecutor(
	logs repository.DeliveryLogRepository,
	subs repository.SubscriptionRepository,
	m *metrics.Metrics,
	l *logger.Logger,
) *Executor {
	return &Executor{
		httpClient: &http.Client{Timeout: DeliveryTimeout},
		logs:       logs,
		subs:       subs,
		metrics:    m,
		logger:     l,
		now:        time.Now,
	}
}

// Send performs one attempt for the entry and persists the resulting state.
// It never returns an error for delivery failures; those land on the log
// entry and in the returned result. Only store failures surface in Error.
func (e *Executor) Send(ctx context.Context, sub *model.Subscription, entry *model.DeliveryLog) model.AttemptResult {
	timer := prometheus.NewTimer(e.metrics.AttemptDuration)
	defer timer.ObserveDuration()

	result := model.AttemptResult{
		LogID:          &entry.ID,
		SubscriptionID: sub.ID,
		Attempts:       entry.Attempts + 1,
	}

	code, respBody, sendErr := e.post(ctx, sub, entry.EventType, entry.Payload)

	if sendErr == nil && code >= 200 && code < 300 {
		sentAt := e.now()
		result.Status = model.DeliveryStatusSuccess
		result.ResponseCode = &code

		if err := e.logs.MarkSuccess(ctx, entry.ID, result.Attempts, code, respBody, sentAt); err != nil {
			e.logger.Error(err, "failed to record delivery success", "log_id", entry.ID.String())
			result.Error = err.Error()
			return result
		}
		if err := e.subs.TouchLastTriggered(ctx, sub.ID, sentAt); err != nil {
			e.logger.Error(err, "failed to update last_triggered_at", "subscription_id", sub.ID.String())
		}

		e.metrics.DeliveriesSucceeded.Inc()
		e.logger.Info("webhook delivered",
			"log_id", entry.ID.String(),
			"subscription_id", sub.ID.String(),
			"event_type", entry.EventType,
			"attempts", result.Attempts)
		return result
	}

	// Failed attempt: non-2xx response or transport error.
	var respCode *int
	var respSnippet, errMsg *string
	if sendErr != nil {
		msg := sendErr.Error()
		errMsg = &msg
		result.Error = msg
	} else {
		respCode = &code
		respSnippet = &respBody
		result.ResponseCode = &code
	}

	decision := Decide(result.Attempts, e.now())
	result.Status = decision.Status

	var storeErr error
	if decision.Status == model.DeliveryStatusExhausted {
		storeErr = e.logs.MarkExhausted(ctx, entry.ID, result.Attempts, respCode, respSnippet, errMsg)
		e.metrics.DeliveriesExhausted.Inc()
	} else {
		storeErr = e.logs.MarkFailed(ctx, entry.ID, result.Attempts, respCode, respSnippet, errMsg, *decision.NextRetryAt)
		e.metrics.DeliveriesFailed.Inc()
		e.metrics.DeliveryRetries.WithLabelValues(entry.EventType).Inc()
	}
	if storeErr != nil {
		e.logger.Error(storeErr, "failed to record delivery failure", "log_id", entry.ID.String())
		result.Error = storeErr.Error()
		return result
	}

	e.logger.Warn("webhook delivery failed",
		"log_id", entry.ID.String(),
		"subscription_id", sub.ID.String(),
		"event_type", entry.EventType,
		"attempts", result.Attempts,
		"status", string(decision.Status))
	return result
}

// TestResult is the synchronous outcome of a test delivery.
type TestResult struct {
	Success      bool   `json:"success"`
	ResponseCode *int   `json:"response_code,omitempty"`
	ResponseBody string `json:"response_body,omitempty"`
	Error        string `json:"error,omitempty"`
}

// SendTest performs a single attempt against the subscription without
// creating a log entry. Test traffic never enters the retry state machine.
func (e *Executor) SendTest(ctx context.Context, sub *model.Subscription) TestResult {
	payload, _ := json.Marshal(map[string]interface{}{
		"test":            true,
		"subscription_id": sub.ID.String(),
	})

	code, respBody, err := e.post(ctx, sub, "webhook.test", payload)
	if err != nil {
		return TestResult{Error: err.Error()}
	}
	return TestResult{
		Success:      code >= 200 && code < 300,
		ResponseCode: &code,
		ResponseBody: respBody,
	}
}

// post serializes the canonical body, signs it when a secret is configured
// and issues the HTTP request. It returns the status code and the truncated
// response body, or a transport error.
func (e *Executor) post(ctx context.Context, sub *model.Subscription, eventType string, payload json.RawMessage) (int, string, error) {
	ts := strconv.FormatInt(e.now().UnixMilli(), 10)

	body, err := json.Marshal(envelope{
		Event:     eventType,
		Timestamp: ts,
		Payload:   payload,
	})
	if err != nil {
		return 0, "", fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(body))
	if err != nil {
		return 0, "", fmt.Errorf("failed to build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, eventType)
	req.Header.Set(HeaderTimestamp, ts)
	if sub.Secret != nil && *sub.Secret != "" {
		req.Header.Set(HeaderSignature, SignatureHeader(*sub.Secret, body))
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	return resp.StatusCode, string(snippet), nil
}
