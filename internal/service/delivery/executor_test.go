package delivery

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatline/webhook-api/internal/model"
	"github.com/chatline/webhook-api/internal/repository/repositorytest"
	"github.com/chatline/webhook-api/pkg/logger"
	"github.com/chatline/webhook-api/pkg/metrics"
)

func testLogger() *logger.Logger {
	return logger.NewLogger(&logger.Config{Level: logger.FatalLevel, Output: io.Discard})
}

func newTestExecutor(logs *repositorytest.DeliveryLogStore, subs *repositorytest.SubscriptionStore) *Executor {
	return NewExecutor(logs, subs, metrics.New("test"), testLogger())
}

func seedSubscription(t *testing.T, subs *repositorytest.SubscriptionStore, url string, secret *string, active bool, events ...string) *model.Subscription {
	t.Helper()
	sub := &model.Subscription{
		Name:   "test endpoint",
		URL:    url,
		Secret: secret,
		Events: events,
		Active: active,
	}
	require.NoError(t, subs.Create(context.Background(), sub))
	return sub
}

func seedEntry(t *testing.T, logs *repositorytest.DeliveryLogStore, sub *model.Subscription, eventType string) *model.DeliveryLog {
	t.Helper()
	entry := &model.DeliveryLog{
		SubscriptionID: sub.ID,
		EventType:      eventType,
		Payload:        json.RawMessage(`{"conversation_id":"c-1"}`),
	}
	require.NoError(t, logs.Create(context.Background(), entry))
	return entry
}

func TestSendSuccess(t *testing.T) {
	secret := "signing-secret"

	var (
		gotMethod      string
		gotContentType string
		gotEvent       string
		gotTimestamp   string
		gotSignature   string
		gotBody        []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotContentType = r.Header.Get("Content-Type")
		gotEvent = r.Header.Get(HeaderEvent)
		gotTimestamp = r.Header.Get(HeaderTimestamp)
		gotSignature = r.Header.Get(HeaderSignature)
		gotBody, _ = io.ReadAll(r.Body)
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	logs := repositorytest.NewDeliveryLogStore()
	subs := repositorytest.NewSubscriptionStore()
	sub := seedSubscription(t, subs, srv.URL, &secret, true, model.EventMessageReceived)
	entry := seedEntry(t, logs, sub, model.EventMessageReceived)

	e := newTestExecutor(logs, subs)
	result := e.Send(context.Background(), sub, entry)

	assert.Equal(t, model.DeliveryStatusSuccess, result.Status)
	assert.Equal(t, 1, result.Attempts)
	require.NotNil(t, result.ResponseCode)
	assert.Equal(t, http.StatusOK, *result.ResponseCode)
	assert.Empty(t, result.Error)

	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "application/json", gotContentType)
	assert.Equal(t, model.EventMessageReceived, gotEvent)

	ms, err := strconv.ParseInt(gotTimestamp, 10, 64)
	require.NoError(t, err)
	assert.InDelta(t, time.Now().UnixMilli(), ms, float64(time.Minute.Milliseconds()))

	assert.True(t, VerifySignature(secret, gotBody, gotSignature))

	var envelope struct {
		Event     string          `json:"event"`
		Timestamp string          `json:"timestamp"`
		Payload   json.RawMessage `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(gotBody, &envelope))
	assert.Equal(t, model.EventMessageReceived, envelope.Event)
	assert.Equal(t, gotTimestamp, envelope.Timestamp)
	assert.JSONEq(t, `{"conversation_id":"c-1"}`, string(envelope.Payload))

	stored, err := logs.Get(context.Background(), entry.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DeliveryStatusSuccess, stored.Status)
	assert.Equal(t, 1, stored.Attempts)
	require.NotNil(t, stored.ResponseCode)
	assert.Equal(t, http.StatusOK, *stored.ResponseCode)
	require.NotNil(t, stored.ResponseBody)
	assert.Equal(t, "ok", *stored.ResponseBody)
	assert.Nil(t, stored.NextRetryAt)
	assert.NotNil(t, stored.SentAt)

	fresh, err := subs.Get(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.NotNil(t, fresh.LastTriggeredAt)
}

func TestSendWithoutSecretIsUnsigned(t *testing.T) {
	var gotSignature string
	var hadHeader bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSignature = r.Header.Get(HeaderSignature)
		_, hadHeader = r.Header[HeaderSignature]
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	logs := repositorytest.NewDeliveryLogStore()
	subs := repositorytest.NewSubscriptionStore()
	sub := seedSubscription(t, subs, srv.URL, nil, true, model.EventMessageSent)
	entry := seedEntry(t, logs, sub, model.EventMessageSent)

	result := newTestExecutor(logs, subs).Send(context.Background(), sub, entry)

	assert.Equal(t, model.DeliveryStatusSuccess, result.Status)
	assert.Empty(t, gotSignature)
	assert.False(t, hadHeader)
}

func TestSendNon2xxArmsRetry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer srv.Close()

	logs := repositorytest.NewDeliveryLogStore()
	subs := repositorytest.NewSubscriptionStore()
	sub := seedSubscription(t, subs, srv.URL, nil, true, model.EventConversationCreated)
	entry := seedEntry(t, logs, sub, model.EventConversationCreated)

	e := newTestExecutor(logs, subs)
	frozen := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return frozen }

	result := e.Send(context.Background(), sub, entry)

	assert.Equal(t, model.DeliveryStatusFailed, result.Status)
	assert.Equal(t, 1, result.Attempts)

	stored, err := logs.Get(context.Background(), entry.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DeliveryStatusFailed, stored.Status)
	assert.Equal(t, 1, stored.Attempts)
	require.NotNil(t, stored.ResponseCode)
	assert.Equal(t, http.StatusInternalServerError, *stored.ResponseCode)
	require.NotNil(t, stored.ResponseBody)
	assert.Equal(t, "boom", *stored.ResponseBody)
	require.NotNil(t, stored.NextRetryAt)
	assert.Equal(t, frozen.Add(1*time.Minute), *stored.NextRetryAt)
}

func TestSendTransportErrorArmsRetry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused

	logs := repositorytest.NewDeliveryLogStore()
	subs := repositorytest.NewSubscriptionStore()
	sub := seedSubscription(t, subs, srv.URL, nil, true, model.EventUserCreated)
	entry := seedEntry(t, logs, sub, model.EventUserCreated)

	result := newTestExecutor(logs, subs).Send(context.Background(), sub, entry)

	assert.Equal(t, model.DeliveryStatusFailed, result.Status)
	assert.NotEmpty(t, result.Error)
	assert.Nil(t, result.ResponseCode)

	stored, err := logs.Get(context.Background(), entry.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DeliveryStatusFailed, stored.Status)
	assert.Nil(t, stored.ResponseCode)
	require.NotNil(t, stored.ErrorMessage)
	assert.NotEmpty(t, *stored.ErrorMessage)
	assert.NotNil(t, stored.NextRetryAt)
}

func TestSendExhaustsAtAttemptBudget(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	logs := repositorytest.NewDeliveryLogStore()
	subs := repositorytest.NewSubscriptionStore()
	sub := seedSubscription(t, subs, srv.URL, nil, true, model.EventConversationClosed)

	// Entry reclaimed by the sweeper after five prior failures.
	entry := &model.DeliveryLog{
		SubscriptionID: sub.ID,
		EventType:      model.EventConversationClosed,
		Payload:        json.RawMessage(`{}`),
		Status:         model.DeliveryStatusPending,
		Attempts:       MaxAttempts - 1,
		CreatedAt:      time.Now(),
	}
	logs.Put(entry)

	result := newTestExecutor(logs, subs).Send(context.Background(), sub, entry)

	assert.Equal(t, model.DeliveryStatusExhausted, result.Status)
	assert.Equal(t, MaxAttempts, result.Attempts)

	stored, err := logs.Get(context.Background(), entry.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DeliveryStatusExhausted, stored.Status)
	assert.Equal(t, MaxAttempts, stored.Attempts)
	assert.Nil(t, stored.NextRetryAt)
}

func TestSendDoesNotOverwriteSettledEntry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	logs := repositorytest.NewDeliveryLogStore()
	subs := repositorytest.NewSubscriptionStore()
	sub := seedSubscription(t, subs, srv.URL, nil, true, model.EventMessageReceived)

	// A concurrent attempt already settled this entry.
	code := http.StatusOK
	body := "ok"
	entry := &model.DeliveryLog{
		SubscriptionID: sub.ID,
		EventType:      model.EventMessageReceived,
		Payload:        json.RawMessage(`{}`),
		Status:         model.DeliveryStatusSuccess,
		Attempts:       1,
		ResponseCode:   &code,
		ResponseBody:   &body,
		CreatedAt:      time.Now(),
	}
	logs.Put(entry)

	result := newTestExecutor(logs, subs).Send(context.Background(), sub, entry)
	assert.NotEmpty(t, result.Error, "store must refuse the stale write")

	stored, err := logs.Get(context.Background(), entry.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DeliveryStatusSuccess, stored.Status)
	assert.Equal(t, 1, stored.Attempts)
	require.NotNil(t, stored.ResponseCode)
	assert.Equal(t, http.StatusOK, *stored.ResponseCode)
	assert.Nil(t, stored.NextRetryAt)
}

func TestSendTruncatesResponseBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("x", 4*maxResponseBytes)))
	}))
	defer srv.Close()

	logs := repositorytest.NewDeliveryLogStore()
	subs := repositorytest.NewSubscriptionStore()
	sub := seedSubscription(t, subs, srv.URL, nil, true, model.EventMessageReceived)
	entry := seedEntry(t, logs, sub, model.EventMessageReceived)

	newTestExecutor(logs, subs).Send(context.Background(), sub, entry)

	stored, err := logs.Get(context.Background(), entry.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.ResponseBody)
	assert.Len(t, *stored.ResponseBody, maxResponseBytes)
}

func TestSendTestDoesNotPersist(t *testing.T) {
	var gotEvent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotEvent = r.Header.Get(HeaderEvent)
		w.Write([]byte("pong"))
	}))
	defer srv.Close()

	logs := repositorytest.NewDeliveryLogStore()
	subs := repositorytest.NewSubscriptionStore()
	sub := seedSubscription(t, subs, srv.URL, nil, true, model.EventMessageReceived)

	result := newTestExecutor(logs, subs).SendTest(context.Background(), sub)

	assert.True(t, result.Success)
	require.NotNil(t, result.ResponseCode)
	assert.Equal(t, http.StatusOK, *result.ResponseCode)
	assert.Equal(t, "pong", result.ResponseBody)
	assert.Equal(t, "webhook.test", gotEvent)

	_, total, err := logs.List(context.Background(), &model.DeliveryLogFilter{})
	require.NoError(t, err)
	assert.Zero(t, total, "test sends must not create delivery log entries")
}

func TestSendTestReportsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	logs := repositorytest.NewDeliveryLogStore()
	subs := repositorytest.NewSubscriptionStore()
	sub := seedSubscription(t, subs, srv.URL, nil, true, model.EventMessageReceived)

	result := newTestExecutor(logs, subs).SendTest(context.Background(), sub)

	assert.False(t, result.Success)
	require.NotNil(t, result.ResponseCode)
	assert.Equal(t, http.StatusServiceUnavailable, *result.ResponseCode)
}
