package worker

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatline/webhook-api/internal/model"
	"github.com/chatline/webhook-api/internal/repository/repositorytest"
	"github.com/chatline/webhook-api/internal/service/delivery"
	"github.com/chatline/webhook-api/pkg/logger"
	"github.com/chatline/webhook-api/pkg/metrics"
)

func testLogger() *logger.Logger {
	return logger.NewLogger(&logger.Config{Level: logger.FatalLevel, Output: io.Discard})
}

func newTestSweeper(logs *repositorytest.DeliveryLogStore, subs *repositorytest.SubscriptionStore, batchSize int) *Sweeper {
	m := metrics.New("test")
	executor := delivery.NewExecutor(logs, subs, m, testLogger())
	return NewSweeper(logs, subs, executor, SweeperConfig{
		BatchSize:    batchSize,
		PollInterval: time.Minute,
	}, m, testLogger())
}

func addSubscription(t *testing.T, subs *repositorytest.SubscriptionStore, url string, active bool) *model.Subscription {
	t.Helper()
	sub := &model.Subscription{
		Name:   "endpoint",
		URL:    url,
		Events: []string{model.EventMessageReceived},
		Active: active,
	}
	require.NoError(t, subs.Create(context.Background(), sub))
	return sub
}

func failedEntry(subID uuid.UUID, attempts int, nextRetryAt time.Time) *model.DeliveryLog {
	return &model.DeliveryLog{
		SubscriptionID: subID,
		EventType:      model.EventMessageReceived,
		Payload:        json.RawMessage(`{}`),
		Status:         model.DeliveryStatusFailed,
		Attempts:       attempts,
		NextRetryAt:    &nextRetryAt,
		CreatedAt:      time.Now(),
	}
}

func TestProcessRetriesContinuesAttemptCounter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	logs := repositorytest.NewDeliveryLogStore()
	subs := repositorytest.NewSubscriptionStore()
	sub := addSubscription(t, subs, srv.URL, true)

	entry := failedEntry(sub.ID, 2, time.Now().Add(-time.Minute))
	logs.Put(entry)

	require.NoError(t, newTestSweeper(logs, subs, 10).ProcessRetries(context.Background()))

	stored, err := logs.Get(context.Background(), entry.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DeliveryStatusSuccess, stored.Status)
	assert.Equal(t, 3, stored.Attempts, "retry picks up where the attempt counter left off")
	assert.Nil(t, stored.NextRetryAt)
}

func TestProcessRetriesExhaustsWhenSubscriptionGone(t *testing.T) {
	logs := repositorytest.NewDeliveryLogStore()
	subs := repositorytest.NewSubscriptionStore()

	entry := failedEntry(uuid.New(), 3, time.Now().Add(-time.Minute))
	logs.Put(entry)

	require.NoError(t, newTestSweeper(logs, subs, 10).ProcessRetries(context.Background()))

	stored, err := logs.Get(context.Background(), entry.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DeliveryStatusExhausted, stored.Status)
	require.NotNil(t, stored.ErrorMessage)
	assert.Equal(t, "subscription no longer exists", *stored.ErrorMessage)
	assert.Nil(t, stored.NextRetryAt)
}

func TestProcessRetriesExhaustsWhenSubscriptionInactive(t *testing.T) {
	logs := repositorytest.NewDeliveryLogStore()
	subs := repositorytest.NewSubscriptionStore()
	sub := addSubscription(t, subs, "http://example.com/hook", false)

	entry := failedEntry(sub.ID, 1, time.Now().Add(-time.Second))
	logs.Put(entry)

	require.NoError(t, newTestSweeper(logs, subs, 10).ProcessRetries(context.Background()))

	stored, err := logs.Get(context.Background(), entry.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DeliveryStatusExhausted, stored.Status)
	require.NotNil(t, stored.ErrorMessage)
	assert.Equal(t, "subscription is inactive", *stored.ErrorMessage)
}

func TestProcessRetriesKeepsDiagnosticsWhenExhausting(t *testing.T) {
	logs := repositorytest.NewDeliveryLogStore()
	subs := repositorytest.NewSubscriptionStore()

	code := http.StatusInternalServerError
	body := "boom"
	entry := failedEntry(uuid.New(), 3, time.Now().Add(-time.Minute))
	entry.ResponseCode = &code
	entry.ResponseBody = &body
	logs.Put(entry)

	require.NoError(t, newTestSweeper(logs, subs, 10).ProcessRetries(context.Background()))

	stored, err := logs.Get(context.Background(), entry.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DeliveryStatusExhausted, stored.Status)
	// The last attempt's response diagnostics survive; only the error
	// message is replaced.
	require.NotNil(t, stored.ResponseCode)
	assert.Equal(t, http.StatusInternalServerError, *stored.ResponseCode)
	require.NotNil(t, stored.ResponseBody)
	assert.Equal(t, "boom", *stored.ResponseBody)
	require.NotNil(t, stored.ErrorMessage)
	assert.Equal(t, "subscription no longer exists", *stored.ErrorMessage)
}

func TestProcessRetriesLeavesFutureRetriesAlone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	logs := repositorytest.NewDeliveryLogStore()
	subs := repositorytest.NewSubscriptionStore()
	sub := addSubscription(t, subs, srv.URL, true)

	entry := failedEntry(sub.ID, 1, time.Now().Add(30*time.Minute))
	logs.Put(entry)

	require.NoError(t, newTestSweeper(logs, subs, 10).ProcessRetries(context.Background()))

	stored, err := logs.Get(context.Background(), entry.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DeliveryStatusFailed, stored.Status)
	assert.Equal(t, 1, stored.Attempts)
	assert.NotNil(t, stored.NextRetryAt)
}

func TestProcessRetriesRespectsBatchSize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	logs := repositorytest.NewDeliveryLogStore()
	subs := repositorytest.NewSubscriptionStore()
	sub := addSubscription(t, subs, srv.URL, true)

	for i := 0; i < 3; i++ {
		logs.Put(failedEntry(sub.ID, 1, time.Now().Add(-time.Duration(i+1)*time.Minute)))
	}

	require.NoError(t, newTestSweeper(logs, subs, 2).ProcessRetries(context.Background()))

	status := model.DeliveryStatusSuccess
	_, delivered, err := logs.List(context.Background(), &model.DeliveryLogFilter{Status: &status})
	require.NoError(t, err)
	assert.Equal(t, 2, delivered)

	status = model.DeliveryStatusFailed
	_, remaining, err := logs.List(context.Background(), &model.DeliveryLogFilter{Status: &status})
	require.NoError(t, err)
	assert.Equal(t, 1, remaining)
}

func TestNewSweeperValidatesConfig(t *testing.T) {
	logs := repositorytest.NewDeliveryLogStore()
	subs := repositorytest.NewSubscriptionStore()
	m := metrics.New("test")
	executor := delivery.NewExecutor(logs, subs, m, testLogger())

	assert.Panics(t, func() {
		NewSweeper(logs, subs, executor, SweeperConfig{BatchSize: 0, PollInterval: time.Second}, m, testLogger())
	})
	assert.Panics(t, func() {
		NewSweeper(logs, subs, executor, SweeperConfig{BatchSize: 10, PollInterval: 0}, m, testLogger())
	})
}
