package repositorytest

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatline/webhook-api/internal/model"
	"github.com/chatline/webhook-api/internal/repository"
)

func seedTerminalEntry(t *testing.T, logs *DeliveryLogStore, status model.DeliveryStatus) *model.DeliveryLog {
	t.Helper()
	code := 200
	body := "ok"
	entry := &model.DeliveryLog{
		SubscriptionID: uuid.New(),
		EventType:      model.EventMessageReceived,
		Payload:        json.RawMessage(`{}`),
		Status:         status,
		Attempts:       3,
		ResponseCode:   &code,
		ResponseBody:   &body,
		CreatedAt:      time.Now(),
	}
	logs.Put(entry)
	return entry
}

func TestMarkSuccessRejectsTerminalEntry(t *testing.T) {
	for _, status := range []model.DeliveryStatus{model.DeliveryStatusSuccess, model.DeliveryStatusExhausted} {
		t.Run(string(status), func(t *testing.T) {
			logs := NewDeliveryLogStore()
			entry := seedTerminalEntry(t, logs, status)

			err := logs.MarkSuccess(context.Background(), entry.ID, 4, 204, "late", time.Now())
			assert.ErrorIs(t, err, repository.ErrTerminalState)

			stored, getErr := logs.Get(context.Background(), entry.ID)
			require.NoError(t, getErr)
			assert.Equal(t, status, stored.Status)
			assert.Equal(t, 3, stored.Attempts)
			require.NotNil(t, stored.ResponseCode)
			assert.Equal(t, 200, *stored.ResponseCode)
			require.NotNil(t, stored.ResponseBody)
			assert.Equal(t, "ok", *stored.ResponseBody)
		})
	}
}

func TestMarkFailedRejectsTerminalEntry(t *testing.T) {
	for _, status := range []model.DeliveryStatus{model.DeliveryStatusSuccess, model.DeliveryStatusExhausted} {
		t.Run(string(status), func(t *testing.T) {
			logs := NewDeliveryLogStore()
			entry := seedTerminalEntry(t, logs, status)

			code := 500
			msg := "late failure"
			err := logs.MarkFailed(context.Background(), entry.ID, 4, &code, nil, &msg, time.Now().Add(time.Minute))
			assert.ErrorIs(t, err, repository.ErrTerminalState)

			stored, getErr := logs.Get(context.Background(), entry.ID)
			require.NoError(t, getErr)
			assert.Equal(t, status, stored.Status)
			assert.Equal(t, 3, stored.Attempts)
			assert.Nil(t, stored.NextRetryAt)
		})
	}
}

func TestMarkExhaustedRejectsTerminalEntry(t *testing.T) {
	logs := NewDeliveryLogStore()
	entry := seedTerminalEntry(t, logs, model.DeliveryStatusSuccess)

	msg := "should not land"
	err := logs.MarkExhausted(context.Background(), entry.ID, 6, nil, nil, &msg)
	assert.ErrorIs(t, err, repository.ErrTerminalState)

	stored, getErr := logs.Get(context.Background(), entry.ID)
	require.NoError(t, getErr)
	assert.Equal(t, model.DeliveryStatusSuccess, stored.Status)
	assert.Nil(t, stored.ErrorMessage)
}

func TestMarkFailedRequiresAdvancingAttempts(t *testing.T) {
	logs := NewDeliveryLogStore()
	retryAt := time.Now().Add(time.Minute)
	entry := &model.DeliveryLog{
		SubscriptionID: uuid.New(),
		EventType:      model.EventMessageReceived,
		Payload:        json.RawMessage(`{}`),
		Status:         model.DeliveryStatusFailed,
		Attempts:       2,
		NextRetryAt:    &retryAt,
		CreatedAt:      time.Now(),
	}
	logs.Put(entry)

	msg := "stale write"
	// Equal and lower attempt counts are stale writes and must not land.
	for _, attempts := range []int{1, 2} {
		err := logs.MarkFailed(context.Background(), entry.ID, attempts, nil, nil, &msg, time.Now().Add(time.Hour))
		assert.ErrorIs(t, err, repository.ErrTerminalState)
	}

	stored, err := logs.Get(context.Background(), entry.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.Attempts)
	assert.Nil(t, stored.ErrorMessage)

	require.NoError(t, logs.MarkFailed(context.Background(), entry.ID, 3, nil, nil, &msg, time.Now().Add(time.Hour)))
	stored, err = logs.Get(context.Background(), entry.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, stored.Attempts)
}

func TestMarkOnMissingEntry(t *testing.T) {
	logs := NewDeliveryLogStore()

	err := logs.MarkSuccess(context.Background(), uuid.New(), 1, 200, "ok", time.Now())
	assert.ErrorIs(t, err, repository.ErrTerminalState)

	err = logs.MarkExhausted(context.Background(), uuid.New(), 6, nil, nil, nil)
	assert.ErrorIs(t, err, repository.ErrTerminalState)
}

func TestRearmEscapesTerminalState(t *testing.T) {
	logs := NewDeliveryLogStore()
	entry := seedTerminalEntry(t, logs, model.DeliveryStatusExhausted)

	rearmed, err := logs.Rearm(context.Background(), entry.ID)
	require.NoError(t, err)

	assert.Equal(t, model.DeliveryStatusPending, rearmed.Status)
	assert.Zero(t, rearmed.Attempts)
	assert.Nil(t, rearmed.NextRetryAt)
	assert.Nil(t, rearmed.SentAt)
	// Response diagnostics from the last attempt survive the re-arm.
	require.NotNil(t, rearmed.ResponseCode)
	assert.Equal(t, 200, *rearmed.ResponseCode)
}
