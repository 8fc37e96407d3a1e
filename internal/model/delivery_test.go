package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeliveryStatusTerminal(t *testing.T) {
	assert.False(t, DeliveryStatusPending.Terminal())
	assert.False(t, DeliveryStatusFailed.Terminal())
	assert.True(t, DeliveryStatusSuccess.Terminal())
	assert.True(t, DeliveryStatusExhausted.Terminal())
}

func TestPaginationNormalize(t *testing.T) {
	p := Pagination{}
	p.Normalize()
	assert.Equal(t, 1, p.Page)
	assert.Equal(t, 20, p.PageSize)

	p = Pagination{Page: -3, PageSize: 500}
	p.Normalize()
	assert.Equal(t, 1, p.Page)
	assert.Equal(t, 100, p.PageSize)

	p = Pagination{Page: 3, PageSize: 25}
	p.Normalize()
	assert.Equal(t, 50, p.Offset())
}
