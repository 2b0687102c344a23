package exchange

import (
	"context"
	"testing"

	"github.com/kirillm/trade-guard/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaperVenue_Submit(t *testing.T) {
	v := NewPaperVenue(nil)
	exec := domain.Execution{
		Payload:        map[string]interface{}{"symbol": "ETHUSDT", "notionalUsd": 250},
		IdempotencyKey: "k1",
	}

	id, err := v.Submit(context.Background(), exec)
	require.NoError(t, err)
	assert.Contains(t, id, "paper-")

	again, err := v.Submit(context.Background(), exec)
	require.NoError(t, err)
	assert.Equal(t, id, again)
	assert.Equal(t, 1, v.Orders())

	_, err = v.Submit(context.Background(), domain.Execution{Payload: map[string]interface{}{}})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = v.Submit(ctx, exec)
	assert.ErrorIs(t, err, context.Canceled)
}
