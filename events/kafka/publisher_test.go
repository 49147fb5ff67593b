package kafka

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/worktime-engine/overtime"
)

func TestMessage_KeyedByEmployee(t *testing.T) {
	// GIVEN: a credit movement event
	at := time.Date(2025, 3, 10, 18, 0, 0, 0, time.UTC)
	event := overtime.NewMovementAppended(overtime.Movement{
		ID:               "m1",
		EmployeeID:       "emp-1",
		Type:             overtime.Credit,
		Minutes:          120,
		Multiplier:       decimal.RequireFromString("1.5"),
		EffectiveMinutes: 180,
		BalanceAfter:     180,
		CreatedAt:        at,
	})

	// WHEN: building the Kafka message
	msg, err := message(event)
	require.NoError(t, err)

	// THEN: key, headers and payload describe the movement
	assert.Equal(t, "emp-1", string(msg.Key))
	assert.Equal(t, at, msg.Time)
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, overtime.EventMovementAppended, string(msg.Headers[0].Value))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, "emp-1", decoded["employee_id"])
	assert.Equal(t, overtime.EventMovementAppended, decoded["type"])
}

func TestNewPublisher_DefaultTopic(t *testing.T) {
	p := NewPublisher([]string{"localhost:9092"}, "")
	assert.Equal(t, DefaultTopic, p.writer.Topic)
}
