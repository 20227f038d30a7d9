package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remedy-agent/src/broker"
	"remedy-agent/src/contracts"
	"remedy-agent/src/logger"
)

func next(t *testing.T, ch <-chan broker.Message) broker.Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
	return broker.Message{}
}

func TestBrokerNotifier_Notify(t *testing.T) {
	b := broker.NewInMemoryBroker()
	defer b.Close()
	ctx := context.Background()

	ch, err := b.Subscribe(ctx, contracts.TopicNotifications, "test")
	require.NoError(t, err)

	notice := contracts.Notice{
		Build:     contracts.BuildKey{Job: "team/app", Number: 42},
		Message:   "Disk full on agent",
		Pattern:   "ERROR: No space left on device",
		Severity:  contracts.SeverityHigh,
		Timestamp: time.Date(2025, 11, 1, 12, 0, 0, 0, time.UTC),
	}
	n := NewBrokerNotifier(b, logger.NewSilentLogger())
	require.NoError(t, n.Notify(ctx, notice))

	msg := next(t, ch)
	assert.Equal(t, "team/app", msg.Key)

	got, err := Decode(msg)
	require.NoError(t, err)
	assert.Equal(t, notice.Build, got.Build)
	assert.Equal(t, notice.Message, got.Message)
	assert.Equal(t, notice.Severity, got.Severity)
	assert.True(t, notice.Timestamp.Equal(got.Timestamp))
}

func TestBrokerNotifier_PublishAction(t *testing.T) {
	b := broker.NewInMemoryBroker()
	defer b.Close()
	ctx := context.Background()

	ch, err := b.Subscribe(ctx, contracts.TopicActions, "test")
	require.NoError(t, err)

	n := NewBrokerNotifier(b, logger.NewSilentLogger())
	event := contracts.ActionEvent{
		Build:  contracts.BuildKey{Job: "app", Number: 7},
		Action: contracts.ActionRecord{ID: "a1", Type: contracts.ActionSlowBuild, Status: contracts.StatusSucceeded},
	}
	require.NoError(t, n.PublishAction(ctx, event))

	msg := next(t, ch)
	assert.Equal(t, "app#7", msg.Key)
	assert.Contains(t, string(msg.Value), `"type":"slow_build"`)
}

func TestBrokerNotifier_ClosedBroker(t *testing.T) {
	b := broker.NewInMemoryBroker()
	b.Close()

	n := NewBrokerNotifier(b, logger.NewSilentLogger())
	err := n.Notify(context.Background(), contracts.Notice{Message: "x"})
	assert.True(t, errors.Is(err, broker.ErrClosed))
}

func TestDecode_Malformed(t *testing.T) {
	_, err := Decode(broker.Message{Value: []byte("{"), Offset: 3})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "offset 3")
}

func TestLogNotifier(t *testing.T) {
	n := NewLogNotifier(logger.NewSilentLogger())
	assert.NoError(t, n.Notify(context.Background(), contracts.Notice{Message: "x"}))
}
