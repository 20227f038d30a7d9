// Package notify delivers team notices and action events produced by the
// remediation engine.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"remedy-agent/src/broker"
	"remedy-agent/src/contracts"
	"remedy-agent/src/logger"
)

// BrokerNotifier publishes notices to contracts.TopicNotifications keyed by
// job, and action events to contracts.TopicActions keyed by build.
type BrokerNotifier struct {
	broker broker.Broker
	logger logger.Logger
}

func NewBrokerNotifier(b broker.Broker, log logger.Logger) *BrokerNotifier {
	return &BrokerNotifier{broker: b, logger: log}
}

// Notify publishes a team notice.
func (n *BrokerNotifier) Notify(ctx context.Context, notice contracts.Notice) error {
	data, err := json.Marshal(notice)
	if err != nil {
		return fmt.Errorf("failed to marshal notice: %w", err)
	}
	if err := n.broker.Publish(ctx, contracts.TopicNotifications, notice.Build.Job, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", contracts.TopicNotifications, err)
	}
	n.logger.Info("[Notify] Notice for %s published: %s", notice.Build, notice.Message)
	return nil
}

// PublishAction mirrors a recorded action.
func (n *BrokerNotifier) PublishAction(ctx context.Context, event contracts.ActionEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal action event: %w", err)
	}
	if err := n.broker.Publish(ctx, contracts.TopicActions, event.Build.String(), data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", contracts.TopicActions, err)
	}
	return nil
}

// LogNotifier only logs notices. It is used when no broker is configured.
type LogNotifier struct {
	logger logger.Logger
}

func NewLogNotifier(log logger.Logger) *LogNotifier {
	return &LogNotifier{logger: log}
}

func (n *LogNotifier) Notify(ctx context.Context, notice contracts.Notice) error {
	n.logger.Warn("[Notify] %s (%s): %s", notice.Build, notice.Severity, notice.Message)
	return nil
}

// Decode parses a message from contracts.TopicNotifications.
func Decode(msg broker.Message) (contracts.Notice, error) {
	var notice contracts.Notice
	if err := json.Unmarshal(msg.Value, &notice); err != nil {
		return contracts.Notice{}, fmt.Errorf("failed to decode notice at offset %d: %w", msg.Offset, err)
	}
	return notice, nil
}
