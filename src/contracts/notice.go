package contracts

import "time"

// Broker topics.
const (
	TopicNotifications = "remedy.notifications"
	TopicActions       = "remedy.actions"
)

// Notice is a team notification emitted by a notification solution.
// Published to: remedy.notifications
// Key: {job}
type Notice struct {
	Build     BuildKey  `json:"build"`
	Message   string    `json:"message"`
	Pattern   string    `json:"pattern,omitempty"`
	Severity  Severity  `json:"severity,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ActionEvent mirrors a ledger append onto the broker.
// Published to: remedy.actions
// Key: {job#number}
type ActionEvent struct {
	Build  BuildKey     `json:"build"`
	Action ActionRecord `json:"action"`
}
