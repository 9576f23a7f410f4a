package audit

import "time"

// Event is emitted from domain logic to capture consent actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Timestamp time.Time
	VisitorID string
	Action    string
	Decision  string
	Reason    string
	Granted   []string
	Browser   string
	Platform  string
	RequestID string
}
