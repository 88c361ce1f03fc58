package webhook

import "time"

// Payload is the webhook request body.
type Payload struct {
	Destination string  `json:"destination"`
	Events      []Event `json:"events"`
}

// Event is one webhook event. Only the fields the relay reads are decoded.
type Event struct {
	Type            string          `json:"type"`
	Mode            string          `json:"mode"`
	Timestamp       int64           `json:"timestamp"`
	WebhookEventID  string          `json:"webhookEventId"`
	ReplyToken      string          `json:"replyToken"`
	Source          Source          `json:"source"`
	Message         *EventMessage   `json:"message,omitempty"`
	DeliveryContext DeliveryContext `json:"deliveryContext"`
}

type Source struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

type EventMessage struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Text string `json:"text"`
}

type DeliveryContext struct {
	IsRedelivery bool `json:"isRedelivery"`
}

// Standby reports whether the channel is in standby mode for this event, in
// which case another module owns the chat and the event must not be answered.
func (e Event) Standby() bool {
	return e.Mode == "standby"
}

// Time returns when the platform observed the event, or fallback when the
// payload carries no timestamp.
func (e Event) Time(fallback time.Time) time.Time {
	if e.Timestamp <= 0 {
		return fallback
	}
	return time.UnixMilli(e.Timestamp)
}

// IsText reports whether e carries a text message.
func (e Event) IsText() bool {
	return e.Type == "message" && e.Message != nil && e.Message.Type == "text"
}
