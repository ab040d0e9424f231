package line

// Webhook payload types for the LINE Messaging API.
// Reference: https://developers.line.biz/en/reference/messaging-api/#webhook-event-objects

// Event and message type tags used for routing.
const (
	EventTypeMessage = "message"

	MessageTypeText  = "text"
	MessageTypeImage = "image"
)

// WebhookRequest is the body of a webhook delivery. Each delivery carries a
// batch of events; LINE may batch multiple users' events in one request.
type WebhookRequest struct {
	Destination string  `json:"destination"`
	Events      []Event `json:"events"`
}

// Event is a single webhook event. ReplyToken is single-use and only valid
// shortly after delivery.
type Event struct {
	Type       string  `json:"type"`
	ReplyToken string  `json:"replyToken"`
	Source     Source  `json:"source"`
	Message    Message `json:"message"`
}

// Source identifies where the event originated.
type Source struct {
	Type    string `json:"type"`
	UserID  string `json:"userId"`
	GroupID string `json:"groupId,omitempty"`
}

// Message is the message payload of a message event. For image messages the
// content itself is not inlined; it is fetched separately by Message.ID.
type Message struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// IsTextMessage reports whether the event is a text message event.
func (e Event) IsTextMessage() bool {
	return e.Type == EventTypeMessage && e.Message.Type == MessageTypeText
}

// IsImageMessage reports whether the event is an image message event.
func (e Event) IsImageMessage() bool {
	return e.Type == EventTypeMessage && e.Message.Type == MessageTypeImage
}
