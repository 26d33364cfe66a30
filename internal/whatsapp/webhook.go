// ABOUTME: Inbound WhatsApp Cloud API webhook envelope and message types
// ABOUTME: Status-only callbacks parse fine but carry no user messages

package whatsapp

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// MessageType is the provider's inbound message type tag.
type MessageType string

const (
	MessageText        MessageType = "text"
	MessageInteractive MessageType = "interactive"
	MessageButton      MessageType = "button"
	MessageImage       MessageType = "image"
)

// Event is one webhook delivery. It may carry any number of user messages
// and delivery status callbacks.
type Event struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

type Change struct {
	Field string      `json:"field"`
	Value ChangeValue `json:"value"`
}

type ChangeValue struct {
	MessagingProduct string    `json:"messaging_product"`
	Metadata         Metadata  `json:"metadata"`
	Contacts         []Contact `json:"contacts,omitempty"`
	Messages         []Message `json:"messages,omitempty"`
	Statuses         []Status  `json:"statuses,omitempty"`
}

type Metadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

type Contact struct {
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
	WaID string `json:"wa_id"`
}

// Status is a delivery status callback for a message this side sent.
type Status struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp"`
	RecipientID string `json:"recipient_id"`
}

// Message is a single inbound user message.
type Message struct {
	Context     *MessageContext   `json:"context,omitempty"`
	From        string            `json:"from"`
	ID          string            `json:"id"`
	Timestamp   string            `json:"timestamp"`
	Type        MessageType       `json:"type"`
	Text        *Text             `json:"text,omitempty"`
	Interactive *InteractiveReply `json:"interactive,omitempty"`
	Button      *ButtonReply      `json:"button,omitempty"`
	Image       *Media            `json:"image,omitempty"`
}

// MessageContext points at the message being replied to.
type MessageContext struct {
	From string `json:"from"`
	ID   string `json:"id"`
}

type Text struct {
	Body string `json:"body"`
}

// InteractiveReply is the user's answer to a list or button message.
type InteractiveReply struct {
	Type        string `json:"type"`
	ListReply   *Reply `json:"list_reply,omitempty"`
	ButtonReply *Reply `json:"button_reply,omitempty"`
}

type Reply struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// ButtonReply is a quick-reply button press on a template message.
type ButtonReply struct {
	Payload string `json:"payload"`
	Text    string `json:"text"`
}

type Media struct {
	Caption  string `json:"caption,omitempty"`
	MimeType string `json:"mime_type"`
	SHA256   string `json:"sha256"`
	ID       string `json:"id"`
}

// ParseEvent decodes a raw webhook body.
func ParseEvent(raw []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("%w: decoding webhook event: %w", ErrParse, err)
	}
	return &e, nil
}

// Messages returns every user message in the event in delivery order.
func (e *Event) Messages() []Message {
	var out []Message
	for _, entry := range e.Entry {
		for _, change := range entry.Changes {
			out = append(out, change.Value.Messages...)
		}
	}
	return out
}

// FindMessage returns the message with the given provider id.
func (e *Event) FindMessage(id string) (Message, bool) {
	for _, m := range e.Messages() {
		if m.ID == id {
			return m, true
		}
	}
	return Message{}, false
}

// SentAt parses the provider timestamp (unix seconds).
func (m *Message) SentAt() (time.Time, error) {
	secs, err := strconv.ParseInt(strings.TrimSpace(m.Timestamp), 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: message timestamp %q: %w", ErrParse, m.Timestamp, err)
	}
	return time.Unix(secs, 0), nil
}

// TextBody returns the body of a plain text message.
func (m *Message) TextBody() (string, bool) {
	if m.Type != MessageText || m.Text == nil {
		return "", false
	}
	return m.Text.Body, true
}
