// ABOUTME: Wire shapes for outbound WhatsApp Cloud API messages
// ABOUTME: Text, reply-button and list payloads are distinct action types

package composer

// Primary is the top-level message type sent to the provider.
type Primary string

const (
	PrimaryText        Primary = "text"
	PrimaryInteractive Primary = "interactive"
)

// Secondary is the interactive sub-type. Text messages have none.
type Secondary string

const (
	SecondaryNone   Secondary = ""
	SecondaryButton Secondary = "button"
	SecondaryList   Secondary = "list"
)

// Payload is a validated message ready to be posted to the provider.
type Payload struct {
	MessagingProduct string       `json:"messaging_product"`
	RecipientType    string       `json:"recipient_type"`
	To               string       `json:"to"`
	Type             Primary      `json:"type"`
	Text             *Text        `json:"text,omitempty"`
	Interactive      *Interactive `json:"interactive,omitempty"`
}

// Kind reports which of the three message kinds the payload is.
func (p *Payload) Kind() Kind {
	if p.Interactive == nil {
		return KindText
	}
	if p.Interactive.Type == SecondaryList {
		return KindList
	}
	return KindButton
}

// Text is the body of a plain text message.
type Text struct {
	Body string `json:"body"`
}

// Interactive is the body of a button or list message.
type Interactive struct {
	Type   Secondary `json:"type"`
	Header *Header   `json:"header,omitempty"`
	Body   Body      `json:"body"`
	Action Action    `json:"action"`
}

// Header is the optional text header of an interactive message.
type Header struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Body is the text shown in an interactive message.
type Body struct {
	Text string `json:"text"`
}

// Action is the choice block of an interactive message. It is either a
// ButtonAction or a ListAction.
type Action interface {
	secondary() Secondary
}

// ButtonAction holds up to three reply buttons.
type ButtonAction struct {
	Buttons []Button `json:"buttons"`
}

func (ButtonAction) secondary() Secondary { return SecondaryButton }

// ListAction holds the list button title and its sections.
type ListAction struct {
	Button   string    `json:"button"`
	Sections []Section `json:"sections"`
}

func (ListAction) secondary() Secondary { return SecondaryList }

// Button is a single reply button.
type Button struct {
	Type  string `json:"type"`
	Reply Reply  `json:"reply"`
}

// Reply identifies a reply button.
type Reply struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Section groups list rows under an optional title.
type Section struct {
	Title string `json:"title,omitempty"`
	Rows  []Row  `json:"rows"`
}

// Row is a selectable list entry.
type Row struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}
