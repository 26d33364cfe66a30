// ABOUTME: Draft state machine for outbound messages: type, body, header, choices
// ABOUTME: Misuse returns ErrInvalidState; Build validates once and returns a Payload

package composer

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidState is returned when a mutator is not valid for the draft's type.
	ErrInvalidState = errors.New("invalid composer state")

	// ErrIncompleteMessage is returned by Build when required parts are missing.
	ErrIncompleteMessage = errors.New("incomplete message")

	// ErrUnrecognizedKind is returned when a message kind name is unknown.
	ErrUnrecognizedKind = errors.New("unrecognized message kind")
)

// Provider limits for interactive messages.
const (
	MaxReplyButtons = 3
	MaxListRows     = 10
)

// Kind is one of the three outbound message kinds.
type Kind string

const (
	KindText   Kind = "text"
	KindButton Kind = "button"
	KindList   Kind = "list"
)

// ParseKind maps a request type name to a Kind.
func ParseKind(name string) (Kind, error) {
	switch Kind(name) {
	case KindText, KindButton, KindList:
		return Kind(name), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnrecognizedKind, name)
	}
}

// Types returns the primary and secondary types used to compose the kind.
func (k Kind) Types() (Primary, Secondary) {
	switch k {
	case KindButton:
		return PrimaryInteractive, SecondaryButton
	case KindList:
		return PrimaryInteractive, SecondaryList
	default:
		return PrimaryText, SecondaryNone
	}
}

// Composer is a mutable draft of one outbound message.
// The zero value has no recipient; use New.
type Composer struct {
	to          string
	primary     Primary
	secondary   Secondary
	body        string
	bodySet     bool
	header      string
	buttonTitle string
	buttons     []Button
	sections    []Section
}

// New returns an empty draft addressed to the given recipient.
func New(to string) *Composer {
	return &Composer{to: to}
}

// SetType chooses the message type. Text forbids a secondary type. Calling it
// again discards everything set so far except the recipient.
func (c *Composer) SetType(primary Primary, secondary Secondary) error {
	switch primary {
	case PrimaryText:
		if secondary != SecondaryNone {
			return fmt.Errorf("%w: text messages don't allow a secondary type", ErrInvalidState)
		}
	case PrimaryInteractive:
		switch secondary {
		case SecondaryNone, SecondaryButton, SecondaryList:
		default:
			return fmt.Errorf("%w: unknown interactive type %q", ErrInvalidState, secondary)
		}
	default:
		return fmt.Errorf("%w: unknown message type %q, use text or interactive", ErrInvalidState, primary)
	}

	*c = Composer{to: c.to, primary: primary, secondary: secondary}
	switch secondary {
	case SecondaryButton:
		c.buttons = []Button{}
	case SecondaryList:
		c.sections = []Section{}
	}
	return nil
}

// SetBody sets the message text.
func (c *Composer) SetBody(text string) error {
	if c.primary == "" {
		return fmt.Errorf("%w: message type is not set", ErrInvalidState)
	}
	c.body = text
	c.bodySet = true
	return nil
}

// SetHeader sets the header of an interactive message.
func (c *Composer) SetHeader(text string) error {
	if c.primary == "" {
		return fmt.Errorf("%w: message type is not set", ErrInvalidState)
	}
	if c.primary != PrimaryInteractive {
		return fmt.Errorf("%w: text messages don't allow a header", ErrInvalidState)
	}
	c.header = text
	return nil
}

// SetButtonTitle sets the label of the button that opens a list message.
func (c *Composer) SetButtonTitle(title string) error {
	if c.secondary != SecondaryList {
		return fmt.Errorf("%w: button title requires a list message", ErrInvalidState)
	}
	c.buttonTitle = title
	return nil
}

// AddReplyButton appends a reply button. An empty id is derived from the label.
func (c *Composer) AddReplyButton(label, id string) error {
	if c.primary == PrimaryText {
		return fmt.Errorf("%w: text messages don't allow actions", ErrInvalidState)
	}
	if c.secondary != SecondaryButton {
		return fmt.Errorf("%w: reply buttons require a button message, use AddListRow for lists", ErrInvalidState)
	}
	if label == "" {
		return fmt.Errorf("%w: button label is empty", ErrInvalidState)
	}
	if len(c.buttons) >= MaxReplyButtons {
		return fmt.Errorf("%w: at most %d reply buttons are allowed", ErrInvalidState, MaxReplyButtons)
	}
	if id == "" {
		id = choiceID(label)
	}
	c.buttons = append(c.buttons, Button{
		Type:  "reply",
		Reply: Reply{ID: id, Title: label},
	})
	return nil
}

// AddListRow appends a row to the named section, creating the section on
// first use. An empty id is derived from the label.
func (c *Composer) AddListRow(label, section, id string) error {
	if c.primary == PrimaryText {
		return fmt.Errorf("%w: text messages don't allow actions", ErrInvalidState)
	}
	if c.secondary != SecondaryList {
		return fmt.Errorf("%w: list rows require a list message, use AddReplyButton for buttons", ErrInvalidState)
	}
	if label == "" {
		return fmt.Errorf("%w: row label is empty", ErrInvalidState)
	}
	if c.rowCount() >= MaxListRows {
		return fmt.Errorf("%w: at most %d list rows are allowed", ErrInvalidState, MaxListRows)
	}
	if id == "" {
		id = choiceID(label)
	}

	idx := -1
	for i := range c.sections {
		if c.sections[i].Title == section {
			idx = i
			break
		}
	}
	if idx < 0 {
		c.sections = append(c.sections, Section{Title: section, Rows: []Row{}})
		idx = len(c.sections) - 1
	}
	c.sections[idx].Rows = append(c.sections[idx].Rows, Row{ID: id, Title: label})
	return nil
}

// Build validates the draft and returns a payload that shares no state with it.
func (c *Composer) Build() (*Payload, error) {
	if c.to == "" {
		return nil, fmt.Errorf("%w: recipient is not set", ErrIncompleteMessage)
	}
	if c.primary == "" {
		return nil, fmt.Errorf("%w: message type is not set", ErrIncompleteMessage)
	}
	if !c.bodySet {
		return nil, fmt.Errorf("%w: body is not set", ErrIncompleteMessage)
	}

	p := &Payload{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               c.to,
		Type:             c.primary,
	}

	if c.primary == PrimaryText {
		p.Text = &Text{Body: c.body}
		return p, nil
	}

	in := &Interactive{
		Type: c.secondary,
		Body: Body{Text: c.body},
	}
	if c.header != "" {
		in.Header = &Header{Type: "text", Text: c.header}
	}

	switch c.secondary {
	case SecondaryButton:
		in.Action = ButtonAction{Buttons: append([]Button{}, c.buttons...)}
	case SecondaryList:
		sections := make([]Section, len(c.sections))
		for i, s := range c.sections {
			sections[i] = Section{Title: s.Title, Rows: append([]Row{}, s.Rows...)}
		}
		in.Action = ListAction{Button: c.buttonTitle, Sections: sections}
	default:
		return nil, fmt.Errorf("%w: interactive messages need a button or list type", ErrIncompleteMessage)
	}

	p.Interactive = in
	return p, nil
}

func (c *Composer) rowCount() int {
	n := 0
	for _, s := range c.sections {
		n += len(s.Rows)
	}
	return n
}

// choiceID derives a choice id from its label: "Ver Stock" -> "ver-stock-id".
func choiceID(label string) string {
	return strings.ReplaceAll(strings.ToLower(label), " ", "-") + "-id"
}
