// ABOUTME: Outgoing message request accepted by the API and built by the relay
// ABOUTME: Compose applies a request to a fresh Composer for one recipient

package composer

// Request asks for one message of a given kind to be sent to each recipient.
type Request struct {
	SystemID string   `json:"system_id"`
	To       []string `json:"to"`
	Type     string   `json:"type"`
	Content  Content  `json:"content"`
}

// Content is the kind-independent message content.
// Title is the list button label; Section groups list rows.
type Content struct {
	Body    string   `json:"body"`
	Header  string   `json:"header,omitempty"`
	Title   string   `json:"title,omitempty"`
	Section string   `json:"section,omitempty"`
	Choices []string `json:"choices,omitempty"`
}

// Defaults fills content the request leaves empty.
type Defaults struct {
	// ButtonHeader is used for button messages without a header.
	ButtonHeader string

	// ListButton is used for list messages without a title.
	ListButton string
}

// Compose builds the payload of req for a single recipient.
func Compose(req *Request, recipient string, defaults Defaults) (*Payload, error) {
	kind, err := ParseKind(req.Type)
	if err != nil {
		return nil, err
	}

	c := New(recipient)
	if err := c.SetType(kind.Types()); err != nil {
		return nil, err
	}
	if req.Content.Body != "" {
		if err := c.SetBody(req.Content.Body); err != nil {
			return nil, err
		}
	}

	header := req.Content.Header
	if header == "" && kind == KindButton {
		header = defaults.ButtonHeader
	}
	if header != "" {
		if err := c.SetHeader(header); err != nil {
			return nil, err
		}
	}

	if kind == KindList {
		title := req.Content.Title
		if title == "" {
			title = defaults.ListButton
		}
		if err := c.SetButtonTitle(title); err != nil {
			return nil, err
		}
		for _, choice := range req.Content.Choices {
			if err := c.AddListRow(choice, req.Content.Section, ""); err != nil {
				return nil, err
			}
		}
		return c.Build()
	}

	for _, choice := range req.Content.Choices {
		if err := c.AddReplyButton(choice, ""); err != nil {
			return nil, err
		}
	}
	return c.Build()
}
