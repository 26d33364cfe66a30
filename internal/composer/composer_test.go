// ABOUTME: Tests for the outbound message composer
// ABOUTME: Covers type rules, choice id synthesis, Build validation and JSON shapes

package composer

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComposer_TextMessage(t *testing.T) {
	c := New("5491100000000")
	require.NoError(t, c.SetType(PrimaryText, SecondaryNone))
	require.NoError(t, c.SetBody("hola"))

	p, err := c.Build()
	require.NoError(t, err)

	assert.Equal(t, "whatsapp", p.MessagingProduct)
	assert.Equal(t, "individual", p.RecipientType)
	assert.Equal(t, "5491100000000", p.To)
	assert.Equal(t, PrimaryText, p.Type)
	require.NotNil(t, p.Text)
	assert.Equal(t, "hola", p.Text.Body)
	assert.Nil(t, p.Interactive)
	assert.Equal(t, KindText, p.Kind())
}

func TestComposer_TextRejectsSecondaryType(t *testing.T) {
	c := New("123")
	err := c.SetType(PrimaryText, SecondaryButton)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestComposer_UnknownPrimaryType(t *testing.T) {
	c := New("123")
	err := c.SetType(Primary("audio"), SecondaryNone)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestComposer_TextThenReplyButtonFails(t *testing.T) {
	c := New("123")
	require.NoError(t, c.SetType(PrimaryText, SecondaryNone))
	require.NoError(t, c.SetBody("hola"))

	err := c.AddReplyButton("Ver stock", "")
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestComposer_TextRejectsHeader(t *testing.T) {
	c := New("123")
	require.NoError(t, c.SetType(PrimaryText, SecondaryNone))

	err := c.SetHeader("Pescara Auto")
	require.ErrorIs(t, err, ErrInvalidState)
	assert.Contains(t, err.Error(), "text messages don't allow a header")
}

func TestComposer_MutatorsRequireType(t *testing.T) {
	c := New("123")

	assert.ErrorIs(t, c.SetBody("hola"), ErrInvalidState)
	assert.ErrorIs(t, c.SetHeader("header"), ErrInvalidState)
	assert.ErrorIs(t, c.AddReplyButton("a", ""), ErrInvalidState)
	assert.ErrorIs(t, c.AddListRow("a", "", ""), ErrInvalidState)
	assert.ErrorIs(t, c.SetButtonTitle("Ver"), ErrInvalidState)
}

func TestComposer_ButtonMethodsOnList(t *testing.T) {
	c := New("123")
	require.NoError(t, c.SetType(PrimaryInteractive, SecondaryList))
	assert.ErrorIs(t, c.AddReplyButton("a", ""), ErrInvalidState)

	require.NoError(t, c.SetType(PrimaryInteractive, SecondaryButton))
	assert.ErrorIs(t, c.AddListRow("a", "", ""), ErrInvalidState)
	assert.ErrorIs(t, c.SetButtonTitle("Ver"), ErrInvalidState)
}

func TestComposer_InteractiveWithoutSecondaryIsIncomplete(t *testing.T) {
	c := New("123")
	require.NoError(t, c.SetType(PrimaryInteractive, SecondaryNone))
	require.NoError(t, c.SetBody("hola"))
	assert.ErrorIs(t, c.AddReplyButton("a", ""), ErrInvalidState)

	_, err := c.Build()
	assert.ErrorIs(t, err, ErrIncompleteMessage)
}

func TestComposer_BuildRequiresTypeAndBody(t *testing.T) {
	_, err := New("123").Build()
	assert.ErrorIs(t, err, ErrIncompleteMessage)

	c := New("123")
	require.NoError(t, c.SetType(PrimaryInteractive, SecondaryButton))
	require.NoError(t, c.AddReplyButton("Si", ""))
	_, err = c.Build()
	assert.ErrorIs(t, err, ErrIncompleteMessage)

	c = New("")
	require.NoError(t, c.SetType(PrimaryText, SecondaryNone))
	require.NoError(t, c.SetBody("hola"))
	_, err = c.Build()
	assert.ErrorIs(t, err, ErrIncompleteMessage)
}

func TestComposer_SetTypeDiscardsDraft(t *testing.T) {
	c := New("123")
	require.NoError(t, c.SetType(PrimaryInteractive, SecondaryButton))
	require.NoError(t, c.SetBody("elegi"))
	require.NoError(t, c.SetHeader("Pescara Auto"))
	require.NoError(t, c.AddReplyButton("Si", ""))

	require.NoError(t, c.SetType(PrimaryText, SecondaryNone))
	_, err := c.Build()
	require.ErrorIs(t, err, ErrIncompleteMessage, "body must not survive a type change")

	require.NoError(t, c.SetBody("hola"))
	p, err := c.Build()
	require.NoError(t, err)
	assert.Nil(t, p.Interactive)
	assert.Equal(t, "123", p.To)
}

func TestComposer_ReplyButtons(t *testing.T) {
	c := New("123")
	require.NoError(t, c.SetType(PrimaryInteractive, SecondaryButton))
	require.NoError(t, c.SetBody("Elegí"))
	require.NoError(t, c.SetHeader("Pescara Auto"))
	require.NoError(t, c.AddReplyButton("Ver Stock", ""))
	require.NoError(t, c.AddReplyButton("Hablar", "agent"))

	p, err := c.Build()
	require.NoError(t, err)
	require.NotNil(t, p.Interactive)
	assert.Equal(t, KindButton, p.Kind())
	assert.Equal(t, SecondaryButton, p.Interactive.Type)
	require.NotNil(t, p.Interactive.Header)
	assert.Equal(t, "Pescara Auto", p.Interactive.Header.Text)

	action, ok := p.Interactive.Action.(ButtonAction)
	require.True(t, ok)
	require.Len(t, action.Buttons, 2)
	assert.Equal(t, Reply{ID: "ver-stock-id", Title: "Ver Stock"}, action.Buttons[0].Reply)
	assert.Equal(t, "reply", action.Buttons[0].Type)
	assert.Equal(t, Reply{ID: "agent", Title: "Hablar"}, action.Buttons[1].Reply)
}

func TestComposer_ZeroButtonsIsValid(t *testing.T) {
	c := New("123")
	require.NoError(t, c.SetType(PrimaryInteractive, SecondaryButton))
	require.NoError(t, c.SetBody("hola"))

	p, err := c.Build()
	require.NoError(t, err)
	action := p.Interactive.Action.(ButtonAction)
	assert.Empty(t, action.Buttons)
	assert.Nil(t, p.Interactive.Header)
}

func TestComposer_ReplyButtonLimit(t *testing.T) {
	c := New("123")
	require.NoError(t, c.SetType(PrimaryInteractive, SecondaryButton))
	for i, label := range []string{"a", "b", "c"} {
		require.NoError(t, c.AddReplyButton(label, ""), "button %d", i)
	}
	assert.ErrorIs(t, c.AddReplyButton("d", ""), ErrInvalidState)
	assert.ErrorIs(t, c.AddReplyButton("", ""), ErrInvalidState)
}

func TestComposer_ListRowsCreateSectionsLazily(t *testing.T) {
	c := New("123")
	require.NoError(t, c.SetType(PrimaryInteractive, SecondaryList))
	require.NoError(t, c.SetBody("Repuestos"))
	require.NoError(t, c.SetButtonTitle("Ver opciones"))
	require.NoError(t, c.AddListRow("Filtro de aceite", "", ""))
	require.NoError(t, c.AddListRow("Bujias", "", "plugs"))
	require.NoError(t, c.AddListRow("Frenos", "Seguridad", ""))

	p, err := c.Build()
	require.NoError(t, err)
	assert.Equal(t, KindList, p.Kind())

	action, ok := p.Interactive.Action.(ListAction)
	require.True(t, ok)
	assert.Equal(t, "Ver opciones", action.Button)
	require.Len(t, action.Sections, 2)
	assert.Equal(t, "", action.Sections[0].Title)
	assert.Equal(t, []Row{
		{ID: "filtro-de-aceite-id", Title: "Filtro de aceite"},
		{ID: "plugs", Title: "Bujias"},
	}, action.Sections[0].Rows)
	assert.Equal(t, "Seguridad", action.Sections[1].Title)
	assert.Equal(t, []Row{{ID: "frenos-id", Title: "Frenos"}}, action.Sections[1].Rows)
}

func TestComposer_EmptyListIsValid(t *testing.T) {
	c := New("123")
	require.NoError(t, c.SetType(PrimaryInteractive, SecondaryList))
	require.NoError(t, c.SetBody("Sin opciones"))

	p, err := c.Build()
	require.NoError(t, err)
	action := p.Interactive.Action.(ListAction)
	assert.Empty(t, action.Sections)
}

func TestComposer_PayloadIsIndependentOfDraft(t *testing.T) {
	c := New("123")
	require.NoError(t, c.SetType(PrimaryInteractive, SecondaryButton))
	require.NoError(t, c.SetBody("hola"))
	require.NoError(t, c.AddReplyButton("a", ""))

	p, err := c.Build()
	require.NoError(t, err)
	require.NoError(t, c.AddReplyButton("b", ""))

	assert.Len(t, p.Interactive.Action.(ButtonAction).Buttons, 1)
}

func TestPayload_JSONShape(t *testing.T) {
	c := New("5491100000000")
	require.NoError(t, c.SetType(PrimaryInteractive, SecondaryList))
	require.NoError(t, c.SetBody("Elegí"))
	require.NoError(t, c.SetButtonTitle("Opciones"))
	require.NoError(t, c.AddListRow("Ayuda", "Menu", ""))

	p, err := c.Build()
	require.NoError(t, err)

	data, err := json.Marshal(p)
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"messaging_product": "whatsapp",
		"recipient_type": "individual",
		"to": "5491100000000",
		"type": "interactive",
		"interactive": {
			"type": "list",
			"body": {"text": "Elegí"},
			"action": {
				"button": "Opciones",
				"sections": [{"title": "Menu", "rows": [{"id": "ayuda-id", "title": "Ayuda"}]}]
			}
		}
	}`, string(data))
}

func TestParseKind(t *testing.T) {
	tests := []struct {
		name      string
		want      Kind
		primary   Primary
		secondary Secondary
	}{
		{"text", KindText, PrimaryText, SecondaryNone},
		{"button", KindButton, PrimaryInteractive, SecondaryButton},
		{"list", KindList, PrimaryInteractive, SecondaryList},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k, err := ParseKind(tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.want, k)
			p, s := k.Types()
			assert.Equal(t, tt.primary, p)
			assert.Equal(t, tt.secondary, s)
		})
	}

	_, err := ParseKind("carousel")
	assert.ErrorIs(t, err, ErrUnrecognizedKind)
}
