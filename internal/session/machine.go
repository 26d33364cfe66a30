// ABOUTME: Session state machine for menu selection and routed conversations
// ABOUTME: Decide turns one inbound message into transitions, replies and publishes

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/2389/switchboard/internal/store"
	"github.com/2389/switchboard/internal/whatsapp"
)

// Modes with fixed meaning. Any other mode is a routed option.
const (
	ModeNew       = 100
	ModeSelecting = 0
)

// ExitCommand leaves a routed conversation and shows the menu again.
const ExitCommand = "salir"

// DefaultExpiry is how long a session survives without inbound messages.
const DefaultExpiry = 6 * time.Hour

// User-facing texts.
const (
	DefaultMenu = "Opciones disponibles:\n 1. Busqueda respuesto.\n 2. Ayuda."

	InvalidOptionText = "La opcion ingresada no es valida, debe ingresar solamente el numero de la opcion a seleccionar, intente nuevamente."
	NotAvailableText  = "El modo seleccionado no se encuentra entre las opciones disponibles, selecciona un modo listado."
	confirmationText  = "Ha seleccionado la opcion %d, si desea seleccionar otra opcion escriba 'salir' en el chat."

	nonTextError = "Message type has to be a text message, with only the number of the mode to be selected."
)

// ErrValidation matches every ValidationError.
var ErrValidation = errors.New("validation error")

// ValidationError reports user input that does not fit what the session
// expects. Its message is the text shown to the user.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// Is makes errors.Is(err, ErrValidation) true.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// ConfirmationText is the reply sent after a successful menu selection.
func ConfirmationText(option int) string {
	return fmt.Sprintf(confirmationText, option)
}

// Routes looks up the destination systems of a mode.
type Routes interface {
	GetDestinations(ctx context.Context, mode int) ([]string, error)
}

// Session is the persisted conversation state of one user.
type Session struct {
	User           string
	Mode           int
	LastMessageRef string
}

// Input is everything Decide looks at for one inbound message.
type Input struct {
	Session Session
	Message whatsapp.Message

	// LastEventAt is when the message named by Session.LastMessageRef was
	// sent. Zero when unknown.
	LastEventAt time.Time
	Now         time.Time
}

// ActionKind says what an Action asks the caller to do.
type ActionKind int

const (
	// ActionReply sends Text to the user.
	ActionReply ActionKind = iota
	// ActionPublish sends a routing notification to Destinations.
	ActionPublish
)

func (k ActionKind) String() string {
	switch k {
	case ActionReply:
		return "reply"
	case ActionPublish:
		return "publish"
	default:
		return "unknown"
	}
}

// Action is one side effect decided for the inbound message.
type Action struct {
	Kind         ActionKind
	Text         string
	Origin       store.Origin
	Destinations []string
}

// Decision is the outcome of Decide.
type Decision struct {
	// Session holds the final mode.
	Session Session

	// Transitions lists every mode set, in order. Each must be persisted.
	Transitions []int

	Actions []Action

	// UpdateLastRef is false when the message must not become the
	// session's last message reference.
	UpdateLastRef bool

	Errors []error
}

// Destinations returns every system notified by the decision.
func (d *Decision) Destinations() []string {
	var out []string
	for _, a := range d.Actions {
		if a.Kind == ActionPublish {
			out = append(out, a.Destinations...)
		}
	}
	return out
}

func (d *Decision) setMode(mode int) {
	d.Session.Mode = mode
	d.Transitions = append(d.Transitions, mode)
}

func (d *Decision) reply(text string) {
	d.Actions = append(d.Actions, Action{Kind: ActionReply, Text: text})
}

func (d *Decision) publish(origin store.Origin, destinations []string) {
	d.Actions = append(d.Actions, Action{Kind: ActionPublish, Origin: origin, Destinations: destinations})
}

// Options configures a Machine.
type Options struct {
	Menu   string        // defaults to DefaultMenu
	Expiry time.Duration // defaults to DefaultExpiry
}

// Machine decides session transitions.
type Machine struct {
	routes Routes
	menu   string
	expiry time.Duration
	logger *slog.Logger
}

// NewMachine creates a machine reading destinations from routes.
func NewMachine(routes Routes, opts Options, logger *slog.Logger) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Menu == "" {
		opts.Menu = DefaultMenu
	}
	if opts.Expiry <= 0 {
		opts.Expiry = DefaultExpiry
	}
	return &Machine{
		routes: routes,
		menu:   opts.Menu,
		expiry: opts.Expiry,
		logger: logger.With("component", "session"),
	}
}

// Expired reports whether a session whose last message was sent at last has
// lapsed by now.
func (m *Machine) Expired(last, now time.Time) bool {
	return !last.IsZero() && now.Sub(last) > m.expiry
}

// Decide computes the transitions and actions for one inbound message.
func (m *Machine) Decide(ctx context.Context, in Input) Decision {
	d := Decision{Session: in.Session, UpdateLastRef: true}

	if in.Session.Mode != ModeNew && m.Expired(in.LastEventAt, in.Now) {
		m.logger.Debug("session expired",
			"user", in.Session.User,
			"mode", in.Session.Mode,
			"last_event_at", in.LastEventAt,
		)
		d.setMode(ModeNew)
	}

	switch d.Session.Mode {
	case ModeNew:
		m.showMenu(&d)
	case ModeSelecting:
		m.selectOption(ctx, &d, in.Message)
	default:
		m.routed(ctx, &d, in.Message)
	}
	return d
}

func (m *Machine) showMenu(d *Decision) {
	d.reply(m.menu)
	d.setMode(ModeSelecting)
}

func (m *Machine) selectOption(ctx context.Context, d *Decision, msg whatsapp.Message) {
	body, ok := msg.TextBody()
	if !ok {
		d.reply(InvalidOptionText)
		d.Errors = append(d.Errors, &ValidationError{Message: nonTextError})
		return
	}

	option, err := parseOption(body)
	if err != nil {
		d.reply(InvalidOptionText)
		d.Errors = append(d.Errors, &ValidationError{Message: InvalidOptionText})
		return
	}

	var destinations []string
	if option != ModeNew {
		destinations, err = m.routes.GetDestinations(ctx, option)
		if err != nil {
			d.Errors = append(d.Errors, fmt.Errorf("looking up destinations for option %d: %w", option, err))
			return
		}
	}
	if len(destinations) == 0 {
		d.reply(NotAvailableText)
		d.Errors = append(d.Errors, &ValidationError{Message: NotAvailableText})
		return
	}

	d.setMode(option)
	d.publish(store.OriginOutgoing, destinations)
	d.reply(ConfirmationText(option))
}

func (m *Machine) routed(ctx context.Context, d *Decision, msg whatsapp.Message) {
	if body, ok := msg.TextBody(); ok && strings.EqualFold(strings.TrimSpace(body), ExitCommand) {
		d.setMode(ModeNew)
		d.UpdateLastRef = false
		m.showMenu(d)
		return
	}

	destinations, err := m.routes.GetDestinations(ctx, d.Session.Mode)
	if err != nil {
		d.Errors = append(d.Errors, fmt.Errorf("looking up destinations for mode %d: %w", d.Session.Mode, err))
		return
	}
	if len(destinations) == 0 {
		// The option was removed from the routing table.
		m.logger.Warn("routed mode has no destinations, resetting session",
			"user", d.Session.User,
			"mode", d.Session.Mode,
		)
		d.setMode(ModeNew)
		m.showMenu(d)
		return
	}

	d.publish(store.OriginIncoming, destinations)
}

// parseOption parses a menu choice. Values outside 0..255 are rejected.
func parseOption(body string) (int, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(body), 10, 8)
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
