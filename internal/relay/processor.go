// ABOUTME: Webhook processor driving the session machine against the store
// ABOUTME: Executes replies and routing notifications, accumulating errors per action

package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/switchboard/internal/composer"
	"github.com/2389/switchboard/internal/dedupe"
	"github.com/2389/switchboard/internal/metrics"
	"github.com/2389/switchboard/internal/session"
	"github.com/2389/switchboard/internal/store"
	"github.com/2389/switchboard/internal/whatsapp"
)

// ErrNoUserMessage is reported for deliveries that carry only status callbacks.
var ErrNoUserMessage = errors.New("Not a user message")

// DefaultSystemID is the system id used for replies sent by the session machine.
const DefaultSystemID = "01"

// Sender delivers composed payloads to the provider.
type Sender interface {
	Send(ctx context.Context, payload *composer.Payload) (*whatsapp.SendResponse, error)
}

// Options configures a Processor.
type Options struct {
	SystemID string
	Defaults composer.Defaults
	Session  session.Options

	// SerializePerUser processes one message per user at a time.
	SerializePerUser bool

	// Dedupe skips provider message ids already processed. Optional.
	Dedupe *dedupe.Cache

	// Metrics is optional.
	Metrics *metrics.Metrics

	// Now defaults to time.Now.
	Now func() time.Time
}

// Processor handles inbound webhook events and outbound send requests.
type Processor struct {
	store    store.Store
	sender   Sender
	machine  *session.Machine
	systemID string
	defaults composer.Defaults
	dedupe   *dedupe.Cache
	metrics  *metrics.Metrics
	locks    *userLocks
	now      func() time.Time
	logger   *slog.Logger
}

// New creates a processor. Pass nil logger for default.
func New(st store.Store, sender Sender, opts Options, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.SystemID == "" {
		opts.SystemID = DefaultSystemID
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	p := &Processor{
		store:    st,
		sender:   sender,
		machine:  session.NewMachine(st, opts.Session, logger),
		systemID: opts.SystemID,
		defaults: opts.Defaults,
		dedupe:   opts.Dedupe,
		metrics:  opts.Metrics,
		now:      opts.Now,
		logger:   logger.With("component", "relay"),
	}
	if opts.SerializePerUser {
		p.locks = newUserLocks()
	}
	return p
}

// Process decodes and handles one raw webhook body.
func (p *Processor) Process(ctx context.Context, raw []byte) *Result {
	event, err := whatsapp.ParseEvent(raw)
	if err != nil {
		res := newResult()
		res.addErr(err)
		return res
	}
	return p.ProcessEvent(ctx, raw, event)
}

// ProcessEvent handles an already decoded webhook event. raw is stored
// verbatim for every user message it carries.
func (p *Processor) ProcessEvent(ctx context.Context, raw []byte, event *whatsapp.Event) *Result {
	res := newResult()

	messages := event.Messages()
	if len(messages) == 0 {
		p.metrics.WebhookMessage(metrics.OutcomeIgnored)
		res.addErr(ErrNoUserMessage)
		return res
	}

	for _, msg := range messages {
		p.processMessage(ctx, raw, msg, res)
	}
	return res
}

func (p *Processor) processMessage(ctx context.Context, raw []byte, msg whatsapp.Message, res *Result) {
	user := msg.From
	logger := p.logger.With("user", user, "message_id", msg.ID)

	if p.dedupe != nil && p.dedupe.CheckAndMark(msg.ID) {
		logger.Info("skipping redelivered message")
		p.metrics.WebhookMessage(metrics.OutcomeDuplicate)
		return
	}
	if p.locks != nil {
		unlock := p.locks.lock(user)
		defer unlock()
	}

	errsBefore := len(res.Errors)
	defer func() {
		if len(res.Errors) > errsBefore {
			p.metrics.WebhookMessage(metrics.OutcomeError)
		} else {
			p.metrics.WebhookMessage(metrics.OutcomeOK)
		}
	}()

	registerID := store.EventKey(store.NamespaceIncoming, user, msg.ID)
	if key, err := p.store.StoreEvent(ctx, store.NamespaceIncoming, user, msg.ID, raw); err != nil {
		res.addErr(err)
		// A redelivery should get another chance to be stored.
		if p.dedupe != nil {
			p.dedupe.Forget(msg.ID)
		}
	} else {
		res.addRef(p.store.System(), key)
	}

	sess, ok := p.loadSession(ctx, user, res)
	if !ok {
		// Without a mode there is nothing to decide; still audit the message.
		p.appendIncoming(ctx, user, registerID, nil, res)
		return
	}

	decision := p.machine.Decide(ctx, session.Input{
		Session:     sess,
		Message:     msg,
		LastEventAt: p.lastEventTime(ctx, user, sess.LastMessageRef, res),
		Now:         p.now(),
	})
	logger.Info("session decided",
		"mode", sess.Mode,
		"next_mode", decision.Session.Mode,
		"actions", len(decision.Actions),
	)

	for _, mode := range decision.Transitions {
		if err := p.store.SetMode(ctx, user, mode); err != nil {
			res.addErr(err)
			continue
		}
		p.metrics.ModeTransition(mode)
	}

	for _, err := range decision.Errors {
		res.addErr(err)
	}

	var notified []string
	for _, action := range decision.Actions {
		switch action.Kind {
		case session.ActionReply:
			p.reply(ctx, user, action.Text, res)
		case session.ActionPublish:
			if p.publish(ctx, user, registerID, action, res) {
				notified = append(notified, action.Destinations...)
			}
		}
	}

	p.appendIncoming(ctx, user, registerID, notified, res)

	if decision.UpdateLastRef {
		if err := p.store.SetLastMessageRef(ctx, user, msg.ID); err != nil {
			res.addErr(err)
		}
	}
}

// loadSession reads the user's session, creating it in mode 100 on first
// contact. ok is false when the mode could not be read.
func (p *Processor) loadSession(ctx context.Context, user string, res *Result) (session.Session, bool) {
	sess := session.Session{User: user}

	mode, found, err := p.store.GetMode(ctx, user)
	if err != nil {
		res.addErr(err)
		return sess, false
	}
	if !found {
		mode = session.ModeNew
		if err := p.store.SetMode(ctx, user, mode); err != nil {
			res.addErr(err)
		}
	}
	sess.Mode = mode

	ref, _, err := p.store.GetLastMessageRef(ctx, user)
	if err != nil {
		res.addErr(err)
	}
	sess.LastMessageRef = ref
	return sess, true
}

// lastEventTime returns when the user's last stored message was sent, or
// zero when there is none or it cannot be read.
func (p *Processor) lastEventTime(ctx context.Context, user, ref string, res *Result) time.Time {
	if ref == "" {
		return time.Time{}
	}

	raw, err := p.store.GetStoredEvent(ctx, store.NamespaceIncoming, user, ref)
	if errors.Is(err, store.ErrNotFound) {
		return time.Time{}
	}
	if err != nil {
		res.addErr(err)
		return time.Time{}
	}

	event, err := whatsapp.ParseEvent(raw)
	if err != nil {
		p.logger.Warn("stored event is not decodable", "user", user, "ref", ref, "error", err)
		return time.Time{}
	}
	msg, ok := event.FindMessage(ref)
	if !ok {
		p.logger.Warn("stored event lacks its message", "user", user, "ref", ref)
		return time.Time{}
	}
	at, err := msg.SentAt()
	if err != nil {
		p.logger.Warn("stored message has no usable timestamp", "user", user, "ref", ref, "error", err)
		return time.Time{}
	}
	return at
}

func (p *Processor) reply(ctx context.Context, user, text string, res *Result) {
	p.deliver(ctx, &composer.Request{
		SystemID: p.systemID,
		To:       []string{user},
		Type:     string(composer.KindText),
		Content:  composer.Content{Body: text},
	}, user, res)
}

// publish sends one routing notification and reports whether it went out.
func (p *Processor) publish(ctx context.Context, user, registerID string, action session.Action, res *Result) bool {
	record := store.ActivityRecord{
		Timestamp:          p.now(),
		PhoneNumber:        user,
		Origin:             action.Origin,
		RegisterID:         registerID,
		DestinationSystems: action.Destinations,
	}
	payload, err := json.Marshal(record)
	if err != nil {
		res.addErr(fmt.Errorf("encoding notification: %w", err))
		return false
	}

	topic := store.NotificationTopic(user)
	if err := p.store.Publish(ctx, topic, payload); err != nil {
		res.addErr(err)
		return false
	}
	res.addRef(p.store.System(), topic)
	p.metrics.NotificationPublished(string(action.Origin))
	return true
}

func (p *Processor) appendIncoming(ctx context.Context, user, registerID string, notified []string, res *Result) {
	p.appendActivity(ctx, &store.ActivityRecord{
		Timestamp:          p.now(),
		PhoneNumber:        user,
		Origin:             store.OriginIncoming,
		RegisterID:         registerID,
		DestinationSystems: notified,
	}, res)
}

func (p *Processor) appendActivity(ctx context.Context, record *store.ActivityRecord, res *Result) {
	id, err := p.store.AppendActivity(ctx, record)
	if err != nil {
		res.addErr(err)
		return
	}
	res.addRef(p.store.System(), id)
}
