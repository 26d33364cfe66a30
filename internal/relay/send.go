// ABOUTME: Outbound send flow shared by the message API and session replies
// ABOUTME: Compose, send, store the payload and audit it, once per recipient

package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/2389/switchboard/internal/composer"
	"github.com/2389/switchboard/internal/metrics"
	"github.com/2389/switchboard/internal/store"
)

// ErrNoRecipients is reported for send requests without recipients.
var ErrNoRecipients = errors.New("no recipients")

// Send delivers req to every recipient. A failure for one recipient does not
// stop the others.
func (p *Processor) Send(ctx context.Context, req *composer.Request) *Result {
	res := newResult()

	if _, err := composer.ParseKind(req.Type); err != nil {
		res.addErr(err)
		return res
	}
	if len(req.To) == 0 {
		res.addErr(ErrNoRecipients)
		return res
	}

	for _, recipient := range req.To {
		p.deliver(ctx, req, recipient, res)
	}
	return res
}

func (p *Processor) deliver(ctx context.Context, req *composer.Request, recipient string, res *Result) {
	logger := p.logger.With("to", recipient, "type", req.Type, "system_id", req.SystemID)

	payload, err := composer.Compose(req, recipient, p.defaults)
	if err != nil {
		p.metrics.OutboundMessage(req.Type, metrics.OutcomeError)
		res.addErr(fmt.Errorf("composing message for %s: %w", recipient, err))
		return
	}

	resp, err := p.sender.Send(ctx, payload)
	if err != nil {
		logger.Warn("send failed", "error", err)
		p.metrics.OutboundMessage(req.Type, metrics.OutcomeError)
		res.addErr(fmt.Errorf("sending message to %s: %w", recipient, err))
		return
	}
	p.metrics.OutboundMessage(req.Type, metrics.OutcomeOK)

	messageID := resp.MessageID()
	res.addRef(SystemWhatsApp, messageID)

	registerID := store.EventKey(store.NamespaceOutgoing, recipient, messageID)
	body, err := json.Marshal(payload)
	if err != nil {
		res.addErr(fmt.Errorf("encoding sent payload: %w", err))
	} else if key, err := p.store.StoreEvent(ctx, store.NamespaceOutgoing, recipient, messageID, body); err != nil {
		res.addErr(err)
	} else {
		res.addRef(p.store.System(), key)
	}

	p.appendActivity(ctx, &store.ActivityRecord{
		Timestamp:   p.now(),
		PhoneNumber: recipient,
		Origin:      store.OriginOutgoing,
		RegisterID:  registerID,
	}, res)

	logger.Debug("message delivered", "message_id", messageID)
}
