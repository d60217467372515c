package service

import (
	"log/slog"
	"strconv"

	"github.com/efreitasn/minibourse/internal/domain"
	"github.com/efreitasn/minibourse/internal/engine"
	"github.com/efreitasn/minibourse/internal/journal"
	"github.com/efreitasn/minibourse/internal/session"
	"github.com/efreitasn/minibourse/internal/undo"
)

// Notifier fans engine and session events out to webhook subscribers, any
// number of projections such as the market-data feed, and the audit
// journal.
type Notifier struct {
	webhooks    *WebhookService
	auditor     undo.Auditor
	engineSinks []engine.Notifier
	sessSinks   []session.Observer
}

// NewNotifier creates a Notifier. webhooks and auditor may be nil.
func NewNotifier(webhooks *WebhookService, auditor undo.Auditor) *Notifier {
	return &Notifier{webhooks: webhooks, auditor: auditor}
}

// AddEngineSink forwards engine events to sink.
func (n *Notifier) AddEngineSink(sink engine.Notifier) {
	n.engineSinks = append(n.engineSinks, sink)
}

// AddSessionSink forwards session changes to sink.
func (n *Notifier) AddSessionSink(sink session.Observer) {
	n.sessSinks = append(n.sessSinks, sink)
}

// TradeExecuted notifies both sides of a fill.
func (n *Notifier) TradeExecuted(trade *domain.Trade, buy, sell *domain.Order) {
	if n.webhooks != nil {
		n.webhooks.DispatchTradeExecuted(trade, buy)
		n.webhooks.DispatchTradeExecuted(trade, sell)
	}
	for _, s := range n.engineSinks {
		s.TradeExecuted(trade, buy, sell)
	}
}

// OrderCancelled notifies the owner of a cancelled or expired order.
func (n *Notifier) OrderCancelled(order *domain.Order) {
	if n.webhooks != nil {
		n.webhooks.DispatchOrderCancelled(order)
	}
	for _, s := range n.engineSinks {
		s.OrderCancelled(order)
	}
}

func (n *Notifier) PriceUpdated(record domain.PriceRecord) {
	for _, s := range n.engineSinks {
		s.PriceUpdated(record)
	}
}

func (n *Notifier) BookUpdated(code string) {
	for _, s := range n.engineSinks {
		s.BookUpdated(code)
	}
}

// SessionChanged journals the change and notifies subscribers of phase
// changes.
func (n *Notifier) SessionChanged(prev, next domain.SessionState) {
	phaseChanged := prev.Phase != next.Phase
	if n.auditor != nil {
		e := journal.Entry{
			Type:  journal.TypeModeChanged,
			Actor: "session",
			Detail: map[string]string{
				"mode": string(next.Mode),
			},
		}
		if phaseChanged {
			e.Type = journal.TypePhaseChanged
			e.At = next.EnteredAt
			e.Detail["from"] = string(prev.Phase)
			e.Detail["to"] = string(next.Phase)
			e.Detail["day"] = strconv.Itoa(next.Day)
		}
		if _, err := n.auditor.Append(e); err != nil {
			slog.Error("failed to journal session change", "error", err)
		}
	}
	if phaseChanged && n.webhooks != nil {
		n.webhooks.DispatchPhaseChanged(prev, next)
	}
	for _, s := range n.sessSinks {
		s.SessionChanged(prev, next)
	}
}
