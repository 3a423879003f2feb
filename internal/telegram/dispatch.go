// Package telegram provides the Telegram transport and dispatch layer.
//
// This file implements the dispatcher: it derives a canonical session id,
// action id, and event kind from each inbound update, asks the tracker for a
// verdict, and routes allowed events to the registered handler.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/pulsefolio/loopgate/internal/models"
	"github.com/pulsefolio/loopgate/internal/tracker"
)

// Handler processes one allowed user action.
type Handler func(ctx context.Context, r Responder, chatID int64, actionID, payload string) error

// Responder is the outbound surface handlers use to reply.
type Responder interface {
	// SendText sends a plain text message to a chat.
	SendText(chatID int64, text string) error
	// SendMenu sends a message with an inline keyboard.
	SendMenu(chatID int64, text string, keyboard tgbotapi.InlineKeyboardMarkup) error
	// AnswerCallback acknowledges a callback query so the client spinner stops.
	AnswerCallback(callbackID string) error
}

// Dispatcher routes inbound updates through the tracker to prefix-registered
// handlers.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	prefixes []string // sorted by descending length so the first match wins

	tracker *tracker.Tracker

	// fallback handles allowed events with no registered handler.
	fallback Handler
}

// NewDispatcher creates a dispatcher gated by the given tracker.
func NewDispatcher(t *tracker.Tracker) *Dispatcher {
	return &Dispatcher{
		handlers: make(map[string]Handler),
		tracker:  t,
	}
}

// RegisterHandler registers a handler for an action-id prefix. The longest
// matching prefix wins at dispatch time.
func (d *Dispatcher) RegisterHandler(prefix string, h Handler) error {
	if prefix == "" {
		return fmt.Errorf("handler prefix cannot be empty")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.handlers[prefix]; exists {
		return fmt.Errorf("handler already registered for prefix %s", prefix)
	}
	d.handlers[prefix] = h
	d.prefixes = append(d.prefixes, prefix)
	sort.Slice(d.prefixes, func(i, j int) bool {
		return len(d.prefixes[i]) > len(d.prefixes[j])
	})
	slog.Debug("Dispatcher handler registered", "prefix", prefix)
	return nil
}

// SetFallback sets the handler for allowed events with no registered prefix.
func (d *Dispatcher) SetFallback(h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fallback = h
}

// DispatchCallback processes one callback query (button press).
func (d *Dispatcher) DispatchCallback(ctx context.Context, r Responder, cb *tgbotapi.CallbackQuery) error {
	if cb.Message == nil || cb.Message.Chat == nil {
		slog.Warn("Dispatcher callback without chat, ignoring", "callbackID", cb.ID)
		return nil
	}
	chatID := cb.Message.Chat.ID
	sessionID := SessionID(chatID)
	kind := kindForCallback(cb.Data)

	verdict := d.tracker.Handle(ctx, sessionID, cb.Data, cb.Data, kind, time.Now())

	// Always acknowledge: a suppressed press must still stop the client
	// spinner, the user just sees nothing happen.
	if err := r.AnswerCallback(cb.ID); err != nil {
		slog.Error("Dispatcher callback answer failed", "error", err, "callbackID", cb.ID)
	}

	if !verdict.Allowed() {
		slog.Debug("Dispatcher dropped callback", "sessionID", sessionID, "action", cb.Data, "reason", verdict.Reason)
		return nil
	}

	actionID, err := tracker.CanonicalActionID(cb.Data, kind)
	if err != nil {
		// Normalization failed open inside the tracker; route the raw action.
		actionID = strings.ToLower(strings.TrimSpace(cb.Data))
	}
	return d.route(ctx, r, chatID, actionID, cb.Data)
}

// DispatchMessage processes one typed message or command.
func (d *Dispatcher) DispatchMessage(ctx context.Context, r Responder, msg *tgbotapi.Message) error {
	if msg.Chat == nil {
		return nil
	}
	chatID := msg.Chat.ID
	sessionID := SessionID(chatID)

	verdict := d.tracker.Handle(ctx, sessionID, msg.Text, msg.Text, models.KindFreeText, time.Now())
	if !verdict.Allowed() {
		slog.Debug("Dispatcher dropped message", "sessionID", sessionID, "reason", verdict.Reason)
		return nil
	}

	actionID, err := tracker.CanonicalActionID(msg.Text, models.KindFreeText)
	if err != nil {
		actionID = tracker.FreeTextActionID
	}
	return d.route(ctx, r, chatID, actionID, msg.Text)
}

// route finds the longest-prefix handler for an action id and invokes it.
func (d *Dispatcher) route(ctx context.Context, r Responder, chatID int64, actionID, payload string) error {
	d.mu.RLock()
	var h Handler
	for _, prefix := range d.prefixes {
		if strings.HasPrefix(actionID, prefix) {
			h = d.handlers[prefix]
			break
		}
	}
	if h == nil {
		h = d.fallback
	}
	d.mu.RUnlock()

	if h == nil {
		slog.Debug("Dispatcher no handler for action", "actionID", actionID)
		return nil
	}
	if err := h(ctx, r, chatID, actionID, payload); err != nil {
		slog.Error("Dispatcher handler failed", "error", err, "actionID", actionID, "chatID", chatID)
		return fmt.Errorf("handler for %s failed: %w", actionID, err)
	}
	return nil
}

// SessionID derives the tracker session id from a Telegram chat id.
func SessionID(chatID int64) string {
	return fmt.Sprintf("chat-%d", chatID)
}

// kindForCallback classifies callback data into an event kind by namespace.
func kindForCallback(data string) models.EventKind {
	action := strings.ToLower(strings.TrimSpace(data))
	switch {
	case strings.HasPrefix(action, "amount_"):
		return models.KindAmountSelection
	case strings.HasPrefix(action, "confirm_"), strings.HasPrefix(action, "cancel_"):
		return models.KindConfirmation
	default:
		return models.KindNavigation
	}
}
