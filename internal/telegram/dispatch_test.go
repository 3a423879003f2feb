package telegram

import (
	"context"
	"sync"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/pulsefolio/loopgate/internal/models"
	"github.com/pulsefolio/loopgate/internal/tracker"
)

// fakeResponder records outbound calls for assertions.
type fakeResponder struct {
	mu        sync.Mutex
	texts     []string
	menus     []string
	callbacks []string
}

func (f *fakeResponder) SendText(chatID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return nil
}

func (f *fakeResponder) SendMenu(chatID int64, text string, kb tgbotapi.InlineKeyboardMarkup) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.menus = append(f.menus, text)
	return nil
}

func (f *fakeResponder) AnswerCallback(callbackID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callbacks = append(f.callbacks, callbackID)
	return nil
}

func callback(id string, chatID int64, data string) *tgbotapi.CallbackQuery {
	return &tgbotapi.CallbackQuery{
		ID:      id,
		Data:    data,
		Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: chatID}},
	}
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *tracker.Tracker) {
	t.Helper()
	trk := tracker.New()
	t.Cleanup(trk.Shutdown)
	d := NewDispatcher(trk)
	return d, trk
}

func TestDispatchCallbackRoutesToHandler(t *testing.T) {
	d, _ := newTestDispatcher(t)
	r := &fakeResponder{}

	handled := ""
	err := d.RegisterHandler("menu_", func(ctx context.Context, r Responder, chatID int64, actionID, payload string) error {
		handled = actionID
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := d.DispatchCallback(context.Background(), r, callback("cb-1", 42, "menu_invest")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if handled != "menu_invest" {
		t.Errorf("handled action = %q, want menu_invest", handled)
	}
	if len(r.callbacks) != 1 {
		t.Errorf("callback answers = %d, want 1", len(r.callbacks))
	}
}

func TestDispatchCallbackLongestPrefixWins(t *testing.T) {
	d, _ := newTestDispatcher(t)
	r := &fakeResponder{}

	var hit string
	generic := func(name string) Handler {
		return func(ctx context.Context, r Responder, chatID int64, actionID, payload string) error {
			hit = name
			return nil
		}
	}
	if err := d.RegisterHandler("menu_", generic("short")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := d.RegisterHandler("menu_invest", generic("long")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := d.DispatchCallback(context.Background(), r, callback("cb-1", 42, "menu_invest")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hit != "long" {
		t.Errorf("handler = %q, want the longest prefix", hit)
	}
}

func TestDispatchCallbackSuppressedStillAcked(t *testing.T) {
	d, _ := newTestDispatcher(t)
	r := &fakeResponder{}

	calls := 0
	if err := d.RegisterHandler("menu_", func(ctx context.Context, r Responder, chatID int64, actionID, payload string) error {
		calls++
		return nil
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx := context.Background()
	// Double press: the second lands inside the default dedup window.
	if err := d.DispatchCallback(ctx, r, callback("cb-1", 42, "menu_invest")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := d.DispatchCallback(ctx, r, callback("cb-2", 42, "menu_invest")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if calls != 1 {
		t.Errorf("handler calls = %d, want 1 (second press suppressed)", calls)
	}
	if len(r.callbacks) != 2 {
		t.Errorf("callback answers = %d, want 2 (suppressed press still acked)", len(r.callbacks))
	}
}

func TestDispatchCallbackAliasRoutesCanonical(t *testing.T) {
	d, _ := newTestDispatcher(t)
	r := &fakeResponder{}

	var got string
	if err := d.RegisterHandler("profile_", func(ctx context.Context, r Responder, chatID int64, actionID, payload string) error {
		got = actionID
		return nil
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := d.DispatchCallback(context.Background(), r, callback("cb-1", 42, "account_profile_high-risk")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "profile_high-risk" {
		t.Errorf("action id = %q, want canonical profile_high-risk", got)
	}
}

func TestDispatchMessageCommand(t *testing.T) {
	d, _ := newTestDispatcher(t)
	r := &fakeResponder{}

	var got string
	if err := d.RegisterHandler("cmd_", func(ctx context.Context, r Responder, chatID int64, actionID, payload string) error {
		got = actionID
		return nil
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	msg := &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 7}, Text: "/status"}
	if err := d.DispatchMessage(context.Background(), r, msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "cmd_status" {
		t.Errorf("action id = %q, want cmd_status", got)
	}
}

func TestDispatchMessageFreeTextFallback(t *testing.T) {
	d, _ := newTestDispatcher(t)
	r := &fakeResponder{}

	fallbackCalled := false
	d.SetFallback(func(ctx context.Context, r Responder, chatID int64, actionID, payload string) error {
		fallbackCalled = true
		if actionID != tracker.FreeTextActionID {
			t.Errorf("action id = %q, want %q", actionID, tracker.FreeTextActionID)
		}
		return nil
	})

	msg := &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 7}, Text: "hello there"}
	if err := d.DispatchMessage(context.Background(), r, msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !fallbackCalled {
		t.Error("fallback handler was not called")
	}
}

func TestSessionIDDerivation(t *testing.T) {
	if got := SessionID(42); got != "chat-42" {
		t.Errorf("SessionID(42) = %q, want chat-42", got)
	}
	if got := SessionID(-100500); got != "chat--100500" {
		t.Errorf("SessionID(-100500) = %q", got)
	}
}

func TestKindForCallback(t *testing.T) {
	cases := map[string]models.EventKind{
		"menu_invest":    models.KindNavigation,
		"back_to_main":   models.KindNavigation,
		"amount_500":     models.KindAmountSelection,
		"confirm_invest": models.KindConfirmation,
		"cancel_invest":  models.KindConfirmation,
	}
	for data, want := range cases {
		if got := kindForCallback(data); got != want {
			t.Errorf("kindForCallback(%q) = %q, want %q", data, got, want)
		}
	}
}

func TestRegisterDefaultHandlers(t *testing.T) {
	d, _ := newTestDispatcher(t)
	if err := RegisterDefaultHandlers(d); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	r := &fakeResponder{}
	if err := d.DispatchCallback(context.Background(), r, callback("cb-1", 42, "menu_invest")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(r.menus) != 1 {
		t.Errorf("menus sent = %d, want 1", len(r.menus))
	}
}
