// Package telegram provides the Telegram transport and dispatch layer.
//
// This file implements the bot service: long polling, outbound sends, and
// callback acknowledgement.
package telegram

import (
	"context"
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// DefaultUpdateTimeout is the long-polling timeout in seconds.
const DefaultUpdateTimeout = 30

// Opts holds configuration options for the Telegram service.
type Opts struct {
	Token         string
	Debug         bool
	UpdateTimeout int
}

// Option defines a configuration option for the Telegram service.
type Option func(*Opts)

// WithToken sets the bot token.
func WithToken(token string) Option {
	return func(o *Opts) { o.Token = token }
}

// WithDebug enables the bot API's debug logging.
func WithDebug(debug bool) Option {
	return func(o *Opts) { o.Debug = debug }
}

// WithUpdateTimeout sets the long-polling timeout in seconds.
func WithUpdateTimeout(seconds int) Option {
	return func(o *Opts) { o.UpdateTimeout = seconds }
}

// Service wraps the Telegram bot API and feeds inbound updates through a
// dispatcher.
type Service struct {
	bot        *tgbotapi.BotAPI
	dispatcher *Dispatcher
	timeout    int
}

// Compile-time check that Service implements Responder.
var _ Responder = (*Service)(nil)

// NewService creates a Telegram service based on provided options.
func NewService(dispatcher *Dispatcher, opts ...Option) (*Service, error) {
	cfg := Opts{UpdateTimeout: DefaultUpdateTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Token == "" {
		slog.Error("Telegram bot token not set")
		return nil, fmt.Errorf("telegram bot token not set")
	}

	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		slog.Error("Failed to create Telegram bot", "error", err)
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	bot.Debug = cfg.Debug
	slog.Info("Telegram bot authorized", "username", bot.Self.UserName)

	return &Service{bot: bot, dispatcher: dispatcher, timeout: cfg.UpdateTimeout}, nil
}

// Run polls for updates until the context is cancelled. Updates are processed
// in arrival order on a single loop, so per-session ordering is structural:
// what the user did first gets to win the dedup race.
func (s *Service) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = s.timeout
	updates := s.bot.GetUpdatesChan(u)
	slog.Info("Telegram service polling for updates", "timeout", s.timeout)

	for {
		select {
		case <-ctx.Done():
			s.bot.StopReceivingUpdates()
			slog.Info("Telegram service stopped")
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				slog.Info("Telegram update channel closed")
				return nil
			}
			s.handleUpdate(ctx, update)
		}
	}
}

func (s *Service) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.CallbackQuery != nil:
		if err := s.dispatcher.DispatchCallback(ctx, s, update.CallbackQuery); err != nil {
			slog.Error("Telegram callback dispatch failed", "error", err)
		}
	case update.Message != nil && update.Message.Text != "":
		if err := s.dispatcher.DispatchMessage(ctx, s, update.Message); err != nil {
			slog.Error("Telegram message dispatch failed", "error", err)
		}
	default:
		slog.Debug("Telegram update ignored", "updateID", update.UpdateID)
	}
}

// SendText sends a plain text message to a chat.
func (s *Service) SendText(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := s.bot.Send(msg); err != nil {
		return fmt.Errorf("send message to %d: %w", chatID, err)
	}
	return nil
}

// SendMenu sends a message with an inline keyboard.
func (s *Service) SendMenu(chatID int64, text string, keyboard tgbotapi.InlineKeyboardMarkup) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = keyboard
	if _, err := s.bot.Send(msg); err != nil {
		return fmt.Errorf("send menu to %d: %w", chatID, err)
	}
	return nil
}

// AnswerCallback acknowledges a callback query with no visible notification.
func (s *Service) AnswerCallback(callbackID string) error {
	cb := tgbotapi.NewCallback(callbackID, "")
	if _, err := s.bot.Request(cb); err != nil {
		return fmt.Errorf("answer callback %s: %w", callbackID, err)
	}
	return nil
}
