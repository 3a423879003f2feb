// Package telegram provides the Telegram transport and dispatch layer.
//
// This file registers the button-driven menu handlers. They are deliberately
// thin: product copy and investment logic live elsewhere, these only prove
// the dispatch contract end to end.
package telegram

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// mainMenuKeyboard is the top-level menu.
func mainMenuKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Invest", "menu_invest"),
			tgbotapi.NewInlineKeyboardButtonData("Explore", "menu_explore"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Account", "menu_account"),
		),
	)
}

// profileKeyboard lists the risk profiles.
func profileKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Conservative", "profile_low-risk"),
			tgbotapi.NewInlineKeyboardButtonData("Balanced", "profile_mid-risk"),
			tgbotapi.NewInlineKeyboardButtonData("Aggressive", "profile_high-risk"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Back", "back_to_main"),
		),
	)
}

// amountKeyboard lists preset investment amounts.
func amountKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("$100", "amount_100"),
			tgbotapi.NewInlineKeyboardButtonData("$500", "amount_500"),
			tgbotapi.NewInlineKeyboardButtonData("$1000", "amount_1000"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Back", "back_to_main"),
		),
	)
}

// confirmKeyboard asks for final confirmation.
func confirmKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Confirm", "confirm_invest"),
			tgbotapi.NewInlineKeyboardButtonData("Cancel", "cancel_invest"),
		),
	)
}

// RegisterDefaultHandlers wires the standard menu handlers into a dispatcher.
func RegisterDefaultHandlers(d *Dispatcher) error {
	handlers := map[string]Handler{
		"menu_invest": func(ctx context.Context, r Responder, chatID int64, actionID, payload string) error {
			return r.SendMenu(chatID, "Choose a risk profile:", profileKeyboard())
		},
		"menu_explore": func(ctx context.Context, r Responder, chatID int64, actionID, payload string) error {
			return r.SendMenu(chatID, "Explore pools and strategies:", mainMenuKeyboard())
		},
		"menu_account": func(ctx context.Context, r Responder, chatID int64, actionID, payload string) error {
			return r.SendText(chatID, "Your account overview is being prepared.")
		},
		"back_": func(ctx context.Context, r Responder, chatID int64, actionID, payload string) error {
			return r.SendMenu(chatID, "Main menu:", mainMenuKeyboard())
		},
		"profile_": func(ctx context.Context, r Responder, chatID int64, actionID, payload string) error {
			profile := strings.TrimPrefix(actionID, "profile_")
			return r.SendMenu(chatID, fmt.Sprintf("Profile %s selected. Pick an amount:", profile), amountKeyboard())
		},
		"amount_": func(ctx context.Context, r Responder, chatID int64, actionID, payload string) error {
			amount := strings.TrimPrefix(actionID, "amount_")
			return r.SendMenu(chatID, fmt.Sprintf("Invest $%s?", amount), confirmKeyboard())
		},
		"confirm_": func(ctx context.Context, r Responder, chatID int64, actionID, payload string) error {
			return r.SendText(chatID, "Confirmed. You will be notified when the position opens.")
		},
		"cancel_": func(ctx context.Context, r Responder, chatID int64, actionID, payload string) error {
			return r.SendMenu(chatID, "Cancelled. Main menu:", mainMenuKeyboard())
		},
		"cmd_start": func(ctx context.Context, r Responder, chatID int64, actionID, payload string) error {
			return r.SendMenu(chatID, "Welcome! What would you like to do?", mainMenuKeyboard())
		},
		"cmd_status": func(ctx context.Context, r Responder, chatID int64, actionID, payload string) error {
			return r.SendText(chatID, "All systems operational.")
		},
	}
	for prefix, h := range handlers {
		if err := d.RegisterHandler(prefix, h); err != nil {
			return err
		}
	}
	d.SetFallback(func(ctx context.Context, r Responder, chatID int64, actionID, payload string) error {
		return r.SendMenu(chatID, "I didn't catch that. Main menu:", mainMenuKeyboard())
	})
	return nil
}
