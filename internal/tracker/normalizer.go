// Package tracker implements the interaction dedup and navigation-pattern core.
//
// This file implements the event normalizer, which converts raw inbound
// actions into canonical InteractionEvents.
package tracker

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/pulsefolio/loopgate/internal/models"
)

// fingerprintLen is the number of hex characters kept from the payload hash.
const fingerprintLen = 16

// FreeTextActionID is the canonical action id assigned to plain typed text
// that is not a recognized command. Dedup for free text keys on the content
// fingerprint instead.
const FreeTextActionID = "text_message"

// actionNamespaces lists the canonical action-id prefixes per event kind.
// Callback actions must resolve into one of these; free text always resolves.
var actionNamespaces = map[models.EventKind][]string{
	models.KindNavigation:      {"menu_", "back_", "profile_", "cmd_"},
	models.KindAmountSelection: {"amount_"},
	models.KindConfirmation:    {"confirm_", "cancel_"},
}

// actionAliases collapses legacy callback namespaces onto their canonical
// form, so the same intent never reaches the tracker under two ids.
var actionAliases = map[string]string{
	"account_profile_": "profile_",
	"main_menu_":       "menu_",
	"menu_back_":       "back_",
}

// Normalize converts a raw inbound action into a canonical InteractionEvent.
// It is a pure function with no side effects. A returned error always wraps
// models.ErrInvalidEvent; the caller must fail open (allow, do not track).
func Normalize(sessionID, rawAction, rawPayload string, kind models.EventKind, observedAt time.Time) (models.InteractionEvent, error) {
	if strings.TrimSpace(sessionID) == "" {
		return models.InteractionEvent{}, fmt.Errorf("%w: %w", models.ErrInvalidEvent, models.ErrEmptySessionID)
	}
	if !models.IsValidEventKind(kind) {
		return models.InteractionEvent{}, fmt.Errorf("%w: %w: %q", models.ErrInvalidEvent, models.ErrInvalidEventKind, kind)
	}

	actionID, err := CanonicalActionID(rawAction, kind)
	if err != nil {
		return models.InteractionEvent{}, fmt.Errorf("%w: %w", models.ErrInvalidEvent, err)
	}

	fingerprint := PayloadFingerprint(rawPayload)
	if actionID == FreeTextActionID && fingerprint != "" {
		// Distinct texts must not dedup against each other, so free text gets
		// a content-derived action id instead of one shared bucket.
		actionID = "text_" + fingerprint
	}

	return models.InteractionEvent{
		SessionID:   sessionID,
		ActionID:    actionID,
		Fingerprint: fingerprint,
		ObservedAt:  observedAt,
		Kind:        kind,
	}, nil
}

// CanonicalActionID maps a raw action string (callback data or command) onto
// its canonical action id within the namespace of the given kind.
func CanonicalActionID(rawAction string, kind models.EventKind) (string, error) {
	action := strings.ToLower(strings.TrimSpace(rawAction))

	if kind == models.KindFreeText {
		if cmd, ok := strings.CutPrefix(action, "/"); ok && cmd != "" {
			action = "cmd_" + cmd
		} else {
			// Plain text carries no stable action; intent lives in the fingerprint.
			return FreeTextActionID, nil
		}
	}

	if action == "" {
		return "", models.ErrEmptyAction
	}

	for legacy, canonical := range actionAliases {
		if rest, ok := strings.CutPrefix(action, legacy); ok {
			action = canonical + rest
			break
		}
	}

	if len(action) > models.MaxActionIDLength {
		return "", fmt.Errorf("%w: %d chars", models.ErrActionTooLong, len(action))
	}

	namespaces := actionNamespaces[kind]
	if kind == models.KindFreeText {
		// Typed commands share the navigation namespace.
		namespaces = actionNamespaces[models.KindNavigation]
	}
	for _, ns := range namespaces {
		if strings.HasPrefix(action, ns) {
			return action, nil
		}
	}
	return "", fmt.Errorf("%w: %q for kind %s", models.ErrUnknownNamespace, action, kind)
}

// PayloadFingerprint computes a stable truncated hash over the payload with
// formatting noise stripped, so semantically identical payloads collide
// regardless of casing, whitespace, or decorative emoji.
func PayloadFingerprint(payload string) string {
	if len(payload) > models.MaxPayloadLength {
		payload = payload[:models.MaxPayloadLength]
	}
	normalized := normalizePayload(payload)
	if normalized == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])[:fingerprintLen]
}

// normalizePayload lowercases, collapses whitespace runs, and drops emoji and
// joiner codepoints.
func normalizePayload(payload string) string {
	var b strings.Builder
	b.Grow(len(payload))
	for _, r := range strings.ToLower(payload) {
		if isDecorative(r) {
			continue
		}
		b.WriteRune(r)
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// isDecorative reports whether a rune is emoji or an invisible joiner that
// must not influence the fingerprint.
func isDecorative(r rune) bool {
	switch {
	case r == 0x200D || r == 0xFE0E || r == 0xFE0F: // ZWJ, variation selectors
		return true
	case r >= 0x1F000 && r <= 0x1FAFF: // emoji, symbols, pictographs
		return true
	case r >= 0x2600 && r <= 0x27BF: // misc symbols, dingbats
		return true
	case unicode.Is(unicode.Sk, r):
		return true
	default:
		return false
	}
}
