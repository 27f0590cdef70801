// Package telegram is the Bot API delivery variant. Outbound messages carry
// inline keyboards whose callback data encodes the approval id and a decision
// code; the webhook handler feeds those payloads back through ParseCallback.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"approvalgate/internal/approval"
	"approvalgate/internal/channel"
	"approvalgate/internal/platform/config"
)

// Sender delivers approvals via the Telegram Bot API. With Mock set (or no
// bot token) the rendered message is logged instead of sent, which keeps
// development and tests offline.
type Sender struct {
	cfg    config.TelegramConfig
	client *http.Client
	logger *slog.Logger
}

var _ channel.Sender = (*Sender)(nil)

func New(cfg config.TelegramConfig, logger *slog.Logger) *Sender {
	cfg.APIBase = strings.TrimRight(cfg.APIBase, "/")
	return &Sender{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}
}

// inlineKeyboard mirrors the Bot API reply_markup shape.
type inlineKeyboard struct {
	InlineKeyboard [][]inlineButton `json:"inline_keyboard"`
}

type inlineButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

// BuildMessage renders the approval notification. Title and preview are
// HTML-escaped to keep user-controlled text out of the markup.
func BuildMessage(a *approval.Approval) string {
	return fmt.Sprintf(
		"<b>%s</b>\n\n<pre>%s</pre>\n\n<code>%s</code>\nExpires: %s\n\n<i>Tap a button or reply with a menu code.</i>",
		html.EscapeString(a.Title),
		html.EscapeString(a.Preview),
		a.ApprovalID,
		a.ExpiresAt.UTC().Format("2006-01-02 15:04:05 UTC"),
	)
}

// BuildApprovalKeyboard is the standard 2x2 decision keyboard.
func BuildApprovalKeyboard(approvalID string) inlineKeyboard {
	return inlineKeyboard{InlineKeyboard: [][]inlineButton{
		{
			{Text: "Approve", CallbackData: approvalID + ":1"},
			{Text: "Approve for session", CallbackData: approvalID + ":2"},
		},
		{
			{Text: "Deny", CallbackData: approvalID + ":3"},
			{Text: "Always allow", CallbackData: approvalID + ":6"},
		},
	}}
}

// BuildQuestionKeyboard lays out option buttons two per row, letters A..,
// plus a trailing custom-reply button.
func BuildQuestionKeyboard(approvalID string, options []string) inlineKeyboard {
	var buttons []inlineButton
	for i, opt := range options {
		letter := string(rune('A' + i))
		text := letter + ") " + opt
		// Truncate on runes so a multi-byte label is never split mid-character.
		if r := []rune(opt); len(r) > 20 {
			text = letter + ") " + string(r[:20])
		}
		buttons = append(buttons, inlineButton{
			Text:         text,
			CallbackData: approvalID + ":opt:" + letter,
		})
	}
	var rows [][]inlineButton
	for len(buttons) > 2 {
		rows = append(rows, buttons[:2])
		buttons = buttons[2:]
	}
	if len(buttons) > 0 {
		rows = append(rows, buttons)
	}
	rows = append(rows, []inlineButton{
		{Text: "Custom reply", CallbackData: approvalID + ":opt:custom"},
	})
	return inlineKeyboard{InlineKeyboard: rows}
}

func (s *Sender) SendApproval(ctx context.Context, a *approval.Approval) error {
	return s.sendMessage(ctx, a, BuildMessage(a), BuildApprovalKeyboard(a.ApprovalID))
}

func (s *Sender) SendQuestion(ctx context.Context, a *approval.Approval, options []string) error {
	var lines []string
	for i, opt := range options {
		lines = append(lines, fmt.Sprintf("%s) %s", string(rune('A'+i)), html.EscapeString(opt)))
	}
	text := fmt.Sprintf(
		"<b>%s</b>\n\n%s\n\n<code>%s</code>\nExpires: %s",
		html.EscapeString(a.Title),
		strings.Join(lines, "\n"),
		a.ApprovalID,
		a.ExpiresAt.UTC().Format("2006-01-02 15:04:05 UTC"),
	)
	return s.sendMessage(ctx, a, text, BuildQuestionKeyboard(a.ApprovalID, options))
}

func (s *Sender) sendMessage(ctx context.Context, a *approval.Approval, text string, keyboard inlineKeyboard) error {
	chatID := a.Target.TgChatID
	if s.cfg.Mock || s.cfg.BotToken == "" {
		s.logger.InfoContext(ctx, "telegram send mocked",
			"approval_id", a.ApprovalID,
			"chat_id", chatID,
		)
		return nil
	}

	payload := map[string]any{
		"chat_id":      chatID,
		"text":         text,
		"parse_mode":   "HTML",
		"reply_markup": keyboard,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal sendMessage payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", s.cfg.APIBase, s.cfg.BotToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build sendMessage request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram sendMessage: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("telegram sendMessage: status %d", resp.StatusCode)
	}
	return nil
}
