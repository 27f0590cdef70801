// Package email is the SMTP delivery variant. Outbound mail carries a plain
// text part with the reply menu and an HTML part with one-click action
// buttons; inbound replies are preprocessed by TruncateReply and
// ExtractApprovalID before hitting the decision parser.
package email

import (
	"context"
	"crypto/tls"
	"fmt"
	"html"
	"log/slog"
	"net"
	"net/smtp"
	"net/url"
	"strconv"
	"strings"

	"approvalgate/internal/approval"
	"approvalgate/internal/approval/decision"
	"approvalgate/internal/channel"
	"approvalgate/internal/platform/config"
)

// Actions encoded in one-click links. option_<letter> selects a question
// option; custom_form is deliberately not served (no HTML form rendering).
const (
	ActionApprove = "approve"
	ActionSession = "session"
	ActionDeny    = "deny"
	ActionAlways  = "always"
)

// ActionCode maps a link action to its decision code.
var ActionCode = map[string]string{
	ActionApprove: decision.CodeAllowOnce,
	ActionSession: decision.CodeAllowSession,
	ActionDeny:    decision.CodeDeny,
	ActionAlways:  decision.CodeAlwaysAllow,
}

// Sender delivers approvals over SMTP.
type Sender struct {
	cfg       config.EmailConfig
	publicURL string
	signKey   string
	logger    *slog.Logger
}

var _ channel.Sender = (*Sender)(nil)

func New(cfg config.EmailConfig, publicURL, signKey string, logger *slog.Logger) *Sender {
	return &Sender{cfg: cfg, publicURL: publicURL, signKey: signKey, logger: logger}
}

func (s *Sender) SendApproval(ctx context.Context, a *approval.Approval) error {
	return s.send(ctx, a, nil)
}

func (s *Sender) SendQuestion(ctx context.Context, a *approval.Approval, options []string) error {
	return s.send(ctx, a, options)
}

// Subject builds the outbound subject line. The approval id rides in the
// subject so a plain "Re:" reply still resolves.
func Subject(a *approval.Approval) string {
	return fmt.Sprintf("%s [%s]", a.Title, a.ApprovalID)
}

// TextBody builds the plain text part with the reply menu.
func TextBody(a *approval.Approval) string {
	return fmt.Sprintf(
		"%s\n\nApproval ID: %s\nExpires: %s\n\nMenu:\n%s\n\nReply with 1/2/3/4 <note>/5 <replacement>/6 in the first line.",
		a.Preview,
		a.ApprovalID,
		a.ExpiresAt.UTC().Format("2006-01-02 15:04:05 UTC"),
		decision.MenuText,
	)
}

// ActionURL builds a one-click link, signed when a key is configured.
func (s *Sender) ActionURL(approvalID, action string) string {
	u := fmt.Sprintf("%s/v1/action/%s/%s", s.publicURL, approvalID, action)
	if s.signKey != "" {
		u += "?sig=" + SignAction(approvalID, action, s.signKey)
	}
	return u
}

type actionButton struct {
	label string
	href  string
}

// HTMLBody builds the HTML part with clickable buttons. With a public URL the
// buttons hit the signed action endpoint; without one they fall back to
// mailto links that pre-fill a parseable reply.
func (s *Sender) HTMLBody(a *approval.Approval, options []string) string {
	var buttons []actionButton
	if len(options) > 0 {
		for i, opt := range options {
			letter := string(rune('A' + i))
			label := letter + ") " + opt
			// Rune-based cut keeps multi-byte labels intact.
			if r := []rune(opt); len(r) > 30 {
				label = letter + ") " + string(r[:30])
			}
			buttons = append(buttons, actionButton{
				label: label,
				href:  s.optionHref(a, "option_"+letter, decision.CodeAllowNote+" "+opt),
			})
		}
	} else {
		for _, b := range []struct{ label, action string }{
			{"Approve", ActionApprove},
			{"Approve for session", ActionSession},
			{"Deny", ActionDeny},
			{"Always allow", ActionAlways},
		} {
			buttons = append(buttons, actionButton{
				label: b.label,
				href:  s.optionHref(a, b.action, ActionCode[b.action]),
			})
		}
	}

	var sb strings.Builder
	sb.WriteString("<!DOCTYPE html><html><body style=\"font-family: sans-serif;\">")
	sb.WriteString("<h2>" + html.EscapeString(a.Title) + "</h2>")
	sb.WriteString("<pre style=\"background:#f8fafc;padding:12px;white-space:pre-wrap;\">")
	sb.WriteString(html.EscapeString(a.Preview))
	sb.WriteString("</pre>")
	sb.WriteString("<p><b>ID:</b> <code>" + a.ApprovalID + "</code><br>")
	sb.WriteString("<b>Expires:</b> " + a.ExpiresAt.UTC().Format("2006-01-02 15:04:05 UTC") + "</p><p>")
	for _, b := range buttons {
		sb.WriteString(fmt.Sprintf(
			"<a href=%q style=\"display:inline-block;padding:10px 20px;margin:4px;background:#3b82f6;color:white;text-decoration:none;border-radius:6px;\">%s</a>\n",
			b.href, html.EscapeString(b.label),
		))
	}
	sb.WriteString("</p></body></html>")
	return sb.String()
}

// optionHref picks the HTTP action link when a public URL is configured and
// the mailto fallback otherwise. replyBody is the pre-filled reply text for
// the fallback, shaped so the decision parser accepts it as-is.
func (s *Sender) optionHref(a *approval.Approval, action, replyBody string) string {
	if s.publicURL != "" {
		return s.ActionURL(a.ApprovalID, action)
	}
	subject := "Re: " + Subject(a)
	return fmt.Sprintf("mailto:%s?subject=%s&body=%s",
		s.cfg.From, url.QueryEscape(subject), url.QueryEscape(replyBody))
}

func (s *Sender) send(ctx context.Context, a *approval.Approval, options []string) error {
	toAddr := a.Target.EmailTo
	msg := s.buildMessage(a, toAddr, options)

	addr := net.JoinHostPort(s.cfg.SMTPHost, strconv.Itoa(s.cfg.SMTPPort))
	client, err := s.dial(addr)
	if err != nil {
		return fmt.Errorf("smtp dial %s: %w", addr, err)
	}
	defer client.Quit()

	if s.cfg.UseTLS && !s.cfg.UseSSL {
		if err := client.StartTLS(&tls.Config{ServerName: s.cfg.SMTPHost}); err != nil {
			return fmt.Errorf("smtp starttls: %w", err)
		}
	}
	if s.cfg.Username != "" && s.cfg.Password != "" {
		auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.SMTPHost)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := client.Mail(s.cfg.From); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	if err := client.Rcpt(toAddr); err != nil {
		return fmt.Errorf("smtp rcpt: %w", err)
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write([]byte(msg)); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp close: %w", err)
	}

	s.logger.InfoContext(ctx, "approval email sent",
		"approval_id", a.ApprovalID,
		"to", toAddr,
	)
	return nil
}

func (s *Sender) dial(addr string) (*smtp.Client, error) {
	if s.cfg.UseSSL {
		conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: s.cfg.SMTPHost})
		if err != nil {
			return nil, err
		}
		return smtp.NewClient(conn, s.cfg.SMTPHost)
	}
	return smtp.Dial(addr)
}

// buildMessage assembles a multipart/alternative MIME message with text and
// HTML parts.
func (s *Sender) buildMessage(a *approval.Approval, toAddr string, options []string) string {
	const boundary = "approvalgate-alt"
	var sb strings.Builder
	sb.WriteString("From: " + s.cfg.From + "\r\n")
	sb.WriteString("To: " + toAddr + "\r\n")
	sb.WriteString("Subject: " + Subject(a) + "\r\n")
	sb.WriteString("MIME-Version: 1.0\r\n")
	sb.WriteString("Content-Type: multipart/alternative; boundary=" + boundary + "\r\n\r\n")

	sb.WriteString("--" + boundary + "\r\n")
	sb.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	sb.WriteString(TextBody(a) + "\r\n")

	sb.WriteString("--" + boundary + "\r\n")
	sb.WriteString("Content-Type: text/html; charset=utf-8\r\n\r\n")
	sb.WriteString(s.HTMLBody(a, options) + "\r\n")

	sb.WriteString("--" + boundary + "--\r\n")
	return sb.String()
}
