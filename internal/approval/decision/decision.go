// Package decision turns a human's free-form menu reply into a structured
// Decision. The grammar is channel-agnostic: email bodies (after quote
// stripping) and Telegram replies both funnel through Parse.
package decision

import (
	"strings"

	dErrors "approvalgate/pkg/domain-errors"
)

// Menu codes a human can reply with.
const (
	CodeAllowOnce    = "1"
	CodeAllowSession = "2"
	CodeDeny         = "3"
	CodeAllowNote    = "4"
	CodeModify       = "5"
	CodeAlwaysAllow  = "6"
)

// MenuLines is the reply menu shown to humans on every channel.
var MenuLines = []string{
	"1) Allow once",
	"2) Allow for this session",
	"3) Deny",
	"4) Allow once + add note (reply: 4 <text>)",
	"5) Modify then allow (reply: 5 <replacement>)",
	"6) Always allow this action type (until revoked)",
}

// MenuText is MenuLines joined for message bodies.
var MenuText = strings.Join(MenuLines, "\n")

// Decision is the structured outcome of a reply: a code plus the optional
// note (code 4) or override (code 5) payload.
type Decision struct {
	Code     string
	Note     string
	Override string
}

// Deny reports whether the decision rejects the action.
func (d Decision) Deny() bool { return d.Code == CodeDeny }

var validCodes = map[string]bool{
	CodeAllowOnce:    true,
	CodeAllowSession: true,
	CodeDeny:         true,
	CodeAllowNote:    true,
	CodeModify:       true,
	CodeAlwaysAllow:  true,
}

// Parse applies the menu grammar: the first whitespace-delimited token is the
// code, the trimmed remainder is the payload. Codes 4 and 5 require a
// payload; the others ignore one. Errors carry an actionable reason string so
// a human can correct and resend.
func Parse(text string) (Decision, error) {
	stripped := strings.TrimSpace(text)
	if stripped == "" {
		return Decision{}, dErrors.New(dErrors.CodeUnparsable, "empty reply")
	}

	code := stripped
	payload := ""
	if i := strings.IndexFunc(stripped, isSpace); i >= 0 {
		code = stripped[:i]
		payload = strings.TrimSpace(stripped[i:])
	}

	if !validCodes[code] {
		return Decision{}, dErrors.New(dErrors.CodeUnparsable, "invalid code")
	}
	if (code == CodeAllowNote || code == CodeModify) && payload == "" {
		return Decision{}, dErrors.New(dErrors.CodeUnparsable, "payload required")
	}

	d := Decision{Code: code}
	switch code {
	case CodeAllowNote:
		d.Note = payload
	case CodeModify:
		d.Override = payload
	}
	return d, nil
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}
