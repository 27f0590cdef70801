package telegram

import (
	"strings"

	dErrors "approvalgate/pkg/domain-errors"
)

// Callback is a parsed button payload: either a direct decision code or an
// option selection for question-style approvals.
type Callback struct {
	ApprovalID string
	// Code is the decision code for direct buttons ("1", "2", "3", "6").
	Code string
	// OptionLetter is set for "opt:<letter>" selections.
	OptionLetter string
	// Custom marks the "opt:custom" button, which expects a free-text
	// follow-up rather than an immediate decision.
	Custom bool
}

// ParseCallback splits callback data of the form "<approval_id>:<code>" or
// "<approval_id>:opt:<letter|custom>" into the code+payload shape the
// decision grammar consumes.
func ParseCallback(data string) (Callback, error) {
	approvalID, rest, ok := strings.Cut(data, ":")
	if !ok || approvalID == "" || rest == "" {
		return Callback{}, dErrors.New(dErrors.CodeInvalidInput, "malformed callback data")
	}
	cb := Callback{ApprovalID: approvalID}
	if selection, isOption := strings.CutPrefix(rest, "opt:"); isOption {
		if selection == "custom" {
			cb.Custom = true
			return cb, nil
		}
		if selection == "" {
			return Callback{}, dErrors.New(dErrors.CodeInvalidInput, "malformed callback data")
		}
		cb.OptionLetter = selection
		return cb, nil
	}
	cb.Code = rest
	return cb, nil
}
