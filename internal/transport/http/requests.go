package httptransport

// CreateApprovalRequest is the body of POST /v1/approvals.
type CreateApprovalRequest struct {
	SessionID    string            `json:"session_id"`
	ActionType   string            `json:"action_type"`
	Title        string            `json:"title"`
	Preview      string            `json:"preview"`
	Channel      string            `json:"channel"`
	Target       map[string]string `json:"target"`
	// ExpiresInSec is a pointer so an absent field (take the default) stays
	// distinguishable from an explicit zero (rejected).
	ExpiresInSec *int `json:"expires_in_sec"`
	Options      []string          `json:"options,omitempty"`
}

// EmailReplyRequest is the body of POST /v1/inbox/email-reply: raw
// email-shaped text, quoted history and all.
type EmailReplyRequest struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// telegramUpdate is the subset of the Bot API update we consume.
type telegramUpdate struct {
	UpdateID      int64             `json:"update_id"`
	CallbackQuery *telegramCallback `json:"callback_query"`
	Message       *telegramMessage  `json:"message"`
}

type telegramCallback struct {
	ID   string `json:"id"`
	Data string `json:"data"`
}

type telegramMessage struct {
	Text           string           `json:"text"`
	ReplyToMessage *telegramMessage `json:"reply_to_message"`
}
