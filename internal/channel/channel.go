// Package channel is the delivery boundary: it notifies a human about an
// approval and supplies the per-channel reply preprocessing. The lifecycle
// service depends only on the Sender capability, never on a concrete channel.
package channel

import (
	"context"

	"approvalgate/internal/approval"
	dErrors "approvalgate/pkg/domain-errors"
)

// Sender delivers an approval request to a human. Delivery is best-effort:
// failures are logged by the caller and never roll back the persisted
// approval.
type Sender interface {
	// SendApproval delivers the standard approve/deny menu.
	SendApproval(ctx context.Context, a *approval.Approval) error
	// SendQuestion delivers a question with ordered option labels.
	SendQuestion(ctx context.Context, a *approval.Approval, options []string) error
}

// Registry maps a channel tag to its sender.
type Registry map[approval.Channel]Sender

// For returns the sender for a channel.
func (r Registry) For(ch approval.Channel) (Sender, error) {
	sender, ok := r[ch]
	if !ok {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "invalid channel")
	}
	return sender, nil
}
