package httptransport

import "approvalgate/internal/approval"

// DecisionPayload is the decision shape returned once an approval is
// terminal.
type DecisionPayload struct {
	Code     string `json:"code"`
	Note     string `json:"note,omitempty"`
	Override string `json:"override,omitempty"`
}

func decisionPayload(a *approval.Approval) *DecisionPayload {
	if a.DecisionCode == "" {
		return nil
	}
	return &DecisionPayload{
		Code:     a.DecisionCode,
		Note:     a.DecisionNote,
		Override: a.DecisionOverride,
	}
}

// CreateApprovalResponse is the body returned by POST /v1/approvals.
// Decision is present only when the approval auto-approved; ExpiresAt
// (epoch seconds) only when it is pending.
type CreateApprovalResponse struct {
	ApprovalID string           `json:"approval_id"`
	Status     string           `json:"status"`
	Auto       bool             `json:"auto"`
	ExpiresAt  *int64           `json:"expires_at,omitempty"`
	Decision   *DecisionPayload `json:"decision,omitempty"`
}

// StatusResponse is the body of GET /v1/approvals/{id}. Decision, session and
// action type appear only once the approval left pending.
type StatusResponse struct {
	Status     string           `json:"status"`
	ExpiresAt  int64            `json:"expires_at"`
	Decision   *DecisionPayload `json:"decision,omitempty"`
	SessionID  string           `json:"session_id,omitempty"`
	ActionType string           `json:"action_type,omitempty"`
}

// ReplyResponse is returned by the ingestion endpoints.
type ReplyResponse struct {
	Status     string `json:"status"`
	ApprovalID string `json:"approval_id"`
}

// RevokeRuleResponse is returned by DELETE /v1/allow-rules/{rule_id}.
type RevokeRuleResponse struct {
	RuleID     string `json:"rule_id"`
	Status     string `json:"status"`
	ClientID   string `json:"client_id"`
	ActionType string `json:"action_type"`
}
