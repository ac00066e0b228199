// Package decision maps a classified intent and retrieval confidence onto
// the automation action taken for a support query.
package decision

import "github.com/kalambet/deskflow/internal/intent"

// Action is the outcome of the automation policy.
type Action string

const (
	SaveDraft       Action = "SAVE_DRAFT"
	PendingApproval Action = "PENDING_APPROVAL"
	Escalate        Action = "ESCALATE"
)

const (
	billingDraftThreshold     = 0.6
	passwordApprovalThreshold = 0.75
	passwordDraftThreshold    = 0.4
)

// Decide is total and pure. Intents without a rule escalate regardless of
// confidence.
func Decide(label intent.Label, confidence float64) Action {
	switch label {
	case intent.RefundRequest, intent.PaymentIssue:
		if confidence >= billingDraftThreshold {
			return SaveDraft
		}
		return Escalate
	case intent.PasswordReset:
		switch {
		case confidence >= passwordApprovalThreshold:
			return PendingApproval
		case confidence >= passwordDraftThreshold:
			return SaveDraft
		}
		return Escalate
	}
	return Escalate
}

// Automated reports whether a persists a draft rather than opening a ticket.
func (a Action) Automated() bool {
	return a == SaveDraft || a == PendingApproval
}
