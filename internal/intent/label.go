// Package intent classifies support queries into a small set of labels.
package intent

import "context"

// Label names the kind of support request. Classifiers may produce labels
// outside the known set; those carry no automation rule.
type Label string

const (
	PasswordReset  Label = "password_reset"
	RefundRequest  Label = "refund_request"
	PaymentIssue   Label = "payment_issue"
	GeneralSupport Label = "general_support"
)

// Known lists the labels the classifiers are able to return.
var Known = []Label{PasswordReset, RefundRequest, PaymentIssue, GeneralSupport}

// Classifier maps a query to a Label. Implementations are total: on any
// internal failure they return GeneralSupport or another usable label.
type Classifier interface {
	Classify(ctx context.Context, text string) Label
}

func isKnown(l Label) bool {
	for _, k := range Known {
		if k == l {
			return true
		}
	}
	return false
}
