package intent

import (
	"context"
	"strings"
)

type keywordRule struct {
	words []string
	label Label
}

// Rules are tried in order; the first match wins.
var keywordRules = []keywordRule{
	{words: []string{"password", "reset"}, label: PasswordReset},
	{words: []string{"refund", "return"}, label: RefundRequest},
	{words: []string{"payment"}, label: PaymentIssue},
}

// KeywordClassifier is a substring matcher over the lowercased query.
type KeywordClassifier struct{}

func (KeywordClassifier) Classify(_ context.Context, text string) Label {
	lower := strings.ToLower(text)
	for _, r := range keywordRules {
		for _, w := range r.words {
			if strings.Contains(lower, w) {
				return r.label
			}
		}
	}
	return GeneralSupport
}
