package supervisor

import (
	"context"
	"strings"
	"unicode"

	"onboarding/internal/onboarding/models"
)

// Advisor suggests a stage from conversation context. Its answer is only
// ever compared against the deterministic route; it never decides.
type Advisor interface {
	Advise(ctx context.Context, flags models.Flags, message string) (string, error)
}

// KeywordAdvisor maps topic keywords in the message to a stage.
type KeywordAdvisor struct{}

var advisorKeywords = []struct {
	stage models.Stage
	words []string
}{
	{models.StageBank, []string{"bank", "ifsc", "account number", "account holder"}},
	{models.StageKYC, []string{"kyc", "pan", "aadhaar", "aadhar", "gst"}},
	{models.StageCompany, []string{"company", "business", "registration number", "incorporated", "incorporation"}},
	{models.StageSignup, []string{"sign up", "signup", "my name", "email", "phone"}},
}

func (KeywordAdvisor) Advise(_ context.Context, flags models.Flags, message string) (string, error) {
	msg := strings.ToLower(message)
	tokens := make(map[string]bool)
	for _, t := range strings.FieldsFunc(msg, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		tokens[t] = true
	}
	for _, k := range advisorKeywords {
		if flags.Completed(k.stage) {
			continue
		}
		for _, w := range k.words {
			// phrases match as substrings, single words as whole tokens
			if strings.Contains(w, " ") && strings.Contains(msg, w) || tokens[w] {
				return string(k.stage), nil
			}
		}
	}
	return "", nil
}
