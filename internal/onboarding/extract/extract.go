// Package extract pulls stage fields out of free-text messages.
//
// It understands "key: value" pairs separated by commas, semicolons or new
// lines, and falls back to per-field patterns for values written inline.
package extract

import (
	"regexp"
	"strings"

	"onboarding/internal/onboarding/models"
)

// Document identifiers are stored upper-cased.
var upperCased = []string{"pan_number", "gst_number", "ifsc_code"}

// Regex extracts fields with key/value parsing and per-field patterns.
type Regex struct{}

// New returns the default extractor.
func New() *Regex { return &Regex{} }

var stageKeys = map[models.Stage][]string{
	models.StageSignup:  {"name", "email", "phone"},
	models.StageCompany: {"company_name", "registration_number", "address"},
	models.StageKYC:     {"pan_number", "aadhaar_number", "gst_number", "business_type"},
	models.StageBank:    {"account_holder_name", "account_number", "ifsc_code", "bank_name"},
}

var aliases = map[string]string{
	"full_name":         "name",
	"your_name":         "name",
	"e_mail":            "email",
	"email_address":     "email",
	"mobile":            "phone",
	"phone_number":      "phone",
	"company":           "company_name",
	"business":          "company_name",
	"organization":      "company_name",
	"organisation":      "company_name",
	"registration":      "registration_number",
	"reg":               "registration_number",
	"reg_no":            "registration_number",
	"location":          "address",
	"headquarters":      "address",
	"pan":               "pan_number",
	"pan_no":            "pan_number",
	"aadhaar":           "aadhaar_number",
	"aadhar":            "aadhaar_number",
	"aadhar_number":     "aadhaar_number",
	"gst":               "gst_number",
	"gstin":             "gst_number",
	"account_holder":    "account_holder_name",
	"holder":            "account_holder_name",
	"holder_name":       "account_holder_name",
	"account_no":        "account_number",
	"acc_no":            "account_number",
	"ifsc":              "ifsc_code",
	"bank":              "bank_name",
	"institution":       "bank_name",
	"type_of_business":  "business_type",
	"business_category": "business_type",
}

var (
	pairPattern = regexp.MustCompile(`^\s*([A-Za-z][A-Za-z _-]{0,30}?)\s*[:=]\s*(.+?)\s*$`)

	emailPattern   = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)
	phonePattern   = regexp.MustCompile(`\+?\d[\d\s().-]{8,18}\d`)
	namePattern    = regexp.MustCompile(`(?i:\bmy name is)\s+([A-Z][A-Za-z'.-]*(?:\s+[A-Z][A-Za-z'.-]*){0,3})`)
	panPattern     = regexp.MustCompile(`\b[A-Z]{5}[0-9]{4}[A-Z]\b`)
	aadhaarPattern = regexp.MustCompile(`\b\d{4}\s?\d{4}\s?\d{4}\b`)
	gstPattern     = regexp.MustCompile(`\b\d{2}[A-Z]{5}\d{4}[A-Z][A-Z\d]Z[A-Z\d]\b`)
	ifscPattern    = regexp.MustCompile(`(?i)\b[A-Z]{4}0[A-Z0-9]{6}\b`)
	accountPattern = regexp.MustCompile(`(?i)\b(?:account|acc)\s*(?:number|no)?[:\s#]+(\d{6,20})\b`)
)

// Extract returns the fields of stage found in message. Keys outside the
// stage's field set are ignored.
func (x *Regex) Extract(stage models.Stage, message string) map[string]any {
	wanted := stageKeys[stage]
	if len(wanted) == 0 {
		return map[string]any{}
	}
	allowed := make(map[string]bool, len(wanted))
	for _, k := range wanted {
		allowed[k] = true
	}

	out := map[string]any{}
	for k, v := range pairs(message) {
		if allowed[k] {
			out[k] = v
		}
	}
	for k, v := range inline(stage, message) {
		if _, ok := out[k]; !ok {
			out[k] = v
		}
	}
	for _, k := range upperCased {
		if v, ok := out[k].(string); ok {
			out[k] = strings.ToUpper(v)
		}
	}
	return out
}

// pairs parses "key: value" segments. A segment without a key continues the
// previous value, so "address: 1 Main St, Springfield" stays whole.
func pairs(message string) map[string]string {
	out := map[string]string{}
	var lastKey string
	for _, seg := range strings.FieldsFunc(message, func(r rune) bool {
		return r == ',' || r == ';' || r == '\n'
	}) {
		m := pairPattern.FindStringSubmatch(seg)
		if m == nil {
			if lastKey != "" && strings.TrimSpace(seg) != "" {
				out[lastKey] = out[lastKey] + ", " + strings.TrimSpace(seg)
			}
			continue
		}
		key := normalizeKey(m[1])
		out[key] = m[2]
		lastKey = key
	}
	return out
}

func normalizeKey(k string) string {
	k = strings.ToLower(strings.TrimSpace(k))
	k = strings.NewReplacer(" ", "_", "-", "_").Replace(k)
	if canonical, ok := aliases[k]; ok {
		return canonical
	}
	return k
}

func inline(stage models.Stage, message string) map[string]string {
	out := map[string]string{}
	find := func(key string, re *regexp.Regexp, group int) {
		m := re.FindStringSubmatch(message)
		if len(m) > group {
			out[key] = strings.TrimSpace(m[group])
		}
	}
	switch stage {
	case models.StageSignup:
		find("email", emailPattern, 0)
		find("phone", phonePattern, 0)
		find("name", namePattern, 1)
	case models.StageKYC:
		find("gst_number", gstPattern, 0)
		find("pan_number", panPattern, 0)
		find("aadhaar_number", aadhaarPattern, 0)
	case models.StageBank:
		find("ifsc_code", ifscPattern, 0)
		find("account_number", accountPattern, 1)
	}
	return out
}
