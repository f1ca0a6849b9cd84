package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

var (
	emailPattern   = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	ifscPattern    = regexp.MustCompile(`^[A-Z]{4}0[A-Z0-9]{6}$`)
	gstPattern     = regexp.MustCompile(`^\d{2}[A-Z]{5}\d{4}[A-Z][A-Z\d]Z[A-Z\d]$`)
	panPattern     = regexp.MustCompile(`^[A-Z]{5}[0-9]{4}[A-Z]$`)
	aadhaarPattern = regexp.MustCompile(`^\d{12}$`)
)

// rule validates the trimmed string form of one field.
// check returns "" when the value is acceptable.
type rule struct {
	missing string
	check   func(v string) string
}

func requiredOnly(field string) rule {
	return rule{missing: missingField(field)}
}

func missingField(field string) string {
	return fmt.Sprintf("Missing required field: %s", field)
}

func defaultRules() map[string]rule {
	return map[string]rule{
		"name": {
			missing: "Name is required",
			check:   checkPersonName,
		},
		"email": {
			missing: "Email is required",
			check: func(v string) string {
				if !emailPattern.MatchString(strings.ToLower(v)) {
					return "Invalid email format"
				}
				return ""
			},
		},
		"phone": {
			missing: "Phone is required",
			check: func(v string) string {
				n := len(digitsOnly(v))
				if n < 10 || n > 15 {
					return "Phone must be between 10 and 15 digits"
				}
				return ""
			},
		},
		"company_name": {
			missing: missingField("company_name"),
			check: func(v string) string {
				if len([]rune(v)) < 3 {
					return "Company name must be at least 3 characters"
				}
				return ""
			},
		},
		"registration_number": {
			missing: missingField("registration_number"),
			check: func(v string) string {
				compact := strings.NewReplacer("-", "", " ", "").Replace(v)
				if compact == "" || !isAlnum(compact) {
					return "Invalid registration number format"
				}
				return ""
			},
		},
		"address": requiredOnly("address"),
		"pan_number": {
			missing: missingField("pan_number"),
			check:   patternCheck(panPattern, "Invalid PAN format"),
		},
		"aadhaar_number": {
			missing: missingField("aadhaar_number"),
			check: func(v string) string {
				if !aadhaarPattern.MatchString(strings.ReplaceAll(v, " ", "")) {
					return "Invalid Aadhaar format"
				}
				return ""
			},
		},
		"gst_number": {
			missing: missingField("gst_number"),
			check:   patternCheck(gstPattern, "Invalid GST format"),
		},
		"account_holder_name": {
			missing: missingField("account_holder_name"),
			check: func(v string) string {
				if len([]rune(v)) < 2 {
					return "Account holder name must be at least 2 characters"
				}
				return ""
			},
		},
		"account_number": {
			missing: missingField("account_number"),
			check: func(v string) string {
				if digitsOnly(v) != v {
					return "Account number must contain only digits"
				}
				return ""
			},
		},
		"ifsc_code": {
			missing: missingField("ifsc_code"),
			check:   patternCheck(ifscPattern, "Invalid IFSC code format"),
		},
		"bank_name": requiredOnly("bank_name"),
	}
}

func checkPersonName(v string) string {
	n := len([]rune(v))
	switch {
	case n < 2:
		return "Name must be at least 2 characters"
	case n > 100:
		return "Name must be less than 100 characters"
	}
	return ""
}

func patternCheck(re *regexp.Regexp, msg string) func(string) string {
	return func(v string) string {
		if !re.MatchString(strings.ToUpper(v)) {
			return msg
		}
		return ""
	}
}

func digitsOnly(v string) string {
	var b strings.Builder
	for _, r := range v {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func isAlnum(v string) bool {
	for _, r := range v {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
