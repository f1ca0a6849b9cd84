// Package validation checks user-supplied onboarding fields.
//
// Field validators are pure and never panic. Stage validation runs every
// validator of the stage's required-field set and accumulates every error,
// so one pass reports all problems at once.
package validation

import (
	"fmt"
	"sort"
	"strings"

	"onboarding/internal/onboarding/models"
	dErrors "onboarding/pkg/domain-errors"
)

// Kind classifies a field error.
type Kind string

const (
	KindMissingField Kind = "missing_field"
	KindFormat       Kind = "format_error"
)

// FieldError is one failed check.
type FieldError struct {
	Field   string `json:"field"`
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
}

func (e FieldError) Error() string { return e.Message }

// Result is the verdict of a field or stage validation.
type Result struct {
	Valid       bool         `json:"valid"`
	Errors      []string     `json:"errors,omitempty"`
	FieldErrors []FieldError `json:"field_errors,omitempty"`
}

func (r *Result) add(fe FieldError) {
	r.Valid = false
	r.Errors = append(r.Errors, fe.Message)
	r.FieldErrors = append(r.FieldErrors, fe)
}

// Err converts an invalid result into a coded error, or nil when valid.
// The code is CodeMissingField when every failure is a missing field.
func (r Result) Err() error {
	if r.Valid {
		return nil
	}
	code := dErrors.CodeMissingField
	for _, fe := range r.FieldErrors {
		if fe.Kind == KindFormat {
			code = dErrors.CodeFormat
			break
		}
	}
	return dErrors.New(code, strings.Join(r.Errors, "; "))
}

// stageFields is the static required-field configuration.
var stageFields = map[models.Stage][]string{
	models.StageSignup:  {"name", "email", "phone"},
	models.StageCompany: {"company_name", "registration_number", "address"},
	models.StageKYC:     {"pan_number", "aadhaar_number"},
	models.StageBank:    {"account_holder_name", "account_number", "ifsc_code", "bank_name"},
}

// Engine validates fields and stages.
type Engine struct {
	rules map[string]rule
}

// NewEngine returns an engine with the built-in field rules.
func NewEngine() *Engine {
	return &Engine{rules: defaultRules()}
}

// Fields lists the field names the engine knows, sorted.
func (e *Engine) Fields() []string {
	out := make([]string, 0, len(e.rules))
	for k := range e.rules {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// RequiredFields returns the fields validated for stage, given the submitted values.
// KYC adds gst_number when one is supplied or the business type names a company.
func RequiredFields(stage models.Stage, fields map[string]any) []string {
	base := stageFields[stage]
	out := make([]string, len(base), len(base)+1)
	copy(out, base)
	if stage == models.StageKYC && gstRequired(fields) {
		out = append(out, "gst_number")
	}
	return out
}

func gstRequired(fields map[string]any) bool {
	if v, ok := fields["gst_number"]; ok && v != nil {
		if s, isString := v.(string); !isString || strings.TrimSpace(s) != "" {
			return true
		}
	}
	bt, _ := fields["business_type"].(string)
	bt = strings.ToLower(bt)
	return strings.Contains(bt, "company") || strings.Contains(bt, "corp")
}

// Validate checks one field. Unknown fields are reported as format errors.
func (e *Engine) Validate(field string, raw any) Result {
	res := Result{Valid: true}
	if fe := e.check(field, raw); fe != nil {
		res.add(*fe)
	}
	return res
}

// ValidateStage runs every validator of the stage's required-field set in order.
func (e *Engine) ValidateStage(stage models.Stage, fields map[string]any) Result {
	res := Result{Valid: true}
	required := RequiredFields(stage, fields)
	if len(required) == 0 {
		res.add(FieldError{Field: "stage", Kind: KindFormat, Message: fmt.Sprintf("Stage %s collects no fields", stage)})
		return res
	}
	for _, field := range required {
		if fe := e.check(field, fields[field]); fe != nil {
			res.add(*fe)
		}
	}
	return res
}

func (e *Engine) check(field string, raw any) *FieldError {
	r, ok := e.rules[field]
	if !ok {
		return &FieldError{Field: field, Kind: KindFormat, Message: fmt.Sprintf("Unsupported field: %s", field)}
	}
	if raw == nil {
		return &FieldError{Field: field, Kind: KindMissingField, Message: r.missing}
	}
	s, isString := raw.(string)
	if !isString {
		return &FieldError{Field: field, Kind: KindFormat, Message: fmt.Sprintf("Field %s must be a string", field)}
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return &FieldError{Field: field, Kind: KindMissingField, Message: r.missing}
	}
	if r.check == nil {
		return nil
	}
	if msg := r.check(s); msg != "" {
		return &FieldError{Field: field, Kind: KindFormat, Message: msg}
	}
	return nil
}

// CompanyType classifies a company name by its legal-form keywords.
func CompanyType(name string) string {
	words := strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		return r == ' ' || r == '.' || r == ',' || r == '(' || r == ')'
	})
	has := func(keys ...string) bool {
		for _, w := range words {
			for _, k := range keys {
				if w == k {
					return true
				}
			}
		}
		return false
	}
	switch {
	case has("ltd", "limited", "corp", "corporation", "inc"):
		return "Corporation"
	case has("llc", "llp", "partnership"):
		return "LLC/Partnership"
	case has("pvt", "private"):
		return "Private Limited"
	}
	return "Business Entity"
}
