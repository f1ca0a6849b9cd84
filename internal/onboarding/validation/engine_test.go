package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"onboarding/internal/onboarding/models"
	dErrors "onboarding/pkg/domain-errors"
)

type EngineSuite struct {
	suite.Suite
	engine *Engine
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineSuite))
}

func (s *EngineSuite) SetupTest() {
	s.engine = NewEngine()
}

func (s *EngineSuite) TestSignupAccumulatesEveryError() {
	res := s.engine.ValidateStage(models.StageSignup, map[string]any{
		"name":  "A",
		"email": "bad",
		"phone": "123",
	})

	s.False(res.Valid)
	s.Equal([]string{
		"Name must be at least 2 characters",
		"Invalid email format",
		"Phone must be between 10 and 15 digits",
	}, res.Errors)
	s.True(dErrors.HasCode(res.Err(), dErrors.CodeFormat))
}

func (s *EngineSuite) TestSignupMissingFields() {
	res := s.engine.ValidateStage(models.StageSignup, map[string]any{"name": "   "})

	s.False(res.Valid)
	s.Equal([]string{"Name is required", "Email is required", "Phone is required"}, res.Errors)
	for _, fe := range res.FieldErrors {
		s.Equal(KindMissingField, fe.Kind)
	}
	s.True(dErrors.HasCode(res.Err(), dErrors.CodeMissingField))
}

func (s *EngineSuite) TestBankScenarioPasses() {
	res := s.engine.ValidateStage(models.StageBank, map[string]any{
		"account_holder_name": "Jane Doe",
		"account_number":      "12345",
		"ifsc_code":           "ABCD0123456",
		"bank_name":           "Test Bank",
	})

	s.True(res.Valid)
	s.Empty(res.Errors)
	s.NoError(res.Err())
}

func (s *EngineSuite) TestBankFormatErrors() {
	res := s.engine.ValidateStage(models.StageBank, map[string]any{
		"account_holder_name": "J",
		"account_number":      "12-34",
		"ifsc_code":           "ABC0123456",
	})

	s.Equal([]string{
		"Account holder name must be at least 2 characters",
		"Account number must contain only digits",
		"Invalid IFSC code format",
		"Missing required field: bank_name",
	}, res.Errors)
}

func (s *EngineSuite) TestCompanyStage() {
	s.Run("valid", func() {
		res := s.engine.ValidateStage(models.StageCompany, map[string]any{
			"company_name":        "Acme Ltd",
			"registration_number": "U-1234 5678",
			"address":             "1 Main Street",
		})
		s.True(res.Valid)
	})

	s.Run("short name and bad registration", func() {
		res := s.engine.ValidateStage(models.StageCompany, map[string]any{
			"company_name":        "Ac",
			"registration_number": "REG#1",
			"address":             "1 Main Street",
		})
		s.Equal([]string{
			"Company name must be at least 3 characters",
			"Invalid registration number format",
		}, res.Errors)
	})
}

func (s *EngineSuite) TestKYCStage() {
	s.Run("individual without gst", func() {
		res := s.engine.ValidateStage(models.StageKYC, map[string]any{
			"pan_number":     "ABCDE1234F",
			"aadhaar_number": "1234 5678 9012",
		})
		s.True(res.Valid)
	})

	s.Run("company requires gst", func() {
		res := s.engine.ValidateStage(models.StageKYC, map[string]any{
			"pan_number":     "ABCDE1234F",
			"aadhaar_number": "123456789012",
			"business_type":  "Private Company",
		})
		s.Equal([]string{"Missing required field: gst_number"}, res.Errors)
	})

	s.Run("supplied gst is checked", func() {
		res := s.engine.ValidateStage(models.StageKYC, map[string]any{
			"pan_number":     "ABCDE1234F",
			"aadhaar_number": "123456789012",
			"gst_number":     "22AAAAA0000A1Z5",
		})
		s.True(res.Valid)
	})

	s.Run("bad document ids", func() {
		res := s.engine.ValidateStage(models.StageKYC, map[string]any{
			"pan_number":     "ABC1234",
			"aadhaar_number": "12345",
		})
		s.Equal([]string{"Invalid PAN format", "Invalid Aadhaar format"}, res.Errors)
	})
}

func (s *EngineSuite) TestNonStringValuesAreFormatErrors() {
	s.NotPanics(func() {
		res := s.engine.Validate("phone", 5551234567)
		s.Require().Len(res.FieldErrors, 1)
		s.Equal(KindFormat, res.FieldErrors[0].Kind)
	})
	s.NotPanics(func() {
		res := s.engine.Validate("email", map[string]any{"x": 1})
		s.False(res.Valid)
	})
}

func (s *EngineSuite) TestUnknownStageIsInvalid() {
	res := s.engine.ValidateStage(models.StageComplete, nil)
	s.False(res.Valid)
}

func TestFieldValidators(t *testing.T) {
	engine := NewEngine()
	tests := []struct {
		field string
		value any
		valid bool
	}{
		{"name", "Ada Lovelace", true},
		{"name", strings.Repeat("a", 101), false},
		{"email", " Ada@Example.COM ", true},
		{"email", "ada@example", false},
		{"phone", "+1 (555) 123-4567", true},
		{"phone", "1234567890123456", false},
		{"ifsc_code", "HDFC0001234", true},
		{"ifsc_code", "HDFC1001234", false},
		{"gst_number", "22AAAAA0000A1Z5", true},
		{"gst_number", "22AAAAA0000A1X5", false},
		{"pan_number", "ABCDE1234F", true},
		{"aadhaar_number", "123456789012", true},
		{"account_number", "000123", true},
		{"registration_number", "---", false},
		{"address", "", false},
		{"unknown_field", "x", false},
	}
	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			res := engine.Validate(tt.field, tt.value)
			assert.Equal(t, tt.valid, res.Valid, "value %v", tt.value)
			if !tt.valid {
				require.NotEmpty(t, res.Errors)
			}
		})
	}
}

func TestCompanyType(t *testing.T) {
	assert.Equal(t, "Corporation", CompanyType("Acme Ltd."))
	assert.Equal(t, "LLC/Partnership", CompanyType("Smith & Jones LLP"))
	assert.Equal(t, "Private Limited", CompanyType("Nova Pvt"))
	assert.Equal(t, "Business Entity", CompanyType("Corner Bakery"))
}
