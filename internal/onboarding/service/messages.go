package service

import (
	"fmt"
	"strings"

	"onboarding/internal/onboarding/models"
)

var prompts = map[models.Stage]string{
	models.StageSignup:   "Let's get you signed up. Please share your name, email and phone number.",
	models.StageCompany:  "Next, tell me about your company: company name, registration number and registered address.",
	models.StageKYC:      "For KYC, please share your PAN and Aadhaar numbers, plus your GST number if you are a registered company.",
	models.StageBank:     "Finally, please share your bank details: account holder name, account number, IFSC code and bank name.",
	models.StageComplete: "All details received. Finalizing your onboarding.",
}

func stagePrompt(stage models.Stage) string {
	if p, ok := prompts[stage]; ok {
		return p
	}
	return ""
}

var fieldLabels = map[string]string{
	"name":                "name",
	"email":               "email address",
	"phone":               "phone number",
	"company_name":        "company name",
	"registration_number": "registration number",
	"address":             "registered address",
	"pan_number":          "PAN",
	"aadhaar_number":      "Aadhaar number",
	"gst_number":          "GST number",
	"account_holder_name": "account holder name",
	"account_number":      "account number",
	"ifsc_code":           "IFSC code",
	"bank_name":           "bank name",
}

func humanList(fields []string) string {
	labels := make([]string, 0, len(fields))
	for _, f := range fields {
		if l, ok := fieldLabels[f]; ok {
			labels = append(labels, l)
		} else {
			labels = append(labels, strings.ReplaceAll(f, "_", " "))
		}
	}
	switch len(labels) {
	case 0:
		return ""
	case 1:
		return labels[0]
	}
	return strings.Join(labels[:len(labels)-1], ", ") + " and " + labels[len(labels)-1]
}

func completionNote(stage models.Stage, result *models.StageResult) string {
	switch stage {
	case models.StageSignup:
		return fmt.Sprintf("Signup completed successfully! Your entity ID is: %s.", result.SideEffectID)
	case models.StageCompany:
		return fmt.Sprintf("Company details saved (reference %s).", result.SideEffectID)
	case models.StageKYC:
		return fmt.Sprintf("KYC verified (reference %s).", result.SideEffectID)
	case models.StageBank:
		return fmt.Sprintf("Bank details saved (reference %s).", result.SideEffectID)
	}
	return ""
}
