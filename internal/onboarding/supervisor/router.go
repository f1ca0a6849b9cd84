// Package supervisor decides which onboarding stage runs next and drives a
// bounded sequence of stage dispatches for one inbound message.
package supervisor

import (
	"fmt"

	"onboarding/internal/onboarding/models"
	dErrors "onboarding/pkg/domain-errors"
)

// DefaultMaxSteps bounds the number of dispatches in one run.
const DefaultMaxSteps = 50

// Next is the routing function. It depends on the flags only.
func Next(f models.Flags) models.Stage {
	switch {
	case !f.Signup:
		return models.StageSignup
	case !f.Company:
		return models.StageCompany
	case !f.KYC:
		return models.StageKYC
	case !f.Bank:
		return models.StageBank
	case !f.Finalized:
		return models.StageComplete
	default:
		return models.StageEnd
	}
}

// RoutingOverrunError is returned when a run reaches the step ceiling
// without reaching end. It carries the state at the point of abort.
type RoutingOverrunError struct {
	Steps int
	Flags models.Flags
	Path  []models.Stage
}

func (e *RoutingOverrunError) Error() string {
	return fmt.Sprintf("routing exceeded %d steps without reaching end (last stage %s)", e.Steps, e.last())
}

func (e *RoutingOverrunError) Unwrap() error {
	return dErrors.New(dErrors.CodeRoutingOverrun, "onboarding run exceeded its step limit")
}

func (e *RoutingOverrunError) last() models.Stage {
	if len(e.Path) == 0 {
		return ""
	}
	return e.Path[len(e.Path)-1]
}
