package ports

import "time"

// Canonical workflow step names, in execution order.
const (
	StepValidate        = "validate"
	StepConvertCurrency = "convert_currency"
	StepAssessFees      = "assess_fees"
	StepSettle          = "settle"
	StepNotify          = "notify"
)

// WorkflowSteps is the total order fixed at workflow start. The orchestrator
// never skips or reorders entries.
var WorkflowSteps = []string{StepValidate, StepConvertCurrency, StepAssessFees, StepSettle, StepNotify}

// DefaultPollInterval paces caller-driven swap status polling.
const DefaultPollInterval = 10 * time.Second
