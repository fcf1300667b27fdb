package core

import "hospitalcore/pkg/domain"

type (
	EntityType         = domain.EntityType
	Entity             = domain.Entity
	Severity           = domain.Severity
	Base               = domain.Base
	Change             = domain.Change
	Action             = domain.Action
	Violation          = domain.Violation
	Result             = domain.Result
	Rule               = domain.Rule
	RulesEngine        = domain.RulesEngine
	RuleViolationError = domain.RuleViolationError
	Transaction        = domain.Transaction
	TransactionView    = domain.TransactionView
	DurableStore       = domain.DurableStore
)

const (
	SeverityBlock = domain.SeverityBlock
	SeverityWarn  = domain.SeverityWarn
	SeverityLog   = domain.SeverityLog
)

const (
	ActionCreate = domain.ActionCreate
	ActionUpdate = domain.ActionUpdate
)

// NewRulesEngine constructs an empty engine.
func NewRulesEngine() *RulesEngine {
	return domain.NewRulesEngine()
}
