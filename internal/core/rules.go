package core

// NewDefaultRulesEngine builds a rules engine with the built-in policy set.
// The rules backstop every commit, including writes that bypass the service.
func NewDefaultRulesEngine() *RulesEngine {
	engine := NewRulesEngine()
	engine.Register(LifecycleTransitionRule())
	engine.Register(NewChecklistStatusRule())
	engine.Register(NewLabResultsRule())
	engine.Register(NewBillTotalsRule())
	engine.Register(NewBillSourcesRule())
	return engine
}
