package core

import (
	"context"
	"fmt"

	"hospitalcore/pkg/domain"
)

// LifecycleTransitionRule blocks status changes the workflow tables do not
// allow, including changes written directly to the store.
func LifecycleTransitionRule() domain.Rule {
	return lifecycleTransitionRule{}
}

type lifecycleTransitionRule struct{}

func (lifecycleTransitionRule) Name() string { return "lifecycle_transition" }

func (lifecycleTransitionRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	block := func(machine lifecycleMachine, id, msg string) {
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     "lifecycle_transition",
			Severity: domain.SeverityBlock,
			Message:  msg,
			Entity:   machine.entity,
			EntityID: id,
		})
	}
	for _, change := range changes {
		machine, ok := lifecycleMachines[change.Entity]
		if !ok {
			continue
		}
		after, ok := change.After.(domain.Stateful)
		if !ok {
			continue
		}
		id := after.Meta().ID
		state := after.CurrentStatus()
		if !machine.valid(state) {
			block(machine, id, fmt.Sprintf("%s %s is set to invalid state %q", machine.label, id, state))
			continue
		}

		before, ok := change.Before.(domain.Stateful)
		if !ok {
			if _, allowed := machine.initial[state]; !allowed {
				block(machine, id, fmt.Sprintf("%s %s cannot be created in state %s", machine.label, id, state))
			}
			continue
		}
		prev := before.CurrentStatus()
		if prev == state {
			continue
		}
		if !machine.allows(prev, state) {
			if _, terminal := machine.terminal[prev]; terminal {
				block(machine, id, fmt.Sprintf("cannot move %s %s from terminal state %s to %s", machine.label, id, prev, state))
				continue
			}
			block(machine, id, fmt.Sprintf("%s %s cannot move from %s to %s", machine.label, id, prev, state))
		}
	}
	return res, nil
}
