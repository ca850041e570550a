package automation

import (
	"context"

	"github.com/relayworks/relay/pkg/expression"
	"github.com/relayworks/relay/pkg/models"
)

// selectTransition evaluates the automation's transitions in ascending
// priority order and returns the first match, or nil when none matches.
func (r *Runner) selectTransition(ctx context.Context, automationID string, result models.RunResult, execContext map[string]any) (*models.Transition, error) {
	transitions, err := r.persistence.Automations().TransitionsByAutomation(ctx, automationID)
	if err != nil {
		return nil, err
	}

	for _, transition := range transitions {
		switch transition.Condition {
		case models.TransitionOnSuccess:
			if result == models.RunResultSuccess {
				return transition, nil
			}
		case models.TransitionOnFailure:
			if result == models.RunResultFailure {
				return transition, nil
			}
		case models.TransitionOnCustom:
			matched, wellFormed := expression.Evaluate(transition.CustomExpression, string(result), execContext)
			if !wellFormed {
				r.logger.WarnContext(ctx, "Transition expression is malformed, treating as non-matching",
					"automation_id", automationID,
					"transition_id", transition.ID,
					"expression", transition.CustomExpression,
				)
			}

			if matched {
				return transition, nil
			}
		}
	}

	return nil, nil
}
