// Package policy implements the orchestration flag validation gate.
package policy

import (
	"github.com/arrowhead-lite/orchestrator/internal/app/domain/orchestration"
	"github.com/arrowhead-lite/orchestrator/internal/errors"
)

// Toggles are the deployment-level feature switches the rules consult.
type Toggles struct {
	InterCloudEnabled  bool
	TranslationEnabled bool
	QoSEnabled         bool
}

// Validator checks an orchestration form against the policy rules. The
// rules run in a fixed order and the first violation wins, so error
// messages stay deterministic.
type Validator struct {
	toggles Toggles
}

// New constructs a validator over the given toggles.
func New(toggles Toggles) *Validator {
	return &Validator{toggles: toggles}
}

type rule struct {
	violated func(form orchestration.Form, toggles Toggles) bool
	reason   string
}

// An inter-cloud or translation bridge serves exactly one operation, hence
// the operation-count rules.
var rules = []rule{
	{
		violated: func(f orchestration.Form, t Toggles) bool {
			return f.Flag(orchestration.FlagOnlyIntercloud) && !t.InterCloudEnabled
		},
		reason: "ONLY_INTERCLOUD flag is present, but intercloud orchestration is not enabled",
	},
	{
		violated: func(f orchestration.Form, t Toggles) bool {
			return f.Flag(orchestration.FlagOnlyIntercloud) && f.Flag(orchestration.FlagAllowTranslation)
		},
		reason: "ONLY_INTERCLOUD and ALLOW_TRANSLATION flags cannot be present at the same time",
	},
	{
		violated: func(f orchestration.Form, t Toggles) bool {
			return f.Flag(orchestration.FlagOnlyIntercloud) && len(f.Operations) != 1
		},
		reason: "exactly one operation must be defined when only inter-cloud orchestration is required",
	},
	{
		violated: func(f orchestration.Form, t Toggles) bool {
			return f.Flag(orchestration.FlagAllowIntercloud) && len(f.Operations) != 1
		},
		reason: "exactly one operation must be defined when inter-cloud orchestration is allowed",
	},
	{
		violated: func(f orchestration.Form, t Toggles) bool {
			return f.Flag(orchestration.FlagAllowTranslation) && len(f.Operations) != 1
		},
		reason: "exactly one operation must be defined when translation is allowed",
	},
	{
		violated: func(f orchestration.Form, t Toggles) bool {
			return f.Flag(orchestration.FlagOnlyPreferred) && !f.HasPreferredProviders()
		},
		reason: "ONLY_PREFERRED flag is present, but no preferred provider is defined",
	},
	{
		violated: func(f orchestration.Form, t Toggles) bool {
			return f.HasQoSRequirements() && !t.QoSEnabled
		},
		reason: "QoS requirements are present, but QoS support is not enabled",
	},
}

// Validate returns nil when the form satisfies every rule, or an
// InvalidPolicy error carrying the first violated rule's reason.
func (v *Validator) Validate(form orchestration.Form) error {
	for _, r := range rules {
		if r.violated(form, v.toggles) {
			return errors.InvalidPolicy(r.reason)
		}
	}
	return nil
}
