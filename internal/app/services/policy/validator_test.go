package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arrowhead-lite/orchestrator/internal/app/domain/orchestration"
	"github.com/arrowhead-lite/orchestrator/internal/errors"
)

func form(flags []orchestration.Flag, opts ...func(*orchestration.Form)) orchestration.Form {
	f := orchestration.Form{
		RequesterSystem:   "consumer-1",
		ServiceDefinition: "temperature",
		Operations:        []string{"read"},
		Flags:             map[orchestration.Flag]bool{},
	}
	for _, flag := range flags {
		f.Flags[flag] = true
	}
	for _, opt := range opts {
		opt(&f)
	}
	return f
}

func withOperations(ops ...string) func(*orchestration.Form) {
	return func(f *orchestration.Form) { f.Operations = ops }
}

func withPreferred(providers ...string) func(*orchestration.Form) {
	return func(f *orchestration.Form) { f.PreferredProviders = providers }
}

func withQoS(key, value string) func(*orchestration.Form) {
	return func(f *orchestration.Form) {
		f.QoSRequirements = map[string]string{key: value}
	}
}

func TestValidateAcceptsPlainForm(t *testing.T) {
	v := New(Toggles{})
	require.NoError(t, v.Validate(form(nil)))
}

func TestValidateOnlyIntercloudRequiresToggle(t *testing.T) {
	v := New(Toggles{})
	err := v.Validate(form([]orchestration.Flag{orchestration.FlagOnlyIntercloud}))
	require.Error(t, err)
	assert.True(t, errors.IsInvalidPolicy(err))
	assert.Contains(t, err.Error(), "intercloud orchestration is not enabled")
}

func TestValidateOnlyIntercloudExcludesTranslation(t *testing.T) {
	v := New(Toggles{InterCloudEnabled: true, TranslationEnabled: true})
	err := v.Validate(form([]orchestration.Flag{
		orchestration.FlagOnlyIntercloud,
		orchestration.FlagAllowTranslation,
	}))
	require.Error(t, err)
	assert.True(t, errors.IsInvalidPolicy(err))
	assert.Contains(t, err.Error(), "cannot be present at the same time")
}

func TestValidateOperationCountRules(t *testing.T) {
	v := New(Toggles{InterCloudEnabled: true, TranslationEnabled: true})

	cases := []struct {
		name string
		flag orchestration.Flag
	}{
		{"only intercloud", orchestration.FlagOnlyIntercloud},
		{"allow intercloud", orchestration.FlagAllowIntercloud},
		{"allow translation", orchestration.FlagAllowTranslation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := v.Validate(form([]orchestration.Flag{tc.flag}, withOperations("read", "write")))
			require.Error(t, err)
			assert.True(t, errors.IsInvalidPolicy(err))
			assert.Contains(t, err.Error(), "exactly one operation")

			err = v.Validate(form([]orchestration.Flag{tc.flag}, withOperations()))
			require.Error(t, err)

			require.NoError(t, v.Validate(form([]orchestration.Flag{tc.flag})))
		})
	}
}

func TestValidateOnlyPreferredNeedsProviders(t *testing.T) {
	v := New(Toggles{})
	err := v.Validate(form([]orchestration.Flag{orchestration.FlagOnlyPreferred}))
	require.Error(t, err)
	assert.True(t, errors.IsInvalidPolicy(err))
	assert.Contains(t, err.Error(), "no preferred provider is defined")

	require.NoError(t, v.Validate(form(
		[]orchestration.Flag{orchestration.FlagOnlyPreferred},
		withPreferred("provider-1"),
	)))
}

func TestValidateQoSRequiresToggle(t *testing.T) {
	err := New(Toggles{}).Validate(form(nil, withQoS("maxLatencyMs", "50")))
	require.Error(t, err)
	assert.True(t, errors.IsInvalidPolicy(err))
	assert.Contains(t, err.Error(), "QoS support is not enabled")

	require.NoError(t, New(Toggles{QoSEnabled: true}).Validate(form(nil, withQoS("maxLatencyMs", "50"))))
}

// Rule order matters: a form violating several rules must report the first.
func TestValidateReportsFirstViolation(t *testing.T) {
	v := New(Toggles{})
	err := v.Validate(form(
		[]orchestration.Flag{orchestration.FlagOnlyIntercloud, orchestration.FlagOnlyPreferred},
		withOperations("read", "write"),
		withQoS("maxLatencyMs", "50"),
	))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "intercloud orchestration is not enabled")
}
