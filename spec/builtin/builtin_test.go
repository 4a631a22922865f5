package builtin

import (
	"testing"

	"github.com/stretchr/testify/require"
	"goa.design/flow/spec"
)

func TestRegistryCoversAllTypes(t *testing.T) {
	r := Registry()
	byType := r.ListByType()
	for _, typ := range spec.Types() {
		require.NotEmpty(t, byType[typ], "no builtin subtype for %s", typ)
	}
}

func TestBuiltinDefaultsMaterialize(t *testing.T) {
	// Every builtin spec must materialize with only its required
	// no-default keys supplied; anything else is a catalog bug.
	r := Registry()
	fill := map[spec.ConfigKind]any{
		spec.KindString: "value",
		spec.KindURL:    "https://example.test/endpoint",
		spec.KindEmail:  "ops@example.test",
		spec.KindCron:   "*/5 * * * *",
		spec.KindInt:    1,
		spec.KindFloat:  1.0,
		spec.KindBool:   true,
		spec.KindJSON:   map[string]any{"name": "x"},
		spec.KindFile:   "file.txt",
	}
	for _, s := range r.List() {
		overrides := map[string]any{}
		for k, cs := range s.Configurations {
			if cs.Required && cs.Default == nil {
				if cs.Kind == spec.KindEnum {
					overrides[k] = cs.Options[0]
					continue
				}
				overrides[k] = fill[cs.Kind]
			}
		}
		if s.Type == spec.TypeFlow && s.Subtype == "SWITCH" {
			overrides["cases"] = []any{"a", "b"}
		}
		inst, err := r.Materialize(s, "n", overrides)
		require.NoError(t, err, "%s.%s", s.Type, s.Subtype)
		require.Equal(t, s.Subtype, inst.Subtype)
	}
}

func TestOnlyAgentsAllowAttached(t *testing.T) {
	for _, s := range Registry().List() {
		if s.Type == spec.TypeAIAgent {
			require.True(t, s.AllowAttached, "%s must allow attached nodes", s.Subtype)
		} else {
			require.False(t, s.AllowAttached, "%s.%s must not allow attached nodes", s.Type, s.Subtype)
		}
	}
}

func TestHILSpecsDeclareClassificationOutputs(t *testing.T) {
	r := Registry()
	for _, sub := range []string{"SLACK_INTERACTION", "MANUAL_REVIEW"} {
		s, err := r.Lookup(spec.TypeHumanInTheLoop, sub)
		require.NoError(t, err)
		for _, key := range []string{"confirmed", "rejected", "unrelated", "timeout"} {
			_, ok := s.Output[key]
			require.True(t, ok, "%s missing output %q", sub, key)
		}
	}
}
