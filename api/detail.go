package api

import "goa.design/flow/spec"

// The catalog detail DTOs mirror spec.Spec with stable JSON field names so
// the editor contract does not depend on Go identifier casing.
type (
	specBody struct {
		Type                 spec.Type                 `json:"type"`
		Subtype              string                    `json:"subtype"`
		Version              string                    `json:"version"`
		Name                 string                    `json:"name"`
		Description          string                    `json:"description"`
		Tags                 []string                  `json:"tags,omitempty"`
		Examples             []string                  `json:"examples,omitempty"`
		Configurations       map[string]configBody     `json:"configurations,omitempty"`
		Input                map[string]paramBody      `json:"input,omitempty"`
		Output               map[string]paramBody      `json:"output,omitempty"`
		AllowAttached        bool                      `json:"allow_attached,omitempty"`
		SystemPromptAppendix string                    `json:"system_prompt_appendix,omitempty"`
	}

	configBody struct {
		Kind        spec.ConfigKind `json:"kind"`
		Default     any             `json:"default,omitempty"`
		Required    bool            `json:"required,omitempty"`
		Options     []string        `json:"options,omitempty"`
		Min         *float64        `json:"min,omitempty"`
		Max         *float64        `json:"max,omitempty"`
		Sensitive   bool            `json:"sensitive,omitempty"`
		Multiline   bool            `json:"multiline,omitempty"`
		Schema      string          `json:"schema,omitempty"`
		Description string          `json:"description,omitempty"`
	}

	paramBody struct {
		Kind        spec.ConfigKind `json:"kind"`
		Default     any             `json:"default,omitempty"`
		Required    bool            `json:"required,omitempty"`
		Description string          `json:"description,omitempty"`
	}
)

func specDetail(s spec.Spec) specBody {
	out := specBody{
		Type:                 s.Type,
		Subtype:              s.Subtype,
		Version:              s.Version,
		Name:                 s.Name,
		Description:          s.Description,
		Tags:                 s.Tags,
		Examples:             s.Examples,
		AllowAttached:        s.AllowAttached,
		SystemPromptAppendix: s.SystemPromptAppendix,
	}
	if len(s.Configurations) > 0 {
		out.Configurations = make(map[string]configBody, len(s.Configurations))
		for k, cs := range s.Configurations {
			out.Configurations[k] = configBody{
				Kind: cs.Kind, Default: cs.Default, Required: cs.Required,
				Options: cs.Options, Min: cs.Min, Max: cs.Max,
				Sensitive: cs.Sensitive, Multiline: cs.Multiline,
				Schema: cs.Schema, Description: cs.Description,
			}
		}
	}
	out.Input = paramBodies(s.Input)
	out.Output = paramBodies(s.Output)
	return out
}

func paramBodies(in map[string]spec.ParamSchema) map[string]paramBody {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]paramBody, len(in))
	for k, ps := range in {
		out[k] = paramBody{Kind: ps.Kind, Default: ps.Default, Required: ps.Required, Description: ps.Description}
	}
	return out
}
