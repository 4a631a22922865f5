package spec

import (
	"fmt"
	"net/mail"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

type (
	// Registry is the immutable node specification catalog. Register all
	// specs during process start, then call Seal; after sealing the registry
	// is read-only and lookups require no locking.
	Registry struct {
		mu     sync.Mutex
		sealed bool
		specs  map[key]Spec

		schemaOnce sync.Once
		schemas    map[key]map[string]*jsonschema.Schema
	}

	key struct {
		typ     Type
		subtype string
	}
)

// NewRegistry constructs an empty, unsealed registry.
func NewRegistry() *Registry {
	return &Registry{specs: make(map[key]Spec)}
}

// Register adds a spec to the catalog. It fails on duplicate (type, subtype)
// pairs, invalid types, and registration after Seal.
func (r *Registry) Register(s Spec) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return fmt.Errorf("registry is sealed; cannot register %s.%s", s.Type, s.Subtype)
	}
	if !s.Type.Valid() {
		return fmt.Errorf("invalid node type %q", s.Type)
	}
	if s.Subtype == "" {
		return fmt.Errorf("spec for type %s has empty subtype", s.Type)
	}
	if s.AllowAttached && s.Type != TypeAIAgent {
		return fmt.Errorf("%s.%s: only AI_AGENT specs may allow attached nodes", s.Type, s.Subtype)
	}
	k := key{s.Type, s.Subtype}
	if _, dup := r.specs[k]; dup {
		return fmt.Errorf("duplicate spec %s.%s", s.Type, s.Subtype)
	}
	r.specs[k] = s
	return nil
}

// Seal marks the registry read-only. Lookups before Seal still take the
// registration lock; after Seal they are lock-free.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// Lookup resolves a (type, subtype) pair. The returned error wraps
// ErrNotFound and carries kind UNKNOWN_SUBTYPE when no spec matches.
func (r *Registry) Lookup(t Type, subtype string) (Spec, error) {
	if !r.isSealed() {
		r.mu.Lock()
		defer r.mu.Unlock()
	}
	s, ok := r.specs[key{t, subtype}]
	if !ok {
		return Spec{}, &Error{
			Kind:    KindUnknownSubtype,
			Subtype: subtype,
			Message: fmt.Sprintf("no spec registered for %s.%s", t, subtype),
		}
	}
	return s, nil
}

// List returns every registered spec sorted by (type, subtype).
func (r *Registry) List() []Spec {
	if !r.isSealed() {
		r.mu.Lock()
		defer r.mu.Unlock()
	}
	out := make([]Spec, 0, len(r.specs))
	for _, s := range r.specs {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		return out[i].Subtype < out[j].Subtype
	})
	return out
}

// ListByType groups registered subtypes by node type, each group sorted.
func (r *Registry) ListByType() map[Type][]string {
	out := make(map[Type][]string)
	for _, s := range r.List() {
		out[s.Type] = append(out[s.Type], s.Subtype)
	}
	return out
}

// ValidateConfig checks cfg against the spec's configuration schema and
// returns every violation found. A nil slice means the configuration is
// valid. Required keys missing from cfg are only errors when the spec
// declares no default for them.
func (r *Registry) ValidateConfig(s Spec, cfg map[string]any) []*Error {
	var errs []*Error
	for k := range cfg {
		if _, ok := s.Configurations[k]; !ok {
			errs = append(errs, &Error{
				Kind: KindConfigType, Subtype: s.Subtype, Key: k,
				Message: "unknown configuration key",
			})
		}
	}
	for k, cs := range s.Configurations {
		v, ok := cfg[k]
		if !ok || v == nil {
			if cs.Required && cs.Default == nil {
				errs = append(errs, &Error{
					Kind: KindConfigMissing, Subtype: s.Subtype, Key: k,
					Message: "required configuration key has no value and no default",
				})
			}
			continue
		}
		if err := r.checkValue(s, k, cs, v); err != nil {
			errs = append(errs, err)
		}
	}
	sort.Slice(errs, func(i, j int) bool { return errs[i].Key < errs[j].Key })
	return errs
}

// Materialize applies spec defaults to overrides and returns a fully
// populated NodeInstance. It rejects unknown keys and invalid values with
// the same structured errors as ValidateConfig. Materialize is idempotent:
// applying it twice to the same (spec, overrides) yields equal instances.
func (r *Registry) Materialize(s Spec, nodeID string, overrides map[string]any) (NodeInstance, error) {
	if errs := r.ValidateConfig(s, overrides); len(errs) > 0 {
		return NodeInstance{}, errs[0]
	}
	cfg := make(map[string]any, len(s.Configurations))
	for k, cs := range s.Configurations {
		if v, ok := overrides[k]; ok && v != nil {
			cfg[k] = v
			continue
		}
		if cs.Default != nil {
			cfg[k] = cs.Default
		}
	}
	in := make(map[string]any, len(s.Input))
	for k, ps := range s.Input {
		if ps.Default != nil {
			in[k] = ps.Default
		}
	}
	out := make(map[string]any, len(s.Output))
	for k, ps := range s.Output {
		if ps.Default != nil {
			out[k] = ps.Default
		}
	}
	return NodeInstance{
		ID:             nodeID,
		Type:           s.Type,
		Subtype:        s.Subtype,
		Configurations: cfg,
		InputParams:    in,
		OutputParams:   out,
	}, nil
}

func (r *Registry) isSealed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sealed
}

func (r *Registry) checkValue(s Spec, k string, cs ConfigSchema, v any) *Error {
	typeErr := func(msg string) *Error {
		return &Error{Kind: KindConfigType, Subtype: s.Subtype, Key: k, Message: msg}
	}
	switch cs.Kind {
	case KindString, KindFile:
		if _, ok := v.(string); !ok {
			return typeErr(fmt.Sprintf("expected %s, got %T", cs.Kind, v))
		}
	case KindEnum:
		sv, ok := v.(string)
		if !ok {
			return typeErr(fmt.Sprintf("expected enum string, got %T", v))
		}
		for _, opt := range cs.Options {
			if sv == opt {
				return nil
			}
		}
		return &Error{
			Kind: KindEnumNotAllowed, Subtype: s.Subtype, Key: k,
			Message: fmt.Sprintf("%q not in {%s}", sv, strings.Join(cs.Options, ", ")),
		}
	case KindURL:
		sv, ok := v.(string)
		if !ok {
			return typeErr(fmt.Sprintf("expected url string, got %T", v))
		}
		u, err := url.Parse(sv)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return typeErr(fmt.Sprintf("%q is not an absolute URL", sv))
		}
	case KindEmail:
		sv, ok := v.(string)
		if !ok {
			return typeErr(fmt.Sprintf("expected email string, got %T", v))
		}
		if _, err := mail.ParseAddress(sv); err != nil {
			return typeErr(fmt.Sprintf("%q is not a valid email address", sv))
		}
	case KindCron:
		sv, ok := v.(string)
		if !ok {
			return typeErr(fmt.Sprintf("expected cron string, got %T", v))
		}
		if _, err := cron.ParseStandard(sv); err != nil {
			return typeErr(fmt.Sprintf("invalid cron expression: %v", err))
		}
	case KindInt:
		n, ok := asInt(v)
		if !ok {
			return typeErr(fmt.Sprintf("expected int, got %T", v))
		}
		return r.checkRange(s, k, cs, float64(n))
	case KindFloat:
		f, ok := asFloat(v)
		if !ok {
			return typeErr(fmt.Sprintf("expected float, got %T", v))
		}
		return r.checkRange(s, k, cs, f)
	case KindBool:
		if _, ok := v.(bool); !ok {
			return typeErr(fmt.Sprintf("expected bool, got %T", v))
		}
	case KindJSON:
		if cs.Schema != "" {
			sch := r.compiledSchema(s, k, cs)
			if sch == nil {
				return typeErr("json schema for key does not compile")
			}
			if err := sch.Validate(v); err != nil {
				return typeErr(fmt.Sprintf("value does not satisfy schema: %v", err))
			}
		}
	default:
		return typeErr(fmt.Sprintf("unsupported config kind %q", cs.Kind))
	}
	return nil
}

func (r *Registry) checkRange(s Spec, k string, cs ConfigSchema, f float64) *Error {
	if cs.Min != nil && f < *cs.Min {
		return &Error{
			Kind: KindNumericOutOfRange, Subtype: s.Subtype, Key: k,
			Message: fmt.Sprintf("%v is below minimum %v", f, *cs.Min),
		}
	}
	if cs.Max != nil && f > *cs.Max {
		return &Error{
			Kind: KindNumericOutOfRange, Subtype: s.Subtype, Key: k,
			Message: fmt.Sprintf("%v is above maximum %v", f, *cs.Max),
		}
	}
	return nil
}

// compiledSchema lazily compiles the JSON schemas declared by registered
// specs. Compilation happens at most once per registry; failures yield nil
// so the caller reports a structured error instead of panicking.
func (r *Registry) compiledSchema(s Spec, cfgKey string, cs ConfigSchema) *jsonschema.Schema {
	r.schemaOnce.Do(func() {
		r.schemas = make(map[key]map[string]*jsonschema.Schema)
		for k, sp := range r.specs {
			for name, c := range sp.Configurations {
				if c.Kind != KindJSON || c.Schema == "" {
					continue
				}
				compiler := jsonschema.NewCompiler()
				doc, err := jsonschema.UnmarshalJSON(strings.NewReader(c.Schema))
				if err != nil {
					continue
				}
				res := fmt.Sprintf("flow://%s/%s/%s.json", sp.Type, sp.Subtype, name)
				if err := compiler.AddResource(res, doc); err != nil {
					continue
				}
				sch, err := compiler.Compile(res)
				if err != nil {
					continue
				}
				if r.schemas[k] == nil {
					r.schemas[k] = make(map[string]*jsonschema.Schema)
				}
				r.schemas[k][name] = sch
			}
		}
	})
	return r.schemas[key{s.Type, s.Subtype}][cfgKey]
}

func asInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		if n == float64(int64(n)) {
			return int64(n), true
		}
	case float32:
		if float64(n) == float64(int64(n)) {
			return int64(n), true
		}
	}
	return 0, false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
