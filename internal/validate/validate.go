// Package validate implements hard validation of pipeline documents against
// versioned JSON schema definitions, plus the structural checks the schema
// cannot express (duplicate stage names). Compiled schemas are cached per
// definition id.
package validate

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/santhosh-tekuri/jsonschema/v6/kind"

	"github.com/dslhub/dslhub/internal/canonicaljson"
	"github.com/dslhub/dslhub/internal/model"
)

// Issue codes.
const (
	CodeRequired    = "required"
	CodeType        = "type"
	CodeEnum        = "enum"
	CodeDuplicateID = "duplicate_id"
	CodeSchema      = "schema"
)

const (
	defaultCacheSize = 64
	defaultCacheTTL  = 10 * time.Minute
)

// Validator validates pipeline content against schema definitions.
type Validator struct {
	cache *expirable.LRU[string, *jsonschema.Schema]
}

// New constructs a Validator with a bounded compiled-schema cache.
func New() *Validator {
	return &Validator{
		cache: expirable.NewLRU[string, *jsonschema.Schema](defaultCacheSize, nil, defaultCacheTTL),
	}
}

// Validate checks content against the schema definition and returns every
// finding. Schema violations for required, type and enum keywords are errors,
// as are duplicate stage names; remaining keyword violations are warnings.
// The returned error reports compiler failures only, never content findings.
func (v *Validator) Validate(def model.SchemaDefinition, content map[string]any) ([]model.ValidationIssue, error) {
	sch, err := v.compiled(def)
	if err != nil {
		return nil, err
	}
	instance, err := normalize(content)
	if err != nil {
		return nil, err
	}

	var issues []model.ValidationIssue
	if err := sch.Validate(instance); err != nil {
		var ve *jsonschema.ValidationError
		if !asValidationError(err, &ve) {
			return nil, err
		}
		issues = append(issues, flatten(ve)...)
	}
	issues = append(issues, duplicateStageNames(content)...)
	return issues, nil
}

// HasErrors reports whether any issue has error severity.
func HasErrors(issues []model.ValidationIssue) bool {
	for _, issue := range issues {
		if issue.Severity == model.SeverityError {
			return true
		}
	}
	return false
}

func (v *Validator) compiled(def model.SchemaDefinition) (*jsonschema.Schema, error) {
	if sch, ok := v.cache.Get(def.ID); ok {
		return sch, nil
	}
	raw, err := canonicaljson.Marshal(def.Schema)
	if err != nil {
		return nil, fmt.Errorf("serialize schema %s: %w", def.ID, err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse schema %s: %w", def.ID, err)
	}
	compiler := jsonschema.NewCompiler()
	url := "schema:///" + def.ID + ".json"
	if err := compiler.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("register schema %s: %w", def.ID, err)
	}
	sch, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", def.ID, err)
	}
	v.cache.Add(def.ID, sch)
	return sch, nil
}

// normalize round-trips content through canonical JSON so the instance uses
// the value types the validator expects.
func normalize(content map[string]any) (any, error) {
	raw, err := canonicaljson.Marshal(content)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(bytes.NewReader(raw))
}

func asValidationError(err error, out **jsonschema.ValidationError) bool {
	ve, ok := err.(*jsonschema.ValidationError)
	if ok {
		*out = ve
	}
	return ok
}

// flatten walks the cause tree and emits one issue per leaf violation.
func flatten(ve *jsonschema.ValidationError) []model.ValidationIssue {
	if len(ve.Causes) > 0 {
		var out []model.ValidationIssue
		for _, cause := range ve.Causes {
			out = append(out, flatten(cause)...)
		}
		return out
	}

	path := pointer(ve.InstanceLocation)
	switch k := ve.ErrorKind.(type) {
	case *kind.Required:
		out := make([]model.ValidationIssue, 0, len(k.Missing))
		for _, missing := range k.Missing {
			out = append(out, model.ValidationIssue{
				Path:     path + "/" + escapeToken(missing),
				Code:     CodeRequired,
				Severity: model.SeverityError,
				Message:  fmt.Sprintf("missing required property %q", missing),
			})
		}
		return out
	case *kind.Type:
		return []model.ValidationIssue{{
			Path:     path,
			Code:     CodeType,
			Severity: model.SeverityError,
			Message:  fmt.Sprintf("got %s, want %s", k.Got, strings.Join(k.Want, " or ")),
		}}
	case *kind.Enum:
		return []model.ValidationIssue{{
			Path:     path,
			Code:     CodeEnum,
			Severity: model.SeverityError,
			Message:  "value is not one of the allowed values",
		}}
	default:
		return []model.ValidationIssue{{
			Path:     path,
			Code:     CodeSchema,
			Severity: model.SeverityWarning,
			Message:  fmt.Sprintf("%v", ve.ErrorKind),
		}}
	}
}

// pointer renders an instance location as a JSON pointer; the document root
// is the empty pointer.
func pointer(tokens []string) string {
	if len(tokens) == 0 {
		return ""
	}
	var b strings.Builder
	for _, tok := range tokens {
		b.WriteByte('/')
		b.WriteString(escapeToken(tok))
	}
	return b.String()
}

func escapeToken(tok string) string {
	tok = strings.ReplaceAll(tok, "~", "~0")
	return strings.ReplaceAll(tok, "/", "~1")
}

// duplicateStageNames flags repeated stage names, which the schema alone
// cannot reject.
func duplicateStageNames(content map[string]any) []model.ValidationIssue {
	stages, ok := content["stages"].([]any)
	if !ok {
		return nil
	}
	seen := make(map[string]bool, len(stages))
	var dups []string
	for _, raw := range stages {
		stage, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		name, ok := stage["name"].(string)
		if !ok || name == "" {
			continue
		}
		if seen[name] && !contains(dups, name) {
			dups = append(dups, name)
		}
		seen[name] = true
	}
	out := make([]model.ValidationIssue, 0, len(dups))
	for _, name := range dups {
		out = append(out, model.ValidationIssue{
			Path:     "/stages",
			Code:     CodeDuplicateID,
			Severity: model.SeverityError,
			Message:  fmt.Sprintf("duplicate stage name %q", name),
		})
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
