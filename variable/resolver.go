// Package variable implements the `{{steps.N.field[.subfield][index]}}`
// reference grammar used inside plan step parameters: parsing references
// out of arbitrary JSON-like values, validating them structurally against
// the step they appear in, and substituting them against prior step
// outputs at execution time.
package variable

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"planscope/errs"
)

// ExecutionContext exposes prior step outputs by step ID.
type ExecutionContext struct {
	Steps map[int]any
}

// pathSegment is either a field-name hop or an integer index hop.
type pathSegment struct {
	field   string
	index   int
	isIndex bool
}

// Reference is one parsed `{{steps.N...}}` (or legacy `{steps.N...}`)
// placeholder found in a value.
type Reference struct {
	Raw    string // exact substring matched, including braces
	StepID int
	path   []pathSegment
}

// doubleBraceRe matches the primary reference form. legacyRe matches the
// secondary single-brace form; both share the same path grammar.
var (
	doubleBraceRe = regexp.MustCompile(`\{\{\s*steps\.(\d+)((?:\.[A-Za-z_][A-Za-z0-9_]*|\[\d+\])*)\s*\}\}`)
	legacyRe      = regexp.MustCompile(`\{\s*steps\.(\d+)((?:\.[A-Za-z_][A-Za-z0-9_]*|\[\d+\])*)\s*\}`)
	hopRe         = regexp.MustCompile(`\.([A-Za-z_][A-Za-z0-9_]*)|\[(\d+)\]`)
)

// ParseReferences extracts every reference in s, preferring the double-brace
// form: once a double-brace match consumes a span, the legacy matcher is
// only applied to the remaining text so a double-brace reference is never
// double-counted as a legacy one.
func ParseReferences(s string) ([]Reference, error) {
	var refs []Reference
	var covered []string

	for _, m := range doubleBraceRe.FindAllStringSubmatch(s, -1) {
		ref, err := buildReference(m[0], m[1], m[2])
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
		covered = append(covered, m[0])
	}

	remainder := s
	for _, c := range covered {
		remainder = strings.Replace(remainder, c, "", 1)
	}
	for _, m := range legacyRe.FindAllStringSubmatch(remainder, -1) {
		ref, err := buildReference(m[0], m[1], m[2])
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}

	return refs, nil
}

func buildReference(raw, stepIDStr, pathStr string) (Reference, error) {
	stepID, err := strconv.Atoi(stepIDStr)
	if err != nil {
		return Reference{}, errs.Newf(errs.VariableResolution, "invalid step reference %q", raw)
	}
	var path []pathSegment
	for _, hop := range hopRe.FindAllStringSubmatch(pathStr, -1) {
		switch {
		case hop[1] != "":
			path = append(path, pathSegment{field: hop[1]})
		case hop[2] != "":
			idx, _ := strconv.Atoi(hop[2])
			path = append(path, pathSegment{index: idx, isIndex: true})
		}
	}
	return Reference{Raw: raw, StepID: stepID, path: path}, nil
}

// ValidateStructure rejects references that are structural errors rather
// than resolution-time failures: a step referencing itself or a step that
// has not yet executed (stepID >= currentStepID).
func ValidateStructure(currentStepID int, refs []Reference) error {
	for _, ref := range refs {
		if ref.StepID >= currentStepID {
			return errs.Newf(errs.VariableResolution,
				"step %d: reference %q targets step %d, which has not executed yet",
				currentStepID, ref.Raw, ref.StepID).WithStep(currentStepID)
		}
	}
	return nil
}

// Replacement records one substitution performed by Resolve, for logging.
type Replacement struct {
	Placeholder string
	Value       any
	Type        string
}

// Resolver substitutes `{{steps.N...}}` references against prior step
// outputs.
type Resolver struct{}

// New returns a Resolver.
func New() *Resolver { return &Resolver{} }

// Resolve walks value (a string, map, slice, or scalar) and substitutes
// every reference it contains, validating structure against currentStepID
// first. A value that is a single bare reference returns the referenced
// value with its original type preserved; a string containing references
// mixed with literal text returns a string with str(value) substituted at
// each position.
func (r *Resolver) Resolve(currentStepID int, value any, ctx ExecutionContext) (any, []Replacement, error) {
	var log []Replacement
	out, err := r.resolveValue(currentStepID, value, ctx, &log)
	if err != nil {
		return nil, nil, err
	}
	return out, log, nil
}

func (r *Resolver) resolveValue(currentStepID int, value any, ctx ExecutionContext, log *[]Replacement) (any, error) {
	switch v := value.(type) {
	case string:
		return r.resolveString(currentStepID, v, ctx, log)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, elem := range v {
			resolved, err := r.resolveValue(currentStepID, elem, ctx, log)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, elem := range v {
			resolved, err := r.resolveValue(currentStepID, elem, ctx, log)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return value, nil
	}
}

func (r *Resolver) resolveString(currentStepID int, s string, ctx ExecutionContext, log *[]Replacement) (any, error) {
	refs, err := ParseReferences(s)
	if err != nil {
		return nil, err
	}
	if len(refs) == 0 {
		return s, nil
	}
	if err := ValidateStructure(currentStepID, refs); err != nil {
		return nil, err
	}

	if len(refs) == 1 && strings.TrimSpace(s) == refs[0].Raw {
		val, err := r.lookup(refs[0], ctx)
		if err != nil {
			return nil, err
		}
		*log = append(*log, Replacement{Placeholder: refs[0].Raw, Value: val, Type: fmt.Sprintf("%T", val)})
		return val, nil
	}

	out := s
	for _, ref := range refs {
		val, err := r.lookup(ref, ctx)
		if err != nil {
			return nil, err
		}
		*log = append(*log, Replacement{Placeholder: ref.Raw, Value: val, Type: fmt.Sprintf("%T", val)})
		out = strings.Replace(out, ref.Raw, stringify(val), 1)
	}
	return out, nil
}

func (r *Resolver) lookup(ref Reference, ctx ExecutionContext) (any, error) {
	current, ok := ctx.Steps[ref.StepID]
	if !ok {
		return nil, errs.Newf(errs.VariableResolution, "step %d output is not available", ref.StepID).WithStep(ref.StepID)
	}
	for _, hop := range ref.path {
		var err error
		current, err = walk(current, hop, ref.StepID)
		if err != nil {
			return nil, err
		}
	}
	return current, nil
}

func walk(current any, hop pathSegment, stepID int) (any, error) {
	if hop.isIndex {
		slice, ok := current.([]any)
		if !ok {
			return nil, errs.Newf(errs.VariableResolution, "step %d: cannot index into non-list value", stepID).WithStep(stepID)
		}
		if hop.index < 0 || hop.index >= len(slice) {
			return nil, errs.Newf(errs.VariableResolution, "step %d: index %d out of range", stepID, hop.index).WithStep(stepID)
		}
		return slice[hop.index], nil
	}
	m, ok := current.(map[string]any)
	if !ok {
		return nil, errs.Newf(errs.VariableResolution, "step %d: field %q not found on non-mapping value", stepID, hop.field).WithStep(stepID)
	}
	val, ok := m[hop.field]
	if !ok {
		return nil, errs.Newf(errs.VariableResolution, "step %d: field %q not found", stepID, hop.field).WithStep(stepID)
	}
	return val, nil
}

func stringify(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", x)
	}
}
