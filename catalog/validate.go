package catalog

import (
	"fmt"
	"strings"

	"github.com/relata/tally/formula"
)

// ValidationError reports why a formula was rejected: either field
// references that do not exist in the module, or an evaluation error
// surfaced from the synthetic dry run. MissingFields always contains
// every unresolved name so the user can fix the formula in one pass;
// Eval carries the structured error for renderers, with Kind
// formula.ErrKindUnknownField in the missing-field case.
type ValidationError struct {
	MissingFields []string
	Eval          *formula.EvalError
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if len(e.MissingFields) > 0 {
		return fmt.Sprintf("unknown field(s): %s", strings.Join(e.MissingFields, ", "))
	}
	if e.Eval != nil {
		return "formula cannot be evaluated: " + e.Eval.Error()
	}
	return "invalid formula"
}

// AsValidationError extracts a *ValidationError from err, or nil.
func AsValidationError(err error) *ValidationError {
	if ve, ok := err.(*ValidationError); ok {
		return ve
	}
	return nil
}

// Validate statically checks a formula against the available fields:
// every referenced field must exist, and the formula must evaluate
// cleanly against synthetic sample values of the declared types. A
// successful synthetic evaluation accepts the formula regardless of its
// result value; Validate checks evaluability, not business meaning.
// Nothing is mutated.
func Validate(source string, available []FieldDescriptor) error {
	refs, err := formula.ExtractFieldRefs(source)
	if err != nil {
		if ee := formula.AsEvalError(err); ee != nil {
			return &ValidationError{Eval: ee}
		}
		return err
	}

	byName := make(map[string]FieldDescriptor, len(available))
	for _, f := range available {
		byName[f.FieldName] = f
	}

	var missing []string
	for _, name := range refs {
		if _, ok := byName[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		token := "{" + missing[0] + "}"
		pos := strings.Index(source, token)
		if pos < 0 {
			pos = 0
		}
		return &ValidationError{
			MissingFields: missing,
			Eval: &formula.EvalError{
				Kind:    formula.ErrKindUnknownField,
				Message: fmt.Sprintf("unknown field(s): %s", strings.Join(missing, ", ")),
				Token:   token,
				Pos:     pos,
			},
		}
	}

	// Build a synthetic context with one representative value per field.
	ctx := make(formula.Context, len(available))
	for _, f := range available {
		ctx[f.FieldName] = SyntheticValue(f.FieldType)
	}

	if _, err := formula.Evaluate(source, ctx); err != nil {
		if ee := formula.AsEvalError(err); ee != nil {
			return &ValidationError{Eval: ee}
		}
		return err
	}
	return nil
}
