package formula

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupFunction(t *testing.T) {
	fn, ok := LookupFunction("CONCATENATE")
	require.True(t, ok)
	assert.Equal(t, FuncCONCATENATE, fn)

	_, ok = LookupFunction("concatenate")
	assert.False(t, ok, "function names are uppercase")

	_, ok = LookupFunction("EVAL")
	assert.False(t, ok)
}

func TestFunctionNamesComplete(t *testing.T) {
	names := FunctionNames()
	assert.Len(t, names, len(functionSpecs))
	assert.Contains(t, names, "IF")
	assert.Contains(t, names, "DATEDIFF")
	assert.Contains(t, names, "ISBLANK")

	// Every advertised name resolves back to its function
	for _, name := range names {
		_, ok := LookupFunction(name)
		assert.True(t, ok, name)
	}
}

func TestCheckArity(t *testing.T) {
	assert.True(t, FuncIF.checkArity(3))
	assert.False(t, FuncIF.checkArity(2))
	assert.True(t, FuncROUND.checkArity(1))
	assert.True(t, FuncROUND.checkArity(2))
	assert.False(t, FuncROUND.checkArity(3))
	assert.True(t, FuncMAX.checkArity(10), "MAX is variadic")
	assert.False(t, FuncMAX.checkArity(0))
	assert.True(t, FuncTODAY.checkArity(0))
}

func TestEvalErrorFormats(t *testing.T) {
	ee := &EvalError{
		Kind:        ErrKindUnknownFunction,
		Message:     "unknown function SUMIF",
		Token:       "SUMIF",
		Pos:         4,
		Suggestions: []string{"use MAX or MIN"},
	}

	plain := ee.FormatError(ErrorContextPlain)
	assert.Contains(t, plain, "unknown function SUMIF")
	assert.Contains(t, plain, `"SUMIF"`)
	assert.Contains(t, plain, "use MAX or MIN")
	assert.Equal(t, plain, ee.Error())

	terminal := ee.FormatError(ErrorContextTerminal)
	assert.Contains(t, terminal, "SUMIF")
}
