package formula

// Function enumerates the fixed formula function library. The set is
// closed: dispatch happens through a switch over these constants, so a
// newly added function that misses an evaluation case is caught at
// review time rather than at runtime through a missing map entry.
type Function int

const (
	FuncIF Function = iota
	FuncAND
	FuncOR
	FuncNOT
	FuncCONCATENATE
	FuncUPPER
	FuncLOWER
	FuncLEN
	FuncROUND
	FuncABS
	FuncMAX
	FuncMIN
	FuncTODAY
	FuncDATEDIFF
	FuncISNULL
	FuncISBLANK
)

// functionSpec describes a library function's name and accepted arity.
// maxArgs < 0 means variadic.
type functionSpec struct {
	name    string
	minArgs int
	maxArgs int
}

var functionSpecs = map[Function]functionSpec{
	FuncIF:          {"IF", 3, 3},
	FuncAND:         {"AND", 1, -1},
	FuncOR:          {"OR", 1, -1},
	FuncNOT:         {"NOT", 1, 1},
	FuncCONCATENATE: {"CONCATENATE", 1, -1},
	FuncUPPER:       {"UPPER", 1, 1},
	FuncLOWER:       {"LOWER", 1, 1},
	FuncLEN:         {"LEN", 1, 1},
	FuncROUND:       {"ROUND", 1, 2},
	FuncABS:         {"ABS", 1, 1},
	FuncMAX:         {"MAX", 1, -1},
	FuncMIN:         {"MIN", 1, -1},
	FuncTODAY:       {"TODAY", 0, 0},
	FuncDATEDIFF:    {"DATEDIFF", 2, 2},
	FuncISNULL:      {"ISNULL", 1, 1},
	FuncISBLANK:     {"ISBLANK", 1, 1},
}

var functionsByName = func() map[string]Function {
	m := make(map[string]Function, len(functionSpecs))
	for fn, spec := range functionSpecs {
		m[spec.name] = fn
	}
	return m
}()

// LookupFunction resolves a function name. Names are case-sensitive and
// uppercase, matching the documented library.
func LookupFunction(name string) (Function, bool) {
	fn, ok := functionsByName[name]
	return fn, ok
}

// Name returns the library name of the function.
func (f Function) Name() string {
	return functionSpecs[f].name
}

// checkArity validates the argument count against the function's spec.
func (f Function) checkArity(n int) bool {
	spec := functionSpecs[f]
	if n < spec.minArgs {
		return false
	}
	if spec.maxArgs >= 0 && n > spec.maxArgs {
		return false
	}
	return true
}

// FunctionNames returns the library names in stable order, for display in
// the available-fields catalog.
func FunctionNames() []string {
	names := make([]string, 0, len(functionSpecs))
	for fn := FuncIF; fn <= FuncISBLANK; fn++ {
		names = append(names, functionSpecs[fn].name)
	}
	return names
}
