package syncengine

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Transformation expressions run against a sandboxed environment: the coerced
// field value is bound as `value`, plus a handful of pure string/number
// helpers. No host code, no I/O, no access to other fields. Examples:
//
//	value * 1.8 + 32
//	upper(trim(value))
//	"user-" + string(value)
var transformHelpers = map[string]interface{}{
	"upper": strings.ToUpper,
	"lower": strings.ToLower,
	"trim":  strings.TrimSpace,
}

// CompileTransform compiles a transformation expression once. Compilation
// errors are reported at mapping time per record, not swallowed.
func CompileTransform(src string) (*vm.Program, error) {
	env := map[string]interface{}{"value": nil}
	for name, fn := range transformHelpers {
		env[name] = fn
	}
	prog, err := expr.Compile(src, expr.Env(env), expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("failed to compile transformation %q: %w", src, err)
	}
	return prog, nil
}

// RunTransform evaluates a compiled transformation against one value. It
// must not throw: runtime faults inside the expression VM are converted to
// an error so a bad transformation never takes down a record.
func RunTransform(prog *vm.Program, value interface{}) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("transformation panicked: %v", r)
		}
	}()

	env := map[string]interface{}{"value": value}
	for name, fn := range transformHelpers {
		env[name] = fn
	}
	out, err := expr.Run(prog, env)
	if err != nil {
		return nil, fmt.Errorf("transformation failed: %w", err)
	}
	return out, nil
}
