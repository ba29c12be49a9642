// Package predicate evaluates the CEL expressions attached to conditional
// edges and Splitter branches (spec.md §4.1, §4.4). Adapted directly from
// the teacher's cmd/workflow-runner/condition/evaluator.go: same
// compile-and-cache-by-expression-text strategy, binding only the "output"
// variable (no "ctx"), generalized to drop the workflow-runner's legacy
// "$.field" -> "output.field" JSONPath rewrite (the spec's predicates are
// plain CEL over worker output, nothing authors a JSONPath form here).
package predicate

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// Evaluator compiles and caches CEL programs keyed by expression text.
type Evaluator struct {
	mu    sync.RWMutex
	cache map[string]cel.Program
}

// New creates an Evaluator with an empty program cache.
func New() *Evaluator {
	return &Evaluator{cache: make(map[string]cel.Program)}
}

// Evaluate runs expr against the upstream node's output and returns its
// boolean result. Used both for conditional-edge gating (§4.1) and Splitter
// branch predicates (§4.4, "truthy on worker output").
func (e *Evaluator) Evaluate(expr string, output map[string]interface{}) (bool, error) {
	prg, err := e.program(expr)
	if err != nil {
		return false, err
	}

	out, _, err := prg.Eval(map[string]interface{}{"output": output})
	if err != nil {
		return false, fmt.Errorf("CEL evaluation error: %w", err)
	}

	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("CEL expression %q did not return a boolean, got %T", expr, out.Value())
	}
	return result, nil
}

func (e *Evaluator) program(expr string) (cel.Program, error) {
	e.mu.RLock()
	prg, ok := e.cache[expr]
	e.mu.RUnlock()
	if ok {
		return prg, nil
	}

	env, err := cel.NewEnv(cel.Variable("output", cel.DynType))
	if err != nil {
		return nil, fmt.Errorf("create CEL env: %w", err)
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("CEL compile error in %q: %w", expr, issues.Err())
	}
	prg, err = env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("CEL program error in %q: %w", expr, err)
	}

	e.mu.Lock()
	e.cache[expr] = prg
	e.mu.Unlock()
	return prg, nil
}
