package service

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// LimitEvaluator evaluates CCP limit expressions using CEL. Compiled
// programs are cached per expression.
type LimitEvaluator struct {
	cache map[string]cel.Program
	mu    sync.RWMutex
}

// NewLimitEvaluator creates a new limit evaluator
func NewLimitEvaluator() *LimitEvaluator {
	return &LimitEvaluator{
		cache: make(map[string]cel.Program),
	}
}

// Eval evaluates a limit expression against a measured temperature and
// reports whether the measurement is within limits
func (e *LimitEvaluator) Eval(expr string, temperature float64) (bool, error) {
	e.mu.RLock()
	prg, exists := e.cache[expr]
	e.mu.RUnlock()

	if !exists {
		var err error
		prg, err = e.compile(expr)
		if err != nil {
			return false, err
		}

		e.mu.Lock()
		e.cache[expr] = prg
		e.mu.Unlock()
	}

	out, _, err := prg.Eval(map[string]interface{}{
		"temperature": temperature,
	})
	if err != nil {
		return false, fmt.Errorf("limit evaluation error: %w", err)
	}

	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("limit expression did not return boolean, got %T", out.Value())
	}

	return result, nil
}

func (e *LimitEvaluator) compile(expr string) (cel.Program, error) {
	env, err := cel.NewEnv(
		cel.Variable("temperature", cel.DoubleType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL env: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("limit expression compile error: %w", issues.Err())
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}

	return prg, nil
}
