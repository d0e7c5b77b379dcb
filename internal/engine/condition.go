// Package engine provides commission rule resolution and calculation.
package engine

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/opensource-logistics/heron/internal/domain"
)

// ConditionEvaluator compiles and evaluates optional per-rule CEL
// eligibility predicates. Compiled programs are cached by expression text.
type ConditionEvaluator struct {
	mu       sync.RWMutex
	env      *cel.Env
	programs map[string]cel.Program
}

// NewConditionEvaluator creates a CEL environment exposing the transaction
// context variables available to rule conditions.
func NewConditionEvaluator() (*ConditionEvaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("service_type", cel.StringType),
		cel.Variable("actor_role", cel.StringType),
		cel.Variable("zone", cel.StringType),
		cel.Variable("hour", cel.IntType),
		cel.Variable("weekday", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &ConditionEvaluator{
		env:      env,
		programs: make(map[string]cel.Program),
	}, nil
}

// Validate compiles an expression without caching it, for use at rule
// creation time.
func (e *ConditionEvaluator) Validate(expr string) error {
	if expr == "" {
		return nil
	}
	_, err := e.compile(expr)
	return err
}

// Eval evaluates a condition against a transaction context. An empty
// expression always matches.
func (e *ConditionEvaluator) Eval(expr string, tc *domain.TransactionContext) (bool, error) {
	if expr == "" {
		return true, nil
	}

	program, err := e.program(expr)
	if err != nil {
		return false, err
	}

	amount, _ := tc.Amount.Float64()
	activation := map[string]any{
		"amount":       amount,
		"service_type": tc.ServiceType,
		"actor_role":   string(tc.ActorRole),
		"zone":         tc.GeographicZone,
		"hour":         int64(tc.ReferenceTime.Hour()),
		"weekday":      int64(tc.ReferenceTime.Weekday()),
	}

	out, _, err := program.Eval(activation)
	if err != nil {
		return false, fmt.Errorf("condition evaluation failed: %w", err)
	}

	result, ok := out.(types.Bool)
	if !ok {
		return false, fmt.Errorf("condition returned %s, want bool", out.Type().TypeName())
	}
	return bool(result), nil
}

// program returns the cached compiled program for an expression,
// compiling and caching it on first use.
func (e *ConditionEvaluator) program(expr string) (cel.Program, error) {
	e.mu.RLock()
	program, ok := e.programs[expr]
	e.mu.RUnlock()
	if ok {
		return program, nil
	}

	program, err := e.compile(expr)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.programs[expr] = program
	e.mu.Unlock()

	return program, nil
}

func (e *ConditionEvaluator) compile(expr string) (cel.Program, error) {
	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile condition: %w", issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("condition must return bool, got %s", ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create condition program: %w", err)
	}
	return program, nil
}
