package model

import (
	"fmt"
	"math"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/opensource-finance/heron/internal/domain"
)

// CEL scores a capture with a CEL expression. Every model input signal is
// declared as a double variable, together with the full signal map and the
// two fingerprints. The result is clamped to [0, 1].
//
//	typing_speed > 3.0 && device_hash != "" ? 0.8 : 0.4
type CEL struct {
	mu         sync.RWMutex
	env        *cel.Env
	program    cel.Program
	expression string
}

// NewCEL compiles expression into a model.
func NewCEL(expression string) (*CEL, error) {
	vars := []cel.EnvOption{
		cel.Variable("signals", cel.MapType(cel.StringType, cel.DoubleType)),
		cel.Variable("device_hash", cel.StringType),
		cel.Variable("location_hash", cel.StringType),
	}
	for _, name := range InputNames() {
		vars = append(vars, cel.Variable(name, cel.DoubleType))
	}

	env, err := cel.NewEnv(vars...)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	m := &CEL{env: env}
	if err := m.Reload(expression); err != nil {
		return nil, err
	}
	return m, nil
}

// Reload replaces the expression. The previous program stays active if
// compilation fails.
func (m *CEL) Reload(expression string) error {
	program, err := m.compile(expression)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.program = program
	m.expression = expression
	return nil
}

// Predict evaluates the expression against a capture.
func (m *CEL) Predict(fv domain.FeatureVector) (float64, error) {
	m.mu.RLock()
	program := m.program
	m.mu.RUnlock()

	signals := make(map[string]float64, len(fv.Signals))
	for k, v := range fv.Signals {
		signals[k] = v
	}
	activation := map[string]any{
		"signals":       signals,
		"device_hash":   fv.DeviceHash,
		"location_hash": fv.LocationHash,
	}
	x := Vectorize(fv)
	for i, name := range InputNames() {
		activation[name] = x[i]
	}

	out, _, err := program.Eval(activation)
	if err != nil {
		return NeutralProbability, fmt.Errorf("evaluation error: %w", err)
	}
	p := toProbability(out)
	if math.IsNaN(p) || math.IsInf(p, 0) {
		return NeutralProbability, fmt.Errorf("model expression produced %v", p)
	}
	return math.Max(0, math.Min(1, p)), nil
}

// Available is true once an expression compiled.
func (m *CEL) Available() bool { return true }

// Version identifies the model by expression.
func (m *CEL) Version() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return "cel:" + m.expression
}

func (m *CEL) compile(expression string) (cel.Program, error) {
	if expression == "" {
		return nil, fmt.Errorf("CEL model requires an expression")
	}
	ast, issues := m.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile model expression: %w", issues.Err())
	}

	outputType := ast.OutputType()
	if outputType != cel.BoolType && outputType != cel.DoubleType && outputType != cel.IntType {
		return nil, fmt.Errorf("model expression must return bool, int, or double, got %s", outputType)
	}

	program, err := m.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program: %w", err)
	}
	return program, nil
}

// toProbability converts a CEL value to a number.
func toProbability(val ref.Val) float64 {
	switch v := val.(type) {
	case types.Bool:
		if v {
			return 1.0
		}
		return 0.0
	case types.Double:
		return float64(v)
	case types.Int:
		return float64(v)
	default:
		return 0.0
	}
}
