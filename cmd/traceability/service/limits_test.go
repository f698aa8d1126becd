package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimitEvaluator_Eval(t *testing.T) {
	e := NewLimitEvaluator()

	cases := []struct {
		expr string
		temp float64
		want bool
	}{
		{"temperature <= 4.0", 2.0, true},
		{"temperature <= 4.0", 4.0, true},
		{"temperature <= 4.0", 6.5, false},
		{"temperature >= -18.0 && temperature <= -15.0", -16.5, true},
		{"temperature >= -18.0 && temperature <= -15.0", -10.0, false},
	}

	for _, c := range cases {
		got, err := e.Eval(c.expr, c.temp)
		require.NoError(t, err, "%s with %.1f", c.expr, c.temp)
		assert.Equal(t, c.want, got, "%s with %.1f", c.expr, c.temp)
	}
}

func TestLimitEvaluator_ReusesCompiledProgram(t *testing.T) {
	e := NewLimitEvaluator()

	_, err := e.Eval("temperature <= 4.0", 1.0)
	require.NoError(t, err)

	e.mu.RLock()
	_, cached := e.cache["temperature <= 4.0"]
	e.mu.RUnlock()
	assert.True(t, cached)

	got, err := e.Eval("temperature <= 4.0", 5.0)
	require.NoError(t, err)
	assert.False(t, got)
}

func TestLimitEvaluator_CompileError(t *testing.T) {
	e := NewLimitEvaluator()

	_, err := e.Eval("temperature <=", 1.0)
	require.Error(t, err)
}

func TestLimitEvaluator_NonBooleanExpression(t *testing.T) {
	e := NewLimitEvaluator()

	_, err := e.Eval("temperature + 1.0", 1.0)
	require.Error(t, err)
}
