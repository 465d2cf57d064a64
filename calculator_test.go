package calcmq

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculate(t *testing.T) {
	t.Run("exact IEEE results", func(t *testing.T) {
		tenth, fifth := 0.1, 0.2
		one, three := 1.0, 3.0

		tests := []struct {
			op   Operation
			a, b float64
			want float64
		}{
			{OperationAdd, 10, 5, 15},
			{OperationAdd, 0.1, 0.2, tenth + fifth},
			{OperationAdd, 0.1, 0.2, 0.30000000000000004},
			{OperationSubtract, 10, 4, 6},
			{OperationSubtract, -2.5, 2.5, -5},
			{OperationMultiply, 6, 7, 42},
			{OperationMultiply, 1e200, 1e200, math.Inf(1)},
			{OperationDivide, 15, 3, 5},
			{OperationDivide, 1, 3, one / three},
			{OperationDivide, -0.0, 4, 0},
		}

		for _, tt := range tests {
			got, err := Calculate(tt.op, tt.a, tt.b)
			require.NoError(t, err, "%v %s %v", tt.a, tt.op.Symbol(), tt.b)
			assert.Equal(t, tt.want, got, "%v %s %v", tt.a, tt.op.Symbol(), tt.b)
		}
	})

	t.Run("divide by exact zero fails for any dividend", func(t *testing.T) {
		for _, a := range []float64{0, 1, -1, 10, 1e-300, math.MaxFloat64, math.Inf(1), math.NaN()} {
			_, err := Calculate(OperationDivide, a, 0)
			assert.True(t, HasCode(err, ErrCodeDivisionByZero), "dividend %v", a)

			_, err = Calculate(OperationDivide, a, math.Copysign(0, -1))
			assert.True(t, HasCode(err, ErrCodeDivisionByZero), "dividend %v with -0", a)
		}
	})

	t.Run("tiny divisor is not zero", func(t *testing.T) {
		got, err := Calculate(OperationDivide, 1, 1e-300)
		require.NoError(t, err)
		one, tiny := 1.0, 1e-300
		assert.Equal(t, one/tiny, got)
		assert.Equal(t, 9.999999999999999e+299, got)
	})

	t.Run("unsupported operation", func(t *testing.T) {
		_, err := Calculate(Operation("Modulo"), 7, 2)
		assert.True(t, HasCode(err, ErrCodeUnsupportedOperation))
	})
}

func TestCalculator_Process(t *testing.T) {
	calc := NewCalculator(testLogger(t))

	t.Run("success", func(t *testing.T) {
		req := NewRequest(OperationMultiply, 6, 7, "R")
		resp := calc.Process(req)

		assert.True(t, resp.Success)
		assert.Equal(t, 42.0, resp.Result)
		assert.Equal(t, req.CorrelationID, resp.CorrelationID)
		assert.Equal(t, "Multiply", resp.Operation)
		assert.GreaterOrEqual(t, resp.ProcessingTimeMs, int64(0))
	})

	t.Run("division by zero", func(t *testing.T) {
		req := NewRequest(OperationDivide, 10, 0, "R")
		resp := calc.Process(req)

		assert.False(t, resp.Success)
		assert.Equal(t, 0.0, resp.Result)
		assert.Equal(t, DivisionByZeroMessage, resp.ErrorMessage)
		assert.Equal(t, req.CorrelationID, resp.CorrelationID)
		assert.Equal(t, "Divide", resp.Operation)
	})

	t.Run("unsupported operation", func(t *testing.T) {
		req := NewRequest(Operation("Power"), 2, 8, "R")
		resp := calc.Process(req)

		assert.False(t, resp.Success)
		assert.Equal(t, "Calculation error: Unsupported operation: Power", resp.ErrorMessage)
		assert.Equal(t, "Power", resp.Operation)
	})
}
