package calcmq

import (
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// Calculate applies op to a and b. Divide fails when b is exactly zero.
func Calculate(op Operation, a, b float64) (float64, error) {
	switch op {
	case OperationAdd:
		return a + b, nil
	case OperationSubtract:
		return a - b, nil
	case OperationMultiply:
		return a * b, nil
	case OperationDivide:
		if b == 0 {
			return 0, newDivisionByZeroError(a)
		}
		return a / b, nil
	}
	return 0, newUnsupportedOperationError(op)
}

// Calculator turns requests into responses. It holds no mutable state and is
// safe for concurrent use.
type Calculator struct {
	log zerolog.Logger
}

// NewCalculator creates a Calculator that logs through log
func NewCalculator(log zerolog.Logger) *Calculator {
	return &Calculator{log: log.With().Str("component", "calculator").Logger()}
}

// Process computes the response for req. Calculation errors become failure
// responses; Process never fails.
func (c *Calculator) Process(req *CalculationRequest) *CalculationResponse {
	start := time.Now()

	c.log.Debug().
		Str("correlation_id", req.CorrelationID).
		Str("operation", string(req.Operation)).
		Float64("operand1", req.Operand1).
		Float64("operand2", req.Operand2).
		Msg("processing calculation")

	result, err := Calculate(req.Operation, req.Operand1, req.Operand2)

	var resp *CalculationResponse
	switch {
	case err == nil:
		resp = NewSuccessResponse(req.CorrelationID, req.Operation, result)
		c.log.Info().
			Str("correlation_id", req.CorrelationID).
			Str("expression", formatExpression(req)).
			Float64("result", result).
			Msg("calculation completed")
	case HasCode(err, ErrCodeDivisionByZero):
		resp = NewFailureResponse(req.CorrelationID, DivisionByZeroMessage)
		c.log.Warn().
			Str("correlation_id", req.CorrelationID).
			Msg("division by zero attempted")
	default:
		resp = NewFailureResponse(req.CorrelationID, "Calculation error: "+calculationErrorText(req.Operation))
		c.log.Error().
			Err(err).
			Str("correlation_id", req.CorrelationID).
			Msg("error performing calculation")
	}

	resp.Operation = string(req.Operation)
	resp.ProcessingTimeMs = time.Since(start).Milliseconds()
	return resp
}

// calculationErrorText is the client-facing reason for a failed calculation
// other than division by zero.
func calculationErrorText(op Operation) string {
	if !op.Valid() {
		return "Unsupported operation: " + string(op)
	}
	return "unexpected failure in " + string(op)
}

func formatExpression(req *CalculationRequest) string {
	return strconv.FormatFloat(req.Operand1, 'g', -1, 64) + " " + req.Operation.Symbol() + " " +
		strconv.FormatFloat(req.Operand2, 'g', -1, 64)
}
