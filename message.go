package calcmq

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/agilira/go-timecache"
	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
)

// Operation is the arithmetic operation requested by a CalculationRequest.
// It travels on the wire as its enum name.
type Operation string

const (
	OperationAdd      Operation = "Add"
	OperationSubtract Operation = "Subtract"
	OperationMultiply Operation = "Multiply"
	OperationDivide   Operation = "Divide"
)

// Valid reports whether op is one of the four supported operations.
func (op Operation) Valid() bool {
	switch op {
	case OperationAdd, OperationSubtract, OperationMultiply, OperationDivide:
		return true
	}
	return false
}

// Symbol returns the infix operator used when printing op.
func (op Operation) Symbol() string {
	switch op {
	case OperationAdd:
		return "+"
	case OperationSubtract:
		return "-"
	case OperationMultiply:
		return "*"
	case OperationDivide:
		return "/"
	}
	return "?"
}

// CalculationRequest is sent by a Producer onto the request queue.
type CalculationRequest struct {
	Operand1      float64   `json:"operand1"`
	Operand2      float64   `json:"operand2"`
	Operation     Operation `json:"operation"`
	CorrelationID string    `json:"correlationId"`
	ReplyTo       string    `json:"replyTo"`
	Timestamp     time.Time `json:"timestamp"`
}

// CalculationResponse is published by a Consumer onto the request's reply
// queue, or synthesized by a Producer on a local failure or timeout.
type CalculationResponse struct {
	CorrelationID    string    `json:"correlationId"`
	Result           float64   `json:"result"`
	Success          bool      `json:"success"`
	ErrorMessage     string    `json:"errorMessage,omitempty"`
	Operation        string    `json:"operation"`
	Timestamp        time.Time `json:"timestamp"`
	ProcessingTimeMs int64     `json:"processingTimeMs"`
}

// now returns the current wall time without a monotonic reading, so that
// timestamps survive an encode/decode round trip unchanged.
func now() time.Time {
	return timecache.CachedTime().UTC()
}

// NewRequest creates a request with a fresh correlation id
func NewRequest(op Operation, operand1, operand2 float64, replyTo string) *CalculationRequest {
	return &CalculationRequest{
		Operand1:      operand1,
		Operand2:      operand2,
		Operation:     op,
		CorrelationID: uuid.New().String(),
		ReplyTo:       replyTo,
		Timestamp:     now(),
	}
}

// NewSuccessResponse creates a successful response for correlationID
func NewSuccessResponse(correlationID string, op Operation, result float64) *CalculationResponse {
	return &CalculationResponse{
		CorrelationID: correlationID,
		Result:        result,
		Success:       true,
		Operation:     string(op),
		Timestamp:     now(),
	}
}

// NewFailureResponse creates a failed response for correlationID. Result is
// always zero.
func NewFailureResponse(correlationID string, errorMessage string) *CalculationResponse {
	return &CalculationResponse{
		CorrelationID: correlationID,
		Success:       false,
		ErrorMessage:  errorMessage,
		Timestamp:     now(),
	}
}

const maxPayloadSize = 1024 * 1024 // 1MB

// EncodeRequest serializes a request to its JSON wire form
func EncodeRequest(req *CalculationRequest) ([]byte, error) {
	return json.Marshal(req)
}

// DecodeRequest deserializes a request with safety validations
func DecodeRequest(data []byte) (*CalculationRequest, error) {
	if len(data) > maxPayloadSize {
		return nil, newDecodeError("request", fmt.Errorf("payload size %d exceeds limit %d", len(data), maxPayloadSize))
	}

	var req CalculationRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, newDecodeError("request", err)
	}

	if req.CorrelationID == "" {
		return nil, newDecodeError("request", fmt.Errorf("missing correlationId"))
	}

	return &req, nil
}

// EncodeResponse serializes a response to its JSON wire form
func EncodeResponse(resp *CalculationResponse) ([]byte, error) {
	return json.Marshal(resp)
}

// DecodeResponse deserializes a response with safety validations
func DecodeResponse(data []byte) (*CalculationResponse, error) {
	if len(data) > maxPayloadSize {
		return nil, newDecodeError("response", fmt.Errorf("payload size %d exceeds limit %d", len(data), maxPayloadSize))
	}

	var resp CalculationResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, newDecodeError("response", err)
	}

	if resp.CorrelationID == "" {
		return nil, newDecodeError("response", fmt.Errorf("missing correlationId"))
	}

	return &resp, nil
}

// frameOp is a command understood by the Broker
type frameOp string

const (
	frameOpPut     frameOp = "put"
	frameOpGet     frameOp = "get"
	frameOpDeclare frameOp = "declare"
	frameOpReply   frameOp = "reply"
)

// brokerFrame is the msgpack envelope exchanged between a ZMQTransport and
// a Broker. Replies carry the ID of the command they answer.
type brokerFrame struct {
	ID      string  `msgpack:"id"`
	Op      frameOp `msgpack:"op"`
	Queue   string  `msgpack:"queue,omitempty"`
	Payload []byte  `msgpack:"payload,omitempty"`
	Found   bool    `msgpack:"found,omitempty"`
	Error   string  `msgpack:"error,omitempty"`
}

func newCommandFrame(op frameOp, queue string, payload []byte) *brokerFrame {
	return &brokerFrame{
		ID:      uuid.New().String(),
		Op:      op,
		Queue:   queue,
		Payload: payload,
	}
}

func newReplyFrame(id string) *brokerFrame {
	return &brokerFrame{
		ID: id,
		Op: frameOpReply,
	}
}

const maxFrameSize = 2 * maxPayloadSize

// pack serializes the frame to msgpack
func (f *brokerFrame) pack() ([]byte, error) {
	return msgpack.Marshal(f)
}

// unpackFrame deserializes a frame from msgpack
func unpackFrame(data []byte) (*brokerFrame, error) {
	if len(data) > maxFrameSize {
		return nil, newDecodeError("frame", fmt.Errorf("frame size %d exceeds limit %d", len(data), maxFrameSize))
	}

	var f brokerFrame
	if err := msgpack.Unmarshal(data, &f); err != nil {
		return nil, newDecodeError("frame", err)
	}
	if f.ID == "" {
		return nil, newDecodeError("frame", fmt.Errorf("missing id"))
	}
	return &f, nil
}
