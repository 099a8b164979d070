package backend

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/alan-christopher/entangle/entangle/circuit"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// DefaultMaxFrameBytes bounds a single frame read from the wire.
var DefaultMaxFrameBytes = 16 << 20

// A framer reads and writes framed protocol buffers to the wire.
// The structure of the frame is trivial:  proto-length | proto
type framer struct {
	rw       io.ReadWriter
	maxBytes int
}

func (f *framer) Write(m proto.Message) error {
	marshalled, err := proto.Marshal(m)
	if err != nil {
		return err
	}
	if err := binary.Write(f.rw, binary.LittleEndian, int32(len(marshalled))); err != nil {
		return err
	}
	if _, err := f.rw.Write(marshalled); err != nil {
		return err
	}
	return nil
}

func (f *framer) Read(m proto.Message) error {
	var mLen int32
	if err := binary.Read(f.rw, binary.LittleEndian, &mLen); err != nil {
		return err
	}
	limit := f.maxBytes
	if limit == 0 {
		limit = DefaultMaxFrameBytes
	}
	if mLen < 0 || int(mLen) > limit {
		return fmt.Errorf("frame of %d bytes outside [0, %d]", mLen, limit)
	}
	marshalled := make([]byte, mLen)
	if _, err := io.ReadFull(f.rw, marshalled); err != nil {
		return err
	}
	return proto.Unmarshal(marshalled, m)
}

// Wire error codes carried in response frames.
const (
	codeUnavailable = "backend_unavailable"
	codeInvalid     = "invalid_circuit"
	codeCapacity    = "capacity_exceeded"
	codeInternal    = "internal"
)

func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidCircuit):
		return codeInvalid
	case errors.Is(err, ErrCapacityExceeded):
		return codeCapacity
	case errors.Is(err, ErrBackendUnavailable):
		return codeUnavailable
	}
	return codeInternal
}

func codeError(code, msg string) error {
	switch code {
	case codeInvalid:
		return fmt.Errorf("%w: %s", ErrInvalidCircuit, msg)
	case codeCapacity:
		return fmt.Errorf("%w: %s", ErrCapacityExceeded, msg)
	case codeUnavailable:
		return fmt.Errorf("%w: %s", ErrBackendUnavailable, msg)
	}
	// Unclassified device faults are treated as transient.
	return fmt.Errorf("%w: device error %q: %s", ErrBackendUnavailable, code, msg)
}

// A request asks the far end to run a circuit.
type request struct {
	JobID   string
	Shots   int
	Circuit *circuit.Circuit
}

func (r request) encode() (*structpb.Struct, error) {
	ops := make([]interface{}, 0, len(r.Circuit.Ops))
	for _, op := range r.Circuit.Ops {
		qs := make([]interface{}, len(op.Qubits))
		for i, q := range op.Qubits {
			qs[i] = q
		}
		o := map[string]interface{}{
			"gate":   string(op.Gate),
			"qubits": qs,
		}
		if len(op.Params) > 0 {
			ps := make([]interface{}, len(op.Params))
			for i, p := range op.Params {
				ps[i] = p
			}
			o["params"] = ps
		}
		if op.Gate == circuit.Measure {
			o["clbit"] = op.Clbit
		}
		if op.If != nil {
			o["if"] = map[string]interface{}{"clbit": op.If.Clbit, "value": op.If.Value}
		}
		ops = append(ops, o)
	}
	return structpb.NewStruct(map[string]interface{}{
		"job_id":     r.JobID,
		"shots":      r.Shots,
		"name":       r.Circuit.Name,
		"num_qubits": r.Circuit.NumQubits,
		"num_clbits": r.Circuit.NumClbits,
		"ops":        ops,
	})
}

func decodeRequest(s *structpb.Struct) (request, error) {
	m := s.AsMap()
	var r request
	var err error
	if r.JobID, err = stringField(m, "job_id"); err != nil {
		return r, err
	}
	if r.Shots, err = intField(m, "shots"); err != nil {
		return r, err
	}
	name, err := stringField(m, "name")
	if err != nil {
		return r, err
	}
	nq, err := intField(m, "num_qubits")
	if err != nil {
		return r, err
	}
	nc, err := intField(m, "num_clbits")
	if err != nil {
		return r, err
	}
	c := circuit.New(name, nq, nc)
	rawOps, ok := m["ops"].([]interface{})
	if !ok {
		return r, errors.New("request has no ops list")
	}
	for i, raw := range rawOps {
		om, ok := raw.(map[string]interface{})
		if !ok {
			return r, fmt.Errorf("op %d is not an object", i)
		}
		op, err := decodeOp(om)
		if err != nil {
			return r, fmt.Errorf("op %d: %w", i, err)
		}
		c.Ops = append(c.Ops, op)
	}
	r.Circuit = c
	return r, nil
}

func decodeOp(m map[string]interface{}) (circuit.Op, error) {
	var op circuit.Op
	g, err := stringField(m, "gate")
	if err != nil {
		return op, err
	}
	op.Gate = circuit.Gate(g)
	if !circuit.Known(op.Gate) {
		return op, fmt.Errorf("%w: unknown gate %q", ErrInvalidCircuit, g)
	}
	if op.Qubits, err = intList(m, "qubits"); err != nil {
		return op, err
	}
	if _, ok := m["params"]; ok {
		raw, _ := m["params"].([]interface{})
		for _, v := range raw {
			p, ok := v.(float64)
			if !ok {
				return op, fmt.Errorf("param %v is not a number", v)
			}
			op.Params = append(op.Params, p)
		}
	}
	if _, ok := m["clbit"]; ok {
		if op.Clbit, err = intField(m, "clbit"); err != nil {
			return op, err
		}
	}
	if raw, ok := m["if"]; ok {
		cm, ok := raw.(map[string]interface{})
		if !ok {
			return op, errors.New("condition is not an object")
		}
		cond := &circuit.Condition{}
		if cond.Clbit, err = intField(cm, "clbit"); err != nil {
			return op, err
		}
		if cond.Value, err = intField(cm, "value"); err != nil {
			return op, err
		}
		op.If = cond
	}
	return op, nil
}

// A response carries either counts or a coded error back to the caller.
type response struct {
	JobID   string
	Counts  Counts
	Code    string
	Message string
}

func (r response) encode() (*structpb.Struct, error) {
	m := map[string]interface{}{"job_id": r.JobID}
	if r.Code != "" {
		m["error"] = map[string]interface{}{"code": r.Code, "message": r.Message}
	} else {
		counts := make(map[string]interface{}, len(r.Counts))
		for k, v := range r.Counts {
			counts[k] = v
		}
		m["counts"] = counts
	}
	return structpb.NewStruct(m)
}

func decodeResponse(s *structpb.Struct) (response, error) {
	m := s.AsMap()
	var r response
	var err error
	if r.JobID, err = stringField(m, "job_id"); err != nil {
		return r, err
	}
	if raw, ok := m["error"]; ok {
		em, ok := raw.(map[string]interface{})
		if !ok {
			return r, errors.New("error is not an object")
		}
		if r.Code, err = stringField(em, "code"); err != nil {
			return r, err
		}
		r.Message, _ = em["message"].(string)
		return r, nil
	}
	cm, ok := m["counts"].(map[string]interface{})
	if !ok {
		return r, errors.New("response has neither counts nor error")
	}
	r.Counts = make(Counts, len(cm))
	for k := range cm {
		n, err := intField(cm, k)
		if err != nil {
			return r, err
		}
		r.Counts[k] = n
	}
	return r, nil
}

func stringField(m map[string]interface{}, key string) (string, error) {
	v, ok := m[key].(string)
	if !ok {
		return "", fmt.Errorf("field %q missing or not a string", key)
	}
	return v, nil
}

func intField(m map[string]interface{}, key string) (int, error) {
	v, ok := m[key].(float64)
	if !ok {
		return 0, fmt.Errorf("field %q missing or not a number", key)
	}
	if v != math.Trunc(v) || math.Abs(v) > math.MaxInt32 {
		return 0, fmt.Errorf("field %q = %v is not an integer", key, v)
	}
	return int(v), nil
}

func intList(m map[string]interface{}, key string) ([]int, error) {
	raw, ok := m[key].([]interface{})
	if !ok {
		return nil, fmt.Errorf("field %q missing or not a list", key)
	}
	out := make([]int, len(raw))
	for i, v := range raw {
		f, ok := v.(float64)
		if !ok || f != math.Trunc(f) {
			return nil, fmt.Errorf("field %q[%d] = %v is not an integer", key, i, v)
		}
		out[i] = int(f)
	}
	return out, nil
}
