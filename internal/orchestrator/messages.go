package orchestrator

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of the orchestrator schema. They must never be reused.
const (
	fieldTaskReqNodeID   protowire.Number = 1
	fieldTaskReqNodeType protowire.Number = 2

	fieldTaskRespProgramID    protowire.Number = 1
	fieldTaskRespPublicInputs protowire.Number = 2
	fieldTaskRespTaskID       protowire.Number = 3

	fieldSubmitNodeID    protowire.Number = 1
	fieldSubmitNodeType  protowire.Number = 2
	fieldSubmitProofHash protowire.Number = 3
	fieldSubmitTelemetry protowire.Number = 4
	fieldSubmitProof     protowire.Number = 5
	fieldSubmitTaskID    protowire.Number = 6

	fieldTelemetryFlops    protowire.Number = 1
	fieldTelemetryMemUsed  protowire.Number = 2
	fieldTelemetryMemCap   protowire.Number = 3
	fieldTelemetryLocation protowire.Number = 4
)

var (
	errTruncated   = errors.New("truncated message")
	errInvalidUTF8 = errors.New("string field contains invalid UTF-8")
)

// TaskRequest asks the orchestrator for a proof task.
type TaskRequest struct {
	NodeID   string
	NodeType NodeType
}

// TaskResponse carries one assigned task.
type TaskResponse struct {
	ProgramID    string
	PublicInputs []byte
	TaskID       uint64
}

// SubmitRequest carries a finished proof.
type SubmitRequest struct {
	NodeID    string
	NodeType  NodeType
	ProofHash string
	Telemetry *NodeTelemetry
	Proof     []byte
	TaskID    uint64
}

func (m *TaskRequest) Marshal() []byte {
	var b []byte
	b = appendString(b, fieldTaskReqNodeID, m.NodeID)
	b = appendVarint(b, fieldTaskReqNodeType, uint64(int64(m.NodeType)))
	return b
}

func (m *TaskRequest) Unmarshal(b []byte) error {
	*m = TaskRequest{}
	return walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == fieldTaskReqNodeID && typ == protowire.BytesType:
			v, n, err := consumeString(b)
			if err != nil {
				return n, err
			}
			m.NodeID = v
			return n, nil
		case num == fieldTaskReqNodeType && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			m.NodeType = NodeType(int32(v))
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
}

func (m *TaskResponse) Marshal() []byte {
	var b []byte
	b = appendString(b, fieldTaskRespProgramID, m.ProgramID)
	b = appendBytes(b, fieldTaskRespPublicInputs, m.PublicInputs)
	b = appendVarint(b, fieldTaskRespTaskID, m.TaskID)
	return b
}

func (m *TaskResponse) Unmarshal(b []byte) error {
	*m = TaskResponse{}
	return walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == fieldTaskRespProgramID && typ == protowire.BytesType:
			v, n, err := consumeString(b)
			if err != nil {
				return n, err
			}
			m.ProgramID = v
			return n, nil
		case num == fieldTaskRespPublicInputs && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n >= 0 {
				m.PublicInputs = append([]byte(nil), v...)
			}
			return n, nil
		case num == fieldTaskRespTaskID && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			m.TaskID = v
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
}

func (m *SubmitRequest) Marshal() []byte {
	var b []byte
	b = appendString(b, fieldSubmitNodeID, m.NodeID)
	b = appendVarint(b, fieldSubmitNodeType, uint64(int64(m.NodeType)))
	b = appendString(b, fieldSubmitProofHash, m.ProofHash)
	if m.Telemetry != nil {
		b = protowire.AppendTag(b, fieldSubmitTelemetry, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalTelemetry(m.Telemetry))
	}
	b = appendBytes(b, fieldSubmitProof, m.Proof)
	b = appendVarint(b, fieldSubmitTaskID, m.TaskID)
	return b
}

func (m *SubmitRequest) Unmarshal(b []byte) error {
	*m = SubmitRequest{}
	return walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == fieldSubmitNodeID && typ == protowire.BytesType:
			v, n, err := consumeString(b)
			if err != nil {
				return n, err
			}
			m.NodeID = v
			return n, nil
		case num == fieldSubmitNodeType && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			m.NodeType = NodeType(int32(v))
			return n, nil
		case num == fieldSubmitProofHash && typ == protowire.BytesType:
			v, n, err := consumeString(b)
			if err != nil {
				return n, err
			}
			m.ProofHash = v
			return n, nil
		case num == fieldSubmitTelemetry && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			t, err := unmarshalTelemetry(v)
			if err != nil {
				return 0, fmt.Errorf("node_telemetry: %w", err)
			}
			m.Telemetry = t
			return n, nil
		case num == fieldSubmitProof && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n >= 0 {
				m.Proof = append([]byte(nil), v...)
			}
			return n, nil
		case num == fieldSubmitTaskID && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			m.TaskID = v
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
}

// Optional telemetry fields are written whenever set, zero included.
func marshalTelemetry(t *NodeTelemetry) []byte {
	var b []byte
	if t.FlopsPerSec != nil {
		b = protowire.AppendTag(b, fieldTelemetryFlops, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(int64(*t.FlopsPerSec)))
	}
	if t.MemoryUsedMB != nil {
		b = protowire.AppendTag(b, fieldTelemetryMemUsed, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(int64(*t.MemoryUsedMB)))
	}
	if t.MemoryCapacityMB != nil {
		b = protowire.AppendTag(b, fieldTelemetryMemCap, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(int64(*t.MemoryCapacityMB)))
	}
	if t.Location != nil {
		b = protowire.AppendTag(b, fieldTelemetryLocation, protowire.BytesType)
		b = protowire.AppendString(b, *t.Location)
	}
	return b
}

func unmarshalTelemetry(b []byte) (*NodeTelemetry, error) {
	t := &NodeTelemetry{}
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if typ == protowire.VarintType {
			var dst **int32
			switch num {
			case fieldTelemetryFlops:
				dst = &t.FlopsPerSec
			case fieldTelemetryMemUsed:
				dst = &t.MemoryUsedMB
			case fieldTelemetryMemCap:
				dst = &t.MemoryCapacityMB
			}
			if dst != nil {
				v, n := protowire.ConsumeVarint(b)
				*dst = Int32(int32(v))
				return n, nil
			}
		}
		if num == fieldTelemetryLocation && typ == protowire.BytesType {
			v, n, err := consumeString(b)
			if err != nil {
				return n, err
			}
			t.Location = String(v)
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// walk iterates the fields of b, handing each value to fn. fn returns the
// number of bytes it consumed or a negative protowire error code.
func walk(b []byte, fn func(protowire.Number, protowire.Type, []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		m, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		if m < 0 {
			return protowire.ParseError(m)
		}
		if m > len(b) {
			return errTruncated
		}
		b = b[m:]
	}
	return nil
}

// consumeString is protowire.ConsumeString with the UTF-8 check proto3
// requires of string fields.
func consumeString(b []byte) (string, int, error) {
	v, n := protowire.ConsumeString(b)
	if n >= 0 && !utf8.ValidString(v) {
		return "", n, errInvalidUTF8
	}
	return v, n, nil
}

// Proto3 scalars equal to their default are omitted from the encoding.

func appendString(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}
