package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
	"pgregory.net/rapid"
)

// TestSubmitRequestProperty checks that any submission survives the wire,
// including the distinction between an unset and a zero telemetry field.
func TestSubmitRequestProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		in := SubmitRequest{
			NodeID:    rapid.String().Draw(t, "nodeID"),
			NodeType:  NodeType(rapid.Int32Range(0, 1).Draw(t, "nodeType")),
			ProofHash: rapid.StringMatching(`[0-9a-f]{0,64}`).Draw(t, "hash"),
			Proof:     rapid.SliceOf(rapid.Byte()).Draw(t, "proof"),
			TaskID:    rapid.Uint64().Draw(t, "taskID"),
		}
		if rapid.Bool().Draw(t, "hasTelemetry") {
			tel := &NodeTelemetry{}
			if rapid.Bool().Draw(t, "hasFlops") {
				tel.FlopsPerSec = Int32(rapid.Int32().Draw(t, "flops"))
			}
			if rapid.Bool().Draw(t, "hasMem") {
				tel.MemoryUsedMB = Int32(rapid.Int32().Draw(t, "mem"))
			}
			if rapid.Bool().Draw(t, "hasLoc") {
				tel.Location = String(rapid.String().Draw(t, "loc"))
			}
			in.Telemetry = tel
		}

		var out SubmitRequest
		if err := out.Unmarshal(in.Marshal()); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if len(in.Proof) == 0 {
			in.Proof = nil
		}
		assert.Equal(t, in, out)
	})
}

// TestUnknownFieldsSkipped simulates a newer orchestrator that added fields.
func TestUnknownFieldsSkipped(t *testing.T) {
	resp := TaskResponse{ProgramID: "fib", PublicInputs: []byte{9}, TaskID: 7}
	b := resp.Marshal()
	b = protowire.AppendTag(b, 15, protowire.BytesType)
	b = protowire.AppendString(b, "future")
	b = protowire.AppendTag(b, 16, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, 99)

	var out TaskResponse
	require.NoError(t, out.Unmarshal(b))
	assert.Equal(t, resp, out)
}

func TestInvalidUTF8Rejected(t *testing.T) {
	bad := string([]byte{'n', 0xc3, 0x28})

	var b []byte
	b = protowire.AppendTag(b, fieldSubmitNodeID, protowire.BytesType)
	b = protowire.AppendString(b, bad)
	var sub SubmitRequest
	assert.ErrorIs(t, sub.Unmarshal(b), errInvalidUTF8)

	b = nil
	b = protowire.AppendTag(b, fieldTaskReqNodeID, protowire.BytesType)
	b = protowire.AppendString(b, bad)
	var req TaskRequest
	assert.ErrorIs(t, req.Unmarshal(b), errInvalidUTF8)

	in := SubmitRequest{NodeID: "n", Telemetry: &NodeTelemetry{Location: String(bad)}}
	assert.ErrorIs(t, sub.Unmarshal(in.Marshal()), errInvalidUTF8)
}

// TestFieldNumbers pins the encoding against hand-assembled bytes.
func TestFieldNumbers(t *testing.T) {
	req := TaskRequest{NodeID: "ab", NodeType: NodeTypeCLIProver}
	assert.Equal(t, []byte{0x0a, 0x02, 'a', 'b', 0x10, 0x01}, req.Marshal())

	resp := TaskResponse{ProgramID: "f", PublicInputs: []byte{9}, TaskID: 42}
	assert.Equal(t, []byte{0x0a, 0x01, 'f', 0x12, 0x01, 0x09, 0x18, 42}, resp.Marshal())
}

func TestNegativeTelemetryValues(t *testing.T) {
	in := SubmitRequest{Telemetry: &NodeTelemetry{MemoryCapacityMB: Int32(-5)}}
	var out SubmitRequest
	require.NoError(t, out.Unmarshal(in.Marshal()))
	require.NotNil(t, out.Telemetry)
	assert.Equal(t, int32(-5), *out.Telemetry.MemoryCapacityMB)
}

func TestNodeTypeString(t *testing.T) {
	assert.Equal(t, "CLI_PROVER", NodeTypeCLIProver.String())
	assert.Equal(t, "WEB_PROVER", NodeTypeWebProver.String())
	assert.Equal(t, "UNKNOWN", NodeType(9).String())
}

func TestParseEnvironment(t *testing.T) {
	env, err := ParseEnvironment("")
	require.NoError(t, err)
	assert.Equal(t, EnvProduction, env)

	env, err = ParseEnvironment(" Beta ")
	require.NoError(t, err)
	assert.Equal(t, "https://beta.orchestrator.nexus.xyz", env.BaseURL())

	_, err = ParseEnvironment("mars")
	assert.Error(t, err)
}
