package orchestrator

// NodeType tells the orchestrator what kind of prover is asking for work.
type NodeType int32

const (
	NodeTypeWebProver NodeType = 0
	NodeTypeCLIProver NodeType = 1
)

func (t NodeType) String() string {
	switch t {
	case NodeTypeWebProver:
		return "WEB_PROVER"
	case NodeTypeCLIProver:
		return "CLI_PROVER"
	default:
		return "UNKNOWN"
	}
}

// ProofTask is one unit of work assigned by the orchestrator. A worker holds
// at most one at a time and never persists it.
type ProofTask struct {
	ProgramID   string
	PublicInput []byte
	TaskID      uint64
}

// ProofSubmission is the result of a task. ProofHash must be the hex sha256
// of Proof and TaskID must echo the fetched task unchanged.
type ProofSubmission struct {
	NodeID    string
	ProofHash string
	Proof     []byte
	TaskID    uint64
	Telemetry NodeTelemetry
}

// NodeTelemetry describes the submitting node. A nil field means unknown,
// which is different from zero.
type NodeTelemetry struct {
	FlopsPerSec      *int32
	MemoryUsedMB     *int32
	MemoryCapacityMB *int32
	Location         *string
}

// Int32 returns a pointer to v, for filling optional telemetry fields.
func Int32(v int32) *int32 { return &v }

// String returns a pointer to v.
func String(v string) *string { return &v }
