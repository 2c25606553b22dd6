// Package coordinator provides the local orchestrator that hands out proof tasks.
// This file implements the task registry that issues tasks and tracks leases.
package coordinator

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/exp/slices"

	"github.com/dreamware/proofnode/internal/orchestrator"
)

var (
	// ErrUnknownTask is returned for a task id that was never issued or
	// whose lease was already completed or reclaimed.
	ErrUnknownTask = errors.New("unknown task")
	// ErrNotLeaseHolder is returned when a node submits a task leased to
	// another node.
	ErrNotLeaseHolder = errors.New("task is leased to another node")
	// ErrHashMismatch is returned when proof_hash is not sha256(proof).
	ErrHashMismatch = errors.New("proof hash does not match proof")
	// ErrTooManyLeases is returned when a node already holds its quota of
	// outstanding tasks.
	ErrTooManyLeases = errors.New("too many outstanding tasks")
)

// Lease records which node holds a task and until when.
//
// Thread Safety:
// Lease values are copies. The registry never hands out its own pointers.
type Lease struct {
	Issued    time.Time // When the task was handed out
	Expires   time.Time // After this the lease may be reclaimed
	NodeID    string    // The node working on the task
	ProgramID string    // Program the node must prove
	Input     []byte    // Public input of the task
	TaskID    uint64    // Unique, increasing task identifier
}

// RegistryConfig tunes lease handling.
type RegistryConfig struct {
	TTL              time.Duration // How long a node may hold a task before it is reclaimed
	MaxLeasesPerNode int           // Outstanding tasks allowed per node; zero means no limit
}

// TaskRegistry issues tasks and tracks their leases.
//
// Concurrency Model:
//   - Issue, Complete and Reclaim take the exclusive lock
//   - Lookups take the read lock
//   - All returned data is copied
type TaskRegistry struct {
	leases  map[uint64]*Lease // Active leases by task id
	catalog *Catalog          // Programs handed out to nodes
	now     func() time.Time  // Clock, replaceable in tests
	issued  map[string]uint64 // Lifetime task count per node
	cfg     RegistryConfig    // Lease TTL and quota
	nextID  uint64            // Next task id to issue, starting at 1
	mu      sync.RWMutex      // Protects leases, issued and nextID
}

// NewTaskRegistry creates a registry drawing programs from catalog.
//
// Parameters:
//   - catalog: programs to hand out (required)
//   - cfg: lease TTL and per-node quota; a zero TTL means 10 minutes
//
// Example:
//
//	reg := NewTaskRegistry(DefaultCatalog(), RegistryConfig{TTL: time.Minute})
//	lease, err := reg.Issue("node-1")
func NewTaskRegistry(catalog *Catalog, cfg RegistryConfig) *TaskRegistry {
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Minute
	}
	return &TaskRegistry{
		leases:  make(map[uint64]*Lease),
		issued:  make(map[string]uint64),
		catalog: catalog,
		cfg:     cfg,
		now:     time.Now,
		nextID:  1,
	}
}

// Issue creates a new task for nodeID and leases it to that node.
// Task ids increase monotonically and are never reused.
//
// Parameters:
//   - nodeID: The requesting node (required, non-empty)
//
// Returns:
//   - Lease: The new lease
//   - error: ErrTooManyLeases if the node is at its quota, or an error if
//     nodeID is empty
//
// Example:
//
//	lease, err := reg.Issue("node-1")
//	if errors.Is(err, ErrTooManyLeases) {
//	    // answer 429
//	}
func (r *TaskRegistry) Issue(nodeID string) (Lease, error) {
	if strings.TrimSpace(nodeID) == "" {
		return Lease{}, errors.New("node ID cannot be empty")
	}
	program := r.catalog.ForNode(nodeID)

	r.mu.Lock()
	defer r.mu.Unlock()

	if limit := r.cfg.MaxLeasesPerNode; limit > 0 && r.countLocked(nodeID) >= limit {
		return Lease{}, ErrTooManyLeases
	}

	id := r.nextID
	r.nextID++
	now := r.now()
	l := &Lease{
		TaskID:    id,
		NodeID:    nodeID,
		ProgramID: program.ID,
		Input:     program.Input(id),
		Issued:    now,
		Expires:   now.Add(r.cfg.TTL),
	}
	r.leases[id] = l
	r.issued[nodeID]++
	return copyLease(l), nil
}

// Complete verifies a submission and releases its lease.
//
// Checks, in order:
//  1. The task has an active lease (ErrUnknownTask)
//  2. The submitting node holds it (ErrNotLeaseHolder)
//  3. ProofHash equals hex(sha256(Proof)) (ErrHashMismatch)
//
// On a hash mismatch the lease is kept so the node may resubmit.
//
// Parameters:
//   - sub: The submission as decoded from the wire
//
// Returns:
//   - Lease: The released lease on success
//   - error: One of the errors above, wrapped with the task id
func (r *TaskRegistry) Complete(sub orchestrator.ProofSubmission) (Lease, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.leases[sub.TaskID]
	if !ok {
		return Lease{}, fmt.Errorf("task %d: %w", sub.TaskID, ErrUnknownTask)
	}
	if l.NodeID != sub.NodeID {
		return Lease{}, fmt.Errorf("task %d: %w", sub.TaskID, ErrNotLeaseHolder)
	}
	sum := sha256.Sum256(sub.Proof)
	if !strings.EqualFold(hex.EncodeToString(sum[:]), sub.ProofHash) {
		return Lease{}, fmt.Errorf("task %d: %w", sub.TaskID, ErrHashMismatch)
	}

	delete(r.leases, sub.TaskID)
	return copyLease(l), nil
}

// Reclaim drops every lease that expired before now and returns the
// reclaimed task ids in ascending order.
//
// Parameters:
//   - now: Reference time; leases with Expires before it are dropped
//
// Returns:
//   - []uint64: Reclaimed task ids, nil if none expired
func (r *TaskRegistry) Reclaim(now time.Time) []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	var reclaimed []uint64
	for id, l := range r.leases {
		if now.After(l.Expires) {
			delete(r.leases, id)
			reclaimed = append(reclaimed, id)
		}
	}
	slices.Sort(reclaimed)
	return reclaimed
}

// Get returns a copy of the active lease for taskID, or nil if the task
// is unknown, completed or reclaimed.
func (r *TaskRegistry) Get(taskID uint64) *Lease {
	r.mu.RLock()
	defer r.mu.RUnlock()

	l, ok := r.leases[taskID]
	if !ok {
		return nil
	}
	c := copyLease(l)
	return &c
}

// Outstanding returns the number of active leases held by nodeID.
func (r *TaskRegistry) Outstanding(nodeID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.countLocked(nodeID)
}

// Active returns every active lease ordered by task id.
func (r *TaskRegistry) Active() []Lease {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Lease, 0, len(r.leases))
	for _, l := range r.leases {
		out = append(out, copyLease(l))
	}
	slices.SortFunc(out, func(a, b Lease) int {
		switch {
		case a.TaskID < b.TaskID:
			return -1
		case a.TaskID > b.TaskID:
			return 1
		}
		return 0
	})
	return out
}

// Issued returns how many tasks each node has been handed in total.
func (r *TaskRegistry) Issued() map[string]uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]uint64, len(r.issued))
	for k, v := range r.issued {
		out[k] = v
	}
	return out
}

func (r *TaskRegistry) countLocked(nodeID string) int {
	n := 0
	for _, l := range r.leases {
		if l.NodeID == nodeID {
			n++
		}
	}
	return n
}

func copyLease(l *Lease) Lease {
	c := *l
	c.Input = slices.Clone(l.Input)
	return c
}
