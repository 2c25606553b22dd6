package storage

import (
	"errors"
	"sync"
	"time"

	"golang.org/x/exp/slices"
)

// ErrProofNotFound is returned when no proof is stored for a task.
var ErrProofNotFound = errors.New("proof not found")

// ErrDuplicateProof is returned when a task already has a stored proof.
var ErrDuplicateProof = errors.New("proof already stored for task")

// ProofRecord is one accepted proof.
type ProofRecord struct {
	AcceptedAt time.Time // When the orchestrator verified the proof
	NodeID     string    // Node that submitted it
	ProgramID  string    // Program the proof is for
	ProofHash  string    // Hex sha256 of Proof as sent by the node
	Proof      []byte    // Raw proof bytes
	TaskID     uint64    // Task the proof completes
}

// ProofStore persists accepted proofs keyed by task id.
// All implementations must be thread-safe for concurrent access.
type ProofStore interface {
	// Put stores rec. Returns ErrDuplicateProof if the task already has one.
	Put(rec ProofRecord) error

	// Get returns the proof for taskID or ErrProofNotFound.
	Get(taskID uint64) (ProofRecord, error)

	// Delete removes the proof for taskID. No error if absent.
	Delete(taskID uint64) error

	// List returns every stored task id in ascending order.
	List() []uint64

	// Stats summarizes the store.
	Stats() StoreStats
}

// StoreStats contains statistics about the store
type StoreStats struct {
	PerNode map[string]int // Proofs accepted per node
	Proofs  int            // Number of stored proofs
	Bytes   int            // Total size of all proofs in bytes
}

// MemoryStore implements ProofStore with in-memory storage
type MemoryStore struct {
	mu   sync.RWMutex           // Protects data
	data map[uint64]ProofRecord // Records by task id
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[uint64]ProofRecord),
	}
}

// Put stores a copy of rec. A task can be stored only once.
//
// Parameters:
//   - rec: The accepted proof; rec.TaskID is the key
//
// Returns:
//   - error: ErrDuplicateProof if the task already has a proof
//
// Example:
//
//	err := store.Put(storage.ProofRecord{TaskID: 7, NodeID: "n1", Proof: proof})
func (m *MemoryStore) Put(rec ProofRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.data[rec.TaskID]; exists {
		return ErrDuplicateProof
	}
	rec.Proof = slices.Clone(rec.Proof)
	m.data[rec.TaskID] = rec
	return nil
}

// Get returns a copy of the stored record.
//
// Parameters:
//   - taskID: Task whose proof to retrieve
//
// Returns:
//   - ProofRecord: A copy safe to modify
//   - error: ErrProofNotFound if nothing is stored for taskID
func (m *MemoryStore) Get(taskID uint64) (ProofRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, exists := m.data[taskID]
	if !exists {
		return ProofRecord{}, ErrProofNotFound
	}
	rec.Proof = slices.Clone(rec.Proof)
	return rec, nil
}

// Delete removes a record (idempotent)
func (m *MemoryStore) Delete(taskID uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.data, taskID)
	return nil
}

// List returns all task ids in ascending order
func (m *MemoryStore) List() []uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]uint64, 0, len(m.data))
	for id := range m.data {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Stats returns storage statistics
func (m *MemoryStore) Stats() StoreStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := StoreStats{PerNode: make(map[string]int)}
	for _, rec := range m.data {
		stats.Proofs++
		stats.Bytes += len(rec.Proof)
		stats.PerNode[rec.NodeID]++
	}
	return stats
}
