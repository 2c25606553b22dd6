// Package storage keeps the proofs accepted by the local orchestrator.
//
// # Overview
//
// A ProofStore records one ProofRecord per completed task. The orchestrator
// writes a record after it has verified the submitted hash, and reads them
// back for its status endpoint and for tests that need to inspect what a
// node actually delivered.
//
// # Architecture
//
//	┌─────────────────────────────────────┐
//	│        Coordinator Server           │
//	│   (/tasks/submit, /status)          │
//	└─────────────────────────────────────┘
//	                 │
//	                 ▼
//	┌─────────────────────────────────────┐
//	│          ProofStore                 │
//	│  (Put, Get, Delete, List, Stats)    │
//	└─────────────────────────────────────┘
//	                 │
//	                 ▼
//	            ┌────────┐
//	            │ Memory │
//	            │ Store  │
//	            └────────┘
//
// # Core Interface
//
// ProofStore: proofs keyed by task id
//   - Put(rec) - Store the proof of a completed task, once
//   - Get(taskID) - Retrieve a stored proof
//   - Delete(taskID) - Remove a proof (idempotent)
//   - List() - Task ids in ascending order
//   - Stats() - Counts and sizes, overall and per node
//
// # Implementations
//
// MemoryStore: in-memory storage behind a sync.RWMutex
//   - Records are copied on the way in and on the way out
//   - No persistence: data is lost on restart
//   - Suitable for the local environment and tests
//
// # Thread Safety
//
// Every ProofStore implementation must be safe for concurrent use; the
// orchestrator calls it from many request goroutines at once.
//
// Locking Strategy:
//   - Get, List and Stats take the shared lock
//   - Put and Delete take the exclusive lock
//   - No lock is held while copying data to the caller
//
// # Error Handling
//
// ErrDuplicateProof: the task already has a stored proof
//   - Returned by Put
//   - The first accepted proof wins
//
// ErrProofNotFound: no proof stored for the task
//   - Returned by Get
//   - Delete of a missing task is not an error
//
// # Usage
//
//	store := storage.NewMemoryStore()
//	err := store.Put(storage.ProofRecord{TaskID: 42, NodeID: "n1", Proof: proof})
//	if errors.Is(err, storage.ErrDuplicateProof) {
//	    // already accepted
//	}
//
//	rec, err := store.Get(42)
//	if errors.Is(err, storage.ErrProofNotFound) {
//	    // never submitted
//	}
package storage
