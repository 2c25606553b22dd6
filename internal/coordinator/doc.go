// Package coordinator implements a local orchestrator: the server side of the
// task protocol spoken by prover nodes.
//
// # Overview
//
// The coordinator hands out proving tasks, tracks which node holds each one,
// verifies submitted proofs against their hash and stores the accepted ones.
// It is used for the "local" environment and by integration tests; it is not
// a replacement for the production orchestrator.
//
// # Architecture
//
//	┌──────────────┐  POST /tasks         ┌──────────────────────────────┐
//	│ prover node  │ ───────────────────▶ │ Server                       │
//	│ (N workers)  │  POST /tasks/submit  │  ├─ Catalog (program choice) │
//	└──────────────┘ ───────────────────▶ │  ├─ TaskRegistry (leases)    │
//	                                      │  ├─ LeaseMonitor (expiry)    │
//	                                      │  └─ storage.ProofStore       │
//	                                      └──────────────────────────────┘
//
// # Task Lifecycle
//
//  1. A node asks for work. The Catalog picks a program for the node id and
//     the registry issues a new task with a lease held by that node.
//  2. The node proves and submits. The registry checks the lease holder and
//     that proof_hash is the hex sha256 of the proof, then releases the
//     lease and the proof is stored.
//  3. Leases not completed within the TTL are reclaimed by the LeaseMonitor
//     so abandoned tasks do not count against a node forever.
//
// # Back Pressure
//
// A node holding MaxLeasesPerNode outstanding tasks is answered with 429,
// which clients treat as retryable and back off from.
//
// # Wire Format
//
// Request and response bodies use the binary encoding from the orchestrator
// package with Content-Type application/octet-stream. Error responses are
// plain text with a meaningful status code.
package coordinator
