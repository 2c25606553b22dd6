// Package worker runs the prover task cycle.
//
// A Cycle is one worker's loop: fetch a task from the orchestrator, prove it
// on the worker's own executor thread, submit the proof, cool down, repeat.
// Fetch and submit failures are retried with exponential backoff; prover
// failures discard the task and go straight back to fetching. Every
// transition is reported on the shared status channel.
//
// A Pool spawns a fixed number of cycles and waits for all of them. Workers
// share the orchestrator client and the status channel and nothing else.
package worker
