// Package orchestrator implements the wire protocol spoken between a prover
// node and the orchestrator that hands out proof tasks.
//
// # Protocol
//
// Two RPCs, both POST over HTTP with protobuf-encoded bodies and
// Content-Type application/octet-stream:
//
//	POST /tasks         TaskRequest   -> TaskResponse
//	POST /tasks/submit  SubmitRequest -> empty body (or an ack the node ignores)
//
// Messages are encoded with protowire so unknown fields from newer
// orchestrators are skipped instead of rejected.
//
// # Errors
//
// Every failure is returned as *ProtocolError with one of three kinds:
//
//   - KindUnreachable: the request never produced an HTTP response
//   - KindStatus: the orchestrator answered with a non-2xx status
//   - KindDecode: a 2xx response body could not be decoded
//
// Status errors carry a Retryable flag: 408, 429, 502, 504 and every other
// 5xx are transient; 400, 401, 403, 404 and anything else are not.
//
// # Concurrency
//
// Client holds no per-request state. One instance is shared by every worker
// in the pool; each call builds its own request.
package orchestrator
