package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// ContentType is sent and expected on both RPCs.
	ContentType = "application/octet-stream"

	PathTasks  = "/tasks"
	PathSubmit = "/tasks/submit"

	// DefaultHTTPTimeout bounds a single round trip. Callers that need a
	// tighter ceiling pass a context deadline.
	DefaultHTTPTimeout = 60 * time.Second

	maxResponseBytes = 64 << 20
)

// ErrResponseTooLarge is wrapped by the decode error returned when a 2xx
// body exceeds the read limit.
var ErrResponseTooLarge = errors.New("response body too large")

const tracerName = "github.com/dreamware/proofnode/internal/orchestrator"

// Client talks to one orchestrator. It is safe for concurrent use.
type Client struct {
	httpClient *http.Client
	tracer     trace.Tracer
	baseURL    string
	nodeType   NodeType
	maxBody    int64
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithNodeType overrides the node type reported on every request.
func WithNodeType(t NodeType) Option {
	return func(c *Client) { c.nodeType = t }
}

// NewClient returns a client for the orchestrator rooted at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: DefaultHTTPTimeout},
		nodeType:   NodeTypeCLIProver,
		tracer:     otel.Tracer(tracerName),
		maxBody:    maxResponseBytes,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the orchestrator root this client targets.
func (c *Client) BaseURL() string { return c.baseURL }

// FetchTask asks for one proof task. It issues exactly one request; retries
// and deadlines are the caller's business.
func (c *Client) FetchTask(ctx context.Context, nodeID string) (ProofTask, error) {
	const op = "fetch task"

	ctx, span := c.tracer.Start(ctx, "orchestrator.FetchTask",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("node.id", nodeID)))
	defer span.End()

	req := TaskRequest{NodeID: nodeID, NodeType: c.nodeType}
	body, err := c.post(ctx, op, PathTasks, req.Marshal())
	if err != nil {
		recordError(span, err)
		return ProofTask{}, err
	}
	if len(body) == 0 {
		err := decodeFailure(op, errors.New("empty response body"))
		recordError(span, err)
		return ProofTask{}, err
	}

	var resp TaskResponse
	if err := resp.Unmarshal(body); err != nil {
		perr := decodeFailure(op, err)
		recordError(span, perr)
		return ProofTask{}, perr
	}

	span.SetAttributes(
		attribute.Int64("task.id", int64(resp.TaskID)),
		attribute.String("task.program_id", resp.ProgramID))
	return ProofTask{
		TaskID:      resp.TaskID,
		ProgramID:   resp.ProgramID,
		PublicInput: resp.PublicInputs,
	}, nil
}

// SubmitProof delivers a finished proof. An empty 2xx body is a plain
// acknowledgement; a non-empty one is accepted without inspection.
func (c *Client) SubmitProof(ctx context.Context, s ProofSubmission) error {
	const op = "submit proof"

	ctx, span := c.tracer.Start(ctx, "orchestrator.SubmitProof",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("node.id", s.NodeID),
			attribute.Int64("task.id", int64(s.TaskID)),
			attribute.Int("proof.bytes", len(s.Proof))))
	defer span.End()

	telemetry := s.Telemetry
	req := SubmitRequest{
		NodeID:    s.NodeID,
		NodeType:  c.nodeType,
		ProofHash: s.ProofHash,
		Telemetry: &telemetry,
		Proof:     s.Proof,
		TaskID:    s.TaskID,
	}
	if _, err := c.post(ctx, op, PathSubmit, req.Marshal()); err != nil {
		recordError(span, err)
		return err
	}
	return nil
}

// post sends body and returns the response body of a 2xx answer.
func (c *Client) post(ctx context.Context, op, path string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, unreachable(op, fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", ContentType)
	req.Header.Set("Accept", ContentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, unreachable(op, err)
	}
	defer resp.Body.Close()

	data, readErr := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if int64(len(data)) > c.maxBody {
			data = data[:c.maxBody]
		}
		return nil, statusFailure(op, resp.StatusCode, data)
	}
	if readErr != nil {
		return nil, unreachable(op, fmt.Errorf("read response: %w", readErr))
	}
	if int64(len(data)) > c.maxBody {
		return nil, decodeFailure(op, fmt.Errorf("%w: over %d bytes", ErrResponseTooLarge, c.maxBody))
	}
	return data, nil
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
