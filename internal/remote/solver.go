// Package remote talks to the solver service over WebSocket and to the configuration
// server over HTTP.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/msageha/psstudio/internal/logging"
	"github.com/msageha/psstudio/internal/model"
)

// Frame types exchanged with the solver.
const (
	TypeSolve   = "SOLVE_PROBLEM_STATEMENT"
	TypeSolving = "SOLVING_PROBLEM_STATEMENT"
	TypeSolved  = "PROBLEM_STATEMENT_SOLVED"
	TypeError   = "ERROR"
	TypePong    = "PONG"
)

const opSolve = "solve"

// Request is the single frame sent per solve.
type Request struct {
	Type      string       `json:"type"`
	RequestID string       `json:"requestId"`
	Data      SolveRequest `json:"data"`
}

type SolveRequest struct {
	ProblemStatement model.Values `json:"problemStatement"`
	Config           model.Values `json:"config,omitempty"`
}

// Frame is any message received from the solver. Data is decoded lazily because its
// shape depends on Type.
type Frame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Message   string          `json:"message,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// LogEntry is one streamed progress line of a running solve.
type LogEntry struct {
	Log       string `json:"log"`
	Timestamp int64  `json:"timestamp,omitempty"`
	Level     string `json:"level,omitempty"`
	Logger    string `json:"logger,omitempty"`
}

// LogSink receives solver progress. It is called from the solving goroutine.
type LogSink func(LogEntry)

// Solver submits a warehouse problem and waits for the solution.
type Solver interface {
	Solve(ctx context.Context, ps, cfg model.Values, sink LogSink) (model.Solution, error)
}

// SolverClient dials a fresh connection per solve, mirroring the server's
// one-request-per-session handling.
type SolverClient struct {
	url         string
	dialer      *websocket.Dialer
	header      http.Header
	logger      *logging.Logger
	newID       func() string
	dialTimeout time.Duration
}

type SolverOption func(*SolverClient)

func WithDialer(d *websocket.Dialer) SolverOption {
	return func(c *SolverClient) { c.dialer = d }
}

func WithHeader(h http.Header) SolverOption {
	return func(c *SolverClient) { c.header = h }
}

func WithSolverLogger(l *logging.Logger) SolverOption {
	return func(c *SolverClient) { c.logger = l }
}

// WithRequestID overrides request id generation.
func WithRequestID(fn func() string) SolverOption {
	return func(c *SolverClient) { c.newID = fn }
}

func NewSolverClient(url string, opts ...SolverOption) *SolverClient {
	c := &SolverClient{
		url:         url,
		dialer:      websocket.DefaultDialer,
		newID:       model.NewRequestID,
		dialTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Solve sends ps and cfg and blocks until the solver answers, the connection drops or ctx
// is done. No timeout is applied beyond ctx.
func (c *SolverClient) Solve(ctx context.Context, ps, cfg model.Values, sink LogSink) (model.Solution, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.dialTimeout)
	conn, resp, err := c.dialer.DialContext(dialCtx, c.url, c.header)
	cancel()
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, model.NewNetworkError(opSolve, fmt.Errorf("dial %s: %w", c.url, err))
	}
	defer conn.Close()

	// Unblock ReadJSON when the caller gives up.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	id, ok := requestIDFrom(ctx)
	if !ok {
		id = c.newID()
	}
	req := Request{
		Type:      TypeSolve,
		RequestID: id,
		Data:      SolveRequest{ProblemStatement: ps, Config: cfg},
	}
	if len(cfg) == 0 {
		req.Data.Config = nil
	}
	if err := conn.WriteJSON(req); err != nil {
		return nil, model.NewNetworkError(opSolve, fmt.Errorf("send request: %w", err))
	}
	c.logger.Debug("solve request sent request_id=%s", req.RequestID)

	for {
		var f Frame
		if err := conn.ReadJSON(&f); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, model.NewNetworkError(opSolve, ctxErr)
			}
			return nil, model.NewNetworkError(opSolve, fmt.Errorf("read frame: %w", err))
		}

		switch f.Type {
		case TypeSolving:
			if sink == nil || len(f.Data) == 0 {
				continue
			}
			var entry LogEntry
			if err := json.Unmarshal(f.Data, &entry); err != nil {
				c.logger.Warn("malformed solver log frame: %v", err)
				continue
			}
			sink(entry)
		case TypeSolved:
			c.closeNormally(conn)
			return decodeSolution(f.Data)
		case TypeError:
			return nil, model.NewServerError(opSolve, errors.New(firstNonEmpty(f.Message, f.Error, "solver error")))
		case TypePong:
		default:
			if f.RequestID == req.RequestID && f.Error != "" {
				return nil, model.NewServerError(opSolve, errors.New(f.Error))
			}
			c.logger.Debug("ignoring solver frame type=%s", f.Type)
		}
	}
}

// decodeSolution interprets the payload of PROBLEM_STATEMENT_SOLVED: an object is the
// solution, a string is the server's error message.
func decodeSolution(raw json.RawMessage) (model.Solution, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, model.NewServerError(opSolve, errors.New("empty solution"))
	}
	var msg string
	if err := json.Unmarshal(raw, &msg); err == nil {
		return nil, model.NewServerError(opSolve, errors.New(msg))
	}
	var sol model.Values
	if err := json.Unmarshal(raw, &sol); err != nil {
		return nil, model.NewServerError(opSolve, fmt.Errorf("decode solution: %w", err))
	}
	return model.Solution(model.NormalizeValues(sol)), nil
}

func (c *SolverClient) closeNormally(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

type requestIDKey struct{}

// ContextWithRequestID makes Solve use id on the wire, so callers can correlate their
// own records with the solver's.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func requestIDFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(requestIDKey{}).(string)
	return id, ok && id != ""
}
