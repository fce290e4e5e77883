package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/KennethLeeJE8/datadam-mcp-sub001/internal/jsonrpc"
	"github.com/KennethLeeJE8/datadam-mcp-sub001/mcp"
)

var (
	// ErrChannelClosed is returned when a request reaches a channel that has
	// already transitioned to its terminal state.
	ErrChannelClosed = errors.New("channel closed")
	// ErrStreamAttached is returned when a push stream is already attached.
	ErrStreamAttached = errors.New("push stream already attached")
	// ErrNoStream is returned by Notify when no push stream is attached.
	ErrNoStream = errors.New("no push stream attached")
	// ErrNotActive is returned for stream operations on a channel that never
	// activated or has closed.
	ErrNotActive = errors.New("channel not active")
)

// State is the lifecycle state of a duplex channel.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateActive        State = "active"
	StateClosed        State = "closed"
)

// CloseReason records which trigger moved a channel to its terminal state.
type CloseReason string

const (
	// CloseReasonTerminated: the client sent an explicit DELETE.
	CloseReasonTerminated CloseReason = "terminated"
	// CloseReasonShutdown: the process is shutting down.
	CloseReasonShutdown CloseReason = "shutdown"
	// CloseReasonTransportFault: the underlying connection failed while a
	// response was owed.
	CloseReasonTransportFault CloseReason = "transport_fault"
)

// Dispatcher executes decoded calls on behalf of a channel. It is opaque to
// the transport: errors it returns are call-level failures, never channel
// failures.
type Dispatcher interface {
	// Initialize performs the protocol handshake for a newly created channel.
	Initialize(ctx context.Context, req *mcp.InitializeRequest) (*mcp.InitializeResult, error)
	// Execute handles any non-initialize request. For notifications (ID-less
	// requests) it returns (nil, nil).
	Execute(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error)
}

// StreamWriter receives server-initiated messages for delivery over the push
// stream. Implementations must be safe for concurrent use.
type StreamWriter interface {
	WriteEvent(payload []byte) error
}

// Channel is the per-session state machine wrapping one logical client
// connection. It multiplexes independent request/response calls and one
// optional server-push stream over the same session token. All mutable
// internals are guarded by mu; calls themselves execute outside the lock so
// concurrent requests on the same token proceed in parallel.
type Channel struct {
	dispatch Dispatcher
	log      *slog.Logger

	mu      sync.Mutex
	state   State
	token   string
	stream  *pushStream
	onClose func(token string, reason CloseReason)

	closeOnce sync.Once
	done      chan struct{}

	protocolVersion string
	clientInfo      mcp.ImplementationInfo
}

type pushStream struct {
	sink     StreamWriter
	detached chan struct{}
	once     sync.Once
}

func (s *pushStream) detach() {
	s.once.Do(func() { close(s.detached) })
}

func newChannel(dispatch Dispatcher, log *slog.Logger) *Channel {
	return &Channel{
		dispatch: dispatch,
		log:      log,
		state:    StateUninitialized,
		done:     make(chan struct{}),
	}
}

// activate assigns the channel its token and lifecycle hook and moves it to
// StateActive. The token is immutable afterwards; activating twice is a
// programming error.
func (c *Channel) activate(token string, onClose func(token string, reason CloseReason)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateUninitialized {
		return fmt.Errorf("cannot activate channel in state %q", c.state)
	}
	c.token = token
	c.onClose = onClose
	c.state = StateActive
	return nil
}

// Token returns the owning session token ("" before activation).
func (c *Channel) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// State returns the current lifecycle state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ProtocolVersion returns the version negotiated at initialize time.
func (c *Channel) ProtocolVersion() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.protocolVersion
}

// handleInitialize decodes the initialize request, runs the handshake against
// the dispatcher, and records the negotiated protocol version and client
// identity on the channel.
func (c *Channel) handleInitialize(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	var initReq mcp.InitializeRequest
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &initReq); err != nil {
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid initialize params", nil), nil
		}
	}

	res, err := c.dispatch.Initialize(ctx, &initReq)
	if err != nil {
		return nil, fmt.Errorf("initialize dispatch failed: %w", err)
	}

	c.mu.Lock()
	c.protocolVersion = res.ProtocolVersion
	c.clientInfo = initReq.ClientInfo
	c.mu.Unlock()

	return jsonrpc.NewResultResponse(req.ID, res)
}

// HandleMessage processes one decoded call body arriving over the session.
// Requests are executed against the dispatcher; dispatch failures are
// reported as call-level error responses and leave the channel ACTIVE. A nil
// response with nil error means the message requires no response body
// (notification or client response).
func (c *Channel) HandleMessage(ctx context.Context, msg *jsonrpc.AnyMessage) (*jsonrpc.Response, error) {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()
	if state == StateClosed {
		return nil, ErrChannelClosed
	}

	req := msg.AsRequest()
	if req == nil {
		// Client responses are accepted and dropped: this server issues no
		// requests of its own toward the client.
		return nil, nil
	}

	if req.Method == string(mcp.InitializeMethod) {
		// The token tie-break already routed this body to the live channel; a
		// second initialize must not mint a second session.
		if req.IsNotification() {
			return nil, nil
		}
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidRequest, "session already initialized", nil), nil
	}

	res, err := c.dispatch.Execute(ctx, req)
	if err != nil {
		c.log.ErrorContext(ctx, "rpc.dispatch.fail", slog.String("err", err.Error()))
		if req.IsNotification() {
			return nil, nil
		}
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal server error", nil), nil
	}
	return res, nil
}

// AttachStream binds the caller to the channel's outbound push path. ready is
// invoked once the stream is registered, before the call blocks; the caller
// uses it to commit response headers. The call returns when ctx is canceled
// (client disconnect, which detaches but does not close the channel), or when
// the channel closes. Only one stream may be attached at a time.
func (c *Channel) AttachStream(ctx context.Context, sink StreamWriter, ready func()) error {
	st := &pushStream{sink: sink, detached: make(chan struct{})}

	c.mu.Lock()
	if c.state != StateActive {
		c.mu.Unlock()
		return ErrNotActive
	}
	if c.stream != nil {
		c.mu.Unlock()
		return ErrStreamAttached
	}
	c.stream = st
	c.mu.Unlock()

	if ready != nil {
		ready()
	}

	select {
	case <-ctx.Done():
	case <-c.done:
	case <-st.detached:
	}

	c.mu.Lock()
	if c.stream == st {
		c.stream = nil
	}
	c.mu.Unlock()
	st.detach()
	return nil
}

// Notify emits a server-initiated notification on the attached push stream.
// Returns ErrNoStream when nothing is attached. A write failure detaches the
// stream (the subscriber is gone) but leaves the channel ACTIVE.
func (c *Channel) Notify(ctx context.Context, method string, params any) error {
	c.mu.Lock()
	if c.state != StateActive {
		c.mu.Unlock()
		return ErrNotActive
	}
	st := c.stream
	c.mu.Unlock()
	if st == nil {
		return ErrNoStream
	}

	n, err := jsonrpc.NewNotification(method, params)
	if err != nil {
		return err
	}
	b, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	if err := st.sink.WriteEvent(b); err != nil {
		st.detach()
		c.log.WarnContext(ctx, "push.write.fail", slog.String("err", err.Error()))
		return err
	}
	return nil
}

// Close moves the channel to its terminal state, detaches any push stream,
// and fires the lifecycle hook exactly once. Subsequent calls are no-ops
// regardless of reason.
func (c *Channel) Close(reason CloseReason) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.state = StateClosed
		st := c.stream
		c.stream = nil
		hook := c.onClose
		token := c.token
		c.mu.Unlock()

		if st != nil {
			st.detach()
		}
		close(c.done)
		if hook != nil {
			hook(token, reason)
		}
	})
}
