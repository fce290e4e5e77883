package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/google/uuid"

	"github.com/KennethLeeJE8/datadam-mcp-sub001/auth"
	"github.com/KennethLeeJE8/datadam-mcp-sub001/internal/jsonrpc"
	"github.com/KennethLeeJE8/datadam-mcp-sub001/internal/logctx"
	"github.com/KennethLeeJE8/datadam-mcp-sub001/mcp"
)

var _ http.Handler = (*Handler)(nil)

var (
	jsonMediaType         = contenttype.NewMediaType("application/json")
	eventStreamMediaType  = contenttype.NewMediaType("text/event-stream")
	eventStreamMediaTypes = []contenttype.MediaType{eventStreamMediaType}
)

const (
	// Canonical header names; Go matches request headers case-insensitively.
	mcpSessionIDHeader    = "Mcp-Session-Id"
	authorizationHeader   = "Authorization"
	wwwAuthenticateHeader = "WWW-Authenticate"

	// noValidSessionMessage is the protocol-contract message for POST bodies
	// that cannot be bound to a session.
	noValidSessionMessage = "Bad Request: No valid session ID provided"
	// invalidSessionText is the plain-text body for GET/DELETE rejections.
	invalidSessionText = "Invalid or missing session ID"

	// maxMintAttempts bounds the collision-check loop when generating tokens.
	maxMintAttempts = 8
)

// Option configures a Handler.
type Option func(*newConfig)

type newConfig struct {
	logger   *slog.Logger
	auth     auth.Authenticator
	newToken TokenSource
}

// WithLogger sets the slog logger used by the handler.
func WithLogger(l *slog.Logger) Option {
	return func(c *newConfig) { c.logger = l }
}

// WithAuthenticator installs the bearer-token gate run before any session
// logic. Without it every request is admitted anonymously.
func WithAuthenticator(a auth.Authenticator) Option {
	return func(c *newConfig) { c.auth = a }
}

// WithTokenSource overrides the session token generator.
func WithTokenSource(ts TokenSource) Option {
	return func(c *newConfig) { c.newToken = ts }
}

// Handler is the request router for one endpoint group. It owns the group's
// registry, decides per request whether to create, reuse, or reject a
// channel, and delegates bodies to the channel. Mount one Handler per public
// path; handlers share nothing.
type Handler struct {
	group    string
	log      *slog.Logger
	auth     auth.Authenticator
	dispatch Dispatcher
	reg      *Registry
	newToken TokenSource
}

// New builds the router for one endpoint group. group names the instance in
// logs (e.g. "primary", "restricted"); dispatch executes decoded calls.
func New(group string, dispatch Dispatcher, opts ...Option) *Handler {
	cfg := &newConfig{logger: slog.Default(), newToken: defaultTokenSource}
	for _, opt := range opts {
		opt(cfg)
	}
	return &Handler{
		group:    group,
		log:      slog.New(logctx.Handler{Handler: cfg.logger.Handler()}),
		auth:     cfg.auth,
		dispatch: dispatch,
		reg:      NewRegistry(),
		newToken: cfg.newToken,
	}
}

// Registry exposes the group's session registry, primarily for tests and
// shutdown accounting.
func (h *Handler) Registry() *Registry { return h.reg }

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := logctx.WithRequestData(r.Context(), &logctx.RequestData{
		RequestID:  uuid.NewString(),
		Method:     r.Method,
		Path:       r.URL.Path,
		RemoteAddr: r.RemoteAddr,
	})
	r = r.WithContext(ctx)

	h.setCORSHeaders(w)

	switch r.Method {
	case http.MethodPost:
		h.handlePost(w, r)
	case http.MethodGet:
		h.handleGet(w, r)
	case http.MethodDelete:
		h.handleDelete(w, r)
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
	default:
		w.Header().Set("Allow", "POST, GET, DELETE, OPTIONS")
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// setCORSHeaders permits browser-based callers and lets them read the session
// token minted on the initiating response.
func (h *Handler) setCORSHeaders(w http.ResponseWriter) {
	hdr := w.Header()
	hdr.Set("Access-Control-Allow-Origin", "*")
	hdr.Set("Access-Control-Allow-Methods", "POST, GET, DELETE, OPTIONS")
	hdr.Set("Access-Control-Allow-Headers", "Content-Type, Accept, Authorization, Mcp-Session-Id, Last-Event-ID")
	hdr.Set("Access-Control-Expose-Headers", mcpSessionIDHeader)
}

// isInitializeRequest is the protocol predicate deciding whether a
// session-less POST body may mint a new session: the body must be a JSON-RPC
// request (not a notification or a response) whose method is "initialize".
// This predicate is part of the transport contract; the transport interprets
// no other method.
func isInitializeRequest(msg *jsonrpc.AnyMessage) bool {
	return msg.Method == string(mcp.InitializeMethod) && !msg.ID.IsNil()
}

// writeNoValidSession emits the structured protocol error for POST requests
// that cannot be bound to a session. The body shape is part of the protocol
// contract and is asserted verbatim by clients.
func (h *Handler) writeNoValidSession(ctx context.Context, w http.ResponseWriter) {
	res := jsonrpc.NewErrorResponse(jsonrpc.NewRequestID(nil), jsonrpc.ErrorCodeNoValidSession, noValidSessionMessage, nil)
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(http.StatusBadRequest)
	if err := json.NewEncoder(w).Encode(res); err != nil {
		h.log.WarnContext(ctx, "reject.write.fail", slog.String("err", err.Error()))
	}
}

// writeInvalidSessionText emits the plain-text rejection used by GET and
// DELETE when the session header is missing or unknown.
func (h *Handler) writeInvalidSessionText(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusBadRequest)
	_, _ = io.WriteString(w, invalidSessionText)
}

func writeJSONRPCError(w http.ResponseWriter, status int, code jsonrpc.ErrorCode, msg string) {
	res := jsonrpc.NewErrorResponse(jsonrpc.NewRequestID(nil), code, msg, nil)
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(res)
}

// handlePost implements the router's POST decision table:
//
//	token present, known     -> hand body to that channel (reuse; wins the
//	                            tie-break even for initialize bodies)
//	token present, unknown   -> 400 structured "no valid session"
//	no token, initialize     -> mint token, activate channel, insert, handle
//	no token, anything else  -> 400 structured "no valid session"
func (h *Handler) handlePost(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	h.log.InfoContext(ctx, "http.post.start", slog.String("group", h.group))

	if _, ok := h.checkAuthentication(ctx, r, w); !ok {
		return
	}

	ctype, err := contenttype.GetMediaType(r)
	if err != nil || !ctype.Matches(jsonMediaType) {
		writeJSONRPCError(w, http.StatusUnsupportedMediaType, jsonrpc.ErrorCodeInvalidRequest, "content-type must be application/json")
		h.log.WarnContext(ctx, "content_type.unsupported")
		return
	}

	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeJSONRPCError(w, http.StatusBadRequest, jsonrpc.ErrorCodeParseError, "invalid JSON body")
		h.log.WarnContext(ctx, "json.decode.fail", slog.String("err", err.Error()))
		return
	}
	if len(raw) > 0 && raw[0] == '[' {
		writeJSONRPCError(w, http.StatusBadRequest, jsonrpc.ErrorCodeInvalidRequest, "JSON-RPC batch arrays are not supported")
		h.log.WarnContext(ctx, "jsonrpc.batch.forbidden")
		return
	}

	var msg jsonrpc.AnyMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		writeJSONRPCError(w, http.StatusBadRequest, jsonrpc.ErrorCodeInvalidRequest, "invalid JSON-RPC message: "+err.Error())
		h.log.WarnContext(ctx, "jsonrpc.message.invalid", slog.String("err", err.Error()))
		return
	}

	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{Method: msg.Method, ID: msg.ID.String(), Type: msg.Type()})

	token := r.Header.Get(mcpSessionIDHeader)
	if token == "" {
		if !isInitializeRequest(&msg) {
			h.writeNoValidSession(ctx, w)
			h.log.InfoContext(ctx, "session.missing")
			return
		}
		h.initiateSession(ctx, w, &msg, start)
		return
	}

	ch, found := h.reg.Lookup(token)
	if !found {
		h.writeNoValidSession(ctx, w)
		h.log.InfoContext(ctx, "session.lookup.miss")
		return
	}

	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{SessionToken: token, Group: h.group, State: string(ch.State())})
	h.serveChannelPost(ctx, w, ch, &msg, start)
}

// initiateSession creates a fresh channel for a recognized initialize body:
// mint a collision-checked token, activate, insert into the registry, then
// hand the body to the channel.
func (h *Handler) initiateSession(ctx context.Context, w http.ResponseWriter, msg *jsonrpc.AnyMessage, start time.Time) {
	ch := newChannel(h.dispatch, h.log)

	var token string
	for attempt := 0; attempt < maxMintAttempts; attempt++ {
		t := h.newToken()
		if _, exists := h.reg.Lookup(t); !exists {
			token = t
			break
		}
		h.log.WarnContext(ctx, "token.mint.collision")
	}
	if token == "" {
		h.log.ErrorContext(ctx, "token.mint.exhausted")
		writeJSONRPCError(w, http.StatusInternalServerError, jsonrpc.ErrorCodeInternalError, "failed to allocate session")
		return
	}

	if err := ch.activate(token, func(tok string, reason CloseReason) { h.evict(ch, tok, reason) }); err != nil {
		h.log.ErrorContext(ctx, "channel.activate.fail", slog.String("err", err.Error()))
		writeJSONRPCError(w, http.StatusInternalServerError, jsonrpc.ErrorCodeInternalError, "failed to activate session")
		return
	}
	if err := h.reg.Insert(token, ch); err != nil {
		// The mint loop collision-checked this token; a duplicate here means
		// registry state is inconsistent. Refuse rather than overwrite.
		h.log.ErrorContext(ctx, "registry.insert.invariant", slog.String("err", err.Error()))
		writeJSONRPCError(w, http.StatusInternalServerError, jsonrpc.ErrorCodeInternalError, "session registry inconsistency")
		return
	}

	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{SessionToken: token, Group: h.group, State: string(StateActive)})

	res, err := ch.handleInitialize(ctx, msg.AsRequest())
	if err != nil {
		// Handshake never completed: tear the half-built session down so the
		// token is not left resolvable.
		ch.Close(CloseReasonTransportFault)
		h.log.ErrorContext(ctx, "session.initialize.fail", slog.String("err", err.Error()))
		writeJSONRPCError(w, http.StatusInternalServerError, jsonrpc.ErrorCodeInternalError, "failed to initialize session")
		return
	}

	w.Header().Set(mcpSessionIDHeader, token)
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(res); err != nil {
		h.log.ErrorContext(ctx, "session.initialize.write.fail", slog.String("err", err.Error()))
	}
	h.log.InfoContext(ctx, "session.initialize.ok", slog.Duration("dur", time.Since(start)))
}

// serveChannelPost hands one decoded body to an active channel and writes the
// outcome. Dispatch failures surface as call-level error responses; only a
// write failure on a live connection is treated as a transport fault.
func (h *Handler) serveChannelPost(ctx context.Context, w http.ResponseWriter, ch *Channel, msg *jsonrpc.AnyMessage, start time.Time) {
	res, err := ch.HandleMessage(ctx, msg)
	if err != nil {
		if errors.Is(err, ErrChannelClosed) {
			// Lost the race with a concurrent DELETE or shutdown.
			h.writeNoValidSession(ctx, w)
			h.log.InfoContext(ctx, "session.closed.race")
			return
		}
		writeJSONRPCError(w, http.StatusInternalServerError, jsonrpc.ErrorCodeInternalError, "internal server error")
		h.log.ErrorContext(ctx, "rpc.inbound.fail", slog.String("err", err.Error()))
		return
	}

	if res == nil {
		// Notification or client response: acknowledged, no body.
		w.WriteHeader(http.StatusAccepted)
		h.log.InfoContext(ctx, "rpc.accepted", slog.Duration("dur", time.Since(start)))
		return
	}

	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(res); err != nil {
		if ctx.Err() != nil {
			// Caller went away mid-call: abandon the response, keep the channel.
			h.log.InfoContext(ctx, "rpc.response.abandoned")
			return
		}
		// The connection itself failed while a response was owed.
		h.log.ErrorContext(ctx, "rpc.response.write.fail", slog.String("err", err.Error()))
		ch.Close(CloseReasonTransportFault)
		return
	}
	h.log.InfoContext(ctx, "rpc.inbound.ok", slog.Duration("dur", time.Since(start)))
}

// handleGet opens the long-lived push stream for an active session. The
// stream stays open until the client disconnects or the channel closes;
// disconnection detaches the stream but leaves the session usable.
func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	h.log.InfoContext(ctx, "http.get.start", slog.String("group", h.group))

	if _, _, err := contenttype.GetAcceptableMediaType(r, eventStreamMediaTypes); err != nil {
		w.WriteHeader(http.StatusUnsupportedMediaType)
		h.log.WarnContext(ctx, "accept.unsupported")
		return
	}

	f, ok := w.(http.Flusher)
	if !ok {
		w.WriteHeader(http.StatusInternalServerError)
		h.log.ErrorContext(ctx, "sse.flusher.missing")
		return
	}

	if _, ok := h.checkAuthentication(ctx, r, w); !ok {
		return
	}

	token := r.Header.Get(mcpSessionIDHeader)
	if token == "" {
		h.writeInvalidSessionText(w)
		h.log.WarnContext(ctx, "session.id.missing")
		return
	}
	ch, found := h.reg.Lookup(token)
	if !found {
		h.writeInvalidSessionText(w)
		h.log.InfoContext(ctx, "session.lookup.miss")
		return
	}

	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{SessionToken: token, Group: h.group, State: string(ch.State())})

	sw := &sseWriter{w: w, f: f, ctx: ctx}
	err := ch.AttachStream(ctx, sw, func() {
		hdr := w.Header()
		hdr.Set("Content-Type", eventStreamMediaType.String())
		hdr.Set("Cache-Control", "no-cache")
		hdr.Set("Connection", "keep-alive")
		hdr.Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)
		sw.Flush()
		h.log.InfoContext(ctx, "sse.stream.start")
	})
	switch {
	case err == nil:
		h.log.InfoContext(ctx, "sse.stream.end", slog.Duration("dur", time.Since(start)))
	case errors.Is(err, ErrStreamAttached):
		http.Error(w, "push stream already attached", http.StatusConflict)
		h.log.WarnContext(ctx, "sse.stream.conflict")
	case errors.Is(err, ErrNotActive):
		h.writeInvalidSessionText(w)
		h.log.InfoContext(ctx, "session.closed.race")
	default:
		h.log.ErrorContext(ctx, "sse.stream.fail", slog.String("err", err.Error()))
	}
}

// handleDelete terminates an active session, which evicts its token.
func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	h.log.InfoContext(ctx, "http.delete.start", slog.String("group", h.group))

	if _, ok := h.checkAuthentication(ctx, r, w); !ok {
		return
	}

	token := r.Header.Get(mcpSessionIDHeader)
	if token == "" {
		h.writeInvalidSessionText(w)
		h.log.WarnContext(ctx, "session.id.missing")
		return
	}
	ch, found := h.reg.Lookup(token)
	if !found {
		h.writeInvalidSessionText(w)
		h.log.InfoContext(ctx, "session.lookup.miss")
		return
	}

	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{SessionToken: token, Group: h.group, State: string(ch.State())})

	ch.Close(CloseReasonTerminated)
	w.WriteHeader(http.StatusNoContent)
	h.log.InfoContext(ctx, "session.terminate.ok", slog.Duration("dur", time.Since(start)))
}

// evict is the lifecycle controller: it runs exactly once per channel, on
// closure, and removes the channel's token from this group's registry. It
// refuses to remove an entry owned by a different channel.
func (h *Handler) evict(ch *Channel, token string, reason CloseReason) {
	if cur, ok := h.reg.Lookup(token); ok && cur != ch {
		// The entry is owned by a different channel. Removing it would corrupt
		// registry state; refuse and leave the live entry in place.
		h.log.Error("registry.evict.invariant", slog.String("token", token))
		return
	}
	h.reg.Remove(token)
	h.log.Info("session.evicted",
		slog.String("group", h.group),
		slog.String("reason", string(reason)),
		slog.Int("live", h.reg.Len()),
	)
}

// Shutdown closes every live channel in the group. Used at process exit so
// that each inserted session is paired with a remove before the registry is
// discarded.
func (h *Handler) Shutdown(ctx context.Context) error {
	for _, ch := range h.reg.Drain() {
		ch.Close(CloseReasonShutdown)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return nil
}

// checkAuthentication runs the bearer gate. It writes the HTTP rejection
// itself and returns ok=false when the request must not proceed. A nil
// authenticator admits every caller anonymously.
func (h *Handler) checkAuthentication(ctx context.Context, r *http.Request, w http.ResponseWriter) (auth.UserInfo, bool) {
	if h.auth == nil {
		return nil, true
	}

	authHeader := r.Header.Get(authorizationHeader)
	const bearerPrefix = "Bearer "
	if authHeader == "" || !strings.HasPrefix(authHeader, bearerPrefix) {
		h.log.InfoContext(ctx, "auth.check.missing")
		w.Header().Set(wwwAuthenticateHeader, "Bearer")
		w.WriteHeader(http.StatusUnauthorized)
		return nil, false
	}
	tok := strings.TrimSpace(authHeader[len(bearerPrefix):])
	if tok == "" {
		h.log.InfoContext(ctx, "auth.check.invalid")
		w.Header().Set(wwwAuthenticateHeader, `Bearer error="invalid_request"`)
		w.WriteHeader(http.StatusBadRequest)
		return nil, false
	}

	userInfo, err := h.auth.CheckAuthentication(ctx, tok)
	if err != nil {
		if errors.Is(err, auth.ErrUnauthorized) {
			h.log.InfoContext(ctx, "auth.check.fail", slog.String("err", err.Error()))
			w.Header().Set(wwwAuthenticateHeader, `Bearer error="invalid_token"`)
			w.WriteHeader(http.StatusUnauthorized)
			return nil, false
		}
		h.log.ErrorContext(ctx, "auth.check.err", slog.String("err", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
		return nil, false
	}
	h.log.InfoContext(ctx, "auth.ok", slog.String("user_id", userInfo.UserID()))
	return userInfo, true
}

// sseWriter frames push messages as Server-Sent Events. It serializes
// concurrent writes and refuses to write once the request context is done.
type sseWriter struct {
	w   io.Writer
	f   http.Flusher
	ctx context.Context
	mu  sync.Mutex
}

var _ StreamWriter = (*sseWriter)(nil)

func (s *sseWriter) WriteEvent(payload []byte) error {
	if s.ctx.Err() != nil {
		return s.ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		return s.ctx.Err()
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", payload); err != nil {
		return fmt.Errorf("failed to write SSE frame: %w", err)
	}
	s.f.Flush()
	return nil
}

func (s *sseWriter) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() == nil {
		s.f.Flush()
	}
}
