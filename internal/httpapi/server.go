// Package httpapi is the inbound HTTP listener (spec.md §6): it owns
// decoding a client's request body via the appropriate codec.Registry
// entry, invoking pipeline.Orchestrator.Execute, and either encoding a
// non-streaming response or driving pipeline.Bridge against the response
// writer for the streaming paths. This layer is explicitly outside the
// core six components; it exists only so the module is a runnable
// program, and it talks to the core only through exported APIs:
// pipeline.Orchestrator, pipeline.Bridge, codec.Registry and, for the
// onboarding portal, oauth.Manager (spec.md §1).
package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/routecodex/routecodex/internal/canonical"
	"github.com/routecodex/routecodex/internal/codec"
	"github.com/routecodex/routecodex/internal/oauth"
	"github.com/routecodex/routecodex/internal/pipeline"
	"github.com/routecodex/routecodex/internal/routeerr"
	"github.com/routecodex/routecodex/internal/router"
	"github.com/routecodex/routecodex/internal/telemetry"
)

// Server wires the pipeline orchestrator and streaming bridge to chi's
// router, exposing the endpoints spec.md §6 names.
type Server struct {
	Orchestrator *pipeline.Orchestrator
	Bridge       *pipeline.Bridge
	Codecs       *codec.Registry
	Providers    map[string]router.ProviderConfig
	Logger       telemetry.Logger

	// OAuthManager and Refreshers back the /token-auth/demo onboarding
	// portal (spec.md §6); both may be nil if no provider uses OAuth.
	OAuthManager *oauth.Manager
	Refreshers   map[string]oauth.Refresher

	startTime time.Time
	counters  counters
}

// maxRequestBodyBytes bounds how much of a client's request body is read
// before decoding, guarding against an unbounded/malicious payload.
const maxRequestBodyBytes = 16 << 20 // 16MiB

type counters struct {
	requests  atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
}

// NewServer constructs a Server. logger may be nil, in which case a no-op
// logger is used.
func NewServer(orch *pipeline.Orchestrator, bridge *pipeline.Bridge, codecs *codec.Registry, providers map[string]router.ProviderConfig, logger telemetry.Logger) *Server {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Server{Orchestrator: orch, Bridge: bridge, Codecs: codecs, Providers: providers, Logger: logger, startTime: time.Now()}
}

// Router builds the chi mux for all endpoints spec.md §6 lists except the
// OAuth callback listener, which internal/oauth's device-code flow starts
// itself, ephemerally, on a per-flow basis.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(5 * time.Minute))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Authorization", "Content-Type", "x-rcc-upstream-authorization"},
	}))

	r.Post("/v1/chat/completions", s.handleChatCompletions)
	r.Post("/v1/responses", s.handleFixedProtocol(canonical.ProtocolOpenAIResponses))
	r.Post("/v1/messages", s.handleFixedProtocol(canonical.ProtocolAnthropic))
	r.Post("/v1/embeddings", s.handleEmbeddings)
	r.Get("/v1/models", s.handleModels)
	r.Get("/health", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Get("/token-auth/demo", s.handleTokenAuthDemo)
	return r
}

// handleChatCompletions serves /v1/chat/completions: OpenAI-shaped by
// default, but auto-detects an Anthropic or Responses body so a
// misdirected client still gets a correct answer (spec.md §6).
func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	s.serve(w, r, canonical.ProtocolOpenAIChat, true)
}

// handleFixedProtocol returns a handler that always decodes/encodes as
// protocol, with no shape sniffing.
func (s *Server) handleFixedProtocol(protocol canonical.WireProtocol) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.serve(w, r, protocol, false)
	}
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request, defaultProtocol canonical.WireProtocol, sniff bool) {
	s.counters.requests.Add(1)

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodyBytes))
	r.Body.Close()
	if err != nil {
		s.counters.failed.Add(1)
		s.writeError(w, defaultProtocol, routeerr.Wrap(routeerr.KindDecode, "httpapi", "read request body", err))
		return
	}

	protocol := defaultProtocol
	if sniff {
		protocol = detectProtocol(raw, defaultProtocol)
	}

	c := s.Codecs.For(protocol)
	if c == nil {
		s.counters.failed.Add(1)
		s.writeError(w, defaultProtocol, routeerr.New(routeerr.KindUnsupported, "httpapi", "no codec registered for protocol "+string(protocol)))
		return
	}

	req, err := c.DecodeRequest(raw)
	if err != nil {
		s.counters.failed.Add(1)
		s.writeError(w, protocol, routeerr.Wrap(routeerr.KindDecode, "httpapi", "decode request", err))
		return
	}

	bearer := bearerToken(r)
	if override := r.Header.Get("x-rcc-upstream-authorization"); override != "" {
		bearer = override
	}
	_ = bearer // inbound credential check is an external collaborator per spec.md §1; accepted but not enforced here.

	rc := canonical.NewRequestContext(r.Context(), protocol)
	result, err := s.Orchestrator.Execute(rc, req)
	if err != nil {
		s.counters.failed.Add(1)
		s.Logger.Error(r.Context(), "request failed", "requestId", rc.RequestID, "error", err.Error())
		s.writeError(w, protocol, err)
		return
	}
	s.counters.succeeded.Add(1)

	if req.Stream {
		s.serveStream(w, r.Context(), protocol, c, result)
		return
	}

	s.serveUnary(w, protocol, c, result)
}

func (s *Server) serveUnary(w http.ResponseWriter, protocol canonical.WireProtocol, c codec.Codec, result *pipeline.Result) {
	resp := result.Response
	if resp == nil && result.Stream != nil {
		aggregated, err := s.Bridge.Aggregate(context.Background(), result.Stream)
		if err != nil {
			s.writeError(w, protocol, routeerr.Wrap(routeerr.KindStreamInterrupted, "httpapi", "aggregate stream", err))
			return
		}
		resp = aggregated
	}
	if resp == nil {
		s.writeError(w, protocol, routeerr.New(routeerr.KindInternal, "httpapi", "orchestrator returned neither response nor stream"))
		return
	}
	body, err := c.EncodeResponse(resp)
	if err != nil {
		s.writeError(w, protocol, routeerr.Wrap(routeerr.KindInternal, "httpapi", "encode response", err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

func (s *Server) serveStream(w http.ResponseWriter, ctx context.Context, protocol canonical.WireProtocol, c codec.Codec, result *pipeline.Result) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	emit := func(frame []byte) error {
		if _, err := w.Write(frame); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	}

	if result.Stream != nil {
		if err := s.Bridge.Forward(ctx, protocol, result.Stream, emit); err != nil {
			s.Logger.Warn(ctx, "stream forwarding ended with error", "error", err.Error())
		}
		return
	}
	if result.Response != nil {
		if err := s.Bridge.Synthesize(ctx, protocol, result.Response, emit); err != nil {
			s.Logger.Warn(ctx, "stream synthesis ended with error", "error", err.Error())
		}
	}
}

func (s *Server) handleEmbeddings(w http.ResponseWriter, r *http.Request) {
	// Pass-through where supported (spec.md §6); embeddings do not flow
	// through the chat pipeline orchestrator, so without a configured
	// embeddings-capable transport this endpoint reports its own absence
	// rather than silently pretending to answer.
	s.writeError(w, canonical.ProtocolOpenAIChat, routeerr.New(routeerr.KindUnsupported, "httpapi", "embeddings pass-through not configured for any provider"))
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	type modelEntry struct {
		ID string `json:"id"`
	}
	var out []modelEntry
	for providerID, pc := range s.Providers {
		if len(pc.ModelMaxContextTokens) == 0 {
			out = append(out, modelEntry{ID: providerID})
			continue
		}
		for modelID := range pc.ModelMaxContextTokens {
			out = append(out, modelEntry{ID: providerID + "." + modelID})
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"object": "list", "data": out})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"uptimeSeconds": time.Since(s.startTime).Seconds(),
		"requests":      s.counters.requests.Load(),
		"succeeded":     s.counters.succeeded.Load(),
		"failed":        s.counters.failed.Load(),
	})
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) > len(prefix) && auth[:len(prefix)] == prefix {
		return auth[len(prefix):]
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
