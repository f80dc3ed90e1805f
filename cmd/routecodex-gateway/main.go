// Command routecodex-gateway runs the HTTP gateway: it loads
// config.json from the configured root, wires the routing/compat/
// transport/oauth/ratelimit layers, and serves the endpoints spec.md §6
// names until SIGINT/SIGTERM.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go"
	"goa.design/clue/log"

	"github.com/routecodex/routecodex/internal/codec"
	codecanthropic "github.com/routecodex/routecodex/internal/codec/anthropicwire"
	codecopenai "github.com/routecodex/routecodex/internal/codec/openai"
	codecresponses "github.com/routecodex/routecodex/internal/codec/responses"
	"github.com/routecodex/routecodex/internal/compat"
	"github.com/routecodex/routecodex/internal/config"
	"github.com/routecodex/routecodex/internal/httpapi"
	"github.com/routecodex/routecodex/internal/oauth"
	"github.com/routecodex/routecodex/internal/pipeline"
	"github.com/routecodex/routecodex/internal/ratelimit"
	"github.com/routecodex/routecodex/internal/router"
	"github.com/routecodex/routecodex/internal/telemetry"
	"github.com/routecodex/routecodex/internal/transport"
	"github.com/routecodex/routecodex/internal/transport/anthropic"
	"github.com/routecodex/routecodex/internal/transport/openaicompat"
)

// Exit codes per spec.md §6.
const (
	exitOK             = 0
	exitGenericFailure = 1
	exitConfigError    = 2
	exitPortBindError  = 3
	exitSignal         = 130
)

func main() {
	os.Exit(run())
}

func run() int {
	rootF := flag.String("root", "", "configuration root directory (default: $ROUTECODEX_CONFIG_PATH or ~/.routecodex)")
	dbgF := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if *dbgF {
		ctx = log.Context(ctx, log.WithDebug())
	}

	cfg, err := config.Load(*rootF)
	if err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "load configuration"})
		return exitConfigError
	}

	rcfg, providers, err := cfg.BuildRouterConfig()
	if err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "build router configuration"})
		return exitConfigError
	}

	logger := telemetry.NewClueLogger()
	metrics := telemetry.NewClueMetrics()

	rt := router.New(rcfg, providers, nil, logger)

	store := oauth.NewStore(cfg.AuthDir())
	// No concrete provider Refresher implementations ship in this build
	// (see DESIGN.md); OAuth-backed providers have no working refresh or
	// /token-auth/demo onboarding path until one is registered here.
	refreshers := map[string]oauth.Refresher{}
	oauthMgr := oauth.NewManager(store, refreshers)

	openaiClient := openai.NewClient()
	chatTransport := openaicompat.New(&openaiClient.Chat.Completions, "")

	anthropicClient := sdk.NewClient()
	anthropicTransport := anthropic.New(&anthropicClient.Messages, "")

	transports := map[router.ProtocolFamily]transport.Transport{
		// Gemini/Antigravity targets speak the same OpenAI-compatible wire
		// shape; only the compat profile applied beforehand differs.
		router.ProtocolOpenAICompat: chatTransport,
		router.ProtocolGemini:       chatTransport,
		router.ProtocolAnthropic:    anthropicTransport,
	}

	var quota pipeline.QuotaChecker
	for _, rl := range cfg.RateLimit {
		if rl.QuotaLimit > 0 {
			window := time.Duration(rl.QuotaWindowS) * time.Second
			if window <= 0 {
				window = time.Minute
			}
			quota = ratelimit.NewSlidingWindowQuota(rl.QuotaLimit, window)
			break
		}
	}

	auth := pipeline.CompositeResolver{
		APIKey: pipeline.EnvAPIKeyResolver{},
		OAuth:  pipeline.OAuthResolver{Manager: oauthMgr},
	}

	orch := pipeline.NewOrchestrator(rt, compat.NewRegistry(nil), transports, auth, logger, metrics)
	orch.Quota = quota

	codecs := codec.NewRegistry(codecopenai.New(), codecresponses.New(), codecanthropic.New())
	bridge := pipeline.NewBridge(codecs)

	server := httpapi.NewServer(orch, bridge, codecs, providers, logger)
	server.OAuthManager = oauthMgr
	server.Refreshers = refreshers

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	httpServer := &http.Server{Addr: addr, Handler: server.Router()}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "bind listener"})
		return exitPortBindError
	}

	errc := make(chan error, 1)
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	go func() {
		log.Printf(ctx, "gateway listening on %s", addr)
		if err := httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
	}()

	cause := <-errc
	log.Printf(ctx, "shutting down (%v)", cause)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "graceful shutdown"})
		return exitGenericFailure
	}

	if isSignal(cause) {
		return exitSignal
	}
	return exitOK
}

func isSignal(err error) bool {
	switch err.Error() {
	case "interrupt", "terminated":
		return true
	default:
		return false
	}
}
