package router

import (
	"context"
	"time"

	"github.com/routecodex/routecodex/internal/canonical"
	"github.com/routecodex/routecodex/internal/routeerr"
	"github.com/routecodex/routecodex/internal/telemetry"
)

// Decision records the outcome of one SelectNext call for observability
// logging and the orchestrator's attempt bookkeeping (spec.md §4.5 "route
// hit" records).
type Decision struct {
	Category Category
	Pool     string
	Target   Target
	Reason   string
}

// ClusterHealth is the health-tracking seam the Router delegates to. The
// default implementation (newHealth) is process-local; RmapHealth backs it
// with goa.design/pulse/rmap for cross-process cooldown coordination
// (spec.md §4.5 "cooldowns are coordinated across gateway instances").
type ClusterHealth interface {
	RecordFailure(ctx context.Context, key string, threshold int, cooldownMs int64)
	RecordSuccess(ctx context.Context, key string)
	InCooldown(ctx context.Context, key string) bool
	NextCursor(ctx context.Context, poolKey string) uint64
}

// localHealth adapts the in-process health tracker to ClusterHealth for
// single-instance deployments.
type localHealth struct{ h *health }

func newLocalHealth() *localHealth { return &localHealth{h: newHealth()} }

func (l *localHealth) RecordFailure(_ context.Context, key string, threshold int, cooldownMs int64) {
	l.h.recordFailure(key, threshold, cooldownMs, time.Now())
}
func (l *localHealth) RecordSuccess(_ context.Context, key string) { l.h.recordSuccess(key, time.Now()) }
func (l *localHealth) InCooldown(_ context.Context, key string) bool {
	return l.h.inCooldown(key, time.Now())
}
func (l *localHealth) NextCursor(_ context.Context, poolKey string) uint64 {
	return l.h.nextCursor(poolKey)
}

// Router implements the virtual router (C5): it classifies requests into
// route categories and selects a single next candidate target given a set
// of already-tried targets, per spec.md §4.5. SelectNext is a pure function
// of (request, excluded, health-at-call-time): it holds no iteration state
// of its own, so the orchestrator owns attempt bookkeeping (DESIGN.md's
// "cut the cycle" decision).
type Router struct {
	cfg       Config
	providers map[string]ProviderConfig
	health    ClusterHealth
	logger    telemetry.Logger
}

// New constructs a Router. providers maps provider id to its configuration,
// used to resolve explicit "provider.model" directives into a concrete
// Target and to rotate keys for pool targets that omit a key id. health,
// if nil, defaults to a process-local tracker.
func New(cfg Config, providers map[string]ProviderConfig, health ClusterHealth, logger telemetry.Logger) *Router {
	if health == nil {
		health = newLocalHealth()
	}
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Router{cfg: cfg.withDefaults(), providers: providers, health: health, logger: logger}
}

// SelectNext returns the next target to attempt for req, excluding any
// target whose Key() is present in excluded. It returns routeerr.NoRoute
// when no eligible target remains.
func (r *Router) SelectNext(ctx context.Context, req *canonical.ChatRequest, excluded map[string]bool) (Decision, error) {
	if directive := r.directive(req); directive != nil {
		if t, ok := r.resolveDirective(ctx, *directive, excluded); ok {
			return Decision{Category: "", Pool: "explicit", Target: t, Reason: "explicit_directive"}, nil
		}
		return Decision{}, routeerr.New(routeerr.KindNoRoute, "router",
			"explicit directive "+directive.Provider+"."+directive.Model+" has no eligible target").
			WithCode("no_route_directive")
	}

	category := classify(req, r.cfg)
	if d, err := r.selectFromCategory(ctx, req, category, excluded); err == nil {
		return d, nil
	}
	if category != CategoryDefault {
		if d, err := r.selectFromCategory(ctx, req, CategoryDefault, excluded); err == nil {
			d.Reason = "fallback_default:" + d.Reason
			return d, nil
		}
	}
	return Decision{}, routeerr.New(routeerr.KindNoRoute, "router",
		"no eligible target for category "+string(category)).WithCode("no_route_available")
}

// directive returns the directive that wins precedence between the Model
// field and an inline marker, per Config.PreferModelFieldDirective.
func (r *Router) directive(req *canonical.ChatRequest) *canonical.RoutingDirective {
	if r.cfg.PreferModelFieldDirective {
		if req.ModelDirective != nil {
			return req.ModelDirective
		}
		return req.InlineDirective
	}
	if req.InlineDirective != nil {
		return req.InlineDirective
	}
	return req.ModelDirective
}

func (r *Router) resolveDirective(ctx context.Context, d canonical.RoutingDirective, excluded map[string]bool) (Target, bool) {
	pc, ok := r.providers[d.Provider]
	if !ok {
		return Target{}, false
	}
	t := r.buildTarget(pc, d.Model, "explicit")
	if excluded[t.Key()] || r.health.InCooldown(ctx, t.Key()) {
		return Target{}, false
	}
	return t, true
}

func (r *Router) buildTarget(pc ProviderConfig, modelID, poolKey string) Target {
	key := ""
	if len(pc.Keys) > 0 {
		idx := r.health.NextCursor(context.Background(), pc.ID+"/"+poolKey+"/keys")
		key = pc.Keys[idx%uint64(len(pc.Keys))]
	}
	maxCtx := pc.DefaultMaxContextTokens
	if v, ok := pc.ModelMaxContextTokens[modelID]; ok {
		maxCtx = v
	}
	return Target{
		ProviderID:       pc.ID,
		ModelID:          modelID,
		KeyID:            key,
		MaxContextTokens: maxCtx,
		BaseURL:          pc.BaseURL,
		Protocol:         pc.Protocol,
	}
}

func (r *Router) selectFromCategory(ctx context.Context, req *canonical.ChatRequest, category Category, excluded map[string]bool) (Decision, error) {
	pools, ok := r.categoryPools(category)
	if !ok {
		return Decision{}, routeerr.New(routeerr.KindNoRoute, "router", "no pools configured for category")
	}
	estimated := estimateRequestTokens(req)

	overflowed := false
	for _, pool := range pools {
		d, found := r.selectFromPool(ctx, pool, estimated, excluded)
		if !found {
			for _, t := range pool.Targets {
				overflowed = overflowed || classifyContext(t, estimated, r.cfg) == partitionOverflow
			}
			continue
		}
		// spec.md §4.5 rule 3's second disjunct: a target the request would
		// land on at warnRatio-or-above usage qualifies as long-context even
		// when the request's absolute token count is under
		// LongContextThresholdTokens. Prefer a long-context pool's target
		// when one is available instead of accepting the risky/overflow fit.
		if category != CategoryLongContext && (d.Reason == "risky" || d.Reason == "overflow") {
			if lcPools, ok := r.categoryPools(CategoryLongContext); ok {
				if ld, found := r.selectFromPools(ctx, lcPools, estimated, excluded); found {
					ld.Category = CategoryLongContext
					ld.Reason = "longcontext_target:" + ld.Reason
					r.logger.Info(ctx, "route hit", "category", string(CategoryLongContext), "pool", ld.Pool,
						"target", ld.Target.String(), "reason", ld.Reason)
					return ld, nil
				}
			}
		}
		d.Category = category
		r.logger.Info(ctx, "route hit", "category", string(category), "pool", pool.ID,
			"target", d.Target.String(), "reason", d.Reason)
		return d, nil
	}
	// No pool hit while some target was too small for the request (overflow
	// routing off): the request qualifies as long-context under rule 3 too.
	if overflowed && category != CategoryLongContext {
		if lcPools, ok := r.categoryPools(CategoryLongContext); ok {
			if ld, found := r.selectFromPools(ctx, lcPools, estimated, excluded); found {
				ld.Category, ld.Reason = CategoryLongContext, "longcontext_target:"+ld.Reason
				return ld, nil
			}
		}
	}
	return Decision{}, routeerr.New(routeerr.KindNoRoute, "router", "no eligible target in any pool for category")
}

// categoryPools resolves and orders the pools configured for category.
func (r *Router) categoryPools(category Category) ([]Pool, bool) {
	catCfg, ok := r.cfg.Categories[category]
	if !ok || len(catCfg.Pools) == 0 {
		return nil, false
	}
	return orderedPools(catCfg.Pools), true
}

// selectFromPools tries each pool in order, returning the first hit.
func (r *Router) selectFromPools(ctx context.Context, pools []Pool, estimated int, excluded map[string]bool) (Decision, bool) {
	for _, pool := range pools {
		if d, ok := r.selectFromPool(ctx, pool, estimated, excluded); ok {
			return d, true
		}
	}
	return Decision{}, false
}

// orderedPools sorts pools by (backup ascending, priority descending) so
// non-backup pools are tried first, highest priority within each class.
func orderedPools(pools []Pool) []Pool {
	out := make([]Pool, len(pools))
	copy(out, pools)
	for i := 1; i < len(out); i++ {
		j := i
		for j > 0 && poolLess(out[j], out[j-1]) {
			out[j], out[j-1] = out[j-1], out[j]
			j--
		}
	}
	return out
}

func poolLess(a, b Pool) bool {
	if a.Backup != b.Backup {
		return !a.Backup
	}
	return a.Priority > b.Priority
}

func (r *Router) selectFromPool(ctx context.Context, pool Pool, estimated int, excluded map[string]bool) (Decision, bool) {
	var safe, risky, overflow []Target
	for _, t := range pool.Targets {
		if pc, ok := r.providers[t.ProviderID]; ok && t.KeyID == "" && len(pc.Keys) > 0 {
			t.KeyID = pc.Keys[r.health.NextCursor(ctx, pc.ID+"/"+pool.ID+"/keys")%uint64(len(pc.Keys))]
		}
		if excluded[t.Key()] || r.health.InCooldown(ctx, t.Key()) {
			continue
		}
		switch classifyContext(t, estimated, r.cfg) {
		case partitionSafe:
			safe = append(safe, t)
		case partitionRisky:
			risky = append(risky, t)
		case partitionOverflow:
			overflow = append(overflow, t)
		}
	}

	if t, ok := pickRoundRobin(r.health, ctx, pool.ID+"/safe", safe); ok {
		return Decision{Pool: pool.ID, Target: t, Reason: "safe"}, true
	}
	if t, ok := pickRoundRobin(r.health, ctx, pool.ID+"/risky", risky); ok {
		return Decision{Pool: pool.ID, Target: t, Reason: "risky"}, true
	}
	if r.cfg.AllowOverflowRouting {
		if t, ok := pickRoundRobin(r.health, ctx, pool.ID+"/overflow", overflow); ok {
			return Decision{Pool: pool.ID, Target: t, Reason: "overflow"}, true
		}
	}
	return Decision{}, false
}

func pickRoundRobin(h ClusterHealth, ctx context.Context, poolKey string, targets []Target) (Target, bool) {
	if len(targets) == 0 {
		return Target{}, false
	}
	idx := h.NextCursor(ctx, poolKey)
	return targets[idx%uint64(len(targets))], true
}

// RecordResult reports the outcome of an attempt against target so the
// health tracker can open or clear its cooldown window.
func (r *Router) RecordResult(ctx context.Context, target Target, success bool) {
	if success {
		r.health.RecordSuccess(ctx, target.Key())
		return
	}
	r.health.RecordFailure(ctx, target.Key(), r.cfg.FailureThreshold, r.cfg.CooldownMs)
}
