package registry

import (
	"context"
	"errors"
	"strings"
	"time"

	"graphauth/go-backend/internal/domains/identity/policy"
	"graphauth/go-backend/internal/graph"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type strategy struct {
	source  Source
	timeout time.Duration
	run     func(ctx context.Context, alias string) (Resolution, bool, error)
}

func (r *Registry) strategies() []strategy {
	return []strategy{
		{source: SourceFrozen, timeout: r.cfg.FrozenTimeout, run: r.resolveFrozen},
		{source: SourceDirect, timeout: r.cfg.DirectTimeout, run: r.resolveDirect},
		{source: SourceAlternate, timeout: r.cfg.AlternateTimeout, run: r.resolveAlternate},
		{source: SourceScan, timeout: r.cfg.ScanTimeout, run: r.resolveScan},
	}
}

// Resolve looks alias up with each strategy in priority order, one at a time,
// each bounded by its own timeout. A strategy that times out or fails counts
// as a miss. ok is false when no strategy found a mapping; that is a normal
// outcome, not an error. err is only set when ctx itself ends.
func (r *Registry) Resolve(ctx context.Context, alias string) (Resolution, bool, error) {
	alias = policy.NormalizeUsername(alias)
	if alias == "" {
		return Resolution{}, false, nil
	}
	ctx, span := r.tracer.Start(ctx, "registry.Resolve")
	defer span.End()

	for _, s := range r.strategies() {
		if err := ctx.Err(); err != nil {
			span.SetStatus(codes.Error, err.Error())
			return Resolution{}, false, err
		}
		res, ok := r.runStrategy(ctx, s, alias)
		if !ok {
			continue
		}
		span.SetAttributes(attribute.String("registry.source", string(res.Source)))
		return r.enrich(ctx, res), true, nil
	}
	span.SetAttributes(attribute.String("registry.source", "none"))
	return Resolution{}, false, nil
}

func (r *Registry) runStrategy(ctx context.Context, s strategy, alias string) (Resolution, bool) {
	sctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	sctx, span := r.tracer.Start(sctx, "registry.strategy."+string(s.source))
	defer span.End()

	started := time.Now()
	res, ok, err := s.run(sctx, alias)
	elapsed := time.Since(started)
	hit := ok && err == nil && res.Pub != ""
	r.observe(s.source, hit, elapsed)
	span.SetAttributes(attribute.Bool("registry.hit", hit))

	switch {
	case hit:
		res.Source = s.source
		return res, true
	case errors.Is(err, graph.ErrTimeout):
		r.logger.Debug("alias strategy timed out", "strategy", string(s.source), "alias", alias, "elapsed", elapsed)
	case err != nil:
		span.SetStatus(codes.Error, err.Error())
		r.logger.Warn("alias strategy failed", "strategy", string(s.source), "alias", alias, "error", err)
	}
	return Resolution{}, false
}

// resolveFrozen scans the immutable space. When a past race left several
// frozen records for one alias, the earliest registration wins.
func (r *Registry) resolveFrozen(ctx context.Context, alias string) (Resolution, bool, error) {
	var (
		best    Resolution
		bestAt  int64
		matched bool
	)
	err := r.client.Scan(ctx, FrozenSpace, func(_ string, node graph.Node) bool {
		if policy.NormalizeUsername(node.String("alias")) != alias || !node.Bool("immutable") {
			return true
		}
		pub := node.String("pub")
		if pub == "" {
			return true
		}
		at := node.Int64("registeredAt")
		if !matched || at < bestAt || (at == bestAt && pub < best.Pub) {
			best = Resolution{Pub: pub, Username: alias, Immutable: true}
			bestAt = at
			matched = true
		}
		return true
	})
	if matched {
		return best, true, nil
	}
	return Resolution{}, false, err
}

func (r *Registry) resolveDirect(ctx context.Context, alias string) (Resolution, bool, error) {
	return r.resolveKey(ctx, DirectPath(alias), alias)
}

func (r *Registry) resolveAlternate(ctx context.Context, alias string) (Resolution, bool, error) {
	return r.resolveKey(ctx, AlternatePath(alias), alias)
}

func (r *Registry) resolveKey(ctx context.Context, path, alias string) (Resolution, bool, error) {
	node, found, err := r.client.Read(ctx, path)
	if err != nil || !found {
		return Resolution{}, false, err
	}
	return mappingFromNode(node, alias)
}

// resolveScan walks every mapping and compares both key forms and the stored
// username field.
func (r *Registry) resolveScan(ctx context.Context, alias string) (Resolution, bool, error) {
	var (
		res   Resolution
		found bool
	)
	err := r.client.Scan(ctx, UsernamesSpace, func(key string, node graph.Node) bool {
		key = strings.ToLower(key)
		if key != "@"+alias && key != alias && policy.NormalizeUsername(node.String("username")) != alias {
			return true
		}
		res, found, _ = mappingFromNode(node, alias)
		return !found
	})
	if found {
		return res, true, nil
	}
	return Resolution{}, false, err
}

func mappingFromNode(node graph.Node, alias string) (Resolution, bool, error) {
	pub := strings.TrimSpace(node.String("pub"))
	if pub == "" {
		return Resolution{}, false, nil
	}
	username := policy.NormalizeUsername(node.String("username"))
	if username == "" {
		username = alias
	}
	return Resolution{Pub: pub, Username: username, Immutable: node.Bool("immutable")}, true, nil
}

// enrich attaches the stored profile; the bare resolution is kept on any failure.
func (r *Registry) enrich(ctx context.Context, res Resolution) Resolution {
	profile, ok, err := r.Profile(ctx, res.Pub)
	if err != nil {
		r.logger.Debug("profile enrichment failed", "user_pub", res.Pub, "error", err)
		return res
	}
	if !ok {
		return res
	}
	res.Profile = &profile
	if res.Username == "" {
		res.Username = profile.Username
	}
	return res
}

// Exists reports whether any strategy resolves alias.
func (r *Registry) Exists(ctx context.Context, alias string) bool {
	_, ok, err := r.Resolve(ctx, alias)
	return ok && err == nil
}
