package registry

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"graphauth/go-backend/internal/domains/contracts"
	"graphauth/go-backend/internal/domains/identity/policy"
	"graphauth/go-backend/internal/graph"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// CheckAvailability looks for an owner under the direct key, the bare legacy
// key and the frozen space. Any observed owner means Taken, misses from all
// three mean Available, and a lookup that did not answer within timeout
// leaves the result Unknown.
func (r *Registry) CheckAvailability(ctx context.Context, alias string, timeout time.Duration) (Availability, error) {
	alias = policy.NormalizeUsername(alias)
	if alias == "" {
		return AvailabilityUnknown, contracts.NewError(contracts.CodeInvalidFormat, "alias is required")
	}
	if timeout <= 0 {
		timeout = r.cfg.AvailabilityTimeout
	}
	owners, err := r.owners(ctx, alias, timeout)
	switch {
	case err != nil:
		return AvailabilityUnknown, err
	case owners.taken():
		return Taken, nil
	case !owners.complete:
		return AvailabilityUnknown, nil
	default:
		return Available, nil
	}
}

// IsAliasAvailable collapses CheckAvailability to a boolean using the
// configured policy for unanswered reads.
func (r *Registry) IsAliasAvailable(ctx context.Context, alias string, timeout time.Duration) bool {
	availability, err := r.CheckAvailability(ctx, alias, timeout)
	if err != nil {
		return false
	}
	switch availability {
	case Available:
		return true
	case Taken:
		return false
	default:
		return r.cfg.UnknownPolicy == UnknownOptimistic
	}
}

type reservation struct {
	id        string
	pub       string
	expiresAt int64
}

// aliasOwners is what the direct, legacy and frozen layouts report for one
// alias. complete is false when any of the lookups went unanswered.
type aliasOwners struct {
	direct    string
	alternate string
	frozen    []string
	complete  bool
}

func (o aliasOwners) taken() bool {
	return o.direct != "" || o.alternate != "" || len(o.frozen) > 0
}

// other returns an owner that is not pub, or "".
func (o aliasOwners) other(pub string) string {
	for _, owner := range append([]string{o.direct, o.alternate}, o.frozen...) {
		if owner != "" && owner != pub {
			return owner
		}
	}
	return ""
}

func (o aliasOwners) registered(pub string) bool {
	return o.direct == pub && o.alternate == pub && slices.Contains(o.frozen, pub)
}

// Register maps alias to pub. It refuses when any key layout already names
// another owner, appends a reservation, backs off if an earlier live
// reservation belongs to someone else, writes the direct and alternate
// mappings without overwriting a foreign one, confirms, and finally writes the
// frozen record. On failure after the reservation its own writes are
// withdrawn. Registering the same pair twice is a no-op.
func (r *Registry) Register(ctx context.Context, alias, pub string, timeout time.Duration) (err error) {
	alias = policy.NormalizeUsername(alias)
	pub = strings.TrimSpace(pub)
	if alias == "" || pub == "" {
		return contracts.NewError(contracts.CodeInvalidFormat, "alias and public key are required")
	}
	if timeout <= 0 {
		timeout = r.cfg.RegisterTimeout
	}
	ctx, span := r.tracer.Start(ctx, "registry.Register")
	defer func() {
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	span.SetAttributes(attribute.String("registry.step", "throttle"))

	now := r.now()
	if !r.throttle.Allow(alias, now) {
		return &contracts.Error{Code: contracts.CodeRateLimited, Message: "alias registration throttled", RetryAfter: time.Minute}
	}

	existing, err := r.owners(ctx, alias, timeout)
	if err != nil {
		return err
	}
	if owner := existing.other(pub); owner != "" {
		r.logger.Info("alias already owned", "alias", alias, "user_pub", pub, "owner_pub", owner)
		return contracts.ErrAliasUnavailable
	}
	if existing.registered(pub) {
		return nil
	}

	span.SetAttributes(attribute.String("registry.step", "reserve"))
	resID := r.newReservationID(now)
	if err := r.write(ctx, timeout, graph.Join(ReservationsPath(alias), resID), graph.Node{
		"alias":     alias,
		"pub":       pub,
		"expiresAt": now.Add(r.cfg.ReservationTTL).UnixMilli(),
	}); err != nil {
		return err
	}
	defer func() {
		if err != nil {
			r.release(ctx, alias, pub, resID, timeout)
		}
	}()
	if winner, ok := r.earliestReservation(ctx, alias, timeout); ok && winner.pub != pub {
		r.logger.Warn("alias reservation lost", "alias", alias, "user_pub", pub, "winner_pub", winner.pub)
		return contracts.ErrAliasUnavailable
	}

	span.SetAttributes(attribute.String("registry.step", "write"))
	mapping := graph.Node{
		"pub":          pub,
		"username":     alias,
		"registeredAt": now.UnixMilli(),
	}
	for _, path := range []string{DirectPath(alias), AlternatePath(alias)} {
		if err := r.claim(ctx, timeout, path, mapping); err != nil {
			return err
		}
	}

	span.SetAttributes(attribute.String("registry.step", "confirm"))
	confirmed, err := r.owners(ctx, alias, timeout)
	if err != nil {
		return err
	}
	if owner := confirmed.other(pub); owner != "" {
		r.logger.Warn("alias collision observed", "alias", alias, "user_pub", pub, "other_pub", owner)
		return contracts.ErrAliasUnavailable
	}
	if confirmed.direct != pub {
		r.logger.Debug("alias mapping not yet visible after write", "alias", alias)
	}

	return r.write(ctx, timeout, FrozenPath(alias, pub), graph.Node{
		"alias":        alias,
		"pub":          pub,
		"immutable":    true,
		"registeredAt": now.UnixMilli(),
	})
}

// claim writes mapping at path unless the node there already names another
// owner.
func (r *Registry) claim(ctx context.Context, timeout time.Duration, path string, mapping graph.Node) error {
	pub := mapping.String("pub")
	owner, _, err := r.keyOwner(ctx, path, timeout)
	if err != nil {
		return err
	}
	if owner != "" && owner != pub {
		r.logger.Warn("alias mapping held by another owner", "path", path, "user_pub", pub, "owner_pub", owner)
		return contracts.ErrAliasUnavailable
	}
	return r.write(ctx, timeout, path, mapping)
}

// release expires the reservation and clears the mappings that still name
// pub. Mappings of other owners are left alone.
func (r *Registry) release(ctx context.Context, alias, pub, resID string, timeout time.Duration) {
	ctx = context.WithoutCancel(ctx)
	if err := r.write(ctx, timeout, graph.Join(ReservationsPath(alias), resID), graph.Node{"expiresAt": int64(0)}); err != nil {
		r.logger.Warn("reservation release failed", "alias", alias, "user_pub", pub, "error", err)
	}
	for _, path := range []string{DirectPath(alias), AlternatePath(alias)} {
		owner, _, err := r.keyOwner(ctx, path, timeout)
		if err != nil || owner != pub {
			continue
		}
		if err := r.write(ctx, timeout, path, graph.Node{"pub": nil, "username": nil, "registeredAt": nil}); err != nil {
			r.logger.Warn("alias mapping release failed", "path", path, "user_pub", pub, "error", err)
		}
	}
}

// owners reads every key layout of alias, each bounded by timeout.
func (r *Registry) owners(ctx context.Context, alias string, timeout time.Duration) (aliasOwners, error) {
	out := aliasOwners{complete: true}
	direct, answered, err := r.keyOwner(ctx, DirectPath(alias), timeout)
	if err != nil {
		return out, err
	}
	out.direct, out.complete = direct, out.complete && answered

	alternate, answered, err := r.keyOwner(ctx, AlternatePath(alias), timeout)
	if err != nil {
		return out, err
	}
	out.alternate, out.complete = alternate, out.complete && answered

	frozen, answered := r.frozenOwners(ctx, alias, timeout)
	out.frozen, out.complete = frozen, out.complete && answered
	return out, nil
}

// keyOwner returns the pub stored at path. answered is false when the read
// did not complete in time.
func (r *Registry) keyOwner(ctx context.Context, path string, timeout time.Duration) (pub string, answered bool, err error) {
	rctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	node, found, err := r.client.Read(rctx, path)
	switch {
	case errors.Is(err, graph.ErrTimeout):
		return "", false, nil
	case err != nil:
		return "", false, contracts.WrapError(contracts.CodeStorage, err)
	case !found:
		return "", true, nil
	}
	return strings.TrimSpace(node.String("pub")), true, nil
}

// frozenOwners lists the pubs of every immutable record for alias.
func (r *Registry) frozenOwners(ctx context.Context, alias string, timeout time.Duration) ([]string, bool) {
	rctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	var pubs []string
	err := r.client.Scan(rctx, FrozenSpace, func(_ string, node graph.Node) bool {
		pub := node.String("pub")
		if pub != "" && node.Bool("immutable") && policy.NormalizeUsername(node.String("alias")) == alias && !slices.Contains(pubs, pub) {
			pubs = append(pubs, pub)
		}
		return true
	})
	if err != nil {
		if !errors.Is(err, graph.ErrTimeout) {
			r.logger.Warn("frozen scan failed", "alias", alias, "error", err)
		}
		return pubs, false
	}
	return pubs, true
}

// earliestReservation returns the live reservation with the smallest id.
func (r *Registry) earliestReservation(ctx context.Context, alias string, timeout time.Duration) (reservation, bool) {
	rctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	nowMs := r.now().UnixMilli()

	var live []reservation
	err := r.client.Scan(rctx, ReservationsPath(alias), func(key string, node graph.Node) bool {
		res := reservation{id: key, pub: node.String("pub"), expiresAt: node.Int64("expiresAt")}
		if res.pub != "" && res.expiresAt > nowMs {
			live = append(live, res)
		}
		return true
	})
	if err != nil && !errors.Is(err, graph.ErrTimeout) {
		r.logger.Warn("reservation scan failed", "alias", alias, "error", err)
	}
	if len(live) == 0 {
		return reservation{}, false
	}
	sort.Slice(live, func(i, j int) bool { return live[i].id < live[j].id })
	return live[0], true
}

func (r *Registry) write(ctx context.Context, timeout time.Duration, path string, node graph.Node) error {
	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := r.client.Write(wctx, path, node); err != nil {
		if errors.Is(err, graph.ErrTimeout) {
			return &contracts.Error{Code: contracts.CodeTimeout, Message: fmt.Sprintf("write %s timed out", path), Err: err}
		}
		return contracts.WrapError(contracts.CodeStorage, fmt.Errorf("write %s: %w", path, err))
	}
	return nil
}
