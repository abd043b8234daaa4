package registry

import (
	"context"
	"errors"
	"strings"
	"time"

	"graphauth/go-backend/internal/domains/contracts"
	"graphauth/go-backend/internal/graph"
)

// Profile reads users/<pub>. ok is false on a miss or an unanswered read.
func (r *Registry) Profile(ctx context.Context, pub string) (Profile, bool, error) {
	pub = strings.TrimSpace(pub)
	if pub == "" {
		return Profile{}, false, nil
	}
	rctx, cancel := context.WithTimeout(ctx, r.cfg.EnrichTimeout)
	defer cancel()
	node, found, err := r.client.Read(rctx, ProfilePath(pub))
	if err != nil {
		if errors.Is(err, graph.ErrTimeout) {
			return Profile{}, false, nil
		}
		return Profile{}, false, err
	}
	if !found {
		return Profile{}, false, nil
	}
	p := Profile{
		Username: node.String("username"),
		Pub:      node.String("pub"),
		EPub:     node.String("epub"),
	}
	if p.Pub == "" {
		p.Pub = pub
	}
	if ms := node.Int64("createdAt"); ms > 0 {
		p.CreatedAt = time.UnixMilli(ms).UTC()
	}
	if ms := node.Int64("lastLogin"); ms > 0 {
		p.LastLogin = time.UnixMilli(ms).UTC()
	}
	return p, true, nil
}

// SaveProfile writes the profile of a newly registered account.
func (r *Registry) SaveProfile(ctx context.Context, p Profile) error {
	if strings.TrimSpace(p.Pub) == "" {
		return contracts.NewError(contracts.CodeInvalidFormat, "profile public key is required")
	}
	created := p.CreatedAt
	if created.IsZero() {
		created = r.now()
	}
	node := graph.Node{
		"username":  p.Username,
		"pub":       p.Pub,
		"epub":      p.EPub,
		"createdAt": created.UnixMilli(),
	}
	if !p.LastLogin.IsZero() {
		node["lastLogin"] = p.LastLogin.UnixMilli()
	}
	return r.write(ctx, r.cfg.AvailabilityTimeout, ProfilePath(p.Pub), node)
}

// TouchLastLogin records a successful login on the profile.
func (r *Registry) TouchLastLogin(ctx context.Context, pub string, at time.Time) error {
	if strings.TrimSpace(pub) == "" {
		return nil
	}
	return r.write(ctx, r.cfg.AvailabilityTimeout, ProfilePath(pub), graph.Node{"lastLogin": at.UnixMilli()})
}
