package attendance

import "context"

// UserDirectory is the read-only account lookup this subsystem consumes.
type UserDirectory interface {
	FindByID(ctx context.Context, id string) (*ResolvedIdentity, error)
	FindByPhone(ctx context.Context, phone string) (*ResolvedIdentity, error)
}

// Resolver maps a claim to exactly one canonical user. Precedence is direct
// id lookup first, then phone; no cross-field validation happens here.
type Resolver struct {
	users UserDirectory
}

// NewResolver creates a resolver over the given directory.
func NewResolver(users UserDirectory) *Resolver {
	return &Resolver{users: users}
}

// Resolve returns the matched identity or a not_found rejection.
func (r *Resolver) Resolve(ctx context.Context, claim Claim) (*ResolvedIdentity, error) {
	if !claim.HasIdentifier() {
		return nil, Reject(ReasonIncomplete, "claim carries no user id or phone number")
	}
	if claim.UserID != "" {
		id, err := r.users.FindByID(ctx, claim.UserID)
		if err != nil {
			return nil, err
		}
		if id != nil {
			return id, nil
		}
	}
	if claim.Phone != "" {
		id, err := r.users.FindByPhone(ctx, claim.Phone)
		if err != nil {
			return nil, err
		}
		if id != nil {
			return id, nil
		}
	}
	return nil, Reject(ReasonNotFound, "no user matches the submitted data")
}
