package auth

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/keyward/keyward/internal/errs"
	"github.com/keyward/keyward/internal/log"
	"github.com/keyward/keyward/internal/model"
	"github.com/keyward/keyward/internal/repo"
	kwcontext "github.com/keyward/keyward/utils/context"
)

// ErrUnauthorized is the single rejection the caller ever observes. The
// concrete stage that failed is logged server-side only.
var ErrUnauthorized = errors.New("unauthorized")

// Session is the authenticated request identity: the api key, its tenant and
// the resolved permission map.
type Session struct {
	APIKeyID    uuid.UUID
	TenantID    uuid.UUID
	Permissions Permissions
}

// Resolver authenticates bearer tokens against the root and tenant stores.
type Resolver struct {
	repo repo.Repo
}

func NewResolver(r repo.Repo) *Resolver {
	return &Resolver{repo: r}
}

// Resolve authenticates a bearer token. On success it returns a context
// bound to the caller's tenant store plus the session; every failure mode
// collapses into ErrUnauthorized.
func (r *Resolver) Resolve(ctx context.Context, bearer string) (context.Context, *Session, error) {
	token, err := ParseToken(bearer)
	if err != nil {
		return nil, nil, reject(ctx, "token parse failed", err)
	}

	// Tier 1: the root store maps the api key to its tenant and carries
	// the expiry, so expired keys never touch a tenant store.
	tenantKey := &model.TenantAPIKey{APIKeyID: token.ID.UUID()}

	found, err := r.repo.First(ctx, tenantKey, *repo.NewQuery().Preload("Tenant"))
	if err != nil || !found {
		return nil, nil, reject(ctx, "api key unknown to root store", err)
	}

	if time.Now().After(tenantKey.Expires) {
		return nil, nil, reject(ctx, "api key expired", nil)
	}

	tenantCtx := kwcontext.CreateTenantContext(ctx, tenantKey.TenantID.String())

	// Tier 2: the tenant store holds the secret hash and the per-keyring
	// grants.
	apiKey := &model.APIKey{ID: token.ID.UUID()}

	found, err = r.repo.First(
		tenantCtx, apiKey,
		*repo.NewQuery().Preload("Keyrings").Preload("Keyrings.Keyring"),
	)
	if err != nil || !found {
		return nil, nil, reject(ctx, "api key unknown to tenant store", err)
	}

	if !token.VerifySecret(apiKey.Hash) {
		return nil, nil, reject(ctx, "secret digest mismatch", nil)
	}

	session := &Session{
		APIKeyID:    apiKey.ID,
		TenantID:    tenantKey.TenantID,
		Permissions: NewPermissions(apiKey.Keyrings),
	}

	tenantCtx = kwcontext.InjectAPIKeyID(tenantCtx, apiKey.ID.String())

	return tenantCtx, session, nil
}

func reject(ctx context.Context, reason string, cause error) error {
	if cause == nil {
		cause = errors.New(reason)
	}

	log.Warn(ctx, "authentication rejected: "+reason, log.ErrorAttr(cause))

	return errs.Wrapf(ErrUnauthorized, reason)
}
