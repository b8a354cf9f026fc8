package context

import (
	"context"
	"errors"

	"github.com/bartventer/gorm-multitenancy/middleware/nethttp/v8"
	"github.com/google/uuid"

	"github.com/keyward/keyward/internal/errs"
)

var (
	ErrExtractTenantID = errors.New("could not extract tenant ID from context")
	ErrGetRequestID    = errors.New("no requestID found in context")
	ErrGetAPIKeyID     = errors.New("no apiKeyID found in context")
)

type Opt func(ctx context.Context) context.Context

//nolint:fatcontext
func New(ctx context.Context, opts ...Opt) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}

	for _, opt := range opts {
		ctx = opt(ctx)
	}

	return ctx
}

// ExtractTenantID returns the tenant schema bound to the request context.
func ExtractTenantID(ctx context.Context) (string, error) {
	tenantID, ok := ctx.Value(nethttp.TenantKey).(string)
	if !ok || tenantID == "" {
		return "", errs.Wrap(ErrExtractTenantID, nethttp.ErrTenantInvalid)
	}

	return tenantID, nil
}

func CreateTenantContext(ctx context.Context, tenantSchema string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}

	return context.WithValue(ctx, nethttp.TenantKey, tenantSchema)
}

func WithTenant(tenantSchema string) Opt {
	return func(ctx context.Context) context.Context {
		return CreateTenantContext(ctx, tenantSchema)
	}
}

type key string

const (
	requestID = key("requestID")
	apiKeyID  = key("apiKeyID")
)

func InjectRequestID(ctx context.Context) context.Context {
	return context.WithValue(ctx, requestID, uuid.NewString())
}

func GetRequestID(ctx context.Context) (string, error) {
	id, ok := ctx.Value(requestID).(string)
	if !ok || id == "" {
		return "", ErrGetRequestID
	}

	return id, nil
}

// InjectAPIKeyID binds the authenticated api-key id to the context
// so downstream logging can attribute operations to a caller.
func InjectAPIKeyID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, apiKeyID, id)
}

func GetAPIKeyID(ctx context.Context) (string, error) {
	id, ok := ctx.Value(apiKeyID).(string)
	if !ok || id == "" {
		return "", ErrGetAPIKeyID
	}

	return id, nil
}
