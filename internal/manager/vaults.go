package manager

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/openkcm/common-sdk/pkg/commoncfg"

	"github.com/keyward/keyward/internal/config"
	"github.com/keyward/keyward/internal/errs"
	"github.com/keyward/keyward/internal/model"
	"github.com/keyward/keyward/internal/repo"
	"github.com/keyward/keyward/internal/vault"
	kwcontext "github.com/keyward/keyward/utils/context"
)

var ErrVaultDisabled = errors.New("tenant has no vault binding")

// VaultProvider hands out vault clients per tenant. Clients are cached by
// API URL; a tenant record may override the configured default.
type VaultProvider struct {
	cfg  config.Vault
	repo repo.Repo

	mu      sync.Mutex
	clients map[string]*vault.Client
}

func NewVaultProvider(cfg config.Vault, r repo.Repo) *VaultProvider {
	return &VaultProvider{
		cfg:     cfg,
		repo:    r,
		clients: make(map[string]*vault.Client),
	}
}

// ForTenant returns the vault client of the tenant bound to the context.
func (p *VaultProvider) ForTenant(ctx context.Context) (*vault.Client, error) {
	tenantID, err := kwcontext.ExtractTenantID(ctx)
	if err != nil {
		return nil, err
	}

	id, err := uuid.Parse(tenantID)
	if err != nil {
		return nil, errs.Wrap(repo.ErrTenantNotFound, err)
	}

	tenant := &model.Tenant{ID: id}

	found, err := p.repo.First(ctx, tenant, *repo.NewQuery())
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}

	if !found {
		return nil, errs.Wrapf(repo.ErrTenantNotFound, tenantID)
	}

	apiURL := p.cfg.APIURL
	if tenant.VaultURL != nil && *tenant.VaultURL != "" {
		apiURL = *tenant.VaultURL
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	client, ok := p.clients[apiURL]
	if ok {
		return client, nil
	}

	accessToken, err := commoncfg.LoadValueFromSourceRef(p.cfg.AccessToken)
	if err != nil {
		return nil, errs.Wrap(vault.ErrInvalidAccessToken, err)
	}

	client, err = vault.NewClient(vault.Config{
		IdentityURL: p.cfg.IdentityURL,
		APIURL:      apiURL,
		AccessToken: string(accessToken),
		Timeout:     p.cfg.Timeout,
	})
	if err != nil {
		return nil, err
	}

	p.clients[apiURL] = client

	return client, nil
}
