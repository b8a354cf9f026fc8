package testutils

import (
	"bytes"
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/keyward/keyward/internal/model"
	"github.com/keyward/keyward/internal/repo"
)

// FakeRepo serves fixture rows to the managers and workflows under test.
// Data keys are held newest first, matching the descending creation order
// queries ask for.
type FakeRepo struct {
	Tenant    model.Tenant
	Keyrings  []model.Keyring
	Keys      []model.DataKey
	APIKeys   []model.APIKey
	Workflows []model.RotationWorkflow

	// TenantLookupErr and KeyringLookupErr, when set, fail the matching
	// lookups as a downed store would.
	TenantLookupErr  error
	KeyringLookupErr error
}

func (f *FakeRepo) Create(_ context.Context, resource repo.Resource) error {
	switch r := resource.(type) {
	case *model.RotationWorkflow:
		for _, wf := range f.Workflows {
			if wf.ID == r.ID {
				return repo.ErrUniqueConstraint
			}
		}

		f.Workflows = append(f.Workflows, *r)
	case *model.DataKey:
		for _, key := range f.Keys {
			if key.ID == r.ID {
				return repo.ErrUniqueConstraint
			}
		}

		f.Keys = append([]model.DataKey{*r}, f.Keys...)
	}

	return nil
}

func (f *FakeRepo) List(_ context.Context, _ repo.Resource, result any, query repo.Query) (int, error) {
	switch out := result.(type) {
	case *[]model.Keyring:
		*out = paginate(f.Keyrings, query)
		return len(f.Keyrings), nil
	case *[]model.DataKey:
		matched := make([]model.DataKey, 0, len(f.Keys))

		for _, key := range f.Keys {
			if matchesConditions(key.ID, key.KeyringID, key.GenerationCount, query) {
				matched = append(matched, key)
			}
		}

		*out = paginate(matched, query)

		return len(matched), nil
	case *[]model.Tenant:
		*out = []model.Tenant{f.Tenant}
		return 1, nil
	case *[]model.RotationWorkflow:
		*out = paginate(f.Workflows, query)
		return len(f.Workflows), nil
	default:
		return 0, repo.ErrGetResource
	}
}

func (f *FakeRepo) Delete(_ context.Context, resource repo.Resource, query repo.Query) (bool, error) {
	if _, ok := resource.(*model.DataKey); !ok {
		return false, nil
	}

	for _, cond := range query.Conditions {
		if cond.Field != repo.IDField {
			continue
		}

		id := cond.Value.(uuid.UUID)
		for i, key := range f.Keys {
			if key.ID == id {
				f.Keys = append(f.Keys[:i], f.Keys[i+1:]...)
				return true, nil
			}
		}
	}

	return false, nil
}

func (f *FakeRepo) First(_ context.Context, resource repo.Resource, query repo.Query) (bool, error) {
	switch r := resource.(type) {
	case *model.Tenant:
		if f.TenantLookupErr != nil {
			return false, f.TenantLookupErr
		}

		if r.ID == f.Tenant.ID {
			*r = f.Tenant
			return true, nil
		}
	case *model.Keyring:
		if f.KeyringLookupErr != nil {
			return false, f.KeyringLookupErr
		}

		for _, keyring := range f.Keyrings {
			if keyring.ID == r.ID {
				*r = keyring
				return true, nil
			}
		}
	case *model.DataKey:
		for _, key := range f.Keys {
			if key.ID == r.ID {
				*r = key
				return true, nil
			}
		}
	case *model.APIKey:
		for _, apiKey := range f.APIKeys {
			if apiKey.ID == r.ID {
				*r = apiKey
				return true, nil
			}
		}
	case *model.RotationWorkflow:
		for _, wf := range f.Workflows {
			if r.ID != uuid.Nil && wf.ID != r.ID {
				continue
			}

			if !workflowMatches(wf, query) {
				continue
			}

			*r = wf

			return true, nil
		}
	}

	return false, repo.ErrNotFound
}

func workflowMatches(wf model.RotationWorkflow, query repo.Query) bool {
	for _, cond := range query.Conditions {
		switch cond.Field {
		case repo.TenantIDField:
			if cond.Value.(uuid.UUID) != wf.TenantID {
				return false
			}
		case repo.KeyringIDField:
			if cond.Value.(uuid.UUID) != wf.KeyringID {
				return false
			}
		case repo.StepField:
			switch cond.Op {
			case repo.NotEqual:
				if cond.Value.(string) == wf.Step {
					return false
				}
			case repo.Equal:
				if cond.Value.(string) != wf.Step {
					return false
				}
			}
		}
	}

	return true
}

// Patch updates rows by id, honoring a generation-count guard condition when
// present so compare-and-swap semantics are observable in tests.
func (f *FakeRepo) Patch(_ context.Context, resource repo.Resource, query repo.Query) (bool, error) {
	switch r := resource.(type) {
	case *model.RotationWorkflow:
		for i, wf := range f.Workflows {
			if wf.ID == r.ID {
				f.Workflows[i] = *r
				return true, nil
			}
		}
	case *model.DataKey:
		for i := range f.Keys {
			if !matchesConditions(f.Keys[i].ID, f.Keys[i].KeyringID, f.Keys[i].GenerationCount, query) {
				continue
			}

			if len(r.GenerationCount) > 0 {
				f.Keys[i].GenerationCount = r.GenerationCount
			}

			if r.LastUsed != nil {
				f.Keys[i].LastUsed = r.LastUsed
			}

			return true, nil
		}
	case *model.APIKey:
		for i := range f.APIKeys {
			if f.APIKeys[i].ID == r.ID {
				if r.LastUsed != nil {
					f.APIKeys[i].LastUsed = r.LastUsed
				}

				return true, nil
			}
		}
	}

	return false, nil
}

func (f *FakeRepo) Count(_ context.Context, _ repo.Resource, _ repo.Query) (int, error) {
	return 0, nil
}

func (f *FakeRepo) Transaction(ctx context.Context, txFunc repo.TransactionFunc) error {
	return txFunc(ctx, f)
}

func matchesConditions(id, keyringID uuid.UUID, generationCount []byte, query repo.Query) bool {
	for _, cond := range query.Conditions {
		switch cond.Field {
		case repo.IDField:
			if cond.Value.(uuid.UUID) != id {
				return false
			}
		case repo.KeyringIDField:
			if cond.Value.(uuid.UUID) != keyringID {
				return false
			}
		case repo.GenerationCountField:
			if !bytes.Equal(cond.Value.([]byte), generationCount) {
				return false
			}
		}
	}

	return true
}

func paginate[T any](items []T, query repo.Query) []T {
	if query.Offset >= len(items) {
		return nil
	}

	items = items[query.Offset:]
	if query.Limit > 0 && query.Limit < len(items) {
		items = items[:query.Limit]
	}

	out := make([]T, len(items))
	copy(out, items)

	return out
}

// Touch is a convenience for tests asserting last-used updates.
func Touch(ts time.Time) *time.Time {
	return &ts
}
