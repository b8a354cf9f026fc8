package auth

import (
	"strings"

	"github.com/keyward/keyward/internal/ident"
	"github.com/keyward/keyward/internal/model"
)

// KeyringPermissions is one keyring's capability flags for the authenticated
// caller, plus the display name callers use to address the keyring.
type KeyringPermissions struct {
	KeyringID ident.Identifier
	Name      string

	Encrypt bool
	Decrypt bool
	Rewrap  bool
	Sign    bool
	Verify  bool
	HMAC    bool
	Random  bool
	Hash    bool
}

// Permissions maps base64url keyring ids to the caller's capabilities.
type Permissions map[string]KeyringPermissions

// NewPermissions builds the map from the caller's grant rows.
func NewPermissions(grants []model.APIKeyKeyring) Permissions {
	permissions := make(Permissions, len(grants))

	for _, grant := range grants {
		id := ident.FromUUID(grant.KeyringID)

		permissions[id.Base64URL()] = KeyringPermissions{
			KeyringID: id,
			Name:      grant.Keyring.Name,
			Encrypt:   grant.Encrypt,
			Decrypt:   grant.Decrypt,
			Rewrap:    grant.Rewrap,
			Sign:      grant.Sign,
			Verify:    grant.Verify,
			HMAC:      grant.HMAC,
			Random:    grant.Random,
			Hash:      grant.Hash,
		}
	}

	return permissions
}

// ByName finds a keyring grant by display name, case-insensitively.
func (p Permissions) ByName(name string) (KeyringPermissions, bool) {
	for _, grant := range p {
		if strings.EqualFold(grant.Name, name) {
			return grant, true
		}
	}

	return KeyringPermissions{}, false
}

// Allows reports whether at least one visible keyring grants the capability.
func (p Permissions) Allows(capability func(KeyringPermissions) bool) bool {
	for _, grant := range p {
		if capability(grant) {
			return true
		}
	}

	return false
}
