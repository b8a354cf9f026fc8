package manager_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyward/keyward/internal/manager"
)

func TestSecretNoteRoundTrip(t *testing.T) {
	publicKey := []byte(`{"kty":"EC","crv":"P-256"}`)
	salt := randomBytes(t, 32)
	macInfo := randomBytes(t, 16)

	note, err := manager.EncodeSecretNote(publicKey, salt, macInfo)
	require.NoError(t, err)

	gotPublic, gotSalt, gotMacInfo, err := manager.DecodeSecretNote(note)
	require.NoError(t, err)
	assert.Equal(t, publicKey, gotPublic)
	assert.Equal(t, salt, gotSalt)
	assert.Equal(t, macInfo, gotMacInfo)
}

func TestSecretNoteWithoutPublicKey(t *testing.T) {
	note, err := manager.EncodeSecretNote(nil, randomBytes(t, 32), randomBytes(t, 16))
	require.NoError(t, err)

	gotPublic, _, _, err := manager.DecodeSecretNote(note)
	require.NoError(t, err)
	assert.Empty(t, gotPublic)
}

func TestDecodeSecretNoteRejectsMalformedInput(t *testing.T) {
	tests := []struct {
		name string
		note string
	}{
		{"not json", "plain text"},
		{"bad salt encoding", `{"salt":"!!","macInfo":"aaaa"}`},
		{"bad mac info encoding", `{"salt":"aaaa","macInfo":"!!"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, _, err := manager.DecodeSecretNote(tt.note)
			assert.ErrorIs(t, err, manager.ErrInvalidSecretNote)
		})
	}
}
