package password

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Tests use a cheap work factor so the suite stays fast.
func testHasher() *Hasher {
	return NewHasher(Params{Time: 1, Memory: 8 * 1024, Threads: 1})
}

func TestHashAndVerify(t *testing.T) {
	h := testHasher()

	digest, err := h.Hash("Secret1!")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(digest, "$argon2id$"))

	ok, err := h.Verify("Secret1!", digest)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.Verify("wrong-password", digest)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHashGeneratesFreshSalt(t *testing.T) {
	h := testHasher()

	a, err := h.Hash("same-password")
	require.NoError(t, err)
	b, err := h.Hash("same-password")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestVerifyAcrossWorkFactors(t *testing.T) {
	// A digest hashed under old parameters must still verify, since the
	// parameters travel inside the digest.
	old := NewHasher(Params{Time: 1, Memory: 8 * 1024, Threads: 1})
	digest, err := old.Hash("Secret1!")
	require.NoError(t, err)

	current := NewHasher(Params{Time: 2, Memory: 16 * 1024, Threads: 2})
	ok, err := current.Verify("Secret1!", digest)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerifyMalformedDigest(t *testing.T) {
	h := testHasher()

	tests := []struct {
		name   string
		digest string
	}{
		{"empty", ""},
		{"garbage", "not-a-digest"},
		{"wrong algorithm", "$bcrypt$v=19$m=8192,t=1,p=1$c2FsdA$aGFzaA"},
		{"missing sections", "$argon2id$v=19$m=8192,t=1,p=1$c2FsdA"},
		{"bad params", "$argon2id$v=19$bogus$c2FsdA$aGFzaA"},
		{"bad salt encoding", "$argon2id$v=19$m=8192,t=1,p=1$!!!$aGFzaA"},
		{"bad hash encoding", "$argon2id$v=19$m=8192,t=1,p=1$c2FsdA$!!!"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := h.Verify("anything", tt.digest)
			assert.ErrorIs(t, err, ErrInvalidDigest)
			assert.False(t, ok)
		})
	}
}
