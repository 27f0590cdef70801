package email

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignAction(t *testing.T) {
	sig := SignAction("appr_abc", "approve", "secret-key")
	require.Len(t, sig, 16)

	t.Run("deterministic", func(t *testing.T) {
		assert.Equal(t, sig, SignAction("appr_abc", "approve", "secret-key"))
	})

	t.Run("sensitive to every input", func(t *testing.T) {
		assert.NotEqual(t, sig, SignAction("appr_abd", "approve", "secret-key"))
		assert.NotEqual(t, sig, SignAction("appr_abc", "deny", "secret-key"))
		assert.NotEqual(t, sig, SignAction("appr_abc", "approve", "other-key"))
	})
}

func TestVerifyAction(t *testing.T) {
	sig := SignAction("appr_abc", "approve", "secret-key")

	assert.True(t, VerifyAction("appr_abc", "approve", sig, "secret-key"))
	assert.False(t, VerifyAction("appr_abc", "deny", sig, "secret-key"))
	assert.False(t, VerifyAction("appr_abc", "approve", sig, "other-key"))
	assert.False(t, VerifyAction("appr_abc", "approve", "", "secret-key"))
	assert.False(t, VerifyAction("appr_abc", "approve", sig[:15]+"x", "secret-key"))
}
