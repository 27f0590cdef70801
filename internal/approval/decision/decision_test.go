package decision

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "approvalgate/pkg/domain-errors"
)

func TestParse(t *testing.T) {
	t.Run("bare code", func(t *testing.T) {
		d, err := Parse("2")
		require.NoError(t, err)
		assert.Equal(t, Decision{Code: "2"}, d)
	})

	t.Run("code with note", func(t *testing.T) {
		d, err := Parse("4 add logs")
		require.NoError(t, err)
		assert.Equal(t, "4", d.Code)
		assert.Equal(t, "add logs", d.Note)
		assert.Empty(t, d.Override)
	})

	t.Run("code with override", func(t *testing.T) {
		d, err := Parse("5 npm test -- --runInBand")
		require.NoError(t, err)
		assert.Equal(t, "5", d.Code)
		assert.Equal(t, "npm test -- --runInBand", d.Override)
		assert.Empty(t, d.Note)
	})

	t.Run("payload ignored for plain codes", func(t *testing.T) {
		d, err := Parse("1 whatever trailing text")
		require.NoError(t, err)
		assert.Equal(t, Decision{Code: "1"}, d)
	})

	t.Run("leading and trailing whitespace tolerated", func(t *testing.T) {
		d, err := Parse("  3  \n")
		require.NoError(t, err)
		assert.Equal(t, "3", d.Code)
		assert.True(t, d.Deny())
	})

	t.Run("payload split on first whitespace run", func(t *testing.T) {
		d, err := Parse("4\t\t  spaced   payload ")
		require.NoError(t, err)
		assert.Equal(t, "spaced   payload", d.Note)
	})

	t.Run("missing required payload", func(t *testing.T) {
		for _, text := range []string{"4", "5", "4   "} {
			_, err := Parse(text)
			require.Error(t, err, text)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeUnparsable))
			assert.Equal(t, "payload required", dErrors.MessageOf(err))
		}
	})

	t.Run("invalid code", func(t *testing.T) {
		for _, text := range []string{"7", "0", "yes", "approve", "22"} {
			_, err := Parse(text)
			require.Error(t, err, text)
			assert.Equal(t, "invalid code", dErrors.MessageOf(err))
		}
	})

	t.Run("empty reply", func(t *testing.T) {
		for _, text := range []string{"", "   ", "\n\t"} {
			_, err := Parse(text)
			require.Error(t, err)
			assert.Equal(t, "empty reply", dErrors.MessageOf(err))
		}
	})
}
