package masking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskEmail(t *testing.T) {
	assert.Equal(t, "j****@example.com", MaskEmail("jane.doe@example.com"))
	assert.Equal(t, "****", MaskEmail("abc"))
}

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "", MaskSecret("  "))
	assert.Equal(t, "****", MaskSecret("abcd"))
	assert.Equal(t, "****wxyz", MaskSecret("token-abcdwxyz"))
}

func TestMaskFields(t *testing.T) {
	out := MaskFields(map[string]any{
		"email":  "jane@example.com",
		"token":  "secret-value-1234",
		"amount": 50,
		" ":      "dropped",
	}, "email", "token")

	assert.Equal(t, "j****@example.com", out["email"])
	assert.Equal(t, "****1234", out["token"])
	assert.Equal(t, 50, out["amount"])
	assert.Len(t, out, 3)
	assert.Nil(t, MaskFields(nil))
}
