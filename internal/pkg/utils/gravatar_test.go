package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetGravatarURL(t *testing.T) {
	// md5("myemailaddress@example.com")
	want := "https://www.gravatar.com/avatar/0bc83cb571cd1c50ba6f3e8a78ef1346?s=200&d=mp"
	assert.Equal(t, want, GetGravatarURL("  MyEmailAddress@example.com ", 0))
	assert.Contains(t, GetGravatarURL("a@example.com", 64), "s=64")
}

func TestAvatarURL(t *testing.T) {
	assert.Equal(t, "/uploads/avatars/1.jpg", AvatarURL("/uploads/avatars/1.jpg", "a@example.com", 256))
	assert.Contains(t, AvatarURL("", "a@example.com", 256), "gravatar.com")
}
