package utils_test

import (
	"testing"

	"github.com/jrsteele09/go-auth-session/internal/utils"
	"github.com/stretchr/testify/require"
)

func TestToStringSlice(t *testing.T) {
	require.Equal(t, []string{"a", "c"}, utils.ToStringSlice([]any{"a", 2, "c", nil}))
	require.Empty(t, utils.ToStringSlice(nil))
}

func TestAppendUnique(t *testing.T) {
	base := []string{"openid", "profile"}
	got := utils.AppendUnique(base, "profile", "", "api://x/access_as_user", "api://x/access_as_user")
	require.Equal(t, []string{"openid", "profile", "api://x/access_as_user"}, got)
	require.Equal(t, []string{"openid", "profile"}, base)
}

func TestPtr(t *testing.T) {
	v := 3
	p := utils.Ptr(v)
	*p = 4
	require.Equal(t, 3, v)
}
