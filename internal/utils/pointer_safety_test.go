package utils_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/go-oauth-session/internal/utils"
)

func TestValueOr(t *testing.T) {
	require.True(t, utils.ValueOr(nil, true))
	require.False(t, utils.ValueOr(utils.Ptr(false), true))
	require.Equal(t, "x", utils.ValueOr(utils.Ptr("x"), ""))
}
