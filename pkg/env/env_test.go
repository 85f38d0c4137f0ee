package env

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetTrimsAndFallsBack(t *testing.T) {
	t.Setenv("BAZARI_TEST_VALUE", "  console ")
	t.Setenv("BAZARI_TEST_BLANK", "   ")

	require.Equal(t, "console", Get("BAZARI_TEST_VALUE", "json"))
	require.Equal(t, "json", Get("BAZARI_TEST_BLANK", "json"))
	require.Equal(t, "json", Get("BAZARI_TEST_UNSET_VALUE", "json"))
}

func TestLookupReportsBlankAsUnset(t *testing.T) {
	t.Setenv("BAZARI_TEST_BLANK", " ")

	_, ok := Lookup("BAZARI_TEST_BLANK")
	require.False(t, ok)
	_, ok = Lookup("BAZARI_TEST_UNSET_VALUE")
	require.False(t, ok)
}
