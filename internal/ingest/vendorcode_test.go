package ingest

import (
	"context"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func neverExists(context.Context, string) (bool, error) { return false, nil }

func existsIn(taken ...string) func(context.Context, string) (bool, error) {
	set := make(map[string]bool, len(taken))
	for _, c := range taken {
		set[c] = true
	}
	return func(_ context.Context, code string) (bool, error) { return set[code], nil }
}

func TestGenerateVendorCode_Base(t *testing.T) {
	ctx := context.Background()

	cases := map[string]string{
		"Acme Supplies Inc": "ACMESU",
		"Globex":            "GLOBEX",
		"3M":                "3MX",
		"A B":               "ABX",
		"Café 9":            "CAF9", // non-ASCII é is skipped
	}

	for name, want := range cases {
		got, err := GenerateVendorCode(ctx, name, neverExists)
		require.NoError(t, err)
		assert.Equal(t, want, got, "name %q", name)
	}
}

func TestGenerateVendorCode_CounterOnCollision(t *testing.T) {
	ctx := context.Background()

	got, err := GenerateVendorCode(ctx, "Globex", existsIn("GLOBEX"))
	require.NoError(t, err)
	assert.Equal(t, "GLOBEX02", got)

	got, err = GenerateVendorCode(ctx, "Globex", existsIn("GLOBEX", "GLOBEX02", "GLOBEX03"))
	require.NoError(t, err)
	assert.Equal(t, "GLOBEX04", got)
}

func TestGenerateVendorCode_RandomSuffixWhenCounterExhausted(t *testing.T) {
	ctx := context.Background()

	taken := map[string]bool{"GLOBEX": true}
	for n := 2; n <= 99; n++ {
		taken[codeBase("Globex")+twoDigits(n)] = true
	}
	exists := func(_ context.Context, code string) (bool, error) { return taken[code], nil }

	got, err := GenerateVendorCode(ctx, "Globex", exists)
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^GLOBEX[A-Z0-9]{3}$`), got)
}

func twoDigits(n int) string {
	return string([]byte{byte('0' + n/10), byte('0' + n%10)})
}
