package ingest

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"unicode"
)

// GenerateVendorCode derives a unique vendor code from a vendor name:
// the first six alphanumeric characters uppercased (padded with X to at
// least three), then a two-digit counter from 02 on collision, then a
// random three-character suffix once the counter is exhausted.
func GenerateVendorCode(ctx context.Context, name string, exists func(ctx context.Context, code string) (bool, error)) (string, error) {
	base := codeBase(name)

	taken, err := exists(ctx, base)
	if err != nil {
		return "", err
	}
	if !taken {
		return base, nil
	}

	for n := 2; n <= 99; n++ {
		code := fmt.Sprintf("%s%02d", base, n)
		taken, err := exists(ctx, code)
		if err != nil {
			return "", err
		}
		if !taken {
			return code, nil
		}
	}

	const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	for attempt := 0; attempt < 100; attempt++ {
		suffix := make([]byte, 3)
		for i := range suffix {
			suffix[i] = letters[rand.Intn(len(letters))]
		}
		code := base + string(suffix)
		taken, err := exists(ctx, code)
		if err != nil {
			return "", err
		}
		if !taken {
			return code, nil
		}
	}
	return "", fmt.Errorf("vendor code space exhausted for %q", name)
}

// codeBase keeps the first six alphanumerics of the uppercased name,
// padded with X to a minimum of three.
func codeBase(name string) string {
	var runes []rune
	for _, r := range strings.ToUpper(name) {
		if r < 128 && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			runes = append(runes, r)
			if len(runes) == 6 {
				break
			}
		}
	}
	for len(runes) < 3 {
		runes = append(runes, 'X')
	}
	return string(runes)
}
