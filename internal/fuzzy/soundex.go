package fuzzy

import "strings"

// soundexCodes maps consonants to the classic American Soundex digit
// groups. Vowels and h/w/y are skipped.
var soundexCodes = map[rune]byte{
	'b': '1', 'f': '1', 'p': '1', 'v': '1',
	'c': '2', 'g': '2', 'j': '2', 'k': '2', 'q': '2', 's': '2', 'x': '2', 'z': '2',
	'd': '3', 't': '3',
	'l': '4',
	'm': '5', 'n': '5',
	'r': '6',
}

// Soundex returns the four-character soundex code for s, or "" when s
// contains no letters.
func Soundex(s string) string {
	s = strings.ToLower(s)

	var first rune
	var rest []rune
	for _, r := range s {
		if r >= 'a' && r <= 'z' {
			if first == 0 {
				first = r
			} else {
				rest = append(rest, r)
			}
		}
	}
	if first == 0 {
		return ""
	}

	code := []byte{byte(first - 'a' + 'A')}
	prev := soundexCodes[first]
	for _, r := range rest {
		d, ok := soundexCodes[r]
		if !ok {
			// h and w do not reset the adjacency rule; vowels do.
			if r != 'h' && r != 'w' {
				prev = 0
			}
			continue
		}
		if d != prev {
			code = append(code, d)
			if len(code) == 4 {
				break
			}
		}
		prev = d
	}
	for len(code) < 4 {
		code = append(code, '0')
	}
	return string(code)
}

// PhoneticMatch returns 1.0 when both strings share a soundex code,
// otherwise 0.0.
func PhoneticMatch(a, b string) float64 {
	ca, cb := Soundex(a), Soundex(b)
	if ca == "" || cb == "" {
		return 0.0
	}
	if ca == cb {
		return 1.0
	}
	return 0.0
}
