package fuzzy

import "strings"

// OCR confusion table. Each entry maps a sequence commonly misread by
// OCR engines to its plausible replacements. Multi-rune keys (rn, cl)
// cover glyph merges.
var ocrConfusions = []struct {
	from string
	to   []string
}{
	{"0", []string{"O", "Q", "D"}},
	{"O", []string{"0"}},
	{"1", []string{"I", "l", "|"}},
	{"I", []string{"1"}},
	{"l", []string{"1"}},
	{"2", []string{"Z"}},
	{"Z", []string{"2"}},
	{"5", []string{"S"}},
	{"S", []string{"5"}},
	{"6", []string{"G", "b"}},
	{"G", []string{"6"}},
	{"8", []string{"B"}},
	{"B", []string{"8"}},
	{"rn", []string{"m"}},
	{"m", []string{"rn"}},
	{"cl", []string{"d"}},
	{"d", []string{"cl"}},
}

// maxOCRVariants caps the expansion per input so a pathological string
// cannot blow up the candidate set.
const maxOCRVariants = 5

// maxOCRInputLen short-circuits the generator for long inputs, which are
// almost never single identifiers worth correcting.
const maxOCRInputLen = 50

// OCRVariants returns s followed by up to 5 single-substitution variants
// from the confusion table. Inputs longer than 50 characters are
// returned unchanged.
func OCRVariants(s string) []string {
	if len([]rune(s)) > maxOCRInputLen {
		return []string{s}
	}

	variants := []string{s}
	seen := map[string]struct{}{s: {}}

	for _, conf := range ocrConfusions {
		idx := 0
		for {
			pos := strings.Index(s[idx:], conf.from)
			if pos < 0 {
				break
			}
			pos += idx
			for _, repl := range conf.to {
				v := s[:pos] + repl + s[pos+len(conf.from):]
				if _, dup := seen[v]; !dup {
					seen[v] = struct{}{}
					variants = append(variants, v)
					if len(variants) == maxOCRVariants+1 {
						return variants
					}
				}
			}
			idx = pos + len(conf.from)
		}
	}
	return variants
}
