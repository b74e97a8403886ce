package fuzzy

// VendorMatch is the outcome of a best-candidate search.
type VendorMatch struct {
	Candidate string  `json:"candidate"`
	Score     float64 `json:"score"`
	Variant   string  `json:"variant,omitempty"` // the OCR variant that produced the best score, if not the query itself
}

// VendorMatcher combines the composite ratio, OCR variant expansion and a
// pre-fitted TF-IDF corpus to resolve a noisy vendor string against known
// vendor names. The matcher is immutable after construction and safe for
// concurrent use.
type VendorMatcher struct {
	tfidf         *TFIDF
	ocrCorrection bool
	phonetic      bool
}

// NewVendorMatcher fits the TF-IDF corpus over the tenant's vendor names
// (canonical names plus approved aliases).
func NewVendorMatcher(corpus []string, ocrCorrection, phonetic bool) *VendorMatcher {
	return &VendorMatcher{
		tfidf:         NewTFIDF(corpus),
		ocrCorrection: ocrCorrection,
		phonetic:      phonetic,
	}
}

// Score computes the similarity of query against candidate, taking the
// best over OCR variants when correction is enabled. A phonetic hit can
// only raise the score, never lower it.
func (vm *VendorMatcher) Score(query, candidate string) float64 {
	variants := []string{query}
	if vm.ocrCorrection {
		variants = OCRVariants(query)
	}

	best := 0.0
	for _, v := range variants {
		s := CompositeScore(v, candidate)
		if s > best {
			best = s
		}
	}

	if vm.phonetic && best < 1.0 {
		if PhoneticMatch(query, candidate) == 1.0 && best < 0.85 {
			best = 0.85
		}
	}

	// TF-IDF arbitration: when the corpus agrees candidate is the best
	// entry for this query, let the cosine lift a weak composite score.
	if cos := vm.tfidf.Similarity(query, candidate); cos > best {
		best = cos
	}
	return best
}

// FindBestVendorMatch runs the composite score for each (variant,
// candidate) pair and returns the argmax.
func (vm *VendorMatcher) FindBestVendorMatch(query string, candidates []string) VendorMatch {
	variants := []string{query}
	if vm.ocrCorrection {
		variants = OCRVariants(query)
	}

	var best VendorMatch
	for _, cand := range candidates {
		for _, v := range variants {
			s := CompositeScore(v, cand)
			if s > best.Score {
				best = VendorMatch{Candidate: cand, Score: s}
				if v != query {
					best.Variant = v
				} else {
					best.Variant = ""
				}
			}
		}
	}
	return best
}
