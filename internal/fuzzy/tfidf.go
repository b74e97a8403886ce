package fuzzy

import (
	"math"
	"strings"
)

// TFIDF is a character n-gram (n = 2, 3) TF-IDF model fitted over the
// tenant's known vendor names. The corpus is immutable after Fit and the
// model may be shared across concurrent workers.
type TFIDF struct {
	corpus  []string
	idf     map[string]float64
	vectors []map[string]float64 // per corpus entry, L2-normalized
}

// NewTFIDF fits the model over the given corpus. Fitting an empty corpus
// is allowed; Similarity then always returns 0.
func NewTFIDF(corpus []string) *TFIDF {
	m := &TFIDF{
		corpus: append([]string(nil), corpus...),
		idf:    make(map[string]float64),
	}
	if len(corpus) == 0 {
		return m
	}

	// Document frequencies over the corpus.
	df := make(map[string]int)
	grams := make([]map[string]int, len(corpus))
	for i, doc := range corpus {
		g := ngramCounts(doc)
		grams[i] = g
		for gram := range g {
			df[gram]++
		}
	}

	n := float64(len(corpus))
	for gram, d := range df {
		// Smoothed IDF so that grams present in every document still
		// carry a small positive weight.
		m.idf[gram] = math.Log((1+n)/(1+float64(d))) + 1
	}

	m.vectors = make([]map[string]float64, len(corpus))
	for i, g := range grams {
		m.vectors[i] = m.vectorize(g)
	}
	return m
}

// Similarity returns the cosine between query and candidate iff the
// best-matching corpus entry for query is candidate; otherwise 0. This
// keeps TF-IDF as a corpus-level arbitration signal rather than a
// general-purpose pair similarity.
func (m *TFIDF) Similarity(query, candidate string) float64 {
	best, cos := m.BestMatch(query)
	if best == "" {
		return 0.0
	}
	if strings.EqualFold(best, candidate) {
		return cos
	}
	return 0.0
}

// BestMatch returns the corpus entry with the highest cosine against
// query, and the cosine itself.
func (m *TFIDF) BestMatch(query string) (string, float64) {
	if len(m.corpus) == 0 {
		return "", 0.0
	}
	qv := m.vectorize(ngramCounts(query))
	bestIdx, bestCos := -1, 0.0
	for i, v := range m.vectors {
		cos := dot(qv, v)
		if cos > bestCos {
			bestIdx, bestCos = i, cos
		}
	}
	if bestIdx < 0 {
		return "", 0.0
	}
	return m.corpus[bestIdx], bestCos
}

// vectorize builds an L2-normalized TF-IDF vector from raw gram counts.
// Grams unseen during Fit get the maximal IDF of an unseen term.
func (m *TFIDF) vectorize(counts map[string]int) map[string]float64 {
	v := make(map[string]float64, len(counts))
	var norm float64
	unseenIDF := math.Log(1+float64(len(m.corpus))) + 1
	for gram, c := range counts {
		idf, ok := m.idf[gram]
		if !ok {
			idf = unseenIDF
		}
		w := float64(c) * idf
		v[gram] = w
		norm += w * w
	}
	if norm > 0 {
		norm = math.Sqrt(norm)
		for gram := range v {
			v[gram] /= norm
		}
	}
	return v
}

func dot(a, b map[string]float64) float64 {
	if len(b) < len(a) {
		a, b = b, a
	}
	var sum float64
	for gram, w := range a {
		sum += w * b[gram]
	}
	return sum
}

// ngramCounts extracts character 2- and 3-gram counts from the
// lowercased, whitespace-collapsed input.
func ngramCounts(s string) map[string]int {
	s = strings.Join(strings.Fields(strings.ToLower(s)), " ")
	runes := []rune(s)
	counts := make(map[string]int)
	for _, n := range []int{2, 3} {
		for i := 0; i+n <= len(runes); i++ {
			counts[string(runes[i:i+n])]++
		}
	}
	return counts
}
