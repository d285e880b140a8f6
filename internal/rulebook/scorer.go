package rulebook

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// maxTokenRunes bounds a single word token; longer runs are truncated.
const maxTokenRunes = 64

// ScoreMap maps each dimension to its bounded score. A nil map stands for an
// absent document and reads as all-zero.
type ScoreMap map[string]float64

// Zero returns a map with every dimension set to zero.
func Zero() ScoreMap {
	m := make(ScoreMap, len(dimensions))
	for _, d := range dimensions {
		m[d] = 0
	}
	return m
}

// Present reports whether the map came from a scored document.
func (m ScoreMap) Present() bool {
	return len(m) > 0
}

// Clone returns a copy; nil stays nil.
func (m ScoreMap) Clone() ScoreMap {
	if m == nil {
		return nil
	}
	cp := make(ScoreMap, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}

type hit struct {
	dim    int
	weight float64
}

// Rulebook is a compiled, read-only lexicon ready for scanning.
type Rulebook struct {
	version  string
	maxScore float64
	phrases  map[string][]hit
	maxWords int
	rules    int
}

// New compiles a lexicon into a Rulebook.
func New(lex *Lexicon) (*Rulebook, error) {
	if lex == nil {
		return nil, errors.New("rulebook: nil lexicon")
	}
	if err := lex.Validate(); err != nil {
		return nil, err
	}

	rb := &Rulebook{
		version:  lex.Version,
		maxScore: lex.MaxScore,
		phrases:  make(map[string][]hit),
		maxWords: 1,
	}

	for i, dim := range dimensions {
		for _, r := range lex.Dimensions[dim] {
			toks := tokenize(r.Pattern)
			phrase := strings.Join(toks, " ")
			rb.phrases[phrase] = append(rb.phrases[phrase], hit{dim: i, weight: r.Weight})
			if len(toks) > rb.maxWords {
				rb.maxWords = len(toks)
			}
			rb.rules++
		}
	}

	return rb, nil
}

// Default compiles the embedded lexicon.
func Default() (*Rulebook, error) {
	lex, err := DefaultLexicon()
	if err != nil {
		return nil, err
	}
	return New(lex)
}

// Version returns the lexicon version the rulebook was compiled from.
func (rb *Rulebook) Version() string { return rb.version }

// MaxScore returns the upper clip bound for every dimension.
func (rb *Rulebook) MaxScore() float64 { return rb.maxScore }

// RuleCount returns the number of compiled rules.
func (rb *Rulebook) RuleCount() int { return rb.rules }

// Score scores document text. Empty text yields the all-zero map.
func (rb *Rulebook) Score(text string) ScoreMap {
	// strings.Reader never fails, so neither does the scan
	m, _ := rb.ScoreReader(strings.NewReader(text))
	return m
}

// ScoreReader scores a text stream in a single pass with bounded memory.
func (rb *Rulebook) ScoreReader(r io.Reader) (ScoreMap, error) {
	acc := make([]float64, len(dimensions))

	err := rb.scan(r, func(_ string, hits []hit) {
		for _, h := range hits {
			acc[h.dim] += h.weight
		}
	})
	if err != nil {
		return nil, err
	}

	scores := make(ScoreMap, len(dimensions))
	for i, d := range dimensions {
		scores[d] = clip(acc[i], 0, rb.maxScore)
	}
	return scores, nil
}

// Match is one lexicon phrase found in a document
type Match struct {
	Dimension string  `json:"dimension"`
	Phrase    string  `json:"phrase"`
	Count     int     `json:"count"`
	Weight    float64 `json:"weight"`
}

// Evidence lists the matched phrases per dimension, ordered by dimension then phrase.
func (rb *Rulebook) Evidence(text string) []Match {
	type key struct {
		dim    int
		phrase string
	}
	counts := make(map[key]*Match)

	_ = rb.scan(strings.NewReader(text), func(phrase string, hits []hit) {
		for _, h := range hits {
			k := key{dim: h.dim, phrase: phrase}
			m, ok := counts[k]
			if !ok {
				m = &Match{Dimension: dimensions[h.dim], Phrase: phrase, Weight: h.weight}
				counts[k] = m
			}
			m.Count++
		}
	})

	keys := make([]key, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].dim != keys[j].dim {
			return keys[i].dim < keys[j].dim
		}
		return keys[i].phrase < keys[j].phrase
	})

	out := make([]Match, 0, len(keys))
	for _, k := range keys {
		out = append(out, *counts[k])
	}
	return out
}

// scan tokenises the stream and calls visit for every lexicon phrase ending at
// each token. Only the last maxWords tokens are retained.
func (rb *Rulebook) scan(r io.Reader, visit func(phrase string, hits []hit)) error {
	br := bufio.NewReader(norm.NFKC.Reader(r))
	ring := make([]string, rb.maxWords)
	filled, next := 0, 0
	tok := make([]rune, 0, maxTokenRunes)

	flush := func() {
		if len(tok) == 0 {
			return
		}
		ring[next] = string(tok)
		next = (next + 1) % len(ring)
		if filled < len(ring) {
			filled++
		}
		tok = tok[:0]

		phrase := ""
		for n := 1; n <= filled; n++ {
			word := ring[(next-n+len(ring))%len(ring)]
			if n == 1 {
				phrase = word
			} else {
				phrase = word + " " + phrase
			}
			if hits, ok := rb.phrases[phrase]; ok {
				visit(phrase, hits)
			}
		}
	}

	for {
		c, _, err := br.ReadRune()
		if err != nil {
			if err == io.EOF {
				flush()
				return nil
			}
			return fmt.Errorf("failed to read document text: %w", err)
		}

		if isWordRune(c) {
			if len(tok) < maxTokenRunes {
				tok = append(tok, unicode.ToLower(c))
			}
			continue
		}
		flush()
	}
}

func isWordRune(c rune) bool {
	return unicode.IsLetter(c) || unicode.IsDigit(c)
}

// tokenize splits text into lowercase word tokens the way scan does.
func tokenize(s string) []string {
	fields := strings.FieldsFunc(norm.NFKC.String(s), func(c rune) bool {
		return !isWordRune(c)
	})
	for i, f := range fields {
		fields[i] = strings.Map(unicode.ToLower, f)
	}
	return fields
}

func clip(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
