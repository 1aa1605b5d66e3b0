package memory

import (
	"strings"
	"unicode"
	"unicode/utf8"

	radix "github.com/armon/go-radix"
)

const (
	DefaultLabelMaxRunes  = 20
	DefaultLabelNearMatch = 0.8
)

// NormalizeLabel collapses whitespace, trims surrounding punctuation and cuts the
// label to maxRunes runes.
func NormalizeLabel(label string, maxRunes int) string {
	label = strings.Join(strings.Fields(label), " ")
	label = strings.TrimFunc(label, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r)
	})
	if maxRunes > 0 && utf8.RuneCountInString(label) > maxRunes {
		label = strings.TrimSpace(string([]rune(label)[:maxRunes]))
	}
	return label
}

// LabelIndex resolves candidate labels against the labels a conversation
// already has. Keys are case-folded; values keep the stored spelling.
type LabelIndex struct {
	tree     *radix.Tree
	maxRunes int
	ratio    float64
}

func NewLabelIndex(existing []string, maxRunes int, ratio float64) *LabelIndex {
	if maxRunes <= 0 {
		maxRunes = DefaultLabelMaxRunes
	}
	if ratio <= 0 || ratio > 1 {
		ratio = DefaultLabelNearMatch
	}
	ix := &LabelIndex{tree: radix.New(), maxRunes: maxRunes, ratio: ratio}
	for _, l := range existing {
		if n := NormalizeLabel(l, 0); n != "" {
			// stored labels keep their full spelling even if longer than maxRunes
			ix.tree.Insert(strings.ToLower(n), l)
		}
	}
	return ix
}

// Len is the number of known labels.
func (ix *LabelIndex) Len() int { return ix.tree.Len() }

// Resolve returns the label to write for candidate. An exact or near match
// (one label a prefix of the other covering at least ratio of the longer)
// returns the stored label with reused=true. Otherwise the normalized candidate
// is registered and returned. An empty result means the candidate was blank.
func (ix *LabelIndex) Resolve(candidate string) (label string, reused bool) {
	norm := NormalizeLabel(candidate, ix.maxRunes)
	if norm == "" {
		return "", false
	}
	key := strings.ToLower(norm)
	keyLen := utf8.RuneCountInString(key)

	if v, ok := ix.tree.Get(key); ok {
		return v.(string), true
	}

	// stored label that is a prefix of the candidate
	if p, v, ok := ix.tree.LongestPrefix(key); ok && ix.near(utf8.RuneCountInString(p), keyLen) {
		return v.(string), true
	}

	// stored labels that extend the candidate; take the closest
	var (
		best    string
		bestLen int
	)
	ix.tree.WalkPrefix(key, func(s string, v interface{}) bool {
		n := utf8.RuneCountInString(s)
		if ix.near(keyLen, n) && (best == "" || n < bestLen) {
			best, bestLen = v.(string), n
		}
		return false
	})
	if best != "" {
		return best, true
	}

	ix.tree.Insert(key, norm)
	return norm, false
}

func (ix *LabelIndex) near(shorter, longer int) bool {
	if longer == 0 {
		return false
	}
	return float64(shorter)/float64(longer) >= ix.ratio
}
