package dedup

import (
	"strings"

	"github.com/agnivade/levenshtein"
)

// Thresholds for the individual name-matching algorithms
const (
	levenshteinMaxShort  = 3 // names up to 10 chars
	levenshteinMaxLong   = 5 // longer names
	jaroWinklerMin       = 0.85
	trigramJaccardMin    = 0.70
	overallConfidenceMin = 0.75
	strongConfidenceMin  = 0.85
)

// NameMatch is the outcome of comparing two normalized names
type NameMatch struct {
	Matched    bool
	Confidence float64
}

// MatchNames compares two normalized names with a combination of edit
// distance, Jaro-Winkler, trigram Jaccard and Soundex. Two names match when
// at least two of the first three algorithms agree, when Soundex agrees with
// one of them, or when the weighted confidence is high on its own.
func MatchNames(a, b string) NameMatch {
	if a == "" || b == "" {
		return NameMatch{}
	}
	if a == b {
		return NameMatch{Matched: true, Confidence: 1.0}
	}

	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}

	levMax := levenshteinMaxShort
	if maxLen > 10 {
		levMax = levenshteinMaxLong
	}

	dist := levenshtein.ComputeDistance(a, b)
	levSim := 1.0 - float64(dist)/float64(maxLen)
	levPass := dist <= levMax

	jw := JaroWinkler(a, b)
	jwPass := jw >= jaroWinklerMin

	jaccard := TrigramJaccard(a, b)
	jaccardPass := jaccard >= trigramJaccardMin

	soundexPass := Soundex(a) == Soundex(b)

	confidence := 0.3*levSim + 0.3*jw + 0.3*jaccard
	if soundexPass {
		confidence += 0.1
	}

	passes := 0
	if levPass {
		passes++
	}
	if jwPass {
		passes++
	}
	if jaccardPass {
		passes++
	}

	matched := passes >= 2 ||
		(soundexPass && passes >= 1) ||
		confidence >= strongConfidenceMin

	if matched && confidence < overallConfidenceMin && passes < 2 {
		matched = false
	}

	return NameMatch{Matched: matched, Confidence: confidence}
}

// JaroWinkler computes the Jaro-Winkler similarity of two strings with the
// standard prefix scale of 0.1 over at most 4 leading characters
func JaroWinkler(a, b string) float64 {
	jaro := jaroSimilarity(a, b)
	if jaro == 0 {
		return 0
	}

	prefix := 0
	for i := 0; i < len(a) && i < len(b) && i < 4; i++ {
		if a[i] != b[i] {
			break
		}
		prefix++
	}

	return jaro + float64(prefix)*0.1*(1.0-jaro)
}

func jaroSimilarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	matchWindow := len(a)
	if len(b) > matchWindow {
		matchWindow = len(b)
	}
	matchWindow = matchWindow/2 - 1
	if matchWindow < 0 {
		matchWindow = 0
	}

	aMatched := make([]bool, len(a))
	bMatched := make([]bool, len(b))

	matches := 0
	for i := 0; i < len(a); i++ {
		start := i - matchWindow
		if start < 0 {
			start = 0
		}
		end := i + matchWindow + 1
		if end > len(b) {
			end = len(b)
		}
		for j := start; j < end; j++ {
			if bMatched[j] || a[i] != b[j] {
				continue
			}
			aMatched[i] = true
			bMatched[j] = true
			matches++
			break
		}
	}

	if matches == 0 {
		return 0
	}

	transpositions := 0
	j := 0
	for i := 0; i < len(a); i++ {
		if !aMatched[i] {
			continue
		}
		for !bMatched[j] {
			j++
		}
		if a[i] != b[j] {
			transpositions++
		}
		j++
	}

	m := float64(matches)
	return (m/float64(len(a)) + m/float64(len(b)) + (m-float64(transpositions)/2)/m) / 3.0
}

// TrigramJaccard computes the Jaccard similarity of the two strings'
// character trigram sets. Inputs are padded with spaces so short names
// still produce trigrams.
func TrigramJaccard(a, b string) float64 {
	ta := trigrams(a)
	tb := trigrams(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}

	intersection := 0
	for t := range ta {
		if tb[t] {
			intersection++
		}
	}
	union := len(ta) + len(tb) - intersection
	return float64(intersection) / float64(union)
}

func trigrams(s string) map[string]bool {
	padded := "  " + s + "  "
	set := make(map[string]bool)
	for i := 0; i+3 <= len(padded); i++ {
		set[padded[i:i+3]] = true
	}
	return set
}

// Soundex computes the classic 4-character Soundex code of a string
func Soundex(s string) string {
	s = strings.ToUpper(s)

	var first byte
	for i := 0; i < len(s); i++ {
		if s[i] >= 'A' && s[i] <= 'Z' {
			first = s[i]
			s = s[i:]
			break
		}
	}
	if first == 0 {
		return ""
	}

	code := []byte{first}
	prev := soundexDigit(first)
	for i := 1; i < len(s) && len(code) < 4; i++ {
		c := s[i]
		if c < 'A' || c > 'Z' {
			prev = 0
			continue
		}
		d := soundexDigit(c)
		if d != 0 && d != prev {
			code = append(code, '0'+d)
		}
		prev = d
	}

	for len(code) < 4 {
		code = append(code, '0')
	}
	return string(code)
}

func soundexDigit(c byte) byte {
	switch c {
	case 'B', 'F', 'P', 'V':
		return 1
	case 'C', 'G', 'J', 'K', 'Q', 'S', 'X', 'Z':
		return 2
	case 'D', 'T':
		return 3
	case 'L':
		return 4
	case 'M', 'N':
		return 5
	case 'R':
		return 6
	}
	return 0
}
