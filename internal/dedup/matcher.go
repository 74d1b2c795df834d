package dedup

import (
	"github.com/scamnemesis/report-engine/internal/models"
)

// Signal names recorded on a match for moderator display
const (
	SignalPhone      = "shared_phone"
	SignalEmail      = "shared_email"
	SignalIBAN       = "shared_iban"
	SignalWallet     = "shared_wallet"
	SignalName       = "similar_name"
	SignalCity       = "same_city"
	SignalEmailLocal = "similar_email_local"
	SignalWebsite    = "shared_website"
)

// Match is the outcome of comparing two report fingerprints. Confidence is
// on the 0-100 scale; Matched is false when the evidence is too weak to
// surface the pair for moderation.
type Match struct {
	Matched    bool
	MatchType  string
	Confidence int
	Signals    []string
}

// Confidence bands. Multi-signal matches always score above single strong
// identifiers, which always score above weak combinations.
const (
	multiStrongBase  = 90
	singleStrongCap  = 89
	weakCap          = 74
	nameLocationBase = 65
	emailSimilarBase = 60
)

// Per-identifier base scores for single strong matches. IBANs are the
// hardest identifier to fake, so they score highest.
var strongBase = map[string]int{
	SignalIBAN:   84,
	SignalWallet: 82,
	SignalPhone:  80,
	SignalEmail:  78,
}

// MatchFingerprints compares two fingerprints and classifies the overlap.
// The result is deterministic and symmetric in its arguments.
func MatchFingerprints(a, b *Fingerprint) Match {
	var strong []string
	if intersects(a.Phones, b.Phones) {
		strong = append(strong, SignalPhone)
	}
	if intersects(a.Emails, b.Emails) {
		strong = append(strong, SignalEmail)
	}
	if intersects(a.IBANs, b.IBANs) {
		strong = append(strong, SignalIBAN)
	}
	if intersects(a.Wallets, b.Wallets) {
		strong = append(strong, SignalWallet)
	}

	var weak []string
	nameMatched := anyNameMatch(a.Names, b.Names)
	if nameMatched {
		weak = append(weak, SignalName)
	}
	cityMatched := a.City != "" && a.City == b.City
	if cityMatched {
		weak = append(weak, SignalCity)
	}
	// Email locals only count when the full addresses differ, otherwise the
	// exact email signal already covers them
	emailLocalMatched := false
	if !contains(strong, SignalEmail) && anyNameMatch(a.EmailLocals, b.EmailLocals) {
		emailLocalMatched = true
		weak = append(weak, SignalEmailLocal)
	}
	websiteMatched := intersects(a.Websites, b.Websites)
	if websiteMatched {
		weak = append(weak, SignalWebsite)
	}

	signals := append(append([]string{}, strong...), weak...)

	switch {
	case len(strong) >= 2:
		return scoreMultiStrong(strong, weak, signals)
	case len(strong) == 1:
		return scoreSingleStrong(strong[0], weak, signals)
	default:
		return scoreWeak(nameMatched, cityMatched, emailLocalMatched, websiteMatched, signals)
	}
}

func scoreMultiStrong(strong, weak, signals []string) Match {
	matchType := models.MatchTypeMultiStrong
	if len(strong) == 2 && contains(strong, SignalPhone) && contains(strong, SignalIBAN) {
		matchType = models.MatchTypePhoneAndIBAN
	}

	confidence := multiStrongBase + 3*(len(strong)-2+len(weak))
	if confidence > 100 {
		confidence = 100
	}

	return Match{Matched: true, MatchType: matchType, Confidence: confidence, Signals: signals}
}

func scoreSingleStrong(kind string, weak, signals []string) Match {
	var matchType string
	switch kind {
	case SignalPhone:
		matchType = models.MatchTypePhoneExact
	case SignalEmail:
		matchType = models.MatchTypeEmailExact
	case SignalIBAN:
		matchType = models.MatchTypeIBANExact
	case SignalWallet:
		matchType = models.MatchTypeWalletExact
	}

	confidence := strongBase[kind] + 2*len(weak)
	if confidence > singleStrongCap {
		confidence = singleStrongCap
	}

	return Match{Matched: true, MatchType: matchType, Confidence: confidence, Signals: signals}
}

// scoreWeak handles candidates with no strong identifier overlap. At least
// two independent weak signals are required; one alone never surfaces a pair.
func scoreWeak(name, city, emailLocal, website bool, signals []string) Match {
	base := 0
	var matchType string

	switch {
	case name && city:
		matchType = models.MatchTypeNameAndLocation
		base = nameLocationBase
	case emailLocal && (name || city):
		matchType = models.MatchTypeEmailSimilarity
		base = emailSimilarBase
	default:
		return Match{}
	}

	if name && city && emailLocal {
		base += 7
	}
	if website {
		base += 2
	}
	if base > weakCap {
		base = weakCap
	}

	return Match{Matched: true, MatchType: matchType, Confidence: base, Signals: signals}
}

func anyNameMatch(as, bs []string) bool {
	for _, a := range as {
		for _, b := range bs {
			if MatchNames(a, b).Matched {
				return true
			}
		}
	}
	return false
}

func intersects(as, bs []string) bool {
	for _, a := range as {
		for _, b := range bs {
			if a == b {
				return true
			}
		}
	}
	return false
}

func contains(list []string, value string) bool {
	for _, v := range list {
		if v == value {
			return true
		}
	}
	return false
}
