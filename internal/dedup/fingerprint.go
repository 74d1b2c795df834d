package dedup

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/scamnemesis/report-engine/internal/models"
)

var (
	emailRegexp    = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	ibanRegexp     = regexp.MustCompile(`^[A-Z]{2}[0-9]{2}[A-Z0-9]{1,30}$`)
	nonDigitRegexp = regexp.MustCompile(`[^0-9]`)
	spacesRegexp   = regexp.MustCompile(`\s+`)
)

// Fingerprint holds the normalized identifiers extracted from a report.
// All values are canonical: two reports describing the same perpetrator
// produce identical entries regardless of input formatting.
type Fingerprint struct {
	Phones      []string
	Emails      []string
	EmailLocals []string
	IBANs       []string
	Wallets     []string
	Names       []string
	City        string
	Websites    []string
}

// IsEmpty reports whether no identifier at all was extracted
func (f *Fingerprint) IsEmpty() bool {
	return len(f.Phones) == 0 && len(f.Emails) == 0 && len(f.IBANs) == 0 &&
		len(f.Wallets) == 0 && len(f.Names) == 0 && f.City == "" && len(f.Websites) == 0
}

// HasStrong reports whether the fingerprint carries at least one strong
// identifier (phone, email, IBAN or wallet)
func (f *Fingerprint) HasStrong() bool {
	return len(f.Phones) > 0 || len(f.Emails) > 0 || len(f.IBANs) > 0 || len(f.Wallets) > 0
}

// Extractor normalizes raw report fields into a Fingerprint
type Extractor struct {
	countryCodes []string
}

// NewExtractor creates a fingerprint extractor. countryCodes are the default
// international dialing prefixes stripped during phone normalization.
func NewExtractor(countryCodes []string) *Extractor {
	return &Extractor{countryCodes: countryCodes}
}

// Extract builds the fingerprint for a report. Fields that fail validation
// are treated as absent rather than failing the whole report.
func (e *Extractor) Extract(report *models.Report) *Fingerprint {
	fp := &Fingerprint{}

	for _, p := range report.Perpetrators {
		if phone := e.NormalizePhone(p.Phone); phone != "" {
			fp.Phones = appendUnique(fp.Phones, phone)
		}
		if email := NormalizeEmail(p.Email); email != "" {
			fp.Emails = appendUnique(fp.Emails, email)
			fp.EmailLocals = appendUnique(fp.EmailLocals, emailLocalPart(email))
		}
		if name := NormalizeName(p.FullName); name != "" {
			fp.Names = appendUnique(fp.Names, name)
		}
		if nick := NormalizeName(p.Nickname); nick != "" {
			fp.Names = appendUnique(fp.Names, nick)
		}
	}

	if report.FinancialInfo != nil {
		if iban := NormalizeIBAN(report.FinancialInfo.IBAN); iban != "" {
			fp.IBANs = appendUnique(fp.IBANs, iban)
		}
	}

	if report.CryptoInfo != nil {
		if wallet := NormalizeWallet(report.CryptoInfo.WalletAddress); wallet != "" {
			fp.Wallets = appendUnique(fp.Wallets, wallet)
		}
	}

	if report.DigitalFootprint != nil {
		if site := NormalizeWebsite(report.DigitalFootprint.Website); site != "" {
			fp.Websites = appendUnique(fp.Websites, site)
		}
	}

	fp.City = NormalizeName(report.City)

	return fp
}

// NormalizePhone canonicalizes a phone number: digits only, with the
// international "00" prefix, a configured default country code and trunk
// zeros stripped until the number stops changing, so equivalent submissions
// in any dialing format reduce to the same national significant number.
// Numbers shorter than 6 digits are treated as absent. The returned value
// is a fixpoint: normalizing it again is a no-op.
func (e *Extractor) NormalizePhone(raw string) string {
	digits := nonDigitRegexp.ReplaceAllString(raw, "")

	for {
		prev := digits

		digits = strings.TrimPrefix(digits, "00")

		for _, cc := range e.countryCodes {
			if strings.HasPrefix(digits, cc) && len(digits) > len(cc)+5 {
				digits = digits[len(cc):]
				break
			}
		}

		if strings.HasPrefix(digits, "0") && len(digits) > 6 {
			digits = digits[1:]
		}

		if digits == prev {
			break
		}
	}

	if len(digits) < 6 {
		return ""
	}
	return digits
}

// NormalizeEmail lowercases and validates an email address. Invalid
// addresses are treated as absent.
func NormalizeEmail(raw string) string {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" || !emailRegexp.MatchString(email) {
		return ""
	}
	return email
}

// emailLocalPart returns the part before the @ of a normalized email
func emailLocalPart(email string) string {
	if i := strings.IndexByte(email, '@'); i > 0 {
		return email[:i]
	}
	return email
}

// NormalizeIBAN strips spaces, uppercases and validates the IBAN shape.
// Malformed values are treated as absent.
func NormalizeIBAN(raw string) string {
	iban := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(raw), " ", ""))
	if iban == "" || !ibanRegexp.MatchString(iban) {
		return ""
	}
	return iban
}

// NormalizeWallet lowercases a crypto wallet address
func NormalizeWallet(raw string) string {
	wallet := strings.ToLower(strings.TrimSpace(raw))
	if len(wallet) < 12 {
		return ""
	}
	return wallet
}

// NormalizeName canonicalizes a person or city name: lowercase, diacritics
// stripped, whitespace collapsed
func NormalizeName(raw string) string {
	name := strings.ToLower(strings.TrimSpace(raw))
	if name == "" {
		return ""
	}
	name = stripDiacritics(name)
	name = spacesRegexp.ReplaceAllString(name, " ")
	return name
}

// NormalizeWebsite canonicalizes a website URL: lowercase, scheme and
// leading www stripped, trailing slash removed
func NormalizeWebsite(raw string) string {
	site := strings.ToLower(strings.TrimSpace(raw))
	site = strings.TrimPrefix(site, "https://")
	site = strings.TrimPrefix(site, "http://")
	site = strings.TrimPrefix(site, "www.")
	site = strings.TrimSuffix(site, "/")
	if site == "" || !strings.Contains(site, ".") {
		return ""
	}
	return site
}

func stripDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

func appendUnique(list []string, value string) []string {
	for _, v := range list {
		if v == value {
			return list
		}
	}
	return append(list, value)
}
