package dedup

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scamnemesis/report-engine/internal/models"
)

func TestMatchFingerprintsPhoneExact(t *testing.T) {
	e := NewExtractor([]string{"421"})

	// The same number submitted in international and national formats
	a := &Fingerprint{Phones: []string{e.NormalizePhone("+421 900 123 456")}}
	b := &Fingerprint{Phones: []string{e.NormalizePhone("0900123456")}}

	m := MatchFingerprints(a, b)
	require.True(t, m.Matched)
	assert.Equal(t, models.MatchTypePhoneExact, m.MatchType)
	assert.GreaterOrEqual(t, m.Confidence, 75)
	assert.LessOrEqual(t, m.Confidence, 89)
	assert.Contains(t, m.Signals, SignalPhone)
}

func TestMatchFingerprintsIBANWithSimilarName(t *testing.T) {
	a := &Fingerprint{
		IBANs: []string{"SK3112000000198742637541"},
		Names: []string{"jan kovac"},
	}
	b := &Fingerprint{
		IBANs: []string{"SK3112000000198742637541"},
		Names: []string{"jan kovacs"},
	}

	m := MatchFingerprints(a, b)
	require.True(t, m.Matched)
	assert.Equal(t, models.MatchTypeIBANExact, m.MatchType)

	// The name agreement must raise confidence above a bare IBAN match
	bare := MatchFingerprints(
		&Fingerprint{IBANs: []string{"SK3112000000198742637541"}},
		&Fingerprint{IBANs: []string{"SK3112000000198742637541"}},
	)
	assert.Greater(t, m.Confidence, bare.Confidence)
	assert.LessOrEqual(t, m.Confidence, 89)
}

func TestMatchFingerprintsPhoneAndIBAN(t *testing.T) {
	a := &Fingerprint{
		Phones: []string{"900123456"},
		IBANs:  []string{"SK3112000000198742637541"},
	}
	b := &Fingerprint{
		Phones: []string{"900123456"},
		IBANs:  []string{"SK3112000000198742637541"},
	}

	m := MatchFingerprints(a, b)
	require.True(t, m.Matched)
	assert.Equal(t, models.MatchTypePhoneAndIBAN, m.MatchType)
	assert.GreaterOrEqual(t, m.Confidence, 90)
}

func TestMatchFingerprintsMultiStrong(t *testing.T) {
	a := &Fingerprint{
		Phones:  []string{"900123456"},
		Emails:  []string{"scammer@example.com"},
		Wallets: []string{"0xab5801a7d398351b8be11c439e05c5b3259aec9b"},
	}
	b := &Fingerprint{
		Phones:  []string{"900123456"},
		Emails:  []string{"scammer@example.com"},
		Wallets: []string{"0xab5801a7d398351b8be11c439e05c5b3259aec9b"},
	}

	m := MatchFingerprints(a, b)
	require.True(t, m.Matched)
	assert.Equal(t, models.MatchTypeMultiStrong, m.MatchType)
	assert.GreaterOrEqual(t, m.Confidence, 90)
	assert.LessOrEqual(t, m.Confidence, 100)
}

func TestMatchFingerprintsNameAndLocation(t *testing.T) {
	a := &Fingerprint{Names: []string{"jan kovac"}, City: "bratislava"}
	b := &Fingerprint{Names: []string{"jan kovacs"}, City: "bratislava"}

	m := MatchFingerprints(a, b)
	require.True(t, m.Matched)
	assert.Equal(t, models.MatchTypeNameAndLocation, m.MatchType)
	assert.GreaterOrEqual(t, m.Confidence, 50)
	assert.LessOrEqual(t, m.Confidence, 74)
}

func TestMatchFingerprintsEmailSimilarity(t *testing.T) {
	// Different addresses with near-identical local parts plus a shared city
	a := &Fingerprint{
		Emails:      []string{"jan.kovac1@gmail.com"},
		EmailLocals: []string{"jan.kovac1"},
		City:        "bratislava",
	}
	b := &Fingerprint{
		Emails:      []string{"jan.kovac2@outlook.com"},
		EmailLocals: []string{"jan.kovac2"},
		City:        "bratislava",
	}

	m := MatchFingerprints(a, b)
	require.True(t, m.Matched)
	assert.Equal(t, models.MatchTypeEmailSimilarity, m.MatchType)
	assert.LessOrEqual(t, m.Confidence, 74)
}

func TestMatchFingerprintsSingleWeakSignalNoMatch(t *testing.T) {
	// Same city alone is never enough
	m := MatchFingerprints(
		&Fingerprint{Names: []string{"jan kovac"}, City: "bratislava"},
		&Fingerprint{Names: []string{"maria horvathova"}, City: "bratislava"},
	)
	assert.False(t, m.Matched)

	// A lone fuzzy name is never enough either
	m = MatchFingerprints(
		&Fingerprint{Names: []string{"jan kovac"}, City: "bratislava"},
		&Fingerprint{Names: []string{"jan kovacs"}, City: "kosice"},
	)
	assert.False(t, m.Matched)
}

func TestMatchFingerprintsNoOverlap(t *testing.T) {
	m := MatchFingerprints(
		&Fingerprint{Phones: []string{"900123456"}, Emails: []string{"a@example.com"}},
		&Fingerprint{Phones: []string{"911222333"}, Emails: []string{"b@example.com"}},
	)
	assert.False(t, m.Matched)
	assert.Equal(t, 0, m.Confidence)
}

func TestMatchFingerprintsEmptyInputs(t *testing.T) {
	m := MatchFingerprints(&Fingerprint{}, &Fingerprint{})
	assert.False(t, m.Matched)
}

// Adding evidence to a pair must never lower its confidence.
func TestMatchConfidenceMonotonicity(t *testing.T) {
	phoneOnly := MatchFingerprints(
		&Fingerprint{Phones: []string{"900123456"}},
		&Fingerprint{Phones: []string{"900123456"}},
	)

	phoneAndCity := MatchFingerprints(
		&Fingerprint{Phones: []string{"900123456"}, City: "bratislava"},
		&Fingerprint{Phones: []string{"900123456"}, City: "bratislava"},
	)
	assert.GreaterOrEqual(t, phoneAndCity.Confidence, phoneOnly.Confidence)

	phoneAndEmail := MatchFingerprints(
		&Fingerprint{Phones: []string{"900123456"}, Emails: []string{"x@example.com"}},
		&Fingerprint{Phones: []string{"900123456"}, Emails: []string{"x@example.com"}},
	)
	assert.GreaterOrEqual(t, phoneAndEmail.Confidence, phoneAndCity.Confidence)

	everything := MatchFingerprints(
		&Fingerprint{
			Phones: []string{"900123456"}, Emails: []string{"x@example.com"},
			IBANs: []string{"SK3112000000198742637541"},
			Names: []string{"jan kovac"}, City: "bratislava",
		},
		&Fingerprint{
			Phones: []string{"900123456"}, Emails: []string{"x@example.com"},
			IBANs: []string{"SK3112000000198742637541"},
			Names: []string{"jan kovac"}, City: "bratislava",
		},
	)
	assert.GreaterOrEqual(t, everything.Confidence, phoneAndEmail.Confidence)
	assert.LessOrEqual(t, everything.Confidence, 100)
}

// Confidence bands must not overlap: weak < single strong < multi strong.
func TestMatchConfidenceBands(t *testing.T) {
	weak := MatchFingerprints(
		&Fingerprint{Names: []string{"jan kovac"}, City: "bratislava",
			EmailLocals: []string{"jan.kovac"}, Websites: []string{"fake.example"}},
		&Fingerprint{Names: []string{"jan kovac"}, City: "bratislava",
			EmailLocals: []string{"jan.kovac"}, Websites: []string{"fake.example"}},
	)
	require.True(t, weak.Matched)
	assert.LessOrEqual(t, weak.Confidence, 74)

	singleStrong := MatchFingerprints(
		&Fingerprint{Emails: []string{"x@example.com"}},
		&Fingerprint{Emails: []string{"x@example.com"}},
	)
	require.True(t, singleStrong.Matched)
	assert.Greater(t, singleStrong.Confidence, weak.Confidence)
	assert.LessOrEqual(t, singleStrong.Confidence, 89)

	multiStrong := MatchFingerprints(
		&Fingerprint{Emails: []string{"x@example.com"}, Phones: []string{"900123456"}},
		&Fingerprint{Emails: []string{"x@example.com"}, Phones: []string{"900123456"}},
	)
	require.True(t, multiStrong.Matched)
	assert.GreaterOrEqual(t, multiStrong.Confidence, 90)
}

func TestMatchFingerprintsSymmetricAndDeterministic(t *testing.T) {
	a := &Fingerprint{
		Phones: []string{"900123456"},
		Names:  []string{"jan kovac"},
		City:   "bratislava",
	}
	b := &Fingerprint{
		Phones: []string{"900123456"},
		Names:  []string{"jan kovacs"},
		City:   "bratislava",
	}

	first := MatchFingerprints(a, b)
	for i := 0; i < 10; i++ {
		again := MatchFingerprints(a, b)
		assert.Equal(t, first, again)

		flipped := MatchFingerprints(b, a)
		assert.Equal(t, first.Matched, flipped.Matched)
		assert.Equal(t, first.MatchType, flipped.MatchType)
		assert.Equal(t, first.Confidence, flipped.Confidence)
	}
}
