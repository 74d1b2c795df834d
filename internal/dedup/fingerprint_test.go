package dedup

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/scamnemesis/report-engine/internal/models"
)

func TestNormalizePhone(t *testing.T) {
	e := NewExtractor([]string{"421", "420"})

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"international with spaces", "+421 900 123 456", "900123456"},
		{"double zero prefix", "00421900123456", "900123456"},
		{"trunk zero", "0900123456", "900123456"},
		{"already normalized", "900123456", "900123456"},
		{"czech country code", "+420 777 888 999", "777888999"},
		{"punctuation stripped", "(0900) 123-456", "900123456"},
		{"country code then zero prefixed", "4200012345678", "12345678"},
		{"double zero only", "0012345678", "12345678"},
		{"stacked zeros", "0000123456", "123456"},
		{"too short", "12345", ""},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, e.NormalizePhone(tt.input))
		})
	}
}

func TestNormalizePhoneIdempotent(t *testing.T) {
	e := NewExtractor([]string{"421"})

	inputs := []string{
		"+421 900 123 456",
		"0900123456",
		"00421900123456",
		"900123456",
		"4210012345678",
		"0012345678",
		"0000123456",
	}
	for _, input := range inputs {
		once := e.NormalizePhone(input)
		twice := e.NormalizePhone(once)
		assert.Equal(t, once, twice, "normalizing %q twice changed the value", input)
	}

	// Equivalent dialing formats reduce to the same canonical number even
	// when the stripped form still carries leading zeros
	assert.Equal(t, e.NormalizePhone("0012345678"), e.NormalizePhone("4210012345678"))
}

func TestNormalizeEmail(t *testing.T) {
	assert.Equal(t, "jan.kovac@example.com", NormalizeEmail("  Jan.Kovac@Example.COM "))
	assert.Equal(t, "", NormalizeEmail("not-an-email"))
	assert.Equal(t, "", NormalizeEmail("missing@tld"))
	assert.Equal(t, "", NormalizeEmail(""))
}

func TestNormalizeIBAN(t *testing.T) {
	assert.Equal(t, "SK3112000000198742637541", NormalizeIBAN("sk31 1200 0000 1987 4263 7541"))
	assert.Equal(t, "", NormalizeIBAN("1234567890"))
	assert.Equal(t, "", NormalizeIBAN(""))
}

func TestNormalizeWallet(t *testing.T) {
	assert.Equal(t,
		"0xab5801a7d398351b8be11c439e05c5b3259aec9b",
		NormalizeWallet("0xAb5801a7D398351b8bE11C439e05C5B3259aeC9B"))
	assert.Equal(t, "", NormalizeWallet("short"))
}

func TestNormalizeName(t *testing.T) {
	assert.Equal(t, "jan kovac", NormalizeName("Ján   Kováč"))
	assert.Equal(t, "maria novakova", NormalizeName("  Mária Nováková "))
	assert.Equal(t, "", NormalizeName(""))
}

func TestNormalizeWebsite(t *testing.T) {
	assert.Equal(t, "scam-shop.example", NormalizeWebsite("https://www.Scam-Shop.example/"))
	assert.Equal(t, "scam-shop.example", NormalizeWebsite("scam-shop.example"))
	assert.Equal(t, "", NormalizeWebsite("not a url"))
}

func TestExtract(t *testing.T) {
	e := NewExtractor([]string{"421"})

	loss := 2500.0
	report := &models.Report{
		City:          "Bratislava",
		FinancialLoss: &loss,
		Perpetrators: []models.Perpetrator{
			{FullName: "Ján Kováč", Email: "Jan.Kovac@Example.com", Phone: "+421 900 123 456"},
			{FullName: "Ján Kováč", Nickname: "johnny"},
		},
		FinancialInfo:    &models.FinancialInfo{IBAN: "sk31 1200 0000 1987 4263 7541"},
		CryptoInfo:       &models.CryptoInfo{WalletAddress: "0xAb5801a7D398351b8bE11C439e05C5B3259aeC9B"},
		DigitalFootprint: &models.DigitalFootprint{Website: "https://www.fake-shop.example"},
	}

	fp := e.Extract(report)

	assert.Equal(t, []string{"900123456"}, fp.Phones)
	assert.Equal(t, []string{"jan.kovac@example.com"}, fp.Emails)
	assert.Equal(t, []string{"jan.kovac"}, fp.EmailLocals)
	assert.Equal(t, []string{"SK3112000000198742637541"}, fp.IBANs)
	assert.Equal(t, []string{"0xab5801a7d398351b8be11c439e05c5b3259aec9b"}, fp.Wallets)
	// Duplicate full name collapses, nickname kept separately
	assert.Equal(t, []string{"jan kovac", "johnny"}, fp.Names)
	assert.Equal(t, "bratislava", fp.City)
	assert.Equal(t, []string{"fake-shop.example"}, fp.Websites)
	assert.True(t, fp.HasStrong())
	assert.False(t, fp.IsEmpty())
}

func TestExtractEmptyReport(t *testing.T) {
	e := NewExtractor(nil)

	fp := e.Extract(&models.Report{})
	assert.True(t, fp.IsEmpty())
	assert.False(t, fp.HasStrong())
}

func TestExtractInvalidFieldsTreatedAsAbsent(t *testing.T) {
	e := NewExtractor([]string{"421"})

	report := &models.Report{
		Perpetrators: []models.Perpetrator{
			{Email: "broken-email", Phone: "123"},
		},
		FinancialInfo: &models.FinancialInfo{IBAN: "not-an-iban"},
	}

	fp := e.Extract(report)
	assert.Empty(t, fp.Phones)
	assert.Empty(t, fp.Emails)
	assert.Empty(t, fp.IBANs)
}
