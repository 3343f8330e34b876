package cache

import (
	"fmt"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/zeebo/xxh3"

	"github.com/rshade/tickerscope/internal/payload"
)

const (
	// noneValue stands in for an absent discriminator.
	noneValue = "none"

	// digestLength is the number of hex characters of the key digest.
	digestLength = 8

	// maxTickerLength is the longest accepted ticker symbol.
	maxTickerLength = 10
)

// reservedParams cannot be overridden through KeyParams.Extra.
//
//nolint:gochecknoglobals // Compile-time constant lookup table.
var reservedParams = map[string]bool{
	"ticker":    true,
	"data_type": true,
	"frequency": true,
	"period":    true,
}

//nolint:gochecknoglobals // Stateless replacer shared by NormalizeTicker.
var tickerReplacer = strings.NewReplacer(".", "_", "-", "_", "/", "_")

// KeyParams identifies one cached value.
type KeyParams struct {
	// Ticker is the symbol as supplied by the caller; it is normalized.
	Ticker string

	// DataType is the logical dataset.
	DataType payload.DataType

	// Frequency and Period are optional discriminators ("" means absent).
	Frequency string
	Period    string

	// Extra holds further discriminators. Names colliding with the built-in
	// parameters are ignored.
	Extra map[string]string
}

// HasDiscriminators reports whether any optional discriminator is set.
func (p KeyParams) HasDiscriminators() bool {
	if strings.TrimSpace(p.Frequency) != "" || strings.TrimSpace(p.Period) != "" {
		return true
	}
	for name := range p.Extra {
		if !reservedParams[name] {
			return true
		}
	}
	return false
}

// normalized returns a copy with ticker, data type and discriminators in
// canonical form.
func (p KeyParams) normalized() KeyParams {
	return KeyParams{
		Ticker:    NormalizeTicker(p.Ticker),
		DataType:  payload.Normalize(string(p.DataType)),
		Frequency: strings.ToLower(strings.TrimSpace(p.Frequency)),
		Period:    strings.ToLower(strings.TrimSpace(p.Period)),
		Extra:     p.Extra,
	}
}

// NormalizeTicker upper-cases and trims a ticker and replaces '.', '-' and
// '/' with '_' so it is safe in file names.
func NormalizeTicker(ticker string) string {
	return tickerReplacer.Replace(strings.ToUpper(strings.TrimSpace(ticker)))
}

// IsValidTicker reports whether ticker is 1 to 10 characters long and
// alphanumeric once '.' and '-' are removed.
func IsValidTicker(ticker string) bool {
	t := strings.ToUpper(strings.TrimSpace(ticker))
	n := utf8.RuneCountInString(t)
	if n < 1 || n > maxTickerLength {
		return false
	}

	stripped := strings.NewReplacer(".", "", "-", "").Replace(t)
	if stripped == "" {
		return false
	}
	for _, r := range stripped {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// GenerateSimpleKey returns "TICKER_datatype". It is used when no
// discriminator is supplied, so a later store for the same pair always
// overwrites the same slot.
func GenerateSimpleKey(ticker string, dataType payload.DataType) string {
	return NormalizeTicker(ticker) + "_" + string(payload.Normalize(string(dataType)))
}

// GenerateKey returns the deterministic cache key for p.
//
// Without discriminators the simple key is returned. Otherwise the key is
// TICKER_datatype_frequency_period_digest, where digest covers every
// parameter including Extra, serialized in sorted order so that the result
// does not depend on how the parameters were supplied.
func GenerateKey(p KeyParams) string {
	n := p.normalized()
	if !n.HasDiscriminators() {
		return GenerateSimpleKey(n.Ticker, n.DataType)
	}

	params := map[string]string{
		"ticker":    n.Ticker,
		"data_type": string(n.DataType),
		"frequency": orNone(n.Frequency),
		"period":    orNone(n.Period),
	}
	for name, value := range n.Extra {
		if reservedParams[name] {
			continue
		}
		params[name] = value
	}

	return fmt.Sprintf("%s_%s_%s_%s_%s",
		n.Ticker, n.DataType, keySegment(n.Frequency), keySegment(n.Period), paramDigest(params))
}

// paramDigest hashes the parameters in sorted name order. Names and values
// are length-prefixed so no value can mimic a separator.
func paramDigest(params map[string]string) string {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		value := params[name]
		fmt.Fprintf(&b, "%d:%s=%d:%s;", len(name), name, len(value), value)
	}

	return fmt.Sprintf("%016x", xxh3.HashString(b.String()))[:digestLength]
}

// keySegment renders a discriminator for the readable part of a key. Every
// rune outside [a-z0-9_] becomes '_', so the key is a single safe file name.
// The digest still covers the raw value.
func keySegment(s string) string {
	if s == "" {
		return noneValue
	}
	return strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			return r
		}
		return '_'
	}, s)
}

func orNone(s string) string {
	if s == "" {
		return noneValue
	}
	return s
}
