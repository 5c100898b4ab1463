package qdecode

import (
	"crypto/x509/pkix"
	"encoding/asn1"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// NormalizeName returns a comparable DER encoding of a distinguished name.
//
// String attribute values are NFKC normalized, upper-cased and have their
// whitespace trimmed and collapsed, so names that differ only in case,
// spacing or string type compare equal. Names that cannot be parsed are
// returned unchanged.
func NormalizeName(raw []byte) []byte {
	var rdns pkix.RDNSequence
	rest, err := asn1.Unmarshal(raw, &rdns)
	if err != nil || len(rest) != 0 {
		return append([]byte(nil), raw...)
	}
	for i := range rdns {
		for j := range rdns[i] {
			if s, ok := rdns[i][j].Value.(string); ok {
				rdns[i][j].Value = normalizeValue(s)
			}
		}
	}
	out, err := asn1.Marshal(rdns)
	if err != nil {
		return append([]byte(nil), raw...)
	}
	return out
}

func normalizeValue(s string) string {
	s = norm.NFKC.String(s)
	// A Caser holds state; one per call keeps NormalizeName safe for concurrent use.
	s = cases.Upper(language.Und).String(s)
	return strings.Join(strings.Fields(s), " ")
}
