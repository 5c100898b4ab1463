package qdecode

import (
	"math/big"

	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"
)

// SerialBytes returns the content octets of the DER INTEGER encoding of n:
// minimal two's complement, so the sign is kept and zero is one 0x00 byte.
// This is the form serial numbers are stored and queried in.
func SerialBytes(n *big.Int) []byte {
	var b cryptobyte.Builder
	b.AddASN1BigInt(n)
	der, err := b.Bytes()
	if err != nil {
		return nil
	}
	s := cryptobyte.String(der)
	var content cryptobyte.String
	if !s.ReadASN1(&content, cbasn1.INTEGER) {
		return nil
	}
	return []byte(content)
}
