// Package bech32 implements BIP-173 bech32 encoding and decoding of 8-bit
// payloads.
// Reference: https://github.com/bitcoin/bips/blob/master/bip-0173.mediawiki
package bech32

import (
	"strings"
)

// Charset is the data alphabet. It excludes 1, b, i and o.
const Charset = "qpzry9x8gf2tvdw0s3jn54khce6mua7l"

var charsetRev = func() [128]int8 {
	var idx [128]int8
	for i := range idx {
		idx[i] = -1
	}
	for i := 0; i < len(Charset); i++ {
		idx[Charset[i]] = int8(i)
	}
	return idx
}()

var generator = [5]uint32{0x3b6a57b2, 0x26508e6d, 0x1ea119fa, 0x3d4233dd, 0x2a1462b3}

func polymod(groups []byte) uint32 {
	chk := uint32(1)
	for _, v := range groups {
		top := chk >> 25
		chk = (chk&0x1ffffff)<<5 ^ uint32(v)
		for i, g := range generator {
			if (top>>uint(i))&1 == 1 {
				chk ^= g
			}
		}
	}
	return chk
}

func hrpExpand(hrp string) []byte {
	out := make([]byte, 0, len(hrp)*2+1)
	for i := 0; i < len(hrp); i++ {
		out = append(out, hrp[i]>>5)
	}
	out = append(out, 0)
	for i := 0; i < len(hrp); i++ {
		out = append(out, hrp[i]&31)
	}
	return out
}

// convertBits regroups a bit stream from one group width to another.
func convertBits(data []byte, from, to uint, pad bool) ([]byte, error) {
	var (
		acc  uint32
		bits uint
		out  = make([]byte, 0, len(data)*int(from)/int(to)+1)
		mask = uint32(1)<<to - 1
	)
	for _, b := range data {
		acc = acc<<from | uint32(b)
		bits += from
		for bits >= to {
			bits -= to
			out = append(out, byte(acc>>bits&mask))
		}
	}
	switch {
	case pad && bits > 0:
		out = append(out, byte(acc<<(to-bits)&mask))
	case !pad && bits >= from:
		return nil, Error{Msg: "invalid padding"}
	case !pad && acc<<(to-bits)&mask != 0:
		return nil, Error{Msg: "non-zero padding"}
	}
	return out, nil
}

// Encode encodes data under the human-readable prefix hrp.
// The output is lower case.
func Encode(hrp string, data []byte) string {
	hrp = strings.ToLower(hrp)
	groups, _ := convertBits(data, 8, 5, true)
	pm := polymod(append(append(hrpExpand(hrp), groups...), 0, 0, 0, 0, 0, 0)) ^ 1

	var sb strings.Builder
	sb.Grow(len(hrp) + 1 + len(groups) + 6)
	sb.WriteString(hrp)
	sb.WriteByte('1')
	for _, g := range groups {
		sb.WriteByte(Charset[g])
	}
	for i := 0; i < 6; i++ {
		sb.WriteByte(Charset[pm>>(5*(5-uint(i)))&31])
	}
	return sb.String()
}

// Decode returns the lower-cased prefix and the payload of s.
// Upper-case input is accepted; mixed case is not.
func Decode(s string) (string, []byte, error) {
	if len(s) < 8 {
		return "", nil, Error{Msg: "invalid length"}
	}
	var lower, upper bool
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c < 33 || c > 126:
			return "", nil, Error{Msg: "invalid character"}
		case c >= 'a' && c <= 'z':
			lower = true
		case c >= 'A' && c <= 'Z':
			upper = true
		}
	}
	if lower && upper {
		return "", nil, Error{Msg: "mixed case"}
	}
	s = strings.ToLower(s)

	sep := strings.LastIndexByte(s, '1')
	if sep < 1 {
		return "", nil, Error{Msg: "no separator"}
	}
	if sep+7 > len(s) {
		return "", nil, Error{Msg: "too short"}
	}
	hrp := s[:sep]
	groups := make([]byte, 0, len(s)-sep-1)
	for i := sep + 1; i < len(s); i++ {
		v := charsetRev[s[i]]
		if v < 0 {
			return "", nil, Error{Msg: "invalid character: " + string(s[i])}
		}
		groups = append(groups, byte(v))
	}
	if polymod(append(hrpExpand(hrp), groups...)) != 1 {
		return "", nil, Error{Msg: "invalid checksum"}
	}
	data, err := convertBits(groups[:len(groups)-6], 5, 8, false)
	if err != nil {
		return "", nil, err
	}
	return hrp, data, nil
}

// Error is a bech32 encoding or decoding error.
type Error struct {
	Msg string
}

func (e Error) Error() string {
	return "bech32: " + e.Msg
}
