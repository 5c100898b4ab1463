package qkeychain

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/kardianos/qkeychain/qdef"
)

// Substrate layout.
const (
	metaKey    = "meta.store"
	certPrefix = "cert."
	keyPrefix  = "keys."
	metaFormat = 1
)

// storeMeta is the per-store record holding the instance id and row counter.
type storeMeta struct {
	Format    int       `cbor:"1,keyasint"`
	StoreID   []byte    `cbor:"2,keyasint"`
	NextRowID int64     `cbor:"3,keyasint"`
	CreatedAt time.Time `cbor:"4,keyasint"`
}

func (m storeMeta) id() (uuid.UUID, error) {
	return uuid.FromBytes(m.StoreID)
}

func rowPrefix(class qdef.Class) string {
	if class == qdef.ClassKey {
		return keyPrefix
	}
	return certPrefix
}

func rowKey(class qdef.Class, rowID int64) string {
	return fmt.Sprintf("%s%016x", rowPrefix(class), rowID)
}

// parseRowKey returns the row id encoded in a substrate key.
func parseRowKey(key string) (int64, error) {
	_, hex, ok := strings.Cut(key, ".")
	if !ok || len(hex) != 16 {
		return 0, fmt.Errorf("malformed row key %q", key)
	}
	v, err := strconv.ParseUint(hex, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed row key %q: %w", key, err)
	}
	return int64(v), nil
}

// Key rows hold private key material and are sealed at rest.
func sealed(class qdef.Class) bool {
	return class == qdef.ClassKey
}

// Timestamps keep nanoseconds so records round-trip exactly.
var encMode = func() cbor.EncMode {
	em, err := cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

func encodeRecord(r *qdef.Record) ([]byte, error) {
	return encMode.Marshal(r)
}

func encodeMeta(m storeMeta) ([]byte, error) {
	return encMode.Marshal(m)
}

func decodeRecord(data []byte) (*qdef.Record, error) {
	r := &qdef.Record{}
	if err := cbor.Unmarshal(data, r); err != nil {
		return nil, err
	}
	return r, nil
}
