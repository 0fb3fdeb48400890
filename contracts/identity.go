package contracts

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// GUIDSize is the size in bytes of an endpoint identity.
const GUIDSize = 16

// GUID is the globally unique identity of a middleware endpoint. It is
// carried verbatim in message headers and in content filter expressions.
type GUID [GUIDSize]byte

// ZeroGUID is the identity of an unknown or unset endpoint.
var ZeroGUID GUID

// NewGUID allocates a fresh endpoint identity.
func NewGUID() GUID {
	return GUID(uuid.New())
}

// GUIDFromHex parses an identity from its 32-character hexadecimal form.
func GUIDFromHex(s string) (GUID, error) {
	var g GUID
	b, err := hex.DecodeString(s)
	if err != nil {
		return g, fmt.Errorf("invalid guid %q: %w", s, err)
	}
	if len(b) != GUIDSize {
		return g, fmt.Errorf("invalid guid %q: expected %d bytes, got %d", s, GUIDSize, len(b))
	}
	copy(g[:], b)
	return g, nil
}

// Hex returns the identity as 32 uppercase hexadecimal characters. This is
// the form embedded in content filter expressions and filter names.
func (g GUID) Hex() string {
	return strings.ToUpper(hex.EncodeToString(g[:]))
}

// IsZero reports whether the identity is unset.
func (g GUID) IsZero() bool {
	return g == ZeroGUID
}

// String formats the identity as four dot-separated 32-bit groups.
func (g GUID) String() string {
	return fmt.Sprintf("%08X.%08X.%08X.%08X",
		binary.BigEndian.Uint32(g[0:4]),
		binary.BigEndian.Uint32(g[4:8]),
		binary.BigEndian.Uint32(g[8:12]),
		binary.BigEndian.Uint32(g[12:16]))
}

// MarshalJSON encodes the identity as a hex string.
func (g GUID) MarshalJSON() ([]byte, error) {
	return []byte(`"` + g.Hex() + `"`), nil
}

// UnmarshalJSON decodes the identity from a hex string.
func (g *GUID) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	parsed, err := GUIDFromHex(s)
	if err != nil {
		return err
	}
	*g = parsed
	return nil
}

// RequestID uniquely identifies one outstanding request: the identity of the
// issuing endpoint plus a sequence number that is strictly increasing and
// never reused within that endpoint. A reply matches a request if and only
// if both fields are equal.
type RequestID struct {
	Origin   GUID
	Sequence int64
}

// Equal reports whether two correlation keys identify the same request.
func (id RequestID) Equal(other RequestID) bool {
	return id.Origin == other.Origin && id.Sequence == other.Sequence
}

// String implements fmt.Stringer.
func (id RequestID) String() string {
	return fmt.Sprintf("gid=%s sn=%d", id.Origin, id.Sequence)
}
