package address

import (
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"strings"
)

// DefaultFamily is the transaction family name used by the water-grant
// transaction processor.
const DefaultFamily = "outorga_ana"

// Address layout lengths, in hex characters.
const (
	PrefixLength   = 6
	TypeCodeLength = 2
	KeyHashLength  = 62
	Length         = PrefixLength + TypeCodeLength + KeyHashLength
)

// Kind identifies which entity an address holds.
type Kind int

const (
	// KindForeign marks addresses this projection does not track.
	KindForeign Kind = iota
	KindAdmin
	KindUser
	KindSensor
)

// String returns the lower-case kind name used in logs and CLI arguments.
func (k Kind) String() string {
	switch k {
	case KindAdmin:
		return "admin"
	case KindUser:
		return "user"
	case KindSensor:
		return "sensor"
	default:
		return "foreign"
	}
}

// ParseKind maps a kind name back to a Kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "admin":
		return KindAdmin, nil
	case "user":
		return KindUser, nil
	case "sensor":
		return KindSensor, nil
	}
	return KindForeign, fmt.Errorf("unknown kind %q: must be admin, user or sensor", s)
}

// Namespace is the immutable addressing configuration for one transaction
// family. Build it once with NewNamespace and pass it to the components
// that need it.
type Namespace struct {
	family string
	prefix string
	codes  map[string]Kind
	byKind map[Kind]string
}

// NewNamespace derives the namespace for a family name and installs the
// standard type-code table.
func NewNamespace(family string) Namespace {
	codes := map[string]Kind{
		"00": KindAdmin,
		"01": KindUser,
		"02": KindSensor,
	}
	byKind := make(map[Kind]string, len(codes))
	for code, kind := range codes {
		byKind[kind] = code
	}
	return Namespace{
		family: family,
		prefix: HashHex(family)[:PrefixLength],
		codes:  codes,
		byKind: byKind,
	}
}

// Default returns the namespace of the outorga_ana family.
func Default() Namespace {
	return NewNamespace(DefaultFamily)
}

// Family returns the family name the namespace was derived from.
func (n Namespace) Family() string {
	return n.family
}

// Prefix returns the 6 hex character namespace prefix.
func (n Namespace) Prefix() string {
	return n.prefix
}

// Contains reports whether the address starts with the namespace prefix.
func (n Namespace) Contains(addr string) bool {
	return len(addr) >= PrefixLength && addr[:PrefixLength] == n.prefix
}

// Classify returns the entity kind an address holds.
func (n Namespace) Classify(addr string) Kind {
	if !n.Contains(addr) || len(addr) < PrefixLength+TypeCodeLength {
		return KindForeign
	}
	kind, ok := n.codes[addr[PrefixLength:PrefixLength+TypeCodeLength]]
	if !ok {
		return KindForeign
	}
	return kind
}

// TypeCode returns the 2 hex character code for a kind.
func (n Namespace) TypeCode(kind Kind) (string, bool) {
	code, ok := n.byKind[kind]
	return code, ok
}

// Build returns the state address of an entity key. It panics on
// KindForeign, which has no address space of its own.
func (n Namespace) Build(kind Kind, key string) string {
	code, ok := n.byKind[kind]
	if !ok {
		panic(fmt.Sprintf("address: no type code for kind %s", kind))
	}
	return n.prefix + code + HashHex(key)[:KeyHashLength]
}

// AdminAddress returns the state address of an admin public key.
func (n Namespace) AdminAddress(publicKey string) string {
	return n.Build(KindAdmin, publicKey)
}

// UserAddress returns the state address of a user public key.
func (n Namespace) UserAddress(publicKey string) string {
	return n.Build(KindUser, publicKey)
}

// SensorAddress returns the state address of a sensor id.
func (n Namespace) SensorAddress(sensorID string) string {
	return n.Build(KindSensor, sensorID)
}

// HashHex returns hex(sha512(s)) of the UTF-8 bytes of s.
func HashHex(s string) string {
	sum := sha512.Sum512([]byte(s))
	return hex.EncodeToString(sum[:])
}
