package eddystone

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Identifier lengths in bytes.
const (
	NamespaceLength = 10
	InstanceLength  = 6
)

// Namespace is the 10-byte UID namespace.
type Namespace [NamespaceLength]byte

// Instance is the 6-byte UID instance.
type Instance [InstanceLength]byte

// String returns the namespace as lowercase hex.
func (n Namespace) String() string { return hex.EncodeToString(n[:]) }

// String returns the instance as lowercase hex.
func (i Instance) String() string { return hex.EncodeToString(i[:]) }

// NamespaceFromUUID derives a namespace from a UUID by elision: the first
// four bytes followed by the last six.
func NamespaceFromUUID(u uuid.UUID) Namespace {
	var ns Namespace
	copy(ns[:4], u[:4])
	copy(ns[4:], u[10:])
	return ns
}

// ParseNamespace parses 20 hex characters. A UUID string is accepted too
// and elided with NamespaceFromUUID.
func ParseNamespace(s string) (Namespace, error) {
	var ns Namespace
	if strings.Count(s, "-") == 4 {
		u, err := uuid.Parse(s)
		if err != nil {
			return ns, fmt.Errorf("%w: namespace %q: %v", ErrInvalidIdentifier, s, err)
		}
		return NamespaceFromUUID(u), nil
	}
	if err := decodeHexInto(ns[:], s); err != nil {
		return ns, fmt.Errorf("%w: namespace %q: %v", ErrInvalidIdentifier, s, err)
	}
	return ns, nil
}

// ParseInstance parses 12 hex characters.
func ParseInstance(s string) (Instance, error) {
	var inst Instance
	if err := decodeHexInto(inst[:], s); err != nil {
		return inst, fmt.Errorf("%w: instance %q: %v", ErrInvalidIdentifier, s, err)
	}
	return inst, nil
}

// UIDPayload joins a namespace and instance into a slot payload.
func UIDPayload(ns Namespace, inst Instance) []byte {
	out := make([]byte, 0, UIDPayloadLength)
	out = append(out, ns[:]...)
	return append(out, inst[:]...)
}

func decodeHexInto(dst []byte, s string) error {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return err
	}
	if len(raw) != len(dst) {
		return fmt.Errorf("got %d bytes, want %d", len(raw), len(dst))
	}
	copy(dst, raw)
	return nil
}
