package state

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ServiceIDKind distinguishes the two identity namespaces of an account.
type ServiceIDKind int

const (
	// KindACI is the stable account identity.
	KindACI ServiceIDKind = iota
	// KindPNI is the phone-number identity, serialized with a "PNI:" prefix.
	KindPNI
)

// ServiceID is an ACI or PNI reference to an account.
type ServiceID struct {
	Kind ServiceIDKind
	UUID uuid.UUID
}

// ACIFor wraps an ACI UUID as a ServiceID.
func ACIFor(id uuid.UUID) ServiceID {
	return ServiceID{Kind: KindACI, UUID: id}
}

// PNIFor wraps a PNI UUID as a ServiceID.
func PNIFor(id uuid.UUID) ServiceID {
	return ServiceID{Kind: KindPNI, UUID: id}
}

// ParseServiceID parses a service-id string: a bare UUID for an ACI, or
// "PNI:" followed by a UUID for a PNI.
func ParseServiceID(s string) (ServiceID, error) {
	kind := KindACI
	if rest, ok := strings.CutPrefix(s, "PNI:"); ok {
		kind = KindPNI
		s = rest
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return ServiceID{}, fmt.Errorf("parse service id %q: %w", s, err)
	}
	return ServiceID{Kind: kind, UUID: id}, nil
}

// String renders the service id in wire form.
func (s ServiceID) String() string {
	if s.Kind == KindPNI {
		return "PNI:" + s.UUID.String()
	}
	return s.UUID.String()
}

// Identity names the key flavor a prekey inventory belongs to.
type Identity string

const (
	IdentityACI Identity = "aci"
	IdentityPNI Identity = "pni"
)

// ParseIdentity validates an identity query parameter.
func ParseIdentity(s string) (Identity, error) {
	switch Identity(s) {
	case IdentityACI, IdentityPNI:
		return Identity(s), nil
	case "":
		return IdentityACI, nil
	default:
		return "", fmt.Errorf("unknown identity %q", s)
	}
}
