// Package identity resolves the disclosure class of a caller with respect to
// a bid. It is the only place that decides who sees supplier identities.
package identity

import "fmt"

// Class is the caller's disclosure class for a given bid.
type Class int

const (
	// Other is any authenticated caller without ownership or privilege.
	Other Class = iota
	// Owner is the supplier that submitted the bid.
	Owner
	// PrivilegedSystem covers evaluators and administrative callers.
	PrivilegedSystem
)

func (c Class) String() string {
	switch c {
	case Owner:
		return "owner"
	case PrivilegedSystem:
		return "privileged"
	default:
		return "other"
	}
}

// Principal is the authenticated caller.
type Principal struct {
	ActorID    string
	SupplierID string
	Roles      []string
	Source     string
}

var privilegedRoles = map[string]bool{
	"evaluator": true,
	"admin":     true,
}

// Privileged reports whether the principal carries a privileged role.
func (p Principal) Privileged() bool {
	for _, r := range p.Roles {
		if privilegedRoles[r] {
			return true
		}
	}
	return false
}

// Classify resolves the caller's class for a bid owned by bidSupplierID.
func Classify(p Principal, bidSupplierID string) Class {
	if p.Privileged() {
		return PrivilegedSystem
	}
	if p.SupplierID != "" && p.SupplierID == bidSupplierID {
		return Owner
	}
	return Other
}

// ForbiddenError indicates the caller may not perform the operation.
type ForbiddenError struct {
	Reason string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("forbidden: %s", e.Reason)
}
