package auth

import "github.com/BradenHooton/crystals/internal/models"

// Capability names what a route requires of the principal.
type Capability string

const (
	CapabilityAuthenticated Capability = "authenticated"
	CapabilitySuperuser     Capability = "superuser"
)

// Decision is the outcome of a permission check. Reason is set on deny.
type Decision struct {
	Allowed bool
	Reason  error
}

func Allow() Decision { return Decision{Allowed: true} }

func Deny(reason error) Decision { return Decision{Reason: reason} }

// PermissionGate runs after authentication. Any authenticated principal
// holds CapabilityAuthenticated; CapabilitySuperuser needs the flag.
type PermissionGate struct{}

func (PermissionGate) Check(p *models.Principal, required Capability) Decision {
	if p == nil {
		return Deny(models.ErrPermissionDenied)
	}
	if p.IsSuperuser {
		return Allow()
	}
	if required == CapabilitySuperuser {
		return Deny(models.ErrForbidden)
	}
	return Allow()
}
