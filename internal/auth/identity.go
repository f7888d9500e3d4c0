// Package auth models caller identities and the capabilities their roles grant.
package auth

import (
	"fmt"

	"example.com/backstage/services/ota/internal/apperrors"
	"example.com/backstage/services/ota/internal/models"

	"github.com/google/uuid"
)

// Capability is a single permission checked by an operation
type Capability string

const (
	CapDevicesRead   Capability = "devices:read"
	CapDevicesWrite  Capability = "devices:write"
	CapFirmwareRead  Capability = "firmware:read"
	CapFirmwareWrite Capability = "firmware:write"
	CapJobsRead      Capability = "jobs:read"
	CapJobsWrite     Capability = "jobs:write"
	CapAuditRead     Capability = "audit:read"
	CapUsersManage   Capability = "users:manage"
)

type capabilitySet map[Capability]struct{}

func setOf(caps ...Capability) capabilitySet {
	s := make(capabilitySet, len(caps))
	for _, c := range caps {
		s[c] = struct{}{}
	}
	return s
}

var operatorCaps = []Capability{
	CapDevicesRead, CapDevicesWrite,
	CapFirmwareRead, CapFirmwareWrite,
	CapJobsRead, CapJobsWrite,
	CapAuditRead,
}

var roleCapabilities = map[models.Role]capabilitySet{
	models.RoleOperator: setOf(operatorCaps...),
	models.RoleAdmin:    setOf(append(operatorCaps, CapUsersManage)...),
}

// Identity is an authenticated caller as supplied by the identity provider
type Identity struct {
	UserID   uuid.UUID
	Username string
	Role     models.Role
}

// System is the identity used by CLI maintenance commands
var System = Identity{Username: "system", Role: models.RoleAdmin}

// ActorID is the id recorded in audit entries
func (i Identity) ActorID() string {
	if i.UserID == uuid.Nil {
		return i.Username
	}
	return i.UserID.String()
}

// Can reports whether the identity's role grants c
func (i Identity) Can(c Capability) bool {
	_, ok := roleCapabilities[i.Role][c]
	return ok
}

// Require returns an AuthorizationError unless the identity holds c
func Require(i Identity, c Capability) error {
	if i.Can(c) {
		return nil
	}
	return apperrors.Authorization(fmt.Sprintf("role %q lacks %s", i.Role, c))
}
