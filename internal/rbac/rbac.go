package rbac

import (
	"context"
	"strings"
)

type Role string
type Capability string

const (
	RoleStudent Role = "student"
	RoleTeacher Role = "teacher"
	RoleAdmin   Role = "admin"
)

const (
	CapabilityRead     Capability = "read"
	CapabilityEdit     Capability = "edit"
	CapabilityModerate Capability = "moderate"
)

func Can(role Role, capability Capability) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleTeacher:
		return capability == CapabilityRead || capability == CapabilityEdit
	case RoleStudent:
		return capability == CapabilityRead
	default:
		return false
	}
}

// Normalize maps a stored or transported role string onto the closed role set.
// Unknown values collapse to the least privileged role.
func Normalize(role string) Role {
	switch Role(strings.ToLower(strings.TrimSpace(role))) {
	case RoleStudent:
		return RoleStudent
	case RoleTeacher:
		return RoleTeacher
	case RoleAdmin:
		return RoleAdmin
	default:
		return RoleStudent
	}
}

// Directory resolves who a user is and who owns a piece of content.
type Directory interface {
	UserRole(ctx context.Context, userID string) (Role, error)
	ContentAuthor(ctx context.Context, contentID string) (string, error)
}

// Policy answers capability questions for a user on a specific content item.
type Policy struct {
	dir Directory
}

func NewPolicy(dir Directory) *Policy {
	return &Policy{dir: dir}
}

// HasCapability reports whether userID holds capability on contentID.
// Editing additionally requires teachers to be the content's author.
func (p *Policy) HasCapability(ctx context.Context, userID, contentID string, capability Capability) (bool, error) {
	role, err := p.dir.UserRole(ctx, userID)
	if err != nil {
		return false, err
	}
	if !Can(role, capability) {
		return false, nil
	}
	if capability != CapabilityEdit || role == RoleAdmin {
		return true, nil
	}
	authorID, err := p.dir.ContentAuthor(ctx, contentID)
	if err != nil {
		return false, err
	}
	return authorID == userID, nil
}
