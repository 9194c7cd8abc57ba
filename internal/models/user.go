package models

import (
	"time"
)

// Roles
const (
	RoleCaregiver = "caregiver"
	RoleEmployer  = "employer"
	RoleStaff     = "staff"
	RoleAdmin     = "admin"
)

// Account statuses
const (
	StatusActive    = "active"
	StatusSuspended = "suspended"
	StatusDisabled  = "disabled"
)

// AllRoles lists every role known to the marketplace.
var AllRoles = []string{RoleCaregiver, RoleEmployer, RoleStaff, RoleAdmin}

type User struct {
	ID                string
	Email             string
	PasswordHash      string
	Name              string
	EmailVerified     bool
	TokenKey          string // Per-user secret for composite token signing
	Role              string
	Status            string     // "active", "suspended", "disabled"
	PasswordChangedAt *time.Time // Last password change timestamp for token invalidation
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// IsSelfServiceRole reports whether a role may be chosen at public signup.
// Staff and admin accounts are created by an administrator.
func IsSelfServiceRole(role string) bool {
	return role == RoleCaregiver || role == RoleEmployer
}

// IsValidRole reports whether role is one of AllRoles.
func IsValidRole(role string) bool {
	for _, r := range AllRoles {
		if r == role {
			return true
		}
	}
	return false
}

// IsValidStatus reports whether status is a known account status.
func IsValidStatus(status string) bool {
	switch status {
	case StatusActive, StatusSuspended, StatusDisabled:
		return true
	}
	return false
}
