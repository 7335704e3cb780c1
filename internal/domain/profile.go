package domain

import (
	"context"
	"slices"
	"time"
)

type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// ProfileRow is a profiles row exactly as the record store holds it.
// Stores is the raw comma-delimited store list.
type ProfileRow struct {
	ID        string
	Email     string
	Role      string
	FullName  string
	AvatarURL string
	Stores    string
	UpdatedAt time.Time
}

// Profile is the resolved authorization context of a user.
type Profile struct {
	ID        string   `json:"id"`
	Email     string   `json:"email"`
	Role      Role     `json:"role"`
	FullName  string   `json:"fullName,omitempty"`
	AvatarURL string   `json:"avatarUrl,omitempty"`
	Stores    []string `json:"stores"`
}

// IsAdmin reports whether the profile carries the admin role.
func (p *Profile) IsAdmin() bool {
	return p != nil && p.Role == RoleAdmin
}

// HasStore reports whether the profile is assigned the named store.
func (p *Profile) HasStore(name string) bool {
	return p != nil && slices.Contains(p.Stores, name)
}

// ProfileRepository reads and writes profile rows. Rows are keyed by user ID.
type ProfileRepository interface {
	GetByID(ctx context.Context, id string) (*ProfileRow, error)
	Upsert(ctx context.Context, row *ProfileRow) error
	List(ctx context.Context) ([]ProfileRow, error)
}
