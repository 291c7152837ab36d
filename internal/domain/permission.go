package domain

import (
	"github.com/google/uuid"
	"time"
)

type Capability string

const (
	CapabilityRead   Capability = "read"
	CapabilityWrite  Capability = "write"
	CapabilityDelete Capability = "delete"
)

// AllCapabilities - набор прав владельца файла
var AllCapabilities = []Capability{CapabilityRead, CapabilityWrite, CapabilityDelete}

func (c Capability) Valid() bool {
	switch c {
	case CapabilityRead, CapabilityWrite, CapabilityDelete:
		return true
	default:
		return false
	}
}

// Grant - одна выданная пользователю возможность над файлом
type Grant struct {
	FileID     uuid.UUID  `json:"fileId" db:"file_id"`
	UserID     string     `json:"userId" db:"user_id"`
	Capability Capability `json:"capability" db:"capability"`
	GrantedAt  time.Time  `json:"grantedAt" db:"granted_at"`
}

// Permissions содержит множества пользователей для каждого права
type Permissions struct {
	Read   []string `json:"read"`
	Write  []string `json:"write"`
	Delete []string `json:"delete"`
}

// OwnerPermissions возвращает права по умолчанию: владелец имеет всё
func OwnerPermissions(ownerID string) Permissions {
	return Permissions{
		Read:   []string{ownerID},
		Write:  []string{ownerID},
		Delete: []string{ownerID},
	}
}

// Has проверяет, входит ли пользователь в множество для права
func (p Permissions) Has(userID string, c Capability) bool {
	var set []string
	switch c {
	case CapabilityRead:
		set = p.Read
	case CapabilityWrite:
		set = p.Write
	case CapabilityDelete:
		set = p.Delete
	}
	for _, id := range set {
		if id == userID {
			return true
		}
	}
	return false
}

// PermissionsFromGrants собирает множества из списка выданных прав
func PermissionsFromGrants(grants []Grant) Permissions {
	p := Permissions{Read: []string{}, Write: []string{}, Delete: []string{}}
	for _, g := range grants {
		switch g.Capability {
		case CapabilityRead:
			p.Read = append(p.Read, g.UserID)
		case CapabilityWrite:
			p.Write = append(p.Write, g.UserID)
		case CapabilityDelete:
			p.Delete = append(p.Delete, g.UserID)
		}
	}
	return p
}
