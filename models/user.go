package models

import "gorm.io/gorm"

// Account roles
const (
	UserRoleUser           = "user"
	UserRoleAdmin          = "admin"
	UserRoleProductManager = "product-manager"
)

// User represents an account that can join teams, file features and comment on them
type User struct {
	gorm.Model

	Email        string  `gorm:"uniqueIndex;not null" json:"email"`
	Name         string  `gorm:"not null" json:"name"`
	Role         string  `gorm:"default:'user'" json:"role"` // user, admin, product-manager
	PasswordHash string  `gorm:"not null" json:"-"`
	FirebaseUID  *string `gorm:"uniqueIndex" json:"firebase_uid,omitempty"`
	IsActive     bool    `gorm:"default:true" json:"is_active"`

	// Relations
	Memberships []TeamMember `gorm:"foreignKey:UserID" json:"memberships,omitempty"`
}
