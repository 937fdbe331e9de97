package models

import (
	"time"

	"gorm.io/gorm"
)

// User roles. Guests are temporary identities created before sign-in; their
// orders are reattributed on authentication (see order.Service.MergeGuestOrders).
const (
	RoleCustomer = "customer"
	RoleEmployee = "employee"
	RoleDriver   = "driver"
	RoleGuest    = "guest"
)

type User struct {
	ID        string         `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Name      string         `gorm:"type:varchar(100);not null" json:"name"`
	Email     string         `gorm:"type:varchar(100);uniqueIndex" json:"email"`
	Phone     string         `gorm:"type:varchar(20)" json:"phone"`
	Role      string         `gorm:"type:varchar(20);default:'customer'" json:"role"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

func (User) TableName() string {
	return "users"
}
