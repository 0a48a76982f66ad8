package models

import "time"

type Role string

const (
	RoleLearner  Role = "learner"
	RoleTrainer  Role = "trainer"
	RoleGymOwner Role = "gym_owner"
)

func (r Role) Valid() bool {
	switch r {
	case RoleLearner, RoleTrainer, RoleGymOwner:
		return true
	}
	return false
}

type User struct {
	ID           uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	Email        string    `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"`
	Username     string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"username"`
	Role         Role      `gorm:"type:varchar(16);not null;default:learner" json:"role"`
	PasswordHash string    `gorm:"type:varchar(255);not null" json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
