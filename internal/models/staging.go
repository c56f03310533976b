package models

import "time"

// PendingRegistration stages sign-up data between submission and successful
// email verification. Re-submitting a sign-up for the same email overwrites
// the row and restarts the flow. The credential is stored hashed and is
// never logged.
type PendingRegistration struct {
	Email       string    `gorm:"primaryKey" json:"email"`
	DisplayName string    `gorm:"not null" json:"display_name"`
	Credential  string    `gorm:"not null" json:"-"`
	CreatedAt   time.Time `json:"created_at"`
}

// VerificationCode is the SQL row form of an issued verification code. At
// most one live row exists per email; issuing a new code overwrites any
// prior row for that address.
type VerificationCode struct {
	Email     string    `gorm:"primaryKey" json:"email"`
	Code      string    `gorm:"not null" json:"-"`
	Purpose   string    `gorm:"not null" json:"purpose"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `gorm:"index" json:"expires_at"`
}
