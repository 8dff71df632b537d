package models

import (
	"time"

	id "certledger/pkg/domain"
)

type Role string

const (
	RoleStudent   Role = "STUDENT"
	RoleInstitute Role = "INSTITUTE"
	RoleAdmin     Role = "ADMIN"
)

// ZeroWalletAddress is recorded on the ledger for students who have not linked a wallet.
const ZeroWalletAddress = "0x0000000000000000000000000000000000000000"

// User is a student, institute or admin. Users are never deleted.
// WalletAddress is unique across users when set.
type User struct {
	ID            id.UserID `json:"id"`
	Name          string    `json:"name"`
	Email         string    `json:"email"`
	Role          Role      `json:"role"`
	WalletAddress string    `json:"wallet_address,omitempty"`
	RollNumber    string    `json:"roll_number,omitempty"`
	Course        string    `json:"course,omitempty"`
	Department    string    `json:"department,omitempty"`
	// InstituteID links a student to their institute.
	InstituteID id.UserID `json:"institute_id,omitzero"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (u *User) IsStudent() bool {
	return u.Role == RoleStudent
}

// LedgerWallet returns the address recorded on the ledger for this user.
func (u *User) LedgerWallet() string {
	if u.WalletAddress == "" {
		return ZeroWalletAddress
	}
	return u.WalletAddress
}
