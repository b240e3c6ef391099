package models

import "time"

// Principal is an account that can authenticate against the API.
type Principal struct {
	ID           int64
	Username     string
	Email        string
	PasswordHash string
	IsStaff      bool
	IsSuperuser  bool
	IsActive     bool
	FactoryID    int64
	MFAEnabled   bool
	MFASecret    string // AES-GCM ciphertext, base64
	LastLogin    *time.Time
	DateJoined   time.Time
}

// PrincipalSummary is the public view returned by login and verify.
type PrincipalSummary struct {
	ID          int64  `json:"id"`
	Username    string `json:"username"`
	Email       string `json:"email"`
	IsStaff     bool   `json:"is_staff"`
	IsSuperuser bool   `json:"is_superuser"`
	FactoryID   int64  `json:"factory_id"`
}

// PrincipalProfile extends the summary with account timestamps.
type PrincipalProfile struct {
	PrincipalSummary
	LastLogin  *time.Time `json:"last_login"`
	DateJoined time.Time  `json:"date_joined"`
}

func (p *Principal) Summary() PrincipalSummary {
	return PrincipalSummary{
		ID:          p.ID,
		Username:    p.Username,
		Email:       p.Email,
		IsStaff:     p.IsStaff,
		IsSuperuser: p.IsSuperuser,
		FactoryID:   p.FactoryID,
	}
}

func (p *Principal) Profile() PrincipalProfile {
	return PrincipalProfile{
		PrincipalSummary: p.Summary(),
		LastLogin:        p.LastLogin,
		DateJoined:       p.DateJoined,
	}
}
