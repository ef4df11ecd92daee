package domain

// User is the profile stored in the USER_DATA_{userId} hash. Phone is
// optional; when present, device verification codes also go out by SMS.
type User struct {
	UserID       string `json:"id" redis:"id"`
	Email        string `json:"email" redis:"email"`
	PasswordHash string `json:"-" redis:"password"`
	Phone        string `json:"phone,omitempty" redis:"phone"`
}

// SecuritySettings mirrors the USER:SECURITY:{userId} hash.
type SecuritySettings struct {
	Has2FA          bool
	TwoFactorSecret string
}

// TokenPair is the access/refresh pair persisted per user. A user has at most
// one live pair; each successful authentication overwrites the previous one.
type TokenPair struct {
	AccessToken  string `json:"token"`
	RefreshToken string `json:"refreshToken"`
}
