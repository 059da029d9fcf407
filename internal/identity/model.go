package identity

import "time"

// User represents a registered wallet owner. The password credential is
// opaque to the ledger core: it is hashed at registration and never read by
// any posting path.
type User struct {
	ID           string
	Email        string
	PasswordHash []byte
	CreatedAt    time.Time
}

// Credentials carries registration input.
type Credentials struct {
	Email    string
	Password string
}
