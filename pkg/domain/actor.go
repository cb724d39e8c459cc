package domain

// Role is the authorization role carried by a verified session token.
type Role string

const (
	RoleAdmin       Role = "admin"
	RoleContributor Role = "contributor"
)

// Actor is a verified caller identity: the wallet address the identity
// verifier attested plus the platform role it was issued with.
type Actor struct {
	Address string `json:"address"`
	Role    Role   `json:"role"`
}
