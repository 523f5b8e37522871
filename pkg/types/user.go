package types

// ProviderGroup represents the user pool group a provider belongs to
type ProviderGroup string

// GroupProvider is the user pool group of clinicians
const GroupProvider ProviderGroup = "provider"

// UserClaims represents the claims of a validated access token. Subject is
// the stable user pool identity and keys both settings and patient records.
type UserClaims struct {
	Subject  string          `json:"sub"`
	Username string          `json:"username"`
	Email    string          `json:"email,omitempty"`
	Groups   []ProviderGroup `json:"groups,omitempty"`
}

// HasGroup reports whether the claims carry the given group
func (c *UserClaims) HasGroup(group ProviderGroup) bool {
	for _, g := range c.Groups {
		if g == group {
			return true
		}
	}
	return false
}
