package models

// Principal is the authenticated identity attached to a request after
// credential verification.
type Principal struct {
	UserId   string
	Username string
}

// Owns reports whether the principal is the owner referenced by ownerId.
// Every ownership check goes through here so owner ids are always compared
// the same way.
func (p Principal) Owns(ownerId string) bool {
	return p.UserId != "" && p.UserId == ownerId
}
