package model

// Role names carried in access tokens.
const (
	RoleMember = "MEMBER"
	RoleStaff  = "STAFF"
)

// Actor is the identity resolved by the auth collaborator for one request.
// The engine trusts it and only checks it against the tenant of the data
// being touched.
type Actor struct {
	MemberID uint64
	StudioID uint64
	Role     string
}

// IsStaff reports whether the actor may manage its studio's bookings.
func (a Actor) IsStaff() bool { return a.Role == RoleStaff }

// CanAccess reports whether the actor may read or cancel b: staff of the
// booking's studio, or the member who owns it.
func (a Actor) CanAccess(b *Booking) bool {
	if b == nil || a.StudioID != b.StudioID {
		return false
	}
	return a.IsStaff() || a.MemberID == b.MemberID
}

// PaymentOutcome is the result reported by the payment collaborator.
type PaymentOutcome string

const (
	OutcomeSucceeded PaymentOutcome = "succeeded"
	OutcomeFailed    PaymentOutcome = "failed"
)
