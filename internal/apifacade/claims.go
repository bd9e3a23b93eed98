package apifacade

// Role is one of the three access levels §6 requires be enforced uniformly
// across every APIFacade operation. Roles are ordered: an admin may do
// anything an operator may do, an operator anything a viewer may do.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleOperator Role = "operator"
	RoleViewer   Role = "viewer"
)

var roleRank = map[Role]int{
	RoleViewer:   0,
	RoleOperator: 1,
	RoleAdmin:    2,
}

// Claims is the minimal identity the out-of-scope HTTP layer is expected to
// have already authenticated and attached to the request context before
// calling into APIFacade. It mirrors the custom claims of a bearer access
// token — session/token issuance itself stays out of scope.
type Claims struct {
	UserID string
	Email  string
	Role   Role
}

// requireRole returns a Forbidden Error if claims' role ranks below min.
// Unknown roles are treated as rank -1, so they never satisfy any check.
func requireRole(op string, claims Claims, min Role) error {
	got, ok := roleRank[claims.Role]
	if !ok {
		got = -1
	}
	if got < roleRank[min] {
		return newError(op, KindForbidden, nil)
	}
	return nil
}
