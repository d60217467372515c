package domain

// Role is the capability set of an authenticated caller.
type Role string

const (
	RoleInvestor Role = "investor"
	RoleStaff    Role = "staff"
)

// Capability names one gated operation.
type Capability string

const (
	CapTrade          Capability = "trade"
	CapManageSession  Capability = "manage_session"
	CapManageStocks   Capability = "manage_stocks"
	CapManageAccounts Capability = "manage_accounts"
	CapUndo           Capability = "undo"
	CapReadAudit      Capability = "read_audit"
)

var roleCapabilities = map[Role]map[Capability]bool{
	RoleInvestor: {
		CapTrade: true,
	},
	RoleStaff: {
		CapManageSession:  true,
		CapManageStocks:   true,
		CapManageAccounts: true,
		CapUndo:           true,
		CapReadAudit:      true,
	},
}

// Can reports whether the role grants c.
func (r Role) Can(c Capability) bool {
	return roleCapabilities[r][c]
}

// Caller is the identity resolved for a request.
type Caller struct {
	AccountID string
	Role      Role
}

// CanAccess reports whether the caller may read or act on resources owned
// by accountID. Staff may access every account.
func (c Caller) CanAccess(accountID string) bool {
	return c.Role == RoleStaff || (c.AccountID != "" && c.AccountID == accountID)
}

// Name identifies the caller in audit records.
func (c Caller) Name() string {
	if c.AccountID == "" {
		return string(c.Role)
	}
	return string(c.Role) + ":" + c.AccountID
}
