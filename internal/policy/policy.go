// Package policy decides whether a user may modify a widget.
package policy

import "github.com/google/uuid"

// Authority is the role of a user.
type Authority string

const (
	SysAdmin      Authority = "SYS_ADMIN"
	TenantAdmin   Authority = "TENANT_ADMIN"
	CustomerUser  Authority = "CUSTOMER_USER"
	AnonymousUser Authority = ""
)

// SystemTenant owns system-level bundles.
var SystemTenant = uuid.MustParse("13814000-1dd2-11b2-8080-808080808080")

// User is the current operator.
type User struct {
	Name      string
	Authority Authority
	TenantID  uuid.UUID
}

// Bundle is the widget bundle being edited, as far as policy is concerned.
type Bundle struct {
	Alias    string
	TenantID uuid.UUID
}

// ParseAuthority maps a header value to an Authority. Unknown values map to
// AnonymousUser.
func ParseAuthority(s string) Authority {
	switch a := Authority(s); a {
	case SysAdmin, TenantAdmin, CustomerUser:
		return a
	default:
		return AnonymousUser
	}
}

// IsReadOnly reports whether u may only view widgets of bundle. A nil bundle
// means the widget is not filed in any bundle.
//
// System administrators edit everything. Tenant administrators may not
// edit system bundles or widgets outside a bundle. Everyone else is
// read-only.
func IsReadOnly(u User, bundle *Bundle) bool {
	switch u.Authority {
	case SysAdmin:
		return false
	case TenantAdmin:
		return bundle == nil || bundle.TenantID == SystemTenant
	default:
		return true
	}
}
