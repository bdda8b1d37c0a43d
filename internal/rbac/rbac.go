// Package rbac builds the casbin enforcer guarding the admin API.
package rbac

import (
	"fmt"

	"smb-ledger/internal/models"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
)

const modelConf = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = r.sub == p.sub && keyMatch(r.obj, p.obj) && (p.act == "*" || r.act == p.act)
`

// AdminPathPattern is the object granted to the admin role.
const AdminPathPattern = "/api/admin/*"

// NewEnforcer returns an enforcer holding the static role policy.
// Subjects are role names, objects are request paths, actions are methods.
func NewEnforcer() (*casbin.Enforcer, error) {
	m, err := model.NewModelFromString(modelConf)
	if err != nil {
		return nil, fmt.Errorf("failed to parse casbin model: %w", err)
	}
	e, err := casbin.NewEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("failed to create casbin enforcer: %w", err)
	}
	if _, err := e.AddPolicy(models.RoleAdmin, AdminPathPattern, "*"); err != nil {
		return nil, fmt.Errorf("failed to add admin policy: %w", err)
	}
	return e, nil
}
