package cli

import (
	"encoding/json"
	"flag"
	"fmt"
	"time"

	"github.com/alshuail/portal-access/pkg/rbac"
)

func newCheckCommand() *Command {
	cmd := &Command{
		Name:        "check",
		Description: "Evaluate the route guard for a principal",
		Flags:       flag.NewFlagSet("check", flag.ExitOnError),
	}
	cf := addConnFlags(cmd.Flags)
	principal := cmd.Flags.String("principal", "", "Principal ID (empty checks an anonymous caller)")
	permission := cmd.Flags.String("permission", "", "Required permission, resource:action")
	roles := cmd.Flags.String("roles", "", "Comma-separated roles, any of which satisfies the check")
	at := cmd.Flags.String("at", "", "Evaluate at this time instead of now")
	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		req, err := requirementFromFlags(*permission, *roles)
		if err != nil {
			return err
		}
		when := time.Now().UTC()
		if t, err := parseTime(*at); err != nil {
			return err
		} else if t != nil {
			when = *t
		}

		ctx, cancel := commandContext()
		defer cancel()
		e, err := openEngine(ctx, cf)
		if err != nil {
			return err
		}
		defer e.Close()

		if req.Kind == rbac.RequireAnyRole {
			if err := e.manager.Catalog().Require(req.Roles...); err != nil {
				return err
			}
		}
		decision, res, err := e.manager.Guard().Evaluate(ctx, *principal, req, when)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]interface{}{
			"requirement": req.String(),
			"decision":    decision,
			"resolution":  res,
		})
	}
	return cmd
}

func requirementFromFlags(permission, roles string) (rbac.Requirement, error) {
	switch {
	case permission != "" && roles != "":
		return rbac.Requirement{}, fmt.Errorf("use either --permission or --roles")
	case permission != "":
		p, ok := rbac.ParsePermission(permission)
		if !ok {
			return rbac.Requirement{}, fmt.Errorf("invalid permission %q: expected resource:action", permission)
		}
		return rbac.HasPermission(p), nil
	case roles != "":
		var ids []rbac.RoleID
		for _, id := range splitList(roles) {
			ids = append(ids, rbac.RoleID(id))
		}
		return rbac.AnyOfRoles(ids...), nil
	default:
		return rbac.Requirement{}, fmt.Errorf("--permission or --roles is required")
	}
}
