package cli

import (
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/alshuail/portal-access/pkg/rbac"
)

// actorFlag names the principal an administrative command acts as
func actorFlag(fs *flag.FlagSet) *string {
	return fs.String("actor", os.Getenv("ACCESS_ACTOR"), "Principal ID performing the change (needs roles:manage)")
}

func newBootstrapCommand() *Command {
	cmd := &Command{
		Name:        "bootstrap",
		Description: "Grant super_admin to the first administrator",
		Flags:       flag.NewFlagSet("bootstrap", flag.ExitOnError),
	}
	cf := addConnFlags(cmd.Flags)
	principal := cmd.Flags.String("principal", "", "Principal ID to promote (required)")
	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		if *principal == "" {
			return fmt.Errorf("--principal is required")
		}

		ctx, cancel := commandContext()
		defer cancel()
		e, err := openEngine(ctx, cf)
		if err != nil {
			return err
		}
		defer e.Close()

		a, err := e.manager.Admin().BootstrapSuperAdmin(ctx, *principal)
		if err != nil {
			return err
		}
		logrus.WithFields(logrus.Fields{"principal_id": a.PrincipalID, "assignment_id": a.ID}).Info("bootstrap complete")
		fmt.Fprintln(out, a.ID)
		return nil
	}
	return cmd
}

func newGrantCommand() *Command {
	cmd := &Command{
		Name:        "grant",
		Description: "Assign a role to a principal",
		Flags:       flag.NewFlagSet("grant", flag.ExitOnError),
	}
	cf := addConnFlags(cmd.Flags)
	actor := actorFlag(cmd.Flags)
	principal := cmd.Flags.String("principal", "", "Principal ID receiving the role (required)")
	role := cmd.Flags.String("role", "", "Role ID (required)")
	starts := cmd.Flags.String("starts", "", "Start of the assignment, RFC 3339 or YYYY-MM-DD (default now)")
	expires := cmd.Flags.String("expires", "", "Expiry of the assignment, RFC 3339 or YYYY-MM-DD (default none)")
	notes := cmd.Flags.String("notes", "", "Free-text notes")
	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		if *principal == "" || *role == "" {
			return fmt.Errorf("--principal and --role are required")
		}
		startsAt, err := parseTime(*starts)
		if err != nil {
			return err
		}
		expiresAt, err := parseTime(*expires)
		if err != nil {
			return err
		}

		ctx, cancel := commandContext()
		defer cancel()
		e, err := openEngine(ctx, cf)
		if err != nil {
			return err
		}
		defer e.Close()

		active, err := e.manager.Admin().Grant(ctx, *actor, rbac.GrantRequest{
			PrincipalID: *principal,
			RoleID:      rbac.RoleID(*role),
			StartsAt:    startsAt,
			ExpiresAt:   expiresAt,
			Notes:       *notes,
		})
		if err != nil {
			return err
		}
		logrus.WithFields(logrus.Fields{"principal_id": *principal, "role_id": *role}).Info("role granted")
		printAssignments(active, time.Now())
		return nil
	}
	return cmd
}

func newRevokeCommand() *Command {
	cmd := &Command{
		Name:        "revoke",
		Description: "Revoke a role assignment",
		Flags:       flag.NewFlagSet("revoke", flag.ExitOnError),
	}
	cf := addConnFlags(cmd.Flags)
	actor := actorFlag(cmd.Flags)
	assignment := cmd.Flags.String("assignment", "", "Assignment ID (required)")
	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		if *assignment == "" {
			return fmt.Errorf("--assignment is required")
		}

		ctx, cancel := commandContext()
		defer cancel()
		e, err := openEngine(ctx, cf)
		if err != nil {
			return err
		}
		defer e.Close()

		active, err := e.manager.Admin().Revoke(ctx, *actor, *assignment)
		if err != nil {
			return err
		}
		logrus.WithField("assignment_id", *assignment).Info("assignment revoked")
		printAssignments(active, time.Now())
		return nil
	}
	return cmd
}

func newListCommand() *Command {
	cmd := &Command{
		Name:        "list",
		Description: "List active assignments, or one principal's history",
		Flags:       flag.NewFlagSet("list", flag.ExitOnError),
	}
	cf := addConnFlags(cmd.Flags)
	actor := actorFlag(cmd.Flags)
	principal := cmd.Flags.String("principal", "", "Only this principal")
	history := cmd.Flags.Bool("history", false, "Include expired and revoked assignments (with --principal)")
	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		if *history && *principal == "" {
			return fmt.Errorf("--history requires --principal")
		}

		ctx, cancel := commandContext()
		defer cancel()
		e, err := openEngine(ctx, cf)
		if err != nil {
			return err
		}
		defer e.Close()

		admin := e.manager.Admin()
		if *principal != "" {
			list, err := admin.ListPrincipalAssignments(ctx, *actor, *principal, *history)
			if err != nil {
				return err
			}
			printAssignments(list, time.Now())
			return nil
		}

		groups, err := admin.ListAllActive(ctx, *actor)
		if err != nil {
			return err
		}
		var all []rbac.RoleAssignment
		for _, g := range groups {
			all = append(all, g.Assignments...)
		}
		printAssignments(all, time.Now())
		return nil
	}
	return cmd
}

func printAssignments(list []rbac.RoleAssignment, now time.Time) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPRINCIPAL\tROLE\tSTATUS\tFROM\tUNTIL")
	for i := range list {
		a := &list[i]
		until := "-"
		if a.ExpiresAt != nil {
			until = a.ExpiresAt.Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			a.ID, a.PrincipalID, a.RoleID, a.Status(now), a.GrantedAt.Format(time.RFC3339), until)
	}
	tw.Flush()
}
