package cli

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/alshuail/portal-access/pkg/rbac"
)

func newRolesCommand() *Command {
	cmd := &Command{
		Name:        "roles",
		Description: "Print the role catalog, including any overlay",
		Flags:       flag.NewFlagSet("roles", flag.ExitOnError),
	}
	catalogFile := cmd.Flags.String("catalog", os.Getenv("ACCESS_CATALOG_FILE"), "Role catalog overlay file")
	verbose := cmd.Flags.Bool("permissions", false, "List each role's permissions")
	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		catalog, err := rbac.LoadCatalog(*catalogFile)
		if err != nil {
			return err
		}
		printRoles(catalog, *verbose)
		return nil
	}
	return cmd
}

func printRoles(catalog *rbac.Catalog, verbose bool) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tNAME (AR)\tPRIORITY\tCATEGORY")
	for _, role := range catalog.Roles() {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", role.ID, role.Name, role.NameAr, role.Priority, role.Category)
	}
	tw.Flush()

	if !verbose {
		return
	}
	for _, role := range catalog.Roles() {
		perms := make([]string, len(role.Permissions))
		for i, p := range role.Permissions {
			perms[i] = p.String()
		}
		if role.ImplicatesAll {
			perms = []string{"*"}
		}
		fmt.Fprintf(out, "\n%s: %s\n", role.ID, strings.Join(perms, ", "))
	}
}
