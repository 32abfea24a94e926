package cli

import (
	"flag"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/alshuail/portal-access/pkg/audit"
	"github.com/alshuail/portal-access/pkg/rbac"
)

func newMigrateCommand() *Command {
	cmd := &Command{
		Name:        "migrate",
		Description: "Create or upgrade the access tables",
		Flags:       flag.NewFlagSet("migrate", flag.ExitOnError),
	}
	cf := addConnFlags(cmd.Flags)
	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		return runMigrate(cf)
	}
	return cmd
}

func runMigrate(cf connFlags) error {
	ctx, cancel := commandContext()
	defer cancel()

	cm, err := connect(cf)
	if err != nil {
		return err
	}
	defer cm.Close()

	if err := rbac.RunMigrations(ctx, cm.Primary(), quietLogger()); err != nil {
		return err
	}
	// the audit table is owned by the audit logger
	if _, err := audit.NewDBLogger(ctx, cm.Primary(), cm.Dialect()); err != nil {
		return err
	}

	logrus.WithField("driver", cm.Dialect().String()).Info("migrations applied")
	fmt.Fprintln(out, "ok")
	return nil
}
