package cli

import (
	"flag"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/alshuail/portal-access/pkg/auth"
)

func newProvisionCommand() *Command {
	cmd := &Command{
		Name:        "provision",
		Description: "Create a principal in the directory",
		Flags:       flag.NewFlagSet("provision", flag.ExitOnError),
	}
	cf := addConnFlags(cmd.Flags)
	name := cmd.Flags.String("name", "", "Display name (required)")
	email := cmd.Flags.String("email", "", "Email address")
	phone := cmd.Flags.String("phone", "", "Phone number")
	id := cmd.Flags.String("id", "", "Principal ID (generated when empty)")
	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		if *name == "" {
			return fmt.Errorf("--name is required")
		}

		ctx, cancel := commandContext()
		defer cancel()
		e, err := openEngine(ctx, cf)
		if err != nil {
			return err
		}
		defer e.Close()

		p := &auth.Principal{ID: *id, DisplayName: *name, Email: *email, Phone: *phone}
		if err := e.directory.CreatePrincipal(ctx, p); err != nil {
			return err
		}
		logrus.WithFields(logrus.Fields{"principal_id": p.ID, "name": p.DisplayName}).Info("principal created")
		fmt.Fprintln(out, p.ID)
		return nil
	}
	return cmd
}
