package cli

import (
	"context"
	"flag"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/alshuail/portal-access/pkg/audit"
	"github.com/alshuail/portal-access/pkg/auth"
)

func newSuspendCommand() *Command {
	return newStatusCommand("suspend", "Suspend a principal; its sessions stop working at once", auth.StatusSuspended, audit.EventTypePrincipalSuspend)
}

func newActivateCommand() *Command {
	return newStatusCommand("activate", "Reactivate a suspended principal", auth.StatusActive, audit.EventTypePrincipalActivate)
}

// newStatusCommand builds suspend and activate. The principal is given as
// --principal or as the first argument.
func newStatusCommand(name, description string, status auth.PrincipalStatus, eventType audit.EventType) *Command {
	cmd := &Command{
		Name:        name,
		Description: description,
		Flags:       flag.NewFlagSet(name, flag.ExitOnError),
	}
	cf := addConnFlags(cmd.Flags)
	principal := cmd.Flags.String("principal", "", "Principal ID")
	reason := cmd.Flags.String("reason", "", "Reason recorded in the audit log")
	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		id := *principal
		if id == "" && cmd.Flags.NArg() > 0 {
			id = cmd.Flags.Arg(0)
		}
		if id == "" {
			return fmt.Errorf("a principal ID is required")
		}

		ctx, cancel := commandContext()
		defer cancel()
		e, err := openEngine(ctx, cf)
		if err != nil {
			return err
		}
		defer e.Close()

		return setStatus(ctx, e, id, status, eventType, *reason)
	}
	return cmd
}

func setStatus(ctx context.Context, e *engine, id string, status auth.PrincipalStatus, eventType audit.EventType, reason string) error {
	p, err := e.directory.GetPrincipal(ctx, id)
	if err != nil {
		return err
	}

	event := audit.NewEvent(ctx, eventType, audit.EventStatusSuccess)
	event.TargetID = id
	event.ResourceType = audit.ResourceTypePrincipal
	event.ResourceID = id
	event.Metadata["source"] = "accessctl"
	event.Metadata["previous_status"] = string(p.Status)
	if reason != "" {
		event.Metadata["reason"] = reason
	}

	err = e.directory.SetStatus(ctx, id, status)
	event.WithError(err)
	audit.Record(ctx, e.audit, event)
	if err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"principal_id": id,
		"from":         p.Status,
		"to":           status,
	}).Info("principal status changed")
	fmt.Fprintf(out, "%s %s\n", id, status)
	return nil
}
