package cli

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/alshuail/portal-access/pkg/audit"
	"github.com/alshuail/portal-access/pkg/auth"
	"github.com/alshuail/portal-access/pkg/storage"
)

func newSessionCommand() *Command {
	cmd := &Command{
		Name:        "session",
		Description: "Issue or revoke a session token in the shared session store",
		Flags:       flag.NewFlagSet("session", flag.ExitOnError),
	}
	cf := addConnFlags(cmd.Flags)
	redisURL := cmd.Flags.String("redis-url", os.Getenv("ACCESS_REDIS_URL"), "Redis URL of the session store (required)")
	prefix := cmd.Flags.String("prefix", envOr("ACCESS_SESSION_PREFIX", "session"), "Session key prefix")
	principal := cmd.Flags.String("principal", "", "Principal ID to issue a session for")
	revoke := cmd.Flags.String("revoke", "", "Token to revoke instead of issuing one")
	ttl := cmd.Flags.Duration("ttl", time.Hour, "Session lifetime")
	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		if *redisURL == "" {
			return fmt.Errorf("--redis-url is required (or set ACCESS_REDIS_URL)")
		}
		if (*principal == "") == (*revoke == "") {
			return fmt.Errorf("use exactly one of --principal or --revoke")
		}

		ctx, cancel := commandContext()
		defer cancel()
		e, err := openEngine(ctx, cf)
		if err != nil {
			return err
		}
		defer e.Close()

		redisClient, err := storage.NewRedisClient(ctx, storage.RedisConfig{URL: *redisURL})
		if err != nil {
			return err
		}
		defer redisClient.Close()

		sessions := auth.NewSessionManager(auth.NewRedisSessionStore(redisClient.Client(), *prefix), e.directory, *ttl)
		if *revoke != "" {
			return revokeSession(ctx, sessions, e.audit, *revoke)
		}
		return issueSession(ctx, sessions, e.audit, *principal)
	}
	return cmd
}

func issueSession(ctx context.Context, sessions *auth.SessionManager, auditLogger audit.Logger, principalID string) error {
	event := audit.NewEvent(ctx, audit.EventTypeSessionIssue, audit.EventStatusSuccess)
	event.TargetID = principalID
	event.ResourceType = audit.ResourceTypeSession
	event.Metadata["source"] = "accessctl"

	token, s, err := sessions.Issue(ctx, principalID)
	if err != nil {
		event.WithError(err)
		audit.Record(ctx, auditLogger, event)
		return err
	}
	event.ResourceID = s.TokenPrefix
	event.Message = "session issued"
	audit.Record(ctx, auditLogger, event)

	logrus.WithFields(logrus.Fields{
		"principal_id": principalID,
		"expires_at":   s.ExpiresAt.Format(time.RFC3339),
	}).Info("session issued")
	fmt.Fprintln(out, token)
	return nil
}

func revokeSession(ctx context.Context, sessions *auth.SessionManager, auditLogger audit.Logger, token string) error {
	event := audit.NewEvent(ctx, audit.EventTypeSessionRevoke, audit.EventStatusSuccess)
	event.ResourceType = audit.ResourceTypeSession
	event.Metadata["source"] = "accessctl"

	if ac, err := sessions.Authenticate(ctx, token); err == nil {
		event.TargetID = ac.Principal.ID
		event.ResourceID = ac.Session.TokenPrefix
	}
	err := sessions.Revoke(ctx, token)
	event.WithError(err)
	audit.Record(ctx, auditLogger, event)
	if err != nil {
		return err
	}
	logrus.WithField("principal_id", event.TargetID).Info("session revoked")
	fmt.Fprintln(out, "revoked")
	return nil
}
