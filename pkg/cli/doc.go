// Package cli implements accessctl, the operator tool for the portal's role
// engine.
//
// # Commands
//
// Every command that touches the database accepts --db-driver (postgres or
// sqlite3), --db-url and --catalog, defaulting to ACCESS_DB_DRIVER,
// ACCESS_DB_URL and ACCESS_CATALOG_FILE.
//
//	accessctl migrate
//	accessctl roles --permissions
//	accessctl provision --name "Abdullah Alshuail" --phone +96550000000
//	accessctl suspend <id> --reason "left the family fund"
//	accessctl activate <id>
//	accessctl bootstrap --principal <id>
//	accessctl grant --actor <admin> --principal <id> --role financial_manager --expires 2027-01-01
//	accessctl revoke --actor <admin> --assignment <assignment-id>
//	accessctl list --actor <admin> [--principal <id> --history]
//	accessctl check --principal <id> --permission finances:manage
//	accessctl session --principal <id> --ttl 2h
//
// grant, revoke and list go through the same administrative service as the
// HTTP API, so the actor needs roles:manage and every change is audited.
// bootstrap succeeds only while no principal holds super_admin. suspend and
// activate change a principal's status and record the change in the audit log.
//
// session issues a token in the Redis session store shared with the server,
// which is useful for smoke tests. It requires --redis-url.
package cli
