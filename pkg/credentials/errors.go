package credentials

import (
	"errors"
	"fmt"
	"strings"

	"github.com/alshuail/portal-access/pkg/rbac"
)

var (
	// ErrAlreadyHasCredential is returned by CreatePassword when the target has a
	// credential and overwrite was not requested
	ErrAlreadyHasCredential = errors.New("principal already has a password")

	// ErrNoExistingCredential is returned by ResetPassword and DeletePassword when
	// the target has no credential
	ErrNoExistingCredential = errors.New("principal has no password")

	// ErrPermissionDenied is shared with rbac so one errors.Is check covers both
	ErrPermissionDenied = rbac.ErrPermissionDenied

	// ErrPrincipalNotFound is shared with rbac
	ErrPrincipalNotFound = rbac.ErrPrincipalNotFound

	// ErrStorage is shared with rbac; credential stores return *rbac.StorageError
	ErrStorage = rbac.ErrStorage
)

// Rule names a single strength requirement
type Rule string

const (
	RuleMinLength Rule = "min_length"
	RuleMaxLength Rule = "max_length"
	RuleUppercase Rule = "uppercase"
	RuleLowercase Rule = "lowercase"
	RuleDigit     Rule = "digit"
	RuleSymbol    Rule = "symbol"
	RuleReuse     Rule = "reuse"
)

var reuseViolation = Violation{
	Rule:      RuleReuse,
	Message:   "must differ from the current password",
	MessageAr: "يجب أن تختلف عن كلمة المرور الحالية",
}

// Violation is one unmet strength rule
type Violation struct {
	Rule      Rule   `json:"rule"`
	Message   string `json:"message"`
	MessageAr string `json:"message_ar"`
}

// PolicyError lists every rule a secret failed. It is never empty.
type PolicyError struct {
	Violations []Violation `json:"violations"`
}

func (e *PolicyError) Error() string {
	rules := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		rules[i] = string(v.Rule)
	}
	return fmt.Sprintf("password does not meet policy: %s", strings.Join(rules, ", "))
}

// Has reports whether rule is among the violations
func (e *PolicyError) Has(rule Rule) bool {
	for _, v := range e.Violations {
		if v.Rule == rule {
			return true
		}
	}
	return false
}

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *rbac.StorageError
	if errors.As(err, &se) {
		return err
	}
	return &rbac.StorageError{Op: op, Err: err}
}
