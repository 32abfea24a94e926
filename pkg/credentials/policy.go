package credentials

import (
	"fmt"
	"unicode"
	"unicode/utf8"
)

// bcryptMaxBytes is the longest input bcrypt accepts
const bcryptMaxBytes = 72

// StrengthPolicy describes what a new password must satisfy. MinLength counts
// characters; MaxLength counts bytes because that is what the hash consumes.
type StrengthPolicy struct {
	MinLength     int  `json:"min_length"`
	MaxLength     int  `json:"max_length"`
	RequireUpper  bool `json:"require_upper"`
	RequireLower  bool `json:"require_lower"`
	RequireDigit  bool `json:"require_digit"`
	RequireSymbol bool `json:"require_symbol"`
}

// DefaultPolicy returns the portal's default strength policy
func DefaultPolicy() StrengthPolicy {
	return StrengthPolicy{
		MinLength:    8,
		MaxLength:    bcryptMaxBytes,
		RequireUpper: true,
		RequireLower: true,
		RequireDigit: true,
	}
}

// Validate checks secret against every rule and returns a *PolicyError listing
// all failures, or nil
func (p StrengthPolicy) Validate(secret string) error {
	var upper, lower, digit, symbol bool
	for _, r := range secret {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			symbol = true
		}
	}

	var violations []Violation
	if utf8.RuneCountInString(secret) < p.MinLength {
		violations = append(violations, Violation{
			Rule:      RuleMinLength,
			Message:   fmt.Sprintf("must be at least %d characters", p.MinLength),
			MessageAr: fmt.Sprintf("يجب ألا تقل عن %d أحرف", p.MinLength),
		})
	}
	if max := p.maxLength(); len(secret) > max {
		violations = append(violations, Violation{
			Rule:      RuleMaxLength,
			Message:   fmt.Sprintf("must be at most %d bytes", max),
			MessageAr: fmt.Sprintf("يجب ألا تزيد عن %d بايت", max),
		})
	}
	if p.RequireUpper && !upper {
		violations = append(violations, Violation{
			Rule:      RuleUppercase,
			Message:   "must contain an uppercase letter",
			MessageAr: "يجب أن تحتوي على حرف كبير",
		})
	}
	if p.RequireLower && !lower {
		violations = append(violations, Violation{
			Rule:      RuleLowercase,
			Message:   "must contain a lowercase letter",
			MessageAr: "يجب أن تحتوي على حرف صغير",
		})
	}
	if p.RequireDigit && !digit {
		violations = append(violations, Violation{
			Rule:      RuleDigit,
			Message:   "must contain a digit",
			MessageAr: "يجب أن تحتوي على رقم",
		})
	}
	if p.RequireSymbol && !symbol {
		violations = append(violations, Violation{
			Rule:      RuleSymbol,
			Message:   "must contain a symbol",
			MessageAr: "يجب أن تحتوي على رمز خاص",
		})
	}

	if len(violations) > 0 {
		return &PolicyError{Violations: violations}
	}
	return nil
}

func (p StrengthPolicy) maxLength() int {
	if p.MaxLength <= 0 || p.MaxLength > bcryptMaxBytes {
		return bcryptMaxBytes
	}
	return p.MaxLength
}
