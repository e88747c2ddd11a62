package validator

import (
	"fmt"
	"net/mail"
	"net/url"
	"slices"
	"strings"
)

// RequiredString validates that a string is not empty after trimming whitespace.
func RequiredString(field, value string) Rule {
	return Rule{
		Check: func() bool {
			return strings.TrimSpace(value) != ""
		},
		Error: ValidationError{Field: field, Message: "field is required", Code: "required"},
	}
}

func MaxLenString(field, value string, max int) Rule {
	return Rule{
		Check: func() bool {
			return len(value) <= max
		},
		Error: ValidationError{
			Field:   field,
			Message: fmt.Sprintf("must be at most %d characters long", max),
			Code:    "max_length",
		},
	}
}

func RequiredSlice[T any](field string, value []T) Rule {
	return Rule{
		Check: func() bool {
			return len(value) > 0
		},
		Error: ValidationError{Field: field, Message: "field is required", Code: "required"},
	}
}

func MaxLenSlice[T any](field string, value []T, max int) Rule {
	return Rule{
		Check: func() bool {
			return len(value) <= max
		},
		Error: ValidationError{
			Field:   field,
			Message: fmt.Sprintf("must have at most %d items", max),
			Code:    "max_items",
		},
	}
}

// OneOfRequired passes when at least one value is non-blank.
func OneOfRequired(field string, values ...string) Rule {
	return Rule{
		Check: func() bool {
			return slices.ContainsFunc(values, func(v string) bool {
				return strings.TrimSpace(v) != ""
			})
		},
		Error: ValidationError{Field: field, Message: "at least one is required", Code: "required"},
	}
}

// ValidEmail validates an RFC 5322 address, with or without a display name.
// The domain must contain a dot and no empty labels.
func ValidEmail(field, value string) Rule {
	return Rule{
		Check: func() bool {
			return isEmail(value)
		},
		Error: ValidationError{Field: field, Message: "must be a valid email address", Code: "email"},
	}
}

// ValidEmails validates every address in values. Empty lists pass; pair with
// RequiredSlice when at least one address is needed.
func ValidEmails(field string, values []string) Rule {
	return Rule{
		Check: func() bool {
			return !slices.ContainsFunc(values, func(v string) bool { return !isEmail(v) })
		},
		Error: ValidationError{Field: field, Message: "must contain only valid email addresses", Code: "email"},
	}
}

// OptionalEmail validates value only when it is set.
func OptionalEmail(field, value string) Rule {
	rule := ValidEmail(field, value)
	check := rule.Check
	rule.Check = func() bool {
		return value == "" || check()
	}
	return rule
}

// ValidURLWithScheme validates that a string is an absolute URL with one of the given schemes.
func ValidURLWithScheme(field, value string, schemes []string) Rule {
	return Rule{
		Check: func() bool {
			if strings.TrimSpace(value) == "" {
				return false
			}
			u, err := url.ParseRequestURI(value)
			if err != nil || u.Host == "" {
				return false
			}
			return slices.Contains(schemes, u.Scheme)
		},
		Error: ValidationError{
			Field:   field,
			Message: fmt.Sprintf("must be a valid URL with scheme: %s", strings.Join(schemes, ", ")),
			Code:    "url",
		},
	}
}

// RangeNum validates min <= value <= max.
func RangeNum[T Numeric](field string, value, min, max T) Rule {
	return Rule{
		Check: func() bool {
			return value >= min && value <= max
		},
		Error: ValidationError{
			Field:   field,
			Message: fmt.Sprintf("must be between %v and %v", min, max),
			Code:    "range",
		},
	}
}

func isEmail(value string) bool {
	if strings.TrimSpace(value) == "" {
		return false
	}

	addr, err := mail.ParseAddress(value)
	if err != nil {
		return false
	}

	local, domain, ok := strings.Cut(addr.Address, "@")
	if !ok || local == "" {
		return false
	}
	if !strings.Contains(domain, ".") {
		return false
	}
	for part := range strings.SplitSeq(domain, ".") {
		if part == "" {
			return false
		}
	}
	return true
}
