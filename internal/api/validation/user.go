package validation

import (
	"regexp"
)

var usernameRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{1,31}$`)

const (
	minPasswordLen = 4
	maxPasswordLen = 72 // bcrypt ignores anything longer
)

// CredentialsRequest mirrors the fields of a login or registration request.
type CredentialsRequest struct {
	Username string
	Password string
}

// ValidateLoginRequest only requires both fields to be present.
func ValidateLoginRequest(req CredentialsRequest) []FieldError {
	var errs []FieldError
	if req.Username == "" {
		errs = append(errs, FieldError{Field: "username", Message: "username is required"})
	}
	if req.Password == "" {
		errs = append(errs, FieldError{Field: "password", Message: "password is required"})
	}
	return errs
}

// ValidateNewAccount validates the username and password of a new account.
func ValidateNewAccount(req CredentialsRequest) []FieldError {
	var errs []FieldError

	switch {
	case req.Username == "":
		errs = append(errs, FieldError{Field: "username", Message: "username is required"})
	case req.Username == "self":
		errs = append(errs, FieldError{Field: "username", Message: "username is reserved"})
	case !usernameRegex.MatchString(req.Username):
		errs = append(errs, FieldError{Field: "username", Message: "username must be 2-32 characters of letters, digits, '.', '_' or '-', starting with a letter or digit"})
	}

	errs = append(errs, ValidatePassword("password", req.Password)...)
	return errs
}

// ValidatePassword checks a new password stored under field.
func ValidatePassword(field, password string) []FieldError {
	switch {
	case password == "":
		return []FieldError{{Field: field, Message: field + " is required"}}
	case len(password) < minPasswordLen:
		return []FieldError{{Field: field, Message: field + " must be at least 4 characters"}}
	case len(password) > maxPasswordLen:
		return []FieldError{{Field: field, Message: field + " must be at most 72 bytes"}}
	}
	return nil
}

// QuotaRequest mirrors the optional limits of a quota update.
type QuotaRequest struct {
	Daily   *int
	Weekly  *int
	Monthly *int
}

// ValidateQuotaRequest rejects negative limits. Zero means unlimited.
func ValidateQuotaRequest(req QuotaRequest) []FieldError {
	var errs []FieldError
	for _, f := range []struct {
		name string
		v    *int
	}{
		{"daily_quota", req.Daily},
		{"weekly_quota", req.Weekly},
		{"monthly_quota", req.Monthly},
	} {
		if f.v != nil && *f.v < 0 {
			errs = append(errs, FieldError{Field: f.name, Message: f.name + " must not be negative"})
		}
	}
	return errs
}
