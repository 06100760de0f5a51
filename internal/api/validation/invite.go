package validation

// maxInviteDays caps how far in the future an invite may expire.
const maxInviteDays = 365

// CreateInviteRequest mirrors the fields of a create invite request.
type CreateInviteRequest struct {
	ExpiresInDays *int
	MaxUses       *int
	Quotas        QuotaRequest
}

// ValidateCreateInviteRequest validates the fields of a create invite request.
func ValidateCreateInviteRequest(req CreateInviteRequest) []FieldError {
	var errs []FieldError

	if d := req.ExpiresInDays; d != nil && (*d < 1 || *d > maxInviteDays) {
		errs = append(errs, FieldError{Field: "expires_in_days", Message: "expires_in_days must be between 1 and 365"})
	}
	if m := req.MaxUses; m != nil && *m < 0 {
		errs = append(errs, FieldError{Field: "max_uses", Message: "max_uses must not be negative (0 means unlimited)"})
	}

	errs = append(errs, ValidateQuotaRequest(req.Quotas)...)
	return errs
}
