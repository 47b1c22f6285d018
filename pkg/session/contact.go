package session

import (
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/AnarchoFatSats/comercial-mva/pkg/leads"
)

const maxNameLength = 100

// Field names reported by ContactValidationError.
const (
	FieldFirstName   = "firstName"
	FieldLastName    = "lastName"
	FieldPhone       = "phone"
	FieldEmail       = "email"
	FieldTCPAConsent = "tcpaConsent"
)

func cleanName(s string) string {
	return strings.Join(strings.Fields(norm.NFC.String(s)), " ")
}

func checkName(field, v string, errs map[string]string) {
	switch {
	case v == "":
		errs[field] = "required"
	case len([]rune(v)) > maxNameLength:
		errs[field] = "too long"
	}
}

func checkEmail(v string, errs map[string]string) {
	switch {
	case v == "":
		errs[FieldEmail] = "required"
	case !leads.ValidEmail(v):
		errs[FieldEmail] = "must look like name@domain.tld"
	}
}

// validateContact normalizes the contact and reports every bad field. The
// phone must be exactly 10 digits after punctuation is stripped.
func validateContact(c leads.Contact, requireConsent bool) (leads.Contact, error) {
	out := leads.Contact{
		FirstName:   cleanName(c.FirstName),
		LastName:    cleanName(c.LastName),
		Phone:       leads.Digits(c.Phone),
		Email:       strings.TrimSpace(c.Email),
		TCPAConsent: c.TCPAConsent,
	}
	errs := make(map[string]string)
	checkName(FieldFirstName, out.FirstName, errs)
	checkName(FieldLastName, out.LastName, errs)
	switch {
	case strings.TrimSpace(c.Phone) == "":
		errs[FieldPhone] = "required"
	case len(out.Phone) != 10:
		errs[FieldPhone] = "must be a 10-digit number"
	}
	checkEmail(out.Email, errs)
	if requireConsent && !out.TCPAConsent {
		errs[FieldTCPAConsent] = "consent is required"
	}
	if len(errs) > 0 {
		return leads.Contact{}, &ContactValidationError{Fields: errs}
	}
	return out, nil
}

func validateEarlyContact(c leads.EarlyContact) (leads.EarlyContact, error) {
	out := leads.EarlyContact{
		FirstName: cleanName(c.FirstName),
		Email:     strings.TrimSpace(c.Email),
	}
	errs := make(map[string]string)
	checkName(FieldFirstName, out.FirstName, errs)
	checkEmail(out.Email, errs)
	if len(errs) > 0 {
		return leads.EarlyContact{}, &ContactValidationError{Fields: errs}
	}
	return out, nil
}
