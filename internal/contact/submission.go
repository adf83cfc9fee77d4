package contact

import (
	"reflect"
	"sort"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
	"golang.org/x/text/unicode/norm"
)

// Submission is a contact form submission. Email is optional; an empty string
// means it was not provided.
type Submission struct {
	Name    string `json:"name" validate:"required,min=2"`
	Email   string `json:"email,omitempty" validate:"omitempty,email,plain_address"`
	Subject string `json:"subject" validate:"required,min=5"`
	Message string `json:"message" validate:"required,min=10"`
}

// HasEmail reports whether the submitter supplied a reply address.
func (s Submission) HasEmail() bool {
	return s.Email != ""
}

// FieldErrors maps a JSON field name to a human-readable violation.
type FieldErrors map[string]string

// Fields returns the failing field names in sorted order.
func (fe FieldErrors) Fields() []string {
	out := make([]string, 0, len(fe))
	for k := range fe {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

var fieldMessages = map[string]string{
	"name":    "Name must be at least 2 characters",
	"email":   "Invalid email address",
	"subject": "Subject must be at least 5 characters",
	"message": "Message must be at least 10 characters",
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("plain_address", PlainAddress)
	return v
}

// PlainAddress rejects addresses with whitespace or quoted local parts, which
// the email rule alone lets through.
func PlainAddress(fl validator.FieldLevel) bool {
	return !strings.ContainsFunc(fl.Field().String(), func(r rune) bool {
		return unicode.IsSpace(r) || r == '"'
	})
}

// Normalize trims surrounding whitespace and applies NFC so that lengths are
// counted in user-perceived characters.
func Normalize(raw Submission) Submission {
	return Submission{
		Name:    clean(raw.Name),
		Email:   strings.TrimSpace(raw.Email),
		Subject: clean(raw.Subject),
		Message: clean(raw.Message),
	}
}

func clean(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// Validate normalizes raw and checks every field. On failure it returns a
// *ValidationError listing all failing fields; the submission is either fully
// valid or rejected in full.
func Validate(raw Submission) (Submission, error) {
	sub := Normalize(raw)

	err := validate.Struct(sub)
	if err == nil {
		return sub, nil
	}

	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return Submission{}, err
	}

	fields := make(FieldErrors, len(verrs))
	for _, fe := range verrs {
		msg, ok := fieldMessages[fe.Field()]
		if !ok {
			msg = fe.Error()
		}
		fields[fe.Field()] = msg
	}

	return Submission{}, &ValidationError{Fields: fields}
}
