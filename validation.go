package auth

import (
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
)

// MinPasswordLength applies to signup and password reset
const MinPasswordLength = 8

// DefaultCurrency is assigned on signup when none is given
const DefaultCurrency = "USD"

// SupportedCurrencies lists the currencies a user can pick at signup
var SupportedCurrencies = []any{"USD", "EUR", "GBP", "JPY", "INR"}

// Normalize trims the input and fills in the default currency
func (in SignupInput) Normalize() SignupInput {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.Name = strings.TrimSpace(in.Name)
	in.DefaultCurrency = strings.ToUpper(strings.TrimSpace(in.DefaultCurrency))
	if in.DefaultCurrency == "" {
		in.DefaultCurrency = DefaultCurrency
	}
	return in
}

// Validate checks the signup payload
func (in SignupInput) Validate() error {
	n := in.Normalize()
	err := validation.ValidateStruct(&n,
		validation.Field(&n.Email, validation.Required, is.Email),
		validation.Field(&n.Password, validation.Required, validation.Length(MinPasswordLength, 0)),
		validation.Field(&n.Name, validation.Required, validation.Length(1, 0)),
		validation.Field(&n.DefaultCurrency, validation.In(SupportedCurrencies...)),
	)
	return validationError(err)
}

// Validate checks the login payload. Password length is not enforced so a
// rejected login is reported by the provider as invalid credentials.
func (in LoginInput) Validate() error {
	err := validation.ValidateStruct(&in,
		validation.Field(&in.Email, validation.Required, is.Email),
		validation.Field(&in.Password, validation.Required),
	)
	return validationError(err)
}

// ValidateEmail checks a single email address
func ValidateEmail(email string) error {
	return validationError(validation.Validate(strings.TrimSpace(email), validation.Required, is.Email))
}

// ValidateNewPassword checks a password chosen during reset
func ValidateNewPassword(password string) error {
	return validationError(validation.Validate(password, validation.Required, validation.Length(MinPasswordLength, 0)))
}

func validationError(err error) error {
	if err == nil {
		return nil
	}

	fields := map[string]any{}
	if errs, ok := err.(validation.Errors); ok {
		for field, fieldErr := range errs {
			fields[field] = fieldErr.Error()
		}
	} else {
		fields["value"] = err.Error()
	}

	richErr := ErrInvalidInput.Clone()
	richErr.Source = err
	richErr.Message = "invalid input: " + err.Error()
	return richErr.WithMetadata(fields)
}
