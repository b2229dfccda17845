// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package auth

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// MinPasswordLength is the shortest password the forms accept.
const MinPasswordLength = 6

// emailShape matches "something@something.something" without whitespace.
var emailShape = regexp.MustCompile(`\S+@\S+\.\S+`)

// Credentials is the login and signup form.
type Credentials struct {
	Email    string `validate:"required,email_shape"`
	Password string `validate:"required,min=6"`
}

// FieldError is one rejected form field.
type FieldError struct {
	Field   string
	Message string
}

// ValidationError lists every rejected field, email first.
type ValidationError struct {
	Fields []FieldError
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		msgs = append(msgs, f.Message)
	}
	return strings.Join(msgs, "; ")
}

// Field returns the message for field, or "".
func (e *ValidationError) Field(name string) string {
	for _, f := range e.Fields {
		if f.Field == name {
			return f.Message
		}
	}
	return ""
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("email_shape", func(fl validator.FieldLevel) bool {
		return emailShape.MatchString(fl.Field().String())
	})
	return v
}

// ValidateCredentials checks the form before any network call. The email is
// trimmed; the password is checked exactly as typed.
func ValidateCredentials(email, password string) (Credentials, error) {
	creds := Credentials{Email: strings.TrimSpace(email), Password: password}

	err := validate.Struct(creds)
	if err == nil {
		return creds, nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return creds, fmt.Errorf("validate credentials: %w", err)
	}

	out := &ValidationError{}
	for _, fe := range verrs {
		out.Fields = append(out.Fields, FieldError{
			Field:   strings.ToLower(fe.Field()),
			Message: fieldMessage(fe),
		})
	}
	return creds, out
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Field() {
	case "Email":
		if fe.Tag() == "required" {
			return "Email is required"
		}
		return "Please enter a valid email"
	case "Password":
		if fe.Tag() == "required" {
			return "Password is required"
		}
		return fmt.Sprintf("Password must be at least %d characters", MinPasswordLength)
	default:
		return fe.Error()
	}
}
