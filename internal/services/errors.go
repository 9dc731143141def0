package services

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	ErrNotAuthenticated   = errors.New("user is not authenticated")
	ErrUserNotRegistered  = errors.New("user not found, please complete registration")
	ErrUserNotFound       = errors.New("user not found")
	ErrDeliveryFailure    = errors.New("failed to deliver verification code")
	ErrDeliveryInProgress = errors.New("verification code delivery in progress")
	ErrNoPendingCode      = errors.New("no verification code found, please request a new one")
	ErrExpiredCode        = errors.New("verification code has expired, please request a new one")
	ErrInvalidCode        = errors.New("invalid verification code, please try again")
	ErrProfileMissing     = errors.New("profile was not persisted")
)

// ValidationError lists the fields that failed validation.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	msgs := make([]string, 0, len(keys))
	for _, k := range keys {
		msgs = append(msgs, fmt.Sprintf("field '%s' %s", k, e.Fields[k]))
	}
	return strings.Join(msgs, "; ")
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

func validateStruct(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = msgForTag(fe)
	}
	return &ValidationError{Fields: fields}
}

func msgForTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	default:
		return fmt.Sprintf("failed on '%s' validation", fe.Tag())
	}
}
