// Package validation checks request structs and reports failures as field-level ValidationErrors.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"example.com/backstage/services/ota/internal/apperrors"
	"example.com/backstage/services/ota/internal/models"

	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())

	// Report fields by their JSON names
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			name = strings.SplitN(f.Tag.Get("form"), ",", 2)[0]
		}
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})

	_ = validate.RegisterValidation("transport", func(fl validator.FieldLevel) bool {
		return models.TransportType(fl.Field().String()).Valid()
	})
	_ = validate.RegisterValidation("strategy", func(fl validator.FieldLevel) bool {
		return models.Strategy(fl.Field().String()).Valid()
	})
	_ = validate.RegisterValidation("role", func(fl validator.FieldLevel) bool {
		return models.Role(fl.Field().String()).Valid()
	})
}

// Struct validates s using its validate tags
func Struct(s interface{}) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperrors.Validation(err.Error(), nil)
	}

	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = describe(fe)
	}
	return apperrors.Validation("invalid request", fields)
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "min":
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	case "uuid":
		return "must be a UUID"
	case "transport":
		return "must be mqtt or ble"
	case "strategy":
		return "must be sequential, parallel or rolling"
	case "role":
		return "must be admin or operator"
	case "semver":
		return "must be a semantic version"
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}
