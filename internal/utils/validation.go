package utils

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	validate = validator.New()

	specKeyPattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,63}$`)
)

func init() {
	validate.RegisterValidation("sale_mode", func(fl validator.FieldLevel) bool {
		switch fl.Field().String() {
		case "standard", "reserve", "buy_now":
			return true
		}
		return false
	})

	validate.RegisterValidation("offer_action", func(fl validator.FieldLevel) bool {
		switch fl.Field().String() {
		case "accept", "reject", "counter":
			return true
		}
		return false
	})

	validate.RegisterValidation("spec_key", func(fl validator.FieldLevel) bool {
		return IsValidSpecKey(fl.Field().String())
	})
}

// ValidateStruct validates a struct using validate tags
func ValidateStruct(s interface{}) error {
	if err := validate.Struct(s); err != nil {
		return err
	}
	return nil
}

// IsValidSpecKey checks a specification key is a lowercase identifier
func IsValidSpecKey(key string) bool {
	return specKeyPattern.MatchString(key)
}

// ValidationMessage flattens validator errors into one readable line
func ValidationMessage(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.ToLower(fe.Field())
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", field))
		case "gt":
			msgs = append(msgs, fmt.Sprintf("%s must be greater than %s", field, fe.Param()))
		case "gte", "min":
			msgs = append(msgs, fmt.Sprintf("%s must be at least %s", field, fe.Param()))
		case "max", "lte":
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s", field, fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s is invalid (%s)", field, fe.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}
