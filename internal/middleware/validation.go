package middleware

import (
	"errors"
	"net/http"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// EmailPattern is the address rule used for every member-facing email field
// through the email_format tag.
var EmailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// Validator returns the shared validator. Errors name fields by their JSON tag.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		validate.RegisterValidation("email_format", func(fl validator.FieldLevel) bool {
			return EmailPattern.MatchString(fl.Field().String())
		})
	})
	return validate
}

// FieldErrors flattens validation errors into {field: [message]}.
func FieldErrors(err error) map[string][]string {
	out := map[string][]string{}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		out["request"] = []string{err.Error()}
		return out
	}
	for _, fe := range verrs {
		out[fe.Field()] = append(out[fe.Field()], validationMessage(fe))
	}
	return out
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_if":
		return "This field is required"
	case "email", "email_format":
		return "Enter a valid email address"
	case "phone":
		return "Enter a valid phone number"
	case "username":
		return "Use 3 to 32 letters, digits, dots, dashes or underscores"
	case "oneof":
		return "Must be one of: " + fe.Param()
	case "min":
		if fe.Kind() == reflect.String {
			return "Must be at least " + fe.Param() + " characters"
		}
		return "Must be at least " + fe.Param()
	case "max":
		if fe.Kind() == reflect.String {
			return "Must be at most " + fe.Param() + " characters"
		}
		return "Must be at most " + fe.Param()
	case "eqfield":
		return "Does not match " + fe.Param()
	default:
		return "Invalid value"
	}
}

// DecodeAndValidate parses a JSON body into v and validates it, writing the
// error response itself. It reports whether the handler should continue.
func DecodeAndValidate(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := ParseJSONRequest(w, r, v); err != nil {
		WriteAPIError(w, r, http.StatusBadRequest, "invalid_request", "Invalid request body", err.Error())
		return false
	}
	if err := Validator().Struct(v); err != nil {
		WriteValidationErrors(w, r, http.StatusBadRequest, "validation_failed", "Invalid request", FieldErrors(err))
		return false
	}
	return true
}
