package registration

import (
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"medassoc/internal/middleware"
)

// EmailPattern is the address check shared with the website.
var EmailPattern = middleware.EmailPattern

var (
	phonePattern    = regexp.MustCompile(`^\+?[0-9 ()-]{7,20}$`)
	usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{3,32}$`)
)

func init() {
	v := middleware.Validator()
	v.RegisterValidation("username", func(fl validator.FieldLevel) bool {
		return usernamePattern.MatchString(fl.Field().String())
	})
	v.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		return s == "" || phonePattern.MatchString(s)
	})
}

// Form is a membership application as submitted by the website.
type Form struct {
	AccountType        string `json:"account_type" validate:"required,oneof=individual organization"`
	TierID             string `json:"tier_id" validate:"required"`
	Username           string `json:"username" validate:"required,username"`
	Email              string `json:"email" validate:"required,email_format"`
	Password           string `json:"password" validate:"required,min=8,max=72"`
	ConfirmPassword    string `json:"confirm_password" validate:"required,eqfield=Password"`
	FirstName          string `json:"first_name,omitempty" validate:"required_if=AccountType individual,max=64"`
	LastName           string `json:"last_name,omitempty" validate:"required_if=AccountType individual,max=64"`
	OrganizationName   string `json:"organization_name,omitempty" validate:"required_if=AccountType organization,max=128"`
	RegistrationNumber string `json:"registration_number,omitempty" validate:"required_if=AccountType organization,max=64"`
	Profession         string `json:"profession,omitempty" validate:"max=64"`
	Phone              string `json:"phone,omitempty" validate:"phone"`
	Country            string `json:"country" validate:"required,max=64"`
	CSRFToken          string `json:"csrf_token,omitempty"`
	HiddenField        string `json:"hidden_field,omitempty"`
}

// Normalize trims every text field and lower-cases the email.
func (f *Form) Normalize() {
	for _, p := range []*string{
		&f.AccountType, &f.TierID, &f.Username, &f.Email, &f.FirstName, &f.LastName,
		&f.OrganizationName, &f.RegistrationNumber, &f.Profession, &f.Phone, &f.Country,
	} {
		*p = strings.TrimSpace(*p)
	}
	f.Email = strings.ToLower(f.Email)
	f.AccountType = strings.ToLower(f.AccountType)
	f.TierID = strings.ToLower(f.TierID)
}

// Validate checks the field rules and returns per-field messages, or nil.
func (f Form) Validate() map[string][]string {
	err := middleware.Validator().Struct(f)
	if err == nil {
		return nil
	}
	fields := middleware.FieldErrors(err)
	if msgs, ok := fields["confirm_password"]; ok {
		for i, m := range msgs {
			if strings.HasPrefix(m, "Does not match") {
				msgs[i] = "Passwords do not match"
			}
		}
	}
	return fields
}
