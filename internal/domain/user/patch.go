package user

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	// report json names ("bloodGroup") instead of Go names ("BloodGroup")
	v.RegisterTagNameFunc(func(sf reflect.StructField) string {
		name, _, _ := strings.Cut(sf.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	return v
}

// ProfilePatch is the whitelist of fields a user may change on their own
// record. A nil field is left untouched; a non-nil field replaces the stored
// value. Email, password hash, role and the sharing list are deliberately
// absent.
type ProfilePatch struct {
	FirstName         *string            `json:"firstName" validate:"omitempty,max=100"`
	LastName          *string            `json:"lastName" validate:"omitempty,max=100"`
	MiddleName        *string            `json:"middleName" validate:"omitempty,max=100"`
	BloodGroup        *string            `json:"bloodGroup" validate:"omitempty,oneof=A+ A- B+ B- AB+ AB- O+ O-"`
	BirthDate         *time.Time         `json:"birthDate"`
	Phone             *string            `json:"phone" validate:"omitempty,max=32"`
	Gender            *string            `json:"gender" validate:"omitempty,max=32"`
	Allergies         *[]string          `json:"allergies" validate:"omitempty,max=100,dive,max=200"`
	Operations        *[]Operation       `json:"operations" validate:"omitempty,max=200,dive"`
	MedicalCategories *[]MedicalCategory `json:"medicalCategories" validate:"omitempty,max=100,dive"`
	Certificates      *[]string          `json:"certificates" validate:"omitempty,max=50,dive,max=2048"`
	Experience        *[]Experience      `json:"experience" validate:"omitempty,max=50,dive"`
	Position          *string            `json:"position" validate:"omitempty,max=120"`
}

func (p ProfilePatch) IsEmpty() bool {
	return len(p.Fields()) == 0
}

// Validate checks every present field. The returned error lists the
// offending fields by their json names.
func (p ProfilePatch) Validate() error {
	if p.BirthDate != nil && p.BirthDate.After(time.Now()) {
		return fmt.Errorf("birthDate: must not be in the future")
	}

	err := validate.Struct(p)
	if err == nil {
		return nil
	}

	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}

	parts := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		ns := fe.Namespace()
		if _, rest, found := strings.Cut(ns, "."); found {
			ns = rest
		}
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s: failed %s=%s", ns, fe.Tag(), fe.Param()))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: failed %s", ns, fe.Tag()))
	}

	return fmt.Errorf("%s", strings.Join(parts, "; "))
}

// Fields returns the present fields keyed by their stored name. The keys are
// identical for the bson document and the json profile column.
func (p ProfilePatch) Fields() map[string]any {
	out := make(map[string]any)

	setString := func(key string, v *string) {
		if v != nil {
			out[key] = *v
		}
	}

	setString("firstName", p.FirstName)
	setString("lastName", p.LastName)
	setString("middleName", p.MiddleName)
	setString("bloodGroup", p.BloodGroup)
	setString("phone", p.Phone)
	setString("gender", p.Gender)
	setString("position", p.Position)

	if p.BirthDate != nil {
		out["birthDate"] = p.BirthDate.UTC()
	}
	if p.Allergies != nil {
		out["allergies"] = *p.Allergies
	}
	if p.Operations != nil {
		out["operations"] = *p.Operations
	}
	if p.MedicalCategories != nil {
		out["medicalCategories"] = *p.MedicalCategories
	}
	if p.Certificates != nil {
		out["certificates"] = *p.Certificates
	}
	if p.Experience != nil {
		out["experience"] = *p.Experience
	}

	return out
}

// Apply merges the patch into an in-memory profile.
func (p ProfilePatch) Apply(dst *Profile) {
	if p.FirstName != nil {
		dst.FirstName = *p.FirstName
	}
	if p.LastName != nil {
		dst.LastName = *p.LastName
	}
	if p.MiddleName != nil {
		dst.MiddleName = *p.MiddleName
	}
	if p.BloodGroup != nil {
		dst.BloodGroup = *p.BloodGroup
	}
	if p.BirthDate != nil {
		t := p.BirthDate.UTC()
		dst.BirthDate = &t
	}
	if p.Phone != nil {
		dst.Phone = *p.Phone
	}
	if p.Gender != nil {
		dst.Gender = *p.Gender
	}
	if p.Allergies != nil {
		dst.Allergies = append([]string(nil), (*p.Allergies)...)
	}
	if p.Operations != nil {
		dst.Operations = append([]Operation(nil), (*p.Operations)...)
	}
	if p.MedicalCategories != nil {
		dst.MedicalCategories = append([]MedicalCategory(nil), (*p.MedicalCategories)...)
	}
	if p.Certificates != nil {
		dst.Certificates = append([]string(nil), (*p.Certificates)...)
	}
	if p.Experience != nil {
		dst.Experience = append([]Experience(nil), (*p.Experience)...)
	}
	if p.Position != nil {
		dst.Position = *p.Position
	}
}

// ValidateEmail reports whether s is a syntactically valid address.
func ValidateEmail(s string) bool {
	return validate.Var(s, "required,email,max=254") == nil
}
