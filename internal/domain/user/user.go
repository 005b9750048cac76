package user

import (
	"errors"
	"time"
)

type Role string

const (
	RoleUser   Role = "User"
	RoleDoctor Role = "Doctor"
)

func (r Role) IsValid() bool {
	switch r {
	case RoleUser, RoleDoctor:
		return true
	default:
		return false
	}
}

var (
	ErrNotFound   = errors.New("user not found")
	ErrEmailTaken = errors.New("email already in use")
)

type Operation struct {
	Date        time.Time `json:"date" bson:"date"`
	Description string    `json:"description" bson:"description" validate:"max=2000"`
	Photos      []string  `json:"photos,omitempty" bson:"photos,omitempty" validate:"max=20,dive,max=2048"`
}

type Visit struct {
	Date        time.Time `json:"date" bson:"date"`
	Diagnosis   string    `json:"diagnosis,omitempty" bson:"diagnosis,omitempty" validate:"max=500"`
	Description string    `json:"description" bson:"description" validate:"max=2000"`
	Files       []string  `json:"files,omitempty" bson:"files,omitempty" validate:"max=20,dive,max=2048"`
}

type MedicalCategory struct {
	Category  string   `json:"category" bson:"category" validate:"required,max=120"`
	Diagnoses []string `json:"diagnoses,omitempty" bson:"diagnoses,omitempty" validate:"max=100,dive,max=500"`
	Visits    []Visit  `json:"visits,omitempty" bson:"visits,omitempty" validate:"max=500,dive"`
}

type Experience struct {
	Description string `json:"description" bson:"description" validate:"max=1000"`
	StartDate   string `json:"startDate" bson:"startDate" validate:"max=32"`
	EndDate     string `json:"endDate,omitempty" bson:"endDate,omitempty" validate:"max=32"`
}

// Profile holds the free-form profile and medical fields owned by a record.
type Profile struct {
	FirstName         string            `json:"firstName,omitempty" bson:"firstName,omitempty"`
	LastName          string            `json:"lastName,omitempty" bson:"lastName,omitempty"`
	MiddleName        string            `json:"middleName,omitempty" bson:"middleName,omitempty"`
	BloodGroup        string            `json:"bloodGroup,omitempty" bson:"bloodGroup,omitempty"`
	BirthDate         *time.Time        `json:"birthDate,omitempty" bson:"birthDate,omitempty"`
	Phone             string            `json:"phone,omitempty" bson:"phone,omitempty"`
	Gender            string            `json:"gender,omitempty" bson:"gender,omitempty"`
	Allergies         []string          `json:"allergies,omitempty" bson:"allergies,omitempty"`
	Operations        []Operation       `json:"operations,omitempty" bson:"operations,omitempty"`
	MedicalCategories []MedicalCategory `json:"medicalCategories,omitempty" bson:"medicalCategories,omitempty"`
	Certificates      []string          `json:"certificates,omitempty" bson:"certificates,omitempty"`
	Experience        []Experience      `json:"experience,omitempty" bson:"experience,omitempty"`
	Position          string            `json:"position,omitempty" bson:"position,omitempty"`
}

type User struct {
	ID           string    `json:"id" bson:"_id"`
	Email        string    `json:"email,omitempty" bson:"email"`
	PasswordHash string    `json:"-" bson:"passwordHash"` // never expose hash in JSON
	Role         Role      `json:"role,omitempty" bson:"role,omitempty"`
	Profile      `bson:",inline"`
	SharedWith   []string  `json:"sharedWith,omitempty" bson:"sharedWith"`
	CreatedAt    time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt" bson:"updatedAt"`
}

// Public strips the medical fields and the sharing list, leaving what any
// authenticated caller may see (doctor directory, search results).
func (u User) Public() User {
	return User{
		ID:   u.ID,
		Role: u.Role,
		Profile: Profile{
			FirstName:    u.FirstName,
			LastName:     u.LastName,
			MiddleName:   u.MiddleName,
			Certificates: u.Certificates,
			Experience:   u.Experience,
			Position:     u.Position,
		},
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

func (u User) IsSharedWith(doctorID string) bool {
	for _, id := range u.SharedWith {
		if id == doctorID {
			return true
		}
	}
	return false
}
