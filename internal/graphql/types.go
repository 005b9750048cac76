package graphql

import (
	gql "github.com/graph-gophers/graphql-go"

	"github.com/geocoder89/medcard/internal/domain/user"
)

type userResolver struct {
	u user.User
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func orEmpty[T any](v []T) []T {
	if v == nil {
		return []T{}
	}
	return v
}

func (r *userResolver) ID() gql.ID { return gql.ID(r.u.ID) }
func (r *userResolver) Email() *string { return optional(r.u.Email) }
func (r *userResolver) Role() *string { return optional(string(r.u.Role)) }
func (r *userResolver) FirstName() *string { return optional(r.u.FirstName) }
func (r *userResolver) LastName() *string { return optional(r.u.LastName) }
func (r *userResolver) MiddleName() *string { return optional(r.u.MiddleName) }
func (r *userResolver) BloodGroup() *string { return optional(r.u.BloodGroup) }
func (r *userResolver) Phone() *string { return optional(r.u.Phone) }
func (r *userResolver) Gender() *string { return optional(r.u.Gender) }
func (r *userResolver) Position() *string { return optional(r.u.Position) }
func (r *userResolver) Allergies() []string { return orEmpty(r.u.Allergies) }
func (r *userResolver) Certificates() []string {
	return orEmpty(r.u.Certificates)
}
func (r *userResolver) CreatedAt() gql.Time { return gql.Time{Time: r.u.CreatedAt} }
func (r *userResolver) UpdatedAt() gql.Time { return gql.Time{Time: r.u.UpdatedAt} }

func (r *userResolver) BirthDate() *gql.Time {
	if r.u.BirthDate == nil {
		return nil
	}
	return &gql.Time{Time: *r.u.BirthDate}
}

func (r *userResolver) SharedWith() []gql.ID {
	out := make([]gql.ID, 0, len(r.u.SharedWith))
	for _, id := range r.u.SharedWith {
		out = append(out, gql.ID(id))
	}
	return out
}

func (r *userResolver) Operations() []*operationResolver {
	out := make([]*operationResolver, 0, len(r.u.Operations))
	for _, op := range r.u.Operations {
		out = append(out, &operationResolver{op})
	}
	return out
}

func (r *userResolver) MedicalCategories() []*categoryResolver {
	out := make([]*categoryResolver, 0, len(r.u.MedicalCategories))
	for _, c := range r.u.MedicalCategories {
		out = append(out, &categoryResolver{c})
	}
	return out
}

func (r *userResolver) Experience() []*experienceResolver {
	out := make([]*experienceResolver, 0, len(r.u.Experience))
	for _, e := range r.u.Experience {
		out = append(out, &experienceResolver{e})
	}
	return out
}

type operationResolver struct{ op user.Operation }

func (r *operationResolver) Date() gql.Time { return gql.Time{Time: r.op.Date} }
func (r *operationResolver) Description() string { return r.op.Description }
func (r *operationResolver) Photos() []string { return orEmpty(r.op.Photos) }

type categoryResolver struct{ c user.MedicalCategory }

func (r *categoryResolver) Category() string { return r.c.Category }
func (r *categoryResolver) Diagnoses() []string { return orEmpty(r.c.Diagnoses) }

func (r *categoryResolver) Visits() []*visitResolver {
	out := make([]*visitResolver, 0, len(r.c.Visits))
	for _, v := range r.c.Visits {
		out = append(out, &visitResolver{v})
	}
	return out
}

type visitResolver struct{ v user.Visit }

func (r *visitResolver) Date() gql.Time { return gql.Time{Time: r.v.Date} }
func (r *visitResolver) Diagnosis() *string { return optional(r.v.Diagnosis) }
func (r *visitResolver) Description() string { return r.v.Description }
func (r *visitResolver) Files() []string { return orEmpty(r.v.Files) }

type experienceResolver struct{ e user.Experience }

func (r *experienceResolver) Description() string { return r.e.Description }
func (r *experienceResolver) StartDate() string { return r.e.StartDate }
func (r *experienceResolver) EndDate() *string { return optional(r.e.EndDate) }

type authPayloadResolver struct {
	access  string
	refresh string
	user    user.User
}

func (r *authPayloadResolver) AccessToken() string { return r.access }
func (r *authPayloadResolver) RefreshToken() string { return r.refresh }
func (r *authPayloadResolver) User() *userResolver { return &userResolver{r.user} }

type pageResolver struct{ p user.Page }

func (r *pageResolver) Items() []*userResolver {
	out := make([]*userResolver, 0, len(r.p.Items))
	for _, u := range r.p.Items {
		out = append(out, &userResolver{u})
	}
	return out
}

func (r *pageResolver) Total() int32 { return int32(r.p.Total) }
func (r *pageResolver) Page() int32 { return int32(r.p.Page) }
func (r *pageResolver) Limit() int32 { return int32(r.p.Limit) }

// inputs

type operationInput struct {
	Date        gql.Time
	Description string
	Photos      *[]string
}

type visitInput struct {
	Date        gql.Time
	Diagnosis   *string
	Description string
	Files       *[]string
}

type medicalCategoryInput struct {
	Category  string
	Diagnoses *[]string
	Visits    *[]visitInput
}

type experienceInput struct {
	Description string
	StartDate   string
	EndDate     *string
}

type updateUserInput struct {
	FirstName         *string
	LastName          *string
	MiddleName        *string
	BloodGroup        *string
	BirthDate         *gql.Time
	Phone             *string
	Gender            *string
	Allergies         *[]string
	Operations        *[]operationInput
	MedicalCategories *[]medicalCategoryInput
	Certificates      *[]string
	Experience        *[]experienceInput
	Position          *string
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

func (in updateUserInput) patch() user.ProfilePatch {
	p := user.ProfilePatch{
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		MiddleName:   in.MiddleName,
		BloodGroup:   in.BloodGroup,
		Phone:        in.Phone,
		Gender:       in.Gender,
		Allergies:    in.Allergies,
		Certificates: in.Certificates,
		Position:     in.Position,
	}

	if in.BirthDate != nil {
		t := in.BirthDate.Time
		p.BirthDate = &t
	}

	if in.Operations != nil {
		ops := make([]user.Operation, 0, len(*in.Operations))
		for _, o := range *in.Operations {
			ops = append(ops, user.Operation{Date: o.Date.Time, Description: o.Description, Photos: deref(o.Photos)})
		}
		p.Operations = &ops
	}

	if in.MedicalCategories != nil {
		cats := make([]user.MedicalCategory, 0, len(*in.MedicalCategories))
		for _, c := range *in.MedicalCategories {
			mc := user.MedicalCategory{Category: c.Category, Diagnoses: deref(c.Diagnoses)}
			for _, v := range deref(c.Visits) {
				mc.Visits = append(mc.Visits, user.Visit{
					Date:        v.Date.Time,
					Diagnosis:   deref(v.Diagnosis),
					Description: v.Description,
					Files:       deref(v.Files),
				})
			}
			cats = append(cats, mc)
		}
		p.MedicalCategories = &cats
	}

	if in.Experience != nil {
		exp := make([]user.Experience, 0, len(*in.Experience))
		for _, e := range *in.Experience {
			exp = append(exp, user.Experience{Description: e.Description, StartDate: e.StartDate, EndDate: deref(e.EndDate)})
		}
		p.Experience = &exp
	}

	return p
}
