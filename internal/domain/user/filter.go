package user

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// with pointers if optional, it will be nil
type ListFilter struct {
	Role       *Role
	Position   *string
	Search     *string
	SharedWith *string
	Page       int
	Limit      int
}

// Normalize fills in paging defaults and clamps the page size.
func (f ListFilter) Normalize() ListFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit <= 0 {
		f.Limit = DefaultPageSize
	}
	if f.Limit > MaxPageSize {
		f.Limit = MaxPageSize
	}
	return f
}

func (f ListFilter) Offset() int {
	return (f.Page - 1) * f.Limit
}

type Page struct {
	Items []User `json:"items"`
	Total int64  `json:"total"`
	Page  int    `json:"page"`
	Limit int    `json:"limit"`
}
