package shared

// ListFilters represents standard list filters for master-data lookups.
type ListFilters struct {
	Page     int
	Limit    int
	Search   string
	IsActive *bool
}

// Normalize applies list defaults in place.
func (f *ListFilters) Normalize() {
	if f.Page <= 0 {
		f.Page = 1
	}
	if f.Limit <= 0 {
		f.Limit = 50
	}
}
