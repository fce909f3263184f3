package customers

import "time"

// Customer is an invoice recipient of a company.
type Customer struct {
	ID            int64     `json:"id"`
	CompanyID     int64     `json:"companyId"`
	Name          string    `json:"name"`
	ICO           string    `json:"ico,omitempty"`
	DIC           string    `json:"dic,omitempty"`
	Email         string    `json:"email,omitempty"`
	Phone         string    `json:"phone,omitempty"`
	ContactPerson string    `json:"contactPerson,omitempty"`
	Address       string    `json:"address,omitempty"`
	City          string    `json:"city,omitempty"`
	PostalCode    string    `json:"postalCode,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Source reports how Resolve found or created a customer.
type Source string

const (
	SourceExact    Source = "exact"
	SourceFuzzy    Source = "fuzzy"
	SourceICO      Source = "ico"
	SourceRegistry Source = "registry"
	SourceCreated  Source = "created"
)
