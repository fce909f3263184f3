package customers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fakturace/fakturace/internal/ares"
)

type memoryRepo struct {
	customers map[int64]*Customer
	nextID    int64
	createErr error
}

func newMemoryRepo(seed ...Customer) *memoryRepo {
	m := &memoryRepo{customers: make(map[int64]*Customer), nextID: 1}
	for _, c := range seed {
		c := c
		if c.ID >= m.nextID {
			m.nextID = c.ID + 1
		}
		m.customers[c.ID] = &c
	}
	return m
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	return fn(ctx, m)
}

func (m *memoryRepo) Get(ctx context.Context, companyID, id int64) (*Customer, error) {
	c, ok := m.customers[id]
	if !ok || c.CompanyID != companyID {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memoryRepo) FindByICO(ctx context.Context, companyID int64, ico string) (*Customer, error) {
	for id := int64(1); id < m.nextID; id++ {
		c, ok := m.customers[id]
		if ok && c.CompanyID == companyID && c.ICO == ico {
			cp := *c
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memoryRepo) List(ctx context.Context, companyID int64) ([]Customer, error) {
	var out []Customer
	for id := int64(1); id < m.nextID; id++ {
		if c, ok := m.customers[id]; ok && c.CompanyID == companyID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (m *memoryRepo) Create(ctx context.Context, c Customer) (int64, error) {
	if m.createErr != nil {
		return 0, m.createErr
	}
	c.ID = m.nextID
	c.CreatedAt = time.Now()
	m.nextID++
	m.customers[c.ID] = &c
	return c.ID, nil
}

func (m *memoryRepo) Update(ctx context.Context, companyID, id int64, updates map[string]any) error {
	c, ok := m.customers[id]
	if !ok || c.CompanyID != companyID {
		return ErrNotFound
	}
	for k, v := range updates {
		s, _ := v.(string)
		switch k {
		case "email":
			c.Email = s
		case "phone":
			c.Phone = s
		case "contact_person":
			c.ContactPerson = s
		case "address":
			c.Address = s
		}
	}
	return nil
}

type stubRegistry struct {
	byICO     map[string]ares.Company
	byName    []ares.Company
	err       error
	icoCalls  int
	nameCalls int
}

func (s *stubRegistry) LookupByICO(ctx context.Context, ico string) (*ares.Company, error) {
	s.icoCalls++
	if s.err != nil {
		return nil, s.err
	}
	c, ok := s.byICO[ico]
	if !ok {
		return nil, ares.ErrNotFound
	}
	return &c, nil
}

func (s *stubRegistry) SearchByName(ctx context.Context, name string) ([]ares.Company, error) {
	s.nameCalls++
	if s.err != nil {
		return nil, s.err
	}
	if len(s.byName) == 0 {
		return nil, ares.ErrNotFound
	}
	return s.byName, nil
}

func TestNormalizeName(t *testing.T) {
	cases := map[string]string{
		"Novák Stavby, s. r. o.":     "novak stavby",
		"ACME Software s.r.o.":       "acme software",
		"Pekárna Krása spol. s r.o.": "pekarna krasa",
		"Škoda Auto a.s.":            "skoda auto",
		"Jan Dvořák":                 "jan dvorak",
		"s.r.o.":                     "s.r.o",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeName(in), in)
	}
}

func TestResolveExactName(t *testing.T) {
	repo := newMemoryRepo(
		Customer{ID: 1, CompanyID: 1, Name: "Novák Stavby s.r.o."},
		Customer{ID: 2, CompanyID: 1, Name: "Novák Stavby Morava s.r.o."},
	)
	registry := &stubRegistry{}
	r := NewResolver(repo, registry, nil)

	c, src, err := r.Resolve(context.Background(), 1, "novak stavby", "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), c.ID)
	assert.Equal(t, SourceExact, src)
	assert.Zero(t, registry.icoCalls+registry.nameCalls)
}

func TestResolveFuzzyName(t *testing.T) {
	repo := newMemoryRepo(Customer{ID: 5, CompanyID: 1, Name: "Kavárna U Zlatého Lva"})
	r := NewResolver(repo, nil, nil)

	c, src, err := r.Resolve(context.Background(), 1, "kavárna zlatého lva", "")
	require.NoError(t, err)
	assert.Equal(t, int64(5), c.ID)
	assert.Equal(t, SourceFuzzy, src)
}

func TestResolveIgnoresOtherCompanies(t *testing.T) {
	repo := newMemoryRepo(Customer{ID: 1, CompanyID: 2, Name: "Acme"})
	r := NewResolver(repo, nil, nil)

	c, src, err := r.Resolve(context.Background(), 1, "Acme", "")
	require.NoError(t, err)
	assert.Equal(t, SourceCreated, src)
	assert.NotEqual(t, int64(1), c.ID)
	assert.Equal(t, int64(1), c.CompanyID)
}

func TestResolveByEmbeddedICOUsesRegistry(t *testing.T) {
	repo := newMemoryRepo()
	registry := &stubRegistry{byICO: map[string]ares.Company{
		"27074358": {ICO: "27074358", DIC: "CZ27074358", Name: "Asseco Central Europe, a.s.", City: "Praha"},
	}}
	r := NewResolver(repo, registry, nil)

	c, src, err := r.Resolve(context.Background(), 1, "firma 27074358", "")
	require.NoError(t, err)
	assert.Equal(t, SourceRegistry, src)
	assert.Equal(t, "Asseco Central Europe, a.s.", c.Name)
	assert.Equal(t, "CZ27074358", c.DIC)
	assert.Equal(t, 1, registry.icoCalls)

	again, src, err := r.Resolve(context.Background(), 1, "", "27074358")
	require.NoError(t, err)
	assert.Equal(t, SourceICO, src)
	assert.Equal(t, c.ID, again.ID)
}

func TestResolveByNameUsesRegistrySearch(t *testing.T) {
	repo := newMemoryRepo()
	registry := &stubRegistry{byName: []ares.Company{{ICO: "25596641", Name: "Pekárna Krása s.r.o."}}}
	r := NewResolver(repo, registry, nil)

	c, src, err := r.Resolve(context.Background(), 1, "Pekárna Krása", "")
	require.NoError(t, err)
	assert.Equal(t, SourceRegistry, src)
	assert.Equal(t, "25596641", c.ICO)
}

func TestResolveFallsBackToBareNameWhenRegistryFails(t *testing.T) {
	repo := newMemoryRepo()
	registry := &stubRegistry{err: errors.New("registry down")}
	r := NewResolver(repo, registry, nil)

	c, src, err := r.Resolve(context.Background(), 1, "Jan Dvořák", "")
	require.NoError(t, err)
	assert.Equal(t, SourceCreated, src)
	assert.Equal(t, "Jan Dvořák", c.Name)
	assert.Len(t, repo.customers, 1)
}

func TestResolveRequiresNameOrICO(t *testing.T) {
	r := NewResolver(newMemoryRepo(), nil, nil)
	_, _, err := r.Resolve(context.Background(), 1, "  ", "")
	require.ErrorIs(t, err, ErrCustomerRequired)
}

func TestResolvePropagatesCreateError(t *testing.T) {
	repo := newMemoryRepo()
	repo.createErr = errors.New("insert failed")
	r := NewResolver(repo, nil, nil)
	_, _, err := r.Resolve(context.Background(), 1, "Nový zákazník", "")
	require.Error(t, err)
}
