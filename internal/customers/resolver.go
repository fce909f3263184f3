package customers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/fakturace/fakturace/internal/ares"
)

// FuzzyThreshold is the minimum similarity for a fuzzy name match.
const FuzzyThreshold = 0.6

// ErrCustomerRequired is returned when neither a name nor an IČO is given.
var ErrCustomerRequired = errors.New("customers: customer name or ico required")

// Registry is the business registry consulted for unknown customers.
type Registry interface {
	LookupByICO(ctx context.Context, ico string) (*ares.Company, error)
	SearchByName(ctx context.Context, name string) ([]ares.Company, error)
}

// Resolver finds the customer a free-text name refers to, creating one when
// nothing matches.
type Resolver struct {
	repo     Repository
	registry Registry
	logger   *slog.Logger
}

// NewResolver builds a Resolver. registry may be nil.
func NewResolver(repo Repository, registry Registry, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{repo: repo, registry: registry, logger: logger.With(slog.String("component", "customers.resolver"))}
}

// Resolve returns the customer for name or ico. Lookup order: stored IČO,
// exact normalised name, fuzzy name, registry by IČO or name, new bare-name
// customer.
func (r *Resolver) Resolve(ctx context.Context, companyID int64, name, ico string) (*Customer, Source, error) {
	name = strings.TrimSpace(name)
	ico = strings.TrimSpace(ico)
	if ico == "" {
		ico, _ = ares.ExtractICO(name)
	}
	if name == "" && ico == "" {
		return nil, "", ErrCustomerRequired
	}

	if ico != "" {
		existing, err := r.repo.FindByICO(ctx, companyID, ico)
		if err == nil {
			return existing, SourceICO, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, "", fmt.Errorf("find customer by ico: %w", err)
		}
	}

	cleanName := strings.TrimSpace(strings.ReplaceAll(name, ico, ""))
	if cleanName != "" {
		all, err := r.repo.List(ctx, companyID)
		if err != nil {
			return nil, "", fmt.Errorf("list customers: %w", err)
		}
		if c, score := bestMatch(all, cleanName); c != nil {
			if score == 1 {
				return c, SourceExact, nil
			}
			return c, SourceFuzzy, nil
		}
	}

	if company := r.lookupRegistry(ctx, cleanName, ico); company != nil {
		if company.ICO != "" {
			if existing, err := r.repo.FindByICO(ctx, companyID, company.ICO); err == nil {
				return existing, SourceICO, nil
			}
		}
		c, err := r.create(ctx, Customer{
			CompanyID:  companyID,
			Name:       company.Name,
			ICO:        company.ICO,
			DIC:        company.DIC,
			Address:    company.Address,
			City:       company.City,
			PostalCode: company.PostalCode,
		})
		if err != nil {
			return nil, "", err
		}
		return c, SourceRegistry, nil
	}

	if cleanName == "" {
		cleanName = "IČO " + ico
	}
	c, err := r.create(ctx, Customer{CompanyID: companyID, Name: cleanName, ICO: ico})
	if err != nil {
		return nil, "", err
	}
	return c, SourceCreated, nil
}

func (r *Resolver) lookupRegistry(ctx context.Context, name, ico string) *ares.Company {
	if r.registry == nil {
		return nil
	}
	if ico != "" {
		company, err := r.registry.LookupByICO(ctx, ico)
		if err == nil {
			return company
		}
		if !errors.Is(err, ares.ErrNotFound) {
			r.logger.Warn("registry lookup by ico", slog.String("ico", ico), slog.Any("error", err))
		}
	}
	if name == "" {
		return nil
	}
	companies, err := r.registry.SearchByName(ctx, name)
	if err != nil {
		if !errors.Is(err, ares.ErrNotFound) {
			r.logger.Warn("registry search by name", slog.String("name", name), slog.Any("error", err))
		}
		return nil
	}
	target := NormalizeName(name)
	for i := range companies {
		if similarity(target, NormalizeName(companies[i].Name)) >= FuzzyThreshold {
			return &companies[i]
		}
	}
	return nil
}

func (r *Resolver) create(ctx context.Context, c Customer) (*Customer, error) {
	err := r.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		id, err := repo.Create(ctx, c)
		if err != nil {
			return err
		}
		c.ID = id
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("create customer: %w", err)
	}
	return &c, nil
}

// bestMatch returns the customer with the highest similarity at or above
// FuzzyThreshold, preferring the lowest ID on ties.
func bestMatch(all []Customer, name string) (*Customer, float64) {
	target := NormalizeName(name)
	var best *Customer
	bestScore := 0.0
	for i := range all {
		score := similarity(target, NormalizeName(all[i].Name))
		if score < FuzzyThreshold {
			continue
		}
		if best == nil || score > bestScore || (score == bestScore && all[i].ID < best.ID) {
			best = &all[i]
			bestScore = score
		}
	}
	return best, bestScore
}
