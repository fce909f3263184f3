// Package ares queries the Czech public business registry (ARES).
package ares

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/fakturace/fakturace/internal/platform/cache"
)

// DefaultBaseURL is the public REST endpoint.
const DefaultBaseURL = "https://ares.gov.cz/ekonomicke-subjekty-v-be/rest"

var (
	// ErrNotFound indicates the registry has no matching subject.
	ErrNotFound = errors.New("ares: subject not found")
	// ErrInvalidICO indicates an IČO that fails the format or checksum test.
	ErrInvalidICO = errors.New("ares: invalid ico")
)

var icoPattern = regexp.MustCompile(`\b\d{8}\b`)

// Company is the subset of registry data used for customer records.
type Company struct {
	ICO        string `json:"ico"`
	DIC        string `json:"dic,omitempty"`
	Name       string `json:"name"`
	Address    string `json:"address,omitempty"`
	City       string `json:"city,omitempty"`
	PostalCode string `json:"postalCode,omitempty"`
	LegalForm  string `json:"legalForm,omitempty"`
}

// Config configures the registry client.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client looks companies up by IČO or name. Results are cached and
// concurrent identical lookups share one request.
type Client struct {
	baseURL string
	http    *http.Client
	cache   *cache.JSONCache
	group   singleflight.Group
	logger  *slog.Logger
}

// NewClient builds a Client. cache may be nil.
func NewClient(cfg Config, jsonCache *cache.JSONCache, logger *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    httpClient,
		cache:   jsonCache,
		logger:  logger.With(slog.String("component", "ares")),
	}
}

// ValidICO reports whether ico is eight digits with a valid mod-11 checksum.
func ValidICO(ico string) bool {
	if len(ico) != 8 {
		return false
	}
	sum := 0
	for i := 0; i < 7; i++ {
		c := ico[i]
		if c < '0' || c > '9' {
			return false
		}
		sum += int(c-'0') * (8 - i)
	}
	last := ico[7]
	if last < '0' || last > '9' {
		return false
	}
	check := (11 - sum%11) % 10
	return int(last-'0') == check
}

// ExtractICO returns the first checksum-valid 8-digit number in s.
func ExtractICO(s string) (string, bool) {
	for _, candidate := range icoPattern.FindAllString(s, -1) {
		if ValidICO(candidate) {
			return candidate, true
		}
	}
	return "", false
}

// LookupByICO fetches a single subject by its IČO.
func (c *Client) LookupByICO(ctx context.Context, ico string) (*Company, error) {
	ico = strings.TrimSpace(ico)
	if !ValidICO(ico) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidICO, ico)
	}
	var company Company
	err := c.cached(ctx, []string{"ico", ico}, &company, func(ctx context.Context) (any, error) {
		var subject subjectDTO
		if err := c.do(ctx, http.MethodGet, "/ekonomicke-subjekty/"+ico, nil, &subject); err != nil {
			return nil, err
		}
		return subject.company(), nil
	})
	if err != nil {
		return nil, err
	}
	return &company, nil
}

// SearchByName returns up to five subjects whose business name matches.
func (c *Client) SearchByName(ctx context.Context, name string) ([]Company, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrNotFound
	}
	var companies []Company
	err := c.cached(ctx, []string{"name", strings.ToLower(name)}, &companies, func(ctx context.Context) (any, error) {
		body := searchRequestDTO{ObchodniJmeno: name, Pocet: 5}
		var resp searchResponseDTO
		if err := c.do(ctx, http.MethodPost, "/ekonomicke-subjekty/vyhledat", body, &resp); err != nil {
			return nil, err
		}
		if len(resp.EkonomickeSubjekty) == 0 {
			return nil, ErrNotFound
		}
		out := make([]Company, 0, len(resp.EkonomickeSubjekty))
		for _, s := range resp.EkonomickeSubjekty {
			out = append(out, s.company())
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return companies, nil
}

func (c *Client) cached(ctx context.Context, parts []string, dest any, loader func(context.Context) (any, error)) error {
	key, err := c.cache.BuildKey(ctx, parts...)
	if err != nil {
		c.logger.Warn("ares cache key", slog.Any("error", err))
		key = strings.Join(parts, ":")
	}
	ch := c.group.DoChan(key, func() (any, error) {
		var raw json.RawMessage
		if err := c.cache.FetchJSON(ctx, key, &raw, loader); err != nil {
			return nil, err
		}
		return raw, nil
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return res.Err
		}
		return json.Unmarshal(res.Val.(json.RawMessage), dest)
	}
}

func (c *Client) do(ctx context.Context, method, path string, body any, dest any) error {
	var payload *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = bytes.NewReader(raw)
	} else {
		payload = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, payload)
	if err != nil {
		return fmt.Errorf("ares: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("ares: request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode >= 300:
		return fmt.Errorf("ares: unexpected status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("ares: decode response: %w", err)
	}
	return nil
}

type searchRequestDTO struct {
	ObchodniJmeno string `json:"obchodniJmeno"`
	Pocet         int    `json:"pocet"`
	Start         int    `json:"start"`
}

type searchResponseDTO struct {
	PocetCelkem        int          `json:"pocetCelkem"`
	EkonomickeSubjekty []subjectDTO `json:"ekonomickeSubjekty"`
}

type subjectDTO struct {
	ICO           string `json:"ico"`
	DIC           string `json:"dic"`
	ObchodniJmeno string `json:"obchodniJmeno"`
	PravniForma   string `json:"pravniForma"`
	Sidlo         struct {
		NazevObce     string `json:"nazevObce"`
		NazevUlice    string `json:"nazevUlice"`
		CisloDomovni  int    `json:"cisloDomovni"`
		CisloOrientac int    `json:"cisloOrientacni"`
		PSC           int    `json:"psc"`
		TextovaAdresa string `json:"textovaAdresa"`
	} `json:"sidlo"`
}

func (s subjectDTO) company() Company {
	c := Company{
		ICO:       s.ICO,
		DIC:       s.DIC,
		Name:      strings.TrimSpace(s.ObchodniJmeno),
		City:      s.Sidlo.NazevObce,
		LegalForm: s.PravniForma,
	}
	if s.Sidlo.PSC > 0 {
		c.PostalCode = fmt.Sprintf("%05d", s.Sidlo.PSC)
	}
	switch {
	case s.Sidlo.NazevUlice != "" && s.Sidlo.CisloDomovni > 0:
		c.Address = fmt.Sprintf("%s %d", s.Sidlo.NazevUlice, s.Sidlo.CisloDomovni)
		if s.Sidlo.CisloOrientac > 0 {
			c.Address += fmt.Sprintf("/%d", s.Sidlo.CisloOrientac)
		}
	case s.Sidlo.TextovaAdresa != "":
		c.Address = s.Sidlo.TextovaAdresa
	}
	return c
}
