// Package gpdirectory looks up GP practices in the NHS Organisation Data Service.
package gpdirectory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/samber/lo"

	"github.com/checkloops/checkloops/internal/cache"
	"github.com/checkloops/checkloops/internal/config"
)

// PrimaryRoleGP is the ODS role of prescribing cost centres, i.e. GP practices.
const PrimaryRoleGP = "RO177"

var ErrEmptyQuery = errors.New("a practice name or postcode is required")

// Practice is a GP practice as returned to clients.
type Practice struct {
	Code        string `json:"code"`
	Name        string `json:"name"`
	PostCode    string `json:"postcode"`
	Status      string `json:"status"`
	LastChanged string `json:"last_changed,omitempty"`
	Link        string `json:"link,omitempty"`
}

type organisation struct {
	Name           string `json:"Name"`
	OrgID          string `json:"OrgId"`
	Status         string `json:"Status"`
	PostCode       string `json:"PostCode"`
	LastChangeDate string `json:"LastChangeDate"`
	PrimaryRoleID  string `json:"PrimaryRoleId"`
	OrgLink        string `json:"OrgLink"`
}

type searchResponse struct {
	Organisations []organisation `json:"Organisations"`
}

// Client queries the ODS ORD API.
type Client struct {
	baseURL    string
	limit      int
	httpClient *http.Client
	cache      *cache.PrefixedCache[[]Practice]
}

// New creates a new directory client. Results are cached in the shared engine cache.
func New(cfg *config.GPDirectoryConfig, engineCache *cache.EngineCache) *Client {
	c := &Client{
		baseURL:    cfg.URL,
		limit:      cfg.Limit,
		httpClient: &http.Client{Timeout: 20 * time.Second},
	}
	if engineCache != nil {
		c.cache = cache.Register[[]Practice](engineCache, "gp_practices", cache.GPPracticesCachePrefix, cfg.CacheTTL)
	}
	return c
}

// NormalizePostcode upper-cases a postcode and collapses its whitespace.
func NormalizePostcode(postcode string) string {
	return strings.Join(strings.Fields(strings.ToUpper(postcode)), " ")
}

func cacheKey(name, postcode string) string {
	return strings.ToLower(name) + "|" + postcode
}

// Search returns the active GP practices matching a name and/or postcode.
func (c *Client) Search(ctx context.Context, name, postcode string) ([]Practice, error) {
	name = strings.TrimSpace(name)
	postcode = NormalizePostcode(postcode)
	if name == "" && postcode == "" {
		return nil, ErrEmptyQuery
	}

	if c.cache == nil {
		return c.search(ctx, name, postcode)
	}
	return c.cache.GetOrLoad(ctx, cacheKey(name, postcode), func(ctx context.Context) ([]Practice, error) {
		return c.search(ctx, name, postcode)
	})
}

func (c *Client) search(ctx context.Context, name, postcode string) ([]Practice, error) {
	params := url.Values{}
	params.Set("PrimaryRoleId", PrimaryRoleGP)
	params.Set("Status", "Active")
	if name != "" {
		params.Set("Name", name)
	}
	if postcode != "" {
		params.Set("PostCode", postcode)
	}
	if c.limit > 0 {
		params.Set("Limit", strconv.Itoa(c.limit))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/organisations?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error performing request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	// ODS answers 406 when nothing matches
	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusNotAcceptable {
		return []Practice{}, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("ODS request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var result searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("error decoding ODS response: %w", err)
	}

	practices := lo.FilterMap(result.Organisations, func(o organisation, _ int) (Practice, bool) {
		if !strings.EqualFold(o.Status, "Active") {
			return Practice{}, false
		}
		return Practice{
			Code:        o.OrgID,
			Name:        o.Name,
			PostCode:    o.PostCode,
			Status:      o.Status,
			LastChanged: o.LastChangeDate,
			Link:        o.OrgLink,
		}, true
	})
	log.Debug("GP practice search", "name", name, "postcode", postcode, "results", len(practices))
	return practices, nil
}
