package graphclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/portico-estate/graphscopeproxy/internal/resource"
)

// graphPlace is the subset of a Microsoft Graph place (room/workspace) this client reads.
type graphPlace struct {
	EmailAddress string `json:"emailAddress"`
	Capacity     *int   `json:"capacity"`
	Building     string `json:"building"`
}

type placePage struct {
	Value    []graphPlace `json:"value"`
	NextLink string       `json:"@odata.nextLink"`
}

// PlacesClient enriches already-classified resources with capacity and location data from the Graph Places
// catalogue. It never changes which resources are in scope, only fills in fields Classify could not derive from a
// display name alone.
type PlacesClient struct {
	http    *retryablehttp.Client
	cred    tokenSource
	baseURL string
	timeout time.Duration
}

// NewPlacesClient builds a PlacesClient.
func NewPlacesClient(baseURL string, cred *Credential, timeout time.Duration) *PlacesClient {
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.Logger = nil

	return &PlacesClient{http: client, cred: cred, baseURL: strings.TrimRight(baseURL, "/"), timeout: timeout}
}

// Supplement implements scope.PlacesSource. It only fills Capacity and Location fields that are still nil;
// resources that already carry values extracted from their display name are left untouched.
func (c *PlacesClient) Supplement(ctx context.Context, resources []resource.Resource) error {
	pending := make(map[string]*resource.Resource)
	for i := range resources {
		r := &resources[i]
		if r.Capacity == nil || r.Location == nil {
			pending[r.Mail] = r
		}
	}
	if len(pending) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	url := c.baseURL + "/v1.0/places/microsoft.graph.room"
	for url != "" {
		page, err := c.fetchPage(ctx, url)
		if err != nil {
			return err
		}
		for _, p := range page.Value {
			r, ok := pending[strings.ToLower(p.EmailAddress)]
			if !ok {
				continue
			}
			if r.Capacity == nil && p.Capacity != nil {
				r.Capacity = p.Capacity
			}
			if r.Location == nil && p.Building != "" {
				building := p.Building
				r.Location = &building
			}
		}
		url = page.NextLink
	}

	return nil
}

func (c *PlacesClient) fetchPage(ctx context.Context, url string) (*placePage, error) {
	token, err := c.cred.BearerToken(ctx)
	if err != nil {
		return nil, err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build places request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch places: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch places: upstream status %d", resp.StatusCode)
	}

	var page placePage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("decode places page: %w", err)
	}
	return &page, nil
}
