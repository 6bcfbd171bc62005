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

// memberSelect restricts the fields Graph returns per member, keeping pagination responses small.
const memberSelect = "id,mail,displayName,userPrincipalName"

// memberPageSize is the fixed page size requested for group member enumeration (spec.md §4.2).
const memberPageSize = 100

// graphMember is the subset of a Microsoft Graph directoryObject this client reads.
type graphMember struct {
	ID                string `json:"id"`
	Mail              string `json:"mail"`
	DisplayName       string `json:"displayName"`
	UserPrincipalName string `json:"userPrincipalName"`
}

type memberPage struct {
	Value    []graphMember `json:"value"`
	NextLink string        `json:"@odata.nextLink"`
}

// tokenSource supplies bearer tokens for upstream calls. *Credential implements it; tests substitute a fake.
type tokenSource interface {
	BearerToken(ctx context.Context) (string, error)
}

// MemberClient enumerates the members of a directory group. It retries transient failures since enumeration is
// read-only and naturally idempotent.
type MemberClient struct {
	http    *retryablehttp.Client
	cred    tokenSource
	baseURL string
	timeout time.Duration
}

// NewMemberClient builds a MemberClient. timeout bounds the entire paginated enumeration, not any single page.
func NewMemberClient(baseURL string, cred *Credential, timeout time.Duration) *MemberClient {
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.Logger = nil

	return &MemberClient{http: client, cred: cred, baseURL: strings.TrimRight(baseURL, "/"), timeout: timeout}
}

// EnumerateGroupMembers implements scope.MemberSource.
func (c *MemberClient) EnumerateGroupMembers(ctx context.Context, groupID string) ([]resource.Member, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	url := fmt.Sprintf("%s/v1.0/groups/%s/members?$select=%s&$top=%d", c.baseURL, groupID, memberSelect, memberPageSize)

	var members []resource.Member
	for url != "" {
		page, err := c.fetchPage(ctx, url)
		if err != nil {
			return nil, err
		}
		for _, gm := range page.Value {
			members = append(members, resource.Member{
				ID:          gm.ID,
				Mail:        coalesce(gm.Mail, gm.UserPrincipalName),
				DisplayName: gm.DisplayName,
			})
		}
		url = page.NextLink
	}

	return members, nil
}

func (c *MemberClient) fetchPage(ctx context.Context, url string) (*memberPage, error) {
	token, err := c.cred.BearerToken(ctx)
	if err != nil {
		return nil, err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build enumeration request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("enumerate group members: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("enumerate group members: upstream status %d", resp.StatusCode)
	}

	var page memberPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("decode member page: %w", err)
	}
	return &page, nil
}

func coalesce(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
