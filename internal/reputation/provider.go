package reputation

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"time"
)

// provider is the external reputation lookup/report client (spec section
// 4.4 steps 5-6). Its shape -- one struct holding a *http.Client and a base
// URL, one method per remote operation, context-scoped timeouts -- follows
// the plain HTTP client style used for the inference backend in the pack's
// ollama client, rather than generating a heavier SDK wrapper.
type provider struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

func newProvider(apiKey string) *provider {
	return &provider{
		httpClient: &http.Client{Timeout: 5 * time.Second},
		baseURL:    "https://api.abuseipdb.com/api/v2",
		apiKey:     apiKey,
	}
}

type lookupResponse struct {
	Data struct {
		AbuseConfidenceScore int    `json:"abuseConfidenceScore"`
		TotalReports         int    `json:"totalReports"`
		CountryCode          string `json:"countryCode"`
		ISP                  string `json:"isp"`
		Reports              []struct {
			Categories []int `json:"categories"`
		} `json:"reports"`
	} `json:"data"`
}

// lookup performs the external IP check. categories returned are deduped
// and capped at the first 10, per spec section 4.4.
func (p *provider) lookup(ctx context.Context, ip string) (Record, error) {
	u, err := url.Parse(p.baseURL + "/check")
	if err != nil {
		return Record{}, err
	}
	q := u.Query()
	q.Set("ipAddress", ip)
	q.Set("maxAgeInDays", "90")
	q.Set("verbose", "")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Record{}, err
	}
	req.Header.Set("Key", p.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return Record{}, fmt.Errorf("reputation provider request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Record{}, fmt.Errorf("reputation provider status %d", resp.StatusCode)
	}

	var parsed lookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Record{}, fmt.Errorf("reputation provider decode: %w", err)
	}

	categories := dedupCategories(parsed.Data.Reports)

	return Record{
		Score:       parsed.Data.AbuseConfidenceScore,
		Reports:     parsed.Data.TotalReports,
		Categories:  categories,
		Country:     parsed.Data.CountryCode,
		ISP:         parsed.Data.ISP,
		LastChecked: time.Now(),
	}, nil
}

func dedupCategories(reports []struct {
	Categories []int `json:"categories"`
}) []int {
	seen := make(map[int]struct{})
	out := make([]int, 0, 10)
	for _, r := range reports {
		for _, c := range r.Categories {
			if _, ok := seen[c]; ok {
				continue
			}
			seen[c] = struct{}{}
			out = append(out, c)
			if len(out) == 10 {
				sort.Ints(out)
				return out
			}
		}
	}
	sort.Ints(out)
	return out
}

// report submits an abuse report for ip (spec section 4.4's Report
// operation).
func (p *provider) report(ctx context.Context, ip string, categories []int, comment string) error {
	u := p.baseURL + "/report"

	cats := make([]byte, 0, 32)
	for i, c := range categories {
		if i > 0 {
			cats = append(cats, ',')
		}
		cats = append(cats, []byte(fmt.Sprintf("%d", c))...)
	}

	form := url.Values{}
	form.Set("ip", ip)
	form.Set("categories", string(cats))
	form.Set("comment", comment)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	if err != nil {
		return err
	}
	req.URL.RawQuery = form.Encode()
	req.Header.Set("Key", p.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("reputation report request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("reputation report status %d", resp.StatusCode)
	}
	return nil
}
