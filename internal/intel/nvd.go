package intel

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/okanyucel2/genesis-bigr-discovery-sub001/internal/circuitbreaker"
)

const nvdBaseURL = "https://services.nvd.nist.gov/rest/json/cves/2.0"

// NVD asks anonymous clients to stay under 5 requests per 30 seconds and
// keyed clients under 50; one request per 6s (0.6s keyed) keeps a scan
// safely inside both.
const (
	nvdAnonymousSpacing = 6 * time.Second
	nvdKeyedSpacing     = 600 * time.Millisecond
	nvdCacheTTL         = time.Hour
	nvdMaxResults       = 20
)

// NVDClient queries the NVD CVE API 2.0 for the vulnerabilities known
// against one CPE. Requests are spaced globally across goroutines and
// answered from cache when a recent identical lookup exists.
type NVDClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	breaker    *circuitbreaker.CircuitBreaker
	cache      Cache
	logger     *log.Logger

	mu       sync.Mutex
	nextSlot time.Time
	spacing  time.Duration
}

func NewNVDClient(apiKey string, cache Cache, breaker *circuitbreaker.CircuitBreaker) *NVDClient {
	spacing := nvdAnonymousSpacing
	if apiKey != "" {
		spacing = nvdKeyedSpacing
	}
	return &NVDClient{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    nvdBaseURL,
		apiKey:     apiKey,
		breaker:    breaker,
		cache:      cache,
		logger:     log.New(log.Writer(), "[INTEL] ", log.LstdFlags),
		spacing:    spacing,
	}
}

type nvdMetric struct {
	CVSSData struct {
		BaseScore float64 `json:"baseScore"`
	} `json:"cvssData"`
}

type nvdResponse struct {
	Vulnerabilities []struct {
		CVE struct {
			ID           string `json:"id"`
			Descriptions []struct {
				Lang  string `json:"lang"`
				Value string `json:"value"`
			} `json:"descriptions"`
			Metrics struct {
				V31 []nvdMetric `json:"cvssMetricV31"`
				V30 []nvdMetric `json:"cvssMetricV30"`
				V2  []nvdMetric `json:"cvssMetricV2"`
			} `json:"metrics"`
		} `json:"cve"`
	} `json:"vulnerabilities"`
}

// CVEsForCPE looks up the CVEs recorded against cpe:2.3:a:vendor:product:version.
func (c *NVDClient) CVEsForCPE(ctx context.Context, vendor, product, version string) ([]CVE, error) {
	cpe := fmt.Sprintf("cpe:2.3:a:%s:%s:%s", vendor, product, version)
	cacheKey := "nvd:" + cpe

	if c.cache != nil {
		if raw, ok := c.cache.Get(ctx, cacheKey); ok {
			var cached []CVE
			if err := json.Unmarshal(raw, &cached); err == nil {
				return cached, nil
			}
		}
	}

	var out []CVE
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		if err := c.waitTurn(ctx); err != nil {
			return err
		}

		u := fmt.Sprintf("%s?cpeName=%s&resultsPerPage=%d", c.baseURL, url.QueryEscape(cpe), nvdMaxResults)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return err
		}
		if c.apiKey != "" {
			req.Header.Set("apiKey", c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("nvd request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			io.Copy(io.Discard, resp.Body)
			return fmt.Errorf("nvd status %d for %s", resp.StatusCode, cpe)
		}

		var parsed nvdResponse
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return fmt.Errorf("nvd decode: %w", err)
		}

		for _, v := range parsed.Vulnerabilities {
			cve := CVE{ID: v.CVE.ID}
			for _, d := range v.CVE.Descriptions {
				if d.Lang == "en" {
					cve.Description = d.Value
					break
				}
			}
			switch {
			case len(v.CVE.Metrics.V31) > 0:
				cve.CVSS, cve.HasCVSS = v.CVE.Metrics.V31[0].CVSSData.BaseScore, true
			case len(v.CVE.Metrics.V30) > 0:
				cve.CVSS, cve.HasCVSS = v.CVE.Metrics.V30[0].CVSSData.BaseScore, true
			case len(v.CVE.Metrics.V2) > 0:
				cve.CVSS, cve.HasCVSS = v.CVE.Metrics.V2[0].CVSSData.BaseScore, true
			}
			out = append(out, cve)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if c.cache != nil {
		if raw, err := json.Marshal(out); err == nil {
			c.cache.Set(ctx, cacheKey, raw, nvdCacheTTL)
		}
	}
	return out, nil
}

// waitTurn reserves the next request slot. Concurrent lookups queue up
// behind each other so the global spacing holds no matter how many
// modules are scanning.
func (c *NVDClient) waitTurn(ctx context.Context) error {
	c.mu.Lock()
	now := time.Now()
	wait := c.nextSlot.Sub(now)
	if wait < 0 {
		wait = 0
	}
	c.nextSlot = now.Add(wait + c.spacing)
	c.mu.Unlock()

	if wait == 0 {
		return nil
	}
	select {
	case <-time.After(wait):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
