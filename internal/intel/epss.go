package intel

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/okanyucel2/genesis-bigr-discovery-sub001/internal/circuitbreaker"
)

const epssBaseURL = "https://api.first.org/data/v1/epss"

// EPSSClient fetches exploit prediction scores from FIRST.org. One call
// covers a whole batch of CVE IDs.
type EPSSClient struct {
	httpClient *http.Client
	baseURL    string
	breaker    *circuitbreaker.CircuitBreaker
	logger     *log.Logger
}

func NewEPSSClient(breaker *circuitbreaker.CircuitBreaker) *EPSSClient {
	return &EPSSClient{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		baseURL:    epssBaseURL,
		breaker:    breaker,
		logger:     log.New(log.Writer(), "[INTEL] ", log.LstdFlags),
	}
}

type epssResponse struct {
	Data []struct {
		CVE  string `json:"cve"`
		EPSS string `json:"epss"`
	} `json:"data"`
}

// Scores returns the EPSS probability for each requested CVE. IDs the
// feed does not know are simply absent from the result.
func (c *EPSSClient) Scores(ctx context.Context, cveIDs []string) (map[string]float64, error) {
	if len(cveIDs) == 0 {
		return map[string]float64{}, nil
	}

	out := make(map[string]float64, len(cveIDs))
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		u := c.baseURL + "?cve=" + strings.Join(cveIDs, ",")
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return err
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("epss request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			io.Copy(io.Discard, resp.Body)
			return fmt.Errorf("epss status %d", resp.StatusCode)
		}

		var parsed epssResponse
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return fmt.Errorf("epss decode: %w", err)
		}

		// The feed serializes scores as strings.
		for _, row := range parsed.Data {
			score, err := strconv.ParseFloat(row.EPSS, 64)
			if err != nil {
				continue
			}
			out[row.CVE] = score
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
