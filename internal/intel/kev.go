package intel

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/okanyucel2/genesis-bigr-discovery-sub001/internal/circuitbreaker"
)

const (
	kevFeedURL  = "https://www.cisa.gov/sites/default/files/feeds/known_exploited_vulnerabilities.json"
	kevCacheTTL = 24 * time.Hour
	kevCacheKey = "kev:catalog"
)

// KEVCatalog answers "is this CVE known to be exploited in the wild"
// from CISA's catalog. The catalog is fetched at most once per day; the
// refresh is single-flight so a burst of concurrent scans cannot stampede
// the feed.
type KEVCatalog struct {
	httpClient *http.Client
	feedURL    string
	breaker    *circuitbreaker.CircuitBreaker
	cache      Cache
	logger     *log.Logger

	refreshMu sync.Mutex
	mu        sync.RWMutex
	ids       map[string]bool
	fetchedAt time.Time
}

func NewKEVCatalog(cache Cache, breaker *circuitbreaker.CircuitBreaker) *KEVCatalog {
	return &KEVCatalog{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		feedURL:    kevFeedURL,
		breaker:    breaker,
		cache:      cache,
		logger:     log.New(log.Writer(), "[INTEL] ", log.LstdFlags),
		ids:        make(map[string]bool),
	}
}

type kevFeed struct {
	Vulnerabilities []struct {
		CVEID string `json:"cveID"`
	} `json:"vulnerabilities"`
}

// Contains reports whether cveID appears in the catalog. A refresh
// failure degrades to "not listed" so KEV never blocks a CVE lookup.
func (k *KEVCatalog) Contains(ctx context.Context, cveID string) bool {
	if err := k.ensureFresh(ctx); err != nil {
		k.logger.Printf("⚠️ KEV refresh failed, treating catalog as empty: %v", err)
	}

	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.ids[cveID]
}

// Size returns the number of cataloged CVEs (0 before the first load).
func (k *KEVCatalog) Size() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.ids)
}

func (k *KEVCatalog) ensureFresh(ctx context.Context) error {
	k.mu.RLock()
	fresh := !k.fetchedAt.IsZero() && time.Since(k.fetchedAt) < kevCacheTTL
	k.mu.RUnlock()
	if fresh {
		return nil
	}

	// One flight at a time; whoever loses the race re-checks freshness.
	k.refreshMu.Lock()
	defer k.refreshMu.Unlock()

	k.mu.RLock()
	fresh = !k.fetchedAt.IsZero() && time.Since(k.fetchedAt) < kevCacheTTL
	k.mu.RUnlock()
	if fresh {
		return nil
	}

	if k.cache != nil {
		if raw, ok := k.cache.Get(ctx, kevCacheKey); ok {
			if k.load(raw) == nil {
				return nil
			}
		}
	}

	var raw []byte
	err := k.breaker.Execute(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, k.feedURL, nil)
		if err != nil {
			return err
		}
		resp, err := k.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("kev request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			io.Copy(io.Discard, resp.Body)
			return fmt.Errorf("kev status %d", resp.StatusCode)
		}
		raw, err = io.ReadAll(resp.Body)
		return err
	})
	if err != nil {
		return err
	}

	if err := k.load(raw); err != nil {
		return err
	}
	if k.cache != nil {
		k.cache.Set(ctx, kevCacheKey, raw, kevCacheTTL)
	}
	k.logger.Printf("✅ KEV catalog loaded: %d exploited CVEs", k.Size())
	return nil
}

func (k *KEVCatalog) load(raw []byte) error {
	var feed kevFeed
	if err := json.Unmarshal(raw, &feed); err != nil {
		return fmt.Errorf("kev decode: %w", err)
	}

	ids := make(map[string]bool, len(feed.Vulnerabilities))
	for _, v := range feed.Vulnerabilities {
		ids[v.CVEID] = true
	}

	k.mu.Lock()
	k.ids = ids
	k.fetchedAt = time.Now()
	k.mu.Unlock()
	return nil
}
