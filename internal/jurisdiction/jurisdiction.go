// Package jurisdiction maps a relay's hostname to an IP, country, ASN and
// hosting-provider flag (§4.7). The ip-api.com-style JSON endpoint is
// fetched with a plain http.Client and picked apart with gjson, the same
// ad-hoc-JSON style internal/prober uses for NIP-11 metadata, since no
// example in the pack carries a typed client for any particular geo-IP
// provider. Outbound calls are throttled with golang.org/x/time/rate, the
// same limiter r3e-network/service_layer's middleware uses to protect a
// scarce upstream, since the free-tier geo API caps requests per minute.
package jurisdiction

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/relaytrust/relaytrust/internal/model"
	"github.com/relaytrust/relaytrust/internal/relayurl"
)

const lookupTimeout = 5 * time.Second

// geoAPIRateLimit is ip-api.com's free-tier cap (45 requests/minute),
// applied with a little headroom.
const geoAPIRateLimit = 40.0 / 60.0

// Store is the cache the resolver reads through and refreshes.
type Store interface {
	GetJurisdiction(ctx context.Context, url string) (model.JurisdictionInfo, bool, error)
	PutJurisdiction(ctx context.Context, j model.JurisdictionInfo) error
}

// Resolver resolves and caches per-relay jurisdiction info.
type Resolver struct {
	store      Store
	httpClient *http.Client
	geoAPIBase string // e.g. "http://ip-api.com/json"
	ttlSeconds int64
	limiter    *rate.Limiter
}

// New constructs a Resolver. geoAPIBase is queried as
// "<geoAPIBase>/<ip>"; ttlSeconds governs opportunistic refresh.
func New(s Store, geoAPIBase string, ttlSeconds int64) *Resolver {
	return &Resolver{
		store:      s,
		httpClient: &http.Client{Timeout: lookupTimeout},
		geoAPIBase: geoAPIBase,
		ttlSeconds: ttlSeconds,
		limiter:    rate.NewLimiter(rate.Limit(geoAPIRateLimit), 5),
	}
}

// Resolve returns the cached JurisdictionInfo for url if still fresh,
// otherwise resolves it fresh and writes the cache back.
func (r *Resolver) Resolve(ctx context.Context, canonicalURL string, now int64) (model.JurisdictionInfo, error) {
	cached, ok, err := r.store.GetJurisdiction(ctx, canonicalURL)
	if err == nil && ok && now-cached.ResolvedAt < r.ttlSeconds {
		return cached, nil
	}

	info, err := r.resolveFresh(ctx, canonicalURL, now)
	if err != nil {
		if ok {
			// Opportunistic refresh failed; serve the stale cache rather
			// than losing a known-good record.
			return cached, nil
		}
		return model.JurisdictionInfo{}, err
	}

	if err := r.store.PutJurisdiction(ctx, info); err != nil {
		return info, fmt.Errorf("jurisdiction: cache write: %w", err)
	}
	return info, nil
}

func (r *Resolver) resolveFresh(ctx context.Context, canonicalURL string, now int64) (model.JurisdictionInfo, error) {
	host, err := relayurl.Hostname(canonicalURL)
	if err != nil {
		return model.JurisdictionInfo{}, err
	}

	if strings.HasSuffix(strings.ToLower(host), ".onion") {
		return model.JurisdictionInfo{
			URL:        canonicalURL,
			IsTor:      true,
			ResolvedAt: now,
		}, nil
	}

	ip, err := r.resolveIP(ctx, host)
	if err != nil {
		return model.JurisdictionInfo{}, fmt.Errorf("jurisdiction: resolve ip for %s: %w", host, err)
	}

	info, err := r.queryGeoAPI(ctx, ip)
	if err != nil {
		return model.JurisdictionInfo{}, fmt.Errorf("jurisdiction: geo lookup for %s: %w", ip, err)
	}
	info.URL = canonicalURL
	info.IP = ip
	info.ResolvedAt = now
	return info, nil
}

func (r *Resolver) resolveIP(ctx context.Context, host string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()

	var resolver net.Resolver
	addrs, err := resolver.LookupHost(ctx, host)
	if err != nil {
		return "", err
	}
	if len(addrs) == 0 {
		return "", fmt.Errorf("no addresses for %s", host)
	}
	return addrs[0], nil
}

func (r *Resolver) queryGeoAPI(ctx context.Context, ip string) (model.JurisdictionInfo, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return model.JurisdictionInfo{}, fmt.Errorf("geo api: rate limit wait: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()

	url := strings.TrimRight(r.geoAPIBase, "/") + "/" + ip
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return model.JurisdictionInfo{}, err
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return model.JurisdictionInfo{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return model.JurisdictionInfo{}, fmt.Errorf("geo api status %d", resp.StatusCode)
	}

	buf, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.JurisdictionInfo{}, err
	}
	if !gjson.ValidBytes(buf) {
		return model.JurisdictionInfo{}, fmt.Errorf("geo api: invalid json")
	}

	parsed := gjson.ParseBytes(buf)
	if status := parsed.Get("status").String(); status == "fail" {
		return model.JurisdictionInfo{}, fmt.Errorf("geo api: %s", parsed.Get("message").String())
	}

	return model.JurisdictionInfo{
		CountryCode: strings.ToUpper(parsed.Get("countryCode").String()),
		Country:     parsed.Get("country").String(),
		Region:      parsed.Get("regionName").String(),
		City:        parsed.Get("city").String(),
		ISP:         parsed.Get("isp").String(),
		ASN:         parseASN(parsed.Get("as").String()),
		IsHosting:   parsed.Get("hosting").Bool(),
	}, nil
}

// parseASN extracts the leading numeric ASN from a field like "AS13335
// Cloudflare, Inc.".
func parseASN(as string) int {
	as = strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(as)), "AS")
	var n int
	var i int
	for i = 0; i < len(as) && as[i] >= '0' && as[i] <= '9'; i++ {
		n = n*10 + int(as[i]-'0')
	}
	if i == 0 {
		return 0
	}
	return n
}
