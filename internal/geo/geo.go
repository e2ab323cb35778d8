package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/dukerupert/saga/internal/domain"
)

// Service resolves request IPs to coarse locations via an external
// lookup endpoint. Lookups are best effort: failures return an empty
// location, never an error the checkout flow would act on.
type Service struct {
	baseURL string
	client  *http.Client
	logger  zerolog.Logger
}

func NewService(baseURL string, logger zerolog.Logger) *Service {
	return &Service{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 2 * time.Second},
		logger:  logger.With().Str("component", "geo").Logger(),
	}
}

type lookupResponse struct {
	CountryCode string `json:"countryCode"`
	Region      string `json:"region"`
}

// LookupGeo resolves one IP. Private and malformed addresses resolve to
// an empty location without a network call.
func (s *Service) LookupGeo(ctx context.Context, ip string) (domain.Geo, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil || parsed.IsPrivate() || parsed.IsLoopback() {
		return domain.Geo{}, nil
	}

	endpoint := fmt.Sprintf("%s/json/%s", s.baseURL, url.PathEscape(ip))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.Geo{}, nil
	}

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Debug().Err(err).Msg("geo lookup failed")
		return domain.Geo{}, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.Geo{}, nil
	}

	var body lookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return domain.Geo{}, nil
	}

	return domain.Geo{Country: body.CountryCode, Region: body.Region}, nil
}
