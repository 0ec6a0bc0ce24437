// File: internal/terms/source.go
package terms

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/rewards-cli/internal/network"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// xssiPrefix guards the trends payload against JSON hijacking.
var xssiPrefix = []byte(")]}',")

// Getter is the subset of network.Client the providers need.
type Getter interface {
	Get(ctx context.Context, url string, opts ...network.RequestOption) ([]byte, int, error)
}

// SourceConfig configures the trending provider.
type SourceConfig struct {
	Endpoint        string
	MaxLookbackDays int
	ParallelDays    int
}

// Source pulls candidate terms from the daily trending-searches feed.
type Source struct {
	client Getter
	cfg    SourceConfig
	logger *zap.Logger
	now    func() time.Time
}

// NewSource creates a trending provider client.
func NewSource(client Getter, cfg SourceConfig, logger *zap.Logger) *Source {
	if cfg.MaxLookbackDays <= 0 {
		cfg.MaxLookbackDays = 30
	}
	if cfg.ParallelDays <= 0 {
		cfg.ParallelDays = 1
	}
	return &Source{
		client: client,
		cfg:    cfg,
		logger: logger.Named("trends"),
		now:    time.Now,
	}
}

type trendsPayload struct {
	Default struct {
		TrendingSearchesDays []struct {
			Date             string `json:"date"`
			TrendingSearches []struct {
				Title struct {
					Query string `json:"query"`
				} `json:"title"`
				RelatedQueries []struct {
					Query string `json:"query"`
				} `json:"relatedQueries"`
			} `json:"trendingSearches"`
		} `json:"trendingSearchesDays"`
	} `json:"default"`
}

// parseTrends decodes one day of the feed into normalized terms, each topic
// contributing its title query followed by its related queries.
func parseTrends(body []byte) ([]string, error) {
	body = bytes.TrimSpace(body)
	body = bytes.TrimPrefix(body, xssiPrefix)

	var payload trendsPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode trends payload: %w", err)
	}
	days := payload.Default.TrendingSearchesDays
	if len(days) == 0 {
		return nil, fmt.Errorf("trends payload has no trendingSearchesDays")
	}

	var out []string
	for _, topic := range days[0].TrendingSearches {
		if q := Normalize(topic.Title.Query); q != "" {
			out = append(out, q)
		}
		for _, rel := range topic.RelatedQueries {
			if q := Normalize(rel.Query); q != "" {
				out = append(out, q)
			}
		}
	}
	return out, nil
}

func (s *Source) dayURL(locale Locale, daysBack int) string {
	q := url.Values{}
	q.Set("hl", locale.Language)
	q.Set("ed", s.now().AddDate(0, 0, -daysBack).Format("20060102"))
	q.Set("geo", locale.Geo)
	q.Set("ns", "15")
	return s.cfg.Endpoint + "?" + q.Encode()
}

func (s *Source) fetchDay(ctx context.Context, locale Locale, daysBack int) ([]string, error) {
	u := s.dayURL(locale, daysBack)
	body, status, err := s.client.Get(ctx, u)
	if err != nil {
		return nil, &SourceError{Provider: "trends", URL: u, Err: err}
	}
	if status != http.StatusOK {
		return nil, &SourceError{Provider: "trends", URL: u, StatusCode: status}
	}
	terms, err := parseTrends(body)
	if err != nil {
		return nil, &SourceError{Provider: "trends", URL: u, StatusCode: status, Err: err}
	}
	return terms, nil
}

// Fetch returns exactly count distinct normalized terms. The window widens
// one day at a time starting yesterday; days are requested ParallelDays at a
// time and merged in day order so the result is independent of response
// timing. Running out of lookback days before count terms accumulate is a
// DataSourceError, as is any failed day.
func (s *Source) Fetch(ctx context.Context, count int, locale Locale) ([]string, error) {
	if count <= 0 {
		return nil, nil
	}

	seen := make(map[string]struct{}, count)
	terms := make([]string, 0, count)

	for start := 1; start <= s.cfg.MaxLookbackDays; start += s.cfg.ParallelDays {
		end := min(start+s.cfg.ParallelDays-1, s.cfg.MaxLookbackDays)
		batch := make([][]string, end-start+1)

		g, gctx := errgroup.WithContext(ctx)
		for day := start; day <= end; day++ {
			g.Go(func() error {
				dayTerms, err := s.fetchDay(gctx, locale, day)
				if err != nil {
					return err
				}
				batch[day-start] = dayTerms
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		for _, dayTerms := range batch {
			for _, t := range dayTerms {
				if _, dup := seen[t]; dup {
					continue
				}
				seen[t] = struct{}{}
				terms = append(terms, t)
			}
		}
		s.logger.Debug("Fetched trending window",
			zap.Int("days_back", end),
			zap.Int("unique_terms", len(terms)),
			zap.Int("wanted", count))

		if len(terms) >= count {
			return terms[:count], nil
		}
	}

	return nil, &SourceError{
		Provider: "trends",
		URL:      s.cfg.Endpoint,
		Err: fmt.Errorf("only %d unique terms within %d days for %s, wanted %d",
			len(terms), s.cfg.MaxLookbackDays, locale, count),
	}
}
