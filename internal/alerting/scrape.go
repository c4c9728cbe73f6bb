package alerting

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"sort"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/prometheus/common/model"
)

// The parser refuses to run until a name validation scheme is chosen.
// Legacy matches what the scraped registries expose.
func init() {
	model.NameValidationScheme = model.LegacyValidation
}

// Scraper pulls Prometheus text exposition from one endpoint.
type Scraper struct {
	url    string
	client *http.Client
}

func NewScraper(url string, timeout time.Duration) *Scraper {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Scraper{url: url, client: &http.Client{Timeout: timeout}}
}

// Scrape fetches and parses the metric families.
func (s *Scraper) Scrape(ctx context.Context) (map[string]*dto.MetricFamily, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build scrape request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("scrape %s: %w", s.url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("scrape %s: status %d", s.url, resp.StatusCode)
	}

	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse metrics from %s: %w", s.url, err)
	}
	return families, nil
}

// counterSum adds a counter family across all its label sets. Untyped
// families count too since scrape targets differ in how they annotate.
func counterSum(families map[string]*dto.MetricFamily, name string) (float64, bool) {
	fam, ok := families[name]
	if !ok {
		return 0, false
	}
	var sum float64
	for _, m := range fam.GetMetric() {
		switch {
		case m.GetCounter() != nil:
			sum += m.GetCounter().GetValue()
		case m.GetUntyped() != nil:
			sum += m.GetUntyped().GetValue()
		case m.GetGauge() != nil:
			sum += m.GetGauge().GetValue()
		}
	}
	return sum, true
}

// histogramP95 estimates the 95th percentile from cumulative buckets,
// merged across label sets, with linear interpolation inside the bucket.
func histogramP95(families map[string]*dto.MetricFamily, name string) (float64, bool) {
	fam, ok := families[name]
	if !ok {
		return 0, false
	}

	merged := map[float64]uint64{}
	var total uint64
	for _, m := range fam.GetMetric() {
		h := m.GetHistogram()
		if h == nil {
			continue
		}
		total += h.GetSampleCount()
		for _, b := range h.GetBucket() {
			merged[b.GetUpperBound()] += b.GetCumulativeCount()
		}
	}
	if total == 0 || len(merged) == 0 {
		return 0, false
	}

	bounds := make([]float64, 0, len(merged))
	for ub := range merged {
		bounds = append(bounds, ub)
	}
	sort.Float64s(bounds)

	target := 0.95 * float64(total)
	var prevBound float64
	var prevCount uint64
	for _, ub := range bounds {
		count := merged[ub]
		if float64(count) >= target {
			if math.IsInf(ub, 1) {
				return prevBound, true
			}
			span := float64(count - prevCount)
			if span == 0 {
				return ub, true
			}
			frac := (target - float64(prevCount)) / span
			return prevBound + (ub-prevBound)*frac, true
		}
		prevBound, prevCount = ub, count
	}
	last := bounds[len(bounds)-1]
	if math.IsInf(last, 1) {
		return prevBound, true
	}
	return last, true
}
