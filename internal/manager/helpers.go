package manager

import (
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/coachpo/streamkeeper/internal/subscription"
	"github.com/coachpo/streamkeeper/internal/venue"
)

func toSet(items []string) map[string]struct{} {
	out := make(map[string]struct{}, len(items))
	for _, i := range items {
		trimmed := strings.TrimSpace(i)
		if trimmed == "" {
			continue
		}
		out[trimmed] = struct{}{}
	}
	return out
}

func toSetUpper(items []string) map[string]struct{} {
	out := make(map[string]struct{}, len(items))
	for _, i := range items {
		trimmed := strings.TrimSpace(i)
		if trimmed == "" {
			continue
		}
		out[strings.ToUpper(trimmed)] = struct{}{}
	}
	return out
}

func unionSet(a, b map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		out[k] = struct{}{}
	}
	for k := range b {
		out[k] = struct{}{}
	}
	return out
}

func firstNonZero(d, fallback time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return fallback
}

func marshalPayload(p subscription.Payload) ([]byte, error) {
	return json.Marshal(p)
}

// classifyFamily buckets an endpoint path into the market family used
// for the per-family subscription cap (SPEC_FULL.md §9 Open Question
// 4), matching the path segments the connection table's endpoints use
// ("public/spot", "public/linear", "public/inverse", "public/option").
func classifyFamily(endpoint string) venue.MarketFamily {
	lower := strings.ToLower(endpoint)
	switch {
	case strings.Contains(lower, "linear"):
		return venue.FamilyLinear
	case strings.Contains(lower, "inverse"):
		return venue.FamilyInverse
	case strings.Contains(lower, "option"):
		return venue.FamilyOption
	default:
		return venue.FamilySpot
	}
}
