// Package venue holds the static per-exchange connection table described
// in spec.md §6 and grounded on the original Python implementation's
// CONNECTION_SETTINGS table.
package venue

import (
	"strings"

	"github.com/coachpo/streamkeeper/internal/errs"
)

// MarketFamily is one of the subscription-cap buckets enforced on
// SubscribeToStream (spec.md §9, Open Question 4).
type MarketFamily string

const (
	FamilySpot    MarketFamily = "spot"
	FamilyLinear  MarketFamily = "linear"
	FamilyInverse MarketFamily = "inverse"
	FamilyOption  MarketFamily = "option"
)

// ConnectionInfo describes one exchange's WebSocket connection
// parameters and per-market-family subscription caps. Every field is
// overridable at Manager construction per spec.md §6.
type ConnectionInfo struct {
	BaseURI    string
	APIVersion string
	ArgLimit   int
	MaxSubscriptionsPerStream map[MarketFamily]int
}

// Table is a static, per-exchange registry of ConnectionInfo.
type Table struct {
	entries map[string]ConnectionInfo
}

// NewTable builds a Table from the given entries, keyed by lower-cased
// exchange name.
func NewTable(entries map[string]ConnectionInfo) *Table {
	normalized := make(map[string]ConnectionInfo, len(entries))
	for name, info := range entries {
		normalized[strings.ToLower(strings.TrimSpace(name))] = info
	}
	return &Table{entries: normalized}
}

// DefaultTable returns the built-in connection table, mirroring the
// shape of the original implementation's CONNECTION_SETTINGS.
func DefaultTable() *Table {
	return NewTable(map[string]ConnectionInfo{
		"bybit": {
			BaseURI:    "wss://stream.bybit.com",
			APIVersion: "v5",
			ArgLimit:   350,
			MaxSubscriptionsPerStream: map[MarketFamily]int{
				FamilySpot:    10,
				FamilyLinear:  10,
				FamilyInverse: 10,
				FamilyOption:  10,
			},
		},
		"bybit-testnet": {
			BaseURI:    "wss://stream-testnet.bybit.com",
			APIVersion: "v5",
			ArgLimit:   350,
			MaxSubscriptionsPerStream: map[MarketFamily]int{
				FamilySpot:    10,
				FamilyLinear:  10,
				FamilyInverse: 10,
				FamilyOption:  10,
			},
		},
	})
}

// Lookup returns the ConnectionInfo for exchange, or a construction
// error if the exchange is unknown (spec.md §6: "Unknown exchange names
// raise a fatal error at construction").
func (t *Table) Lookup(exchange string) (ConnectionInfo, error) {
	key := strings.ToLower(strings.TrimSpace(exchange))
	info, ok := t.entries[key]
	if !ok {
		return ConnectionInfo{}, errs.UnknownExchange(exchange)
	}
	return info, nil
}

// Override returns a copy of info with any non-zero fields of override
// applied, implementing the "each field is overrideable at manager
// construction" rule from spec.md §6.
func Override(info ConnectionInfo, override ConnectionInfo) ConnectionInfo {
	out := info
	if override.BaseURI != "" {
		out.BaseURI = override.BaseURI
	}
	if override.APIVersion != "" {
		out.APIVersion = override.APIVersion
	}
	if override.ArgLimit > 0 {
		out.ArgLimit = override.ArgLimit
	}
	if len(override.MaxSubscriptionsPerStream) > 0 {
		merged := make(map[MarketFamily]int, len(out.MaxSubscriptionsPerStream))
		for k, v := range out.MaxSubscriptionsPerStream {
			merged[k] = v
		}
		for k, v := range override.MaxSubscriptionsPerStream {
			if v > 0 {
				merged[k] = v
			}
		}
		out.MaxSubscriptionsPerStream = merged
	}
	return out
}

// URI builds the full websocket URI for an endpoint path, per spec.md
// §4.2: "<base>/<api_version>/<endpoint>".
func (c ConnectionInfo) URI(endpoint string) string {
	base := strings.TrimRight(c.BaseURI, "/")
	version := strings.Trim(c.APIVersion, "/")
	ep := strings.TrimLeft(endpoint, "/")
	if version == "" {
		return base + "/" + ep
	}
	return base + "/" + version + "/" + ep
}
