// Package subscription builds and chunks subscribe/unsubscribe payloads
// from a stream's channel × market cross product, grounded on the
// teacher's binance.chunkStreams/sendBatchedControlRequests pattern.
package subscription

import (
	"sort"
	"strings"
)

// Method is the wire-level operation name.
type Method string

const (
	MethodSubscribe   Method = "subscribe"
	MethodUnsubscribe Method = "unsubscribe"
)

// DefaultMaxItemsPerRequest is the default arg cap per payload chunk
// (spec.md §4.4, §8: ≤350 args keeps a serialized frame well under the
// 8 KiB budget).
const DefaultMaxItemsPerRequest = 350

// Payload is one subscribe/unsubscribe wire frame.
type Payload struct {
	Op   string   `json:"op"`
	Args []string `json:"args"`
}

// Encoder builds chunked subscription payloads for a stream.
type Encoder struct {
	// MaxItemsPerRequest caps the number of args per chunk. Zero means
	// DefaultMaxItemsPerRequest.
	MaxItemsPerRequest int
}

// NewEncoder builds an Encoder with the given per-request arg cap. A
// non-positive limit falls back to DefaultMaxItemsPerRequest.
func NewEncoder(maxItemsPerRequest int) *Encoder {
	if maxItemsPerRequest <= 0 {
		maxItemsPerRequest = DefaultMaxItemsPerRequest
	}
	return &Encoder{MaxItemsPerRequest: maxItemsPerRequest}
}

// Args returns the sorted "<channel>.<MARKET>" cross product of
// channels and markets, with markets upper-cased per spec.md §3/§4.4.
func Args(channels, markets map[string]struct{}) []string {
	if len(channels) == 0 || len(markets) == 0 {
		return nil
	}
	chans := make([]string, 0, len(channels))
	for c := range channels {
		chans = append(chans, c)
	}
	sort.Strings(chans)
	mkts := make([]string, 0, len(markets))
	for m := range markets {
		mkts = append(mkts, strings.ToUpper(m))
	}
	sort.Strings(mkts)

	args := make([]string, 0, len(chans)*len(mkts))
	for _, c := range chans {
		for _, m := range mkts {
			args = append(args, c+"."+m)
		}
	}
	return args
}

// Encode builds the chunked payload list for method over channels ×
// markets. An empty channel or market set yields an empty slice, per
// spec.md §4.4.
func (e *Encoder) Encode(method Method, channels, markets map[string]struct{}) []Payload {
	args := Args(channels, markets)
	if len(args) == 0 {
		return nil
	}
	limit := e.MaxItemsPerRequest
	if limit <= 0 {
		limit = DefaultMaxItemsPerRequest
	}

	chunks := chunk(args, limit)
	payloads := make([]Payload, 0, len(chunks))
	for _, c := range chunks {
		payloads = append(payloads, Payload{Op: string(method), Args: c})
	}
	return payloads
}

func chunk(items []string, size int) [][]string {
	if len(items) == 0 {
		return nil
	}
	if size <= 0 || len(items) <= size {
		out := make([]string, len(items))
		copy(out, items)
		return [][]string{out}
	}
	chunks := make([][]string, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		c := make([]string, end-start)
		copy(c, items[start:end])
		chunks = append(chunks, c)
	}
	return chunks
}
