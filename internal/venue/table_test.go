package venue

import "testing"

func TestLookupIsCaseAndSpaceInsensitive(t *testing.T) {
	tbl := NewTable(map[string]ConnectionInfo{
		"bybit": {BaseURI: "wss://stream.bybit.com"},
	})
	info, err := tbl.Lookup("  ByBit ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.BaseURI != "wss://stream.bybit.com" {
		t.Fatalf("unexpected base uri: %q", info.BaseURI)
	}
}

func TestLookupUnknownExchangeReturnsError(t *testing.T) {
	tbl := NewTable(nil)
	if _, err := tbl.Lookup("nonexistent"); err == nil {
		t.Fatalf("expected an error for an unknown exchange")
	}
}

func TestOverrideOnlyAppliesNonZeroFields(t *testing.T) {
	base := ConnectionInfo{
		BaseURI:    "wss://stream.bybit.com",
		APIVersion: "v5",
		ArgLimit:   350,
		MaxSubscriptionsPerStream: map[MarketFamily]int{
			FamilySpot: 10,
		},
	}
	override := ConnectionInfo{ArgLimit: 500}

	got := Override(base, override)
	if got.BaseURI != base.BaseURI {
		t.Fatalf("expected base uri to be left unchanged, got %q", got.BaseURI)
	}
	if got.ArgLimit != 500 {
		t.Fatalf("expected arg limit override to apply, got %d", got.ArgLimit)
	}
	if got.MaxSubscriptionsPerStream[FamilySpot] != 10 {
		t.Fatalf("expected existing subscription caps to survive an override with none set")
	}
}

func TestOverrideMergesSubscriptionCapsPerFamily(t *testing.T) {
	base := ConnectionInfo{
		MaxSubscriptionsPerStream: map[MarketFamily]int{
			FamilySpot:   10,
			FamilyLinear: 10,
		},
	}
	override := ConnectionInfo{
		MaxSubscriptionsPerStream: map[MarketFamily]int{
			FamilyLinear: 25,
		},
	}

	got := Override(base, override)
	if got.MaxSubscriptionsPerStream[FamilySpot] != 10 {
		t.Fatalf("expected spot cap to remain at the base value")
	}
	if got.MaxSubscriptionsPerStream[FamilyLinear] != 25 {
		t.Fatalf("expected linear cap to take the override value")
	}
}

func TestURIJoinsBaseVersionAndEndpoint(t *testing.T) {
	c := ConnectionInfo{BaseURI: "wss://stream.bybit.com/", APIVersion: "/v5/"}
	got := c.URI("/public/spot")
	want := "wss://stream.bybit.com/v5/public/spot"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestURIOmitsVersionSegmentWhenEmpty(t *testing.T) {
	c := ConnectionInfo{BaseURI: "wss://stream.bybit.com"}
	got := c.URI("public/spot")
	want := "wss://stream.bybit.com/public/spot"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
