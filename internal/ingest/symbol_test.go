package ingest

import "testing"

func TestToExchangeSymbolSubstitutesXBT(t *testing.T) {
	got := ToExchangeSymbol("BTC/USD")
	if got != "XBT/USD" {
		t.Fatalf("expected XBT/USD, got %s", got)
	}
}

func TestToDisplaySymbolRoundTrips(t *testing.T) {
	got := ToDisplaySymbol(ToExchangeSymbol("BTC/USD"))
	if got != "BTC/USD" {
		t.Fatalf("expected BTC/USD, got %s", got)
	}
}

func TestToExchangeSymbolLeavesOtherAssetsAlone(t *testing.T) {
	got := ToExchangeSymbol("ETH/USD")
	if got != "ETH/USD" {
		t.Fatalf("expected ETH/USD unchanged, got %s", got)
	}
}
