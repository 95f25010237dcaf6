package ingest

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/aristath/cryptocore/pkg/types"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestMergeLevelsRemovesZeroQuantity(t *testing.T) {
	base := []types.L2Level{{Price: d("100"), Quantity: d("1")}, {Price: d("99"), Quantity: d("2")}}
	delta := []types.L2Level{{Price: d("99"), Quantity: d("0")}}

	merged := mergeLevels(base, delta, true)
	if len(merged) != 1 || !merged[0].Price.Equal(d("100")) {
		t.Fatalf("expected only price 100 to remain, got %+v", merged)
	}
}

func TestMergeLevelsSortsDescendingForBids(t *testing.T) {
	base := []types.L2Level{{Price: d("100"), Quantity: d("1")}}
	delta := []types.L2Level{{Price: d("105"), Quantity: d("1")}, {Price: d("95"), Quantity: d("1")}}

	merged := mergeLevels(base, delta, true)
	if len(merged) != 3 {
		t.Fatalf("expected 3 levels, got %d", len(merged))
	}
	for i := 1; i < len(merged); i++ {
		if merged[i-1].Price.LessThan(merged[i].Price) {
			t.Fatalf("expected descending order, got %+v", merged)
		}
	}
}

func TestParseLevelsDropsUnparsable(t *testing.T) {
	in := []wireLevel{{Price: "100", Qty: "1"}, {Price: "not-a-number", Qty: "1"}}
	out := parseLevels(in)
	if len(out) != 1 {
		t.Fatalf("expected 1 parsed level, got %d", len(out))
	}
}
