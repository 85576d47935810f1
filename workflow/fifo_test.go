package workflow

import (
	"testing"

	"bitbucket.org/mmdatafocus/retail_backend/models"
	"github.com/shopspring/decimal"
)

// NOTE: These tests are intentionally DB-free. They validate the planning
// half of the FIFO engine; the db-applying half is covered by the
// INTEGRATION_TESTS suites.

func layer(id int, remaining, unitCost string) *models.PurchaseDetail {
	return &models.PurchaseDetail{
		ID:           id,
		RemainingQty: dec(remaining),
		UnitCost:     dec(unitCost),
	}
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestAllocateAcrossLayers_OldestFirst(t *testing.T) {
	layers := []*models.PurchaseDetail{
		layer(1, "10", "5"),
		layer(2, "10", "7"),
	}

	allocations, totalCost, shortfall := allocateAcrossLayers(layers, dec("15"))

	if !shortfall.IsZero() {
		t.Fatalf("expected no shortfall, got %s", shortfall)
	}
	if len(allocations) != 2 {
		t.Fatalf("expected 2 allocations, got %d", len(allocations))
	}
	if allocations[0].PurchaseDetailId != 1 || !allocations[0].Qty.Equal(dec("10")) {
		t.Fatalf("first allocation should drain layer 1 fully, got id=%d qty=%s",
			allocations[0].PurchaseDetailId, allocations[0].Qty)
	}
	if allocations[1].PurchaseDetailId != 2 || !allocations[1].Qty.Equal(dec("5")) {
		t.Fatalf("second allocation should take 5 from layer 2, got id=%d qty=%s",
			allocations[1].PurchaseDetailId, allocations[1].Qty)
	}
	// 10*5 + 5*7
	if !totalCost.Equal(dec("85")) {
		t.Fatalf("expected total cost 85, got %s", totalCost)
	}
}

func TestAllocateAcrossLayers_InsufficientReportsShortfall(t *testing.T) {
	layers := []*models.PurchaseDetail{
		layer(1, "10", "5"),
		layer(2, "10", "7"),
	}

	allocations, _, shortfall := allocateAcrossLayers(layers, dec("25"))

	if !shortfall.Equal(dec("5")) {
		t.Fatalf("expected shortfall 5, got %s", shortfall)
	}
	// the plan is still produced, the caller decides not to apply it
	if len(allocations) != 2 {
		t.Fatalf("expected 2 planned allocations, got %d", len(allocations))
	}
}

func TestAllocateAcrossLayers_ExactLayerBoundary(t *testing.T) {
	layers := []*models.PurchaseDetail{
		layer(1, "10", "5"),
		layer(2, "10", "7"),
	}

	allocations, totalCost, shortfall := allocateAcrossLayers(layers, dec("10"))

	if !shortfall.IsZero() {
		t.Fatalf("expected no shortfall, got %s", shortfall)
	}
	if len(allocations) != 1 {
		t.Fatalf("expected 1 allocation, got %d", len(allocations))
	}
	if allocations[0].PurchaseDetailId != 1 {
		t.Fatalf("expected layer 1, got %d", allocations[0].PurchaseDetailId)
	}
	if !totalCost.Equal(dec("50")) {
		t.Fatalf("expected total cost 50, got %s", totalCost)
	}
}

func TestAllocateAcrossLayers_SkipsDrainedLayers(t *testing.T) {
	layers := []*models.PurchaseDetail{
		layer(1, "0", "5"),
		layer(2, "8", "7"),
	}

	allocations, totalCost, shortfall := allocateAcrossLayers(layers, dec("8"))

	if !shortfall.IsZero() {
		t.Fatalf("expected no shortfall, got %s", shortfall)
	}
	if len(allocations) != 1 || allocations[0].PurchaseDetailId != 2 {
		t.Fatalf("expected single allocation from layer 2, got %+v", allocations)
	}
	if !totalCost.Equal(dec("56")) {
		t.Fatalf("expected total cost 56, got %s", totalCost)
	}
}

func TestAllocateAcrossLayers_FractionalQuantities(t *testing.T) {
	layers := []*models.PurchaseDetail{
		layer(1, "2.5", "4.2"),
		layer(2, "3.75", "6"),
	}

	allocations, totalCost, shortfall := allocateAcrossLayers(layers, dec("4"))

	if !shortfall.IsZero() {
		t.Fatalf("expected no shortfall, got %s", shortfall)
	}
	if len(allocations) != 2 {
		t.Fatalf("expected 2 allocations, got %d", len(allocations))
	}
	if !allocations[1].Qty.Equal(dec("1.5")) {
		t.Fatalf("expected 1.5 from layer 2, got %s", allocations[1].Qty)
	}
	// 2.5*4.2 + 1.5*6 = 10.5 + 9
	if !totalCost.Equal(dec("19.5")) {
		t.Fatalf("expected total cost 19.5, got %s", totalCost)
	}
}

func TestAllocateAcrossLayers_Deterministic(t *testing.T) {
	build := func() []*models.PurchaseDetail {
		return []*models.PurchaseDetail{
			layer(1, "3", "10"),
			layer(2, "3", "11"),
			layer(3, "3", "12"),
		}
	}

	first, firstCost, _ := allocateAcrossLayers(build(), dec("7"))
	for run := 0; run < 50; run++ {
		allocations, totalCost, _ := allocateAcrossLayers(build(), dec("7"))
		if !totalCost.Equal(firstCost) {
			t.Fatalf("run=%d cost diverged: %s vs %s", run, totalCost, firstCost)
		}
		if len(allocations) != len(first) {
			t.Fatalf("run=%d allocation count diverged", run)
		}
		for i := range allocations {
			if allocations[i].PurchaseDetailId != first[i].PurchaseDetailId ||
				!allocations[i].Qty.Equal(first[i].Qty) {
				t.Fatalf("run=%d allocation %d diverged: %+v vs %+v", run, i, allocations[i], first[i])
			}
		}
	}
}

func TestFifoAllocationResult_UnitCost(t *testing.T) {
	result := &FifoAllocationResult{Qty: dec("15"), TotalCost: dec("85")}
	want := dec("85").Div(dec("15"))
	if !result.UnitCost().Equal(want) {
		t.Fatalf("expected unit cost %s, got %s", want, result.UnitCost())
	}

	empty := &FifoAllocationResult{Qty: decimal.Zero, TotalCost: decimal.Zero}
	if !empty.UnitCost().IsZero() {
		t.Fatalf("expected zero unit cost on empty result, got %s", empty.UnitCost())
	}
}
