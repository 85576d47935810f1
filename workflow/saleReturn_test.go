package workflow

import (
	"testing"

	"bitbucket.org/mmdatafocus/retail_backend/models"
)

func batch(purchaseDetailId int, qty, unitCost string) *models.SaleDetailBatch {
	return &models.SaleDetailBatch{
		PurchaseDetailId: purchaseDetailId,
		Qty:              dec(qty),
		UnitCost:         dec(unitCost),
	}
}

func TestCarveReturnSlice_FirstReturnTakesTheTail(t *testing.T) {
	batches := []*models.SaleDetailBatch{
		batch(1, "10", "5"),
		batch(2, "5", "7"),
	}

	restore, shortfall := carveReturnSlice(batches, dec("0"), dec("3"))

	if !shortfall.IsZero() {
		t.Fatalf("expected no shortfall, got %s", shortfall)
	}
	if len(restore) != 1 {
		t.Fatalf("expected 1 restore slice, got %d", len(restore))
	}
	if restore[0].PurchaseDetailId != 2 || !restore[0].Qty.Equal(dec("3")) {
		t.Fatalf("expected 3 back to layer 2, got id=%d qty=%s", restore[0].PurchaseDetailId, restore[0].Qty)
	}
	if !restore[0].TotalCost.Equal(dec("21")) {
		t.Fatalf("expected cost 21, got %s", restore[0].TotalCost)
	}
}

func TestCarveReturnSlice_SecondReturnSkipsWhatWentBack(t *testing.T) {
	batches := []*models.SaleDetailBatch{
		batch(1, "10", "5"),
		batch(2, "5", "7"),
	}

	// 3 already returned (all from batch 2); this return spans the remaining
	// 2 of batch 2 and 2 of batch 1.
	restore, shortfall := carveReturnSlice(batches, dec("3"), dec("4"))

	if !shortfall.IsZero() {
		t.Fatalf("expected no shortfall, got %s", shortfall)
	}
	if len(restore) != 2 {
		t.Fatalf("expected 2 restore slices, got %d", len(restore))
	}
	if restore[0].PurchaseDetailId != 2 || !restore[0].Qty.Equal(dec("2")) {
		t.Fatalf("expected 2 back to layer 2 first, got id=%d qty=%s", restore[0].PurchaseDetailId, restore[0].Qty)
	}
	if restore[1].PurchaseDetailId != 1 || !restore[1].Qty.Equal(dec("2")) {
		t.Fatalf("expected 2 back to layer 1 next, got id=%d qty=%s", restore[1].PurchaseDetailId, restore[1].Qty)
	}
	// 2*7 + 2*5
	totalCost := restore[0].TotalCost.Add(restore[1].TotalCost)
	if !totalCost.Equal(dec("24")) {
		t.Fatalf("expected restored cost 24, got %s", totalCost)
	}
}

func TestCarveReturnSlice_FullReturnRoundTrip(t *testing.T) {
	batches := []*models.SaleDetailBatch{
		batch(1, "10", "5"),
		batch(2, "5", "7"),
	}

	restore, shortfall := carveReturnSlice(batches, dec("0"), dec("15"))

	if !shortfall.IsZero() {
		t.Fatalf("expected no shortfall, got %s", shortfall)
	}
	totalQty := dec("0")
	totalCost := dec("0")
	for _, r := range restore {
		totalQty = totalQty.Add(r.Qty)
		totalCost = totalCost.Add(r.TotalCost)
	}
	if !totalQty.Equal(dec("15")) {
		t.Fatalf("expected full 15 restored, got %s", totalQty)
	}
	// 10*5 + 5*7: a full return restores exactly the original COGS
	if !totalCost.Equal(dec("85")) {
		t.Fatalf("expected restored cost 85, got %s", totalCost)
	}
}

func TestCarveReturnSlice_OverReturnReportsShortfall(t *testing.T) {
	batches := []*models.SaleDetailBatch{
		batch(1, "10", "5"),
	}

	_, shortfall := carveReturnSlice(batches, dec("4"), dec("7"))

	if !shortfall.Equal(dec("1")) {
		t.Fatalf("expected shortfall 1, got %s", shortfall)
	}
}
