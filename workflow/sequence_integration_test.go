package workflow_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/retail_backend/config"
	"bitbucket.org/mmdatafocus/retail_backend/models"
	"bitbucket.org/mmdatafocus/retail_backend/workflow"
)

func newPendingPurchase(t *testing.T, ctx context.Context, supplierId int, productId int) *models.Purchase {
	t.Helper()
	purchase, err := workflow.CreatePurchase(ctx, &models.NewPurchase{
		SupplierId:   supplierId,
		PurchaseDate: time.Now(),
		Details: []models.NewPurchaseDetail{
			{ProductId: productId, Qty: d(t, "1"), UnitCost: d(t, "5")},
		},
	})
	if err != nil {
		t.Fatalf("CreatePurchase: %v", err)
	}
	return purchase
}

func TestDocumentNumbersSurviveCounterLoss(t *testing.T) {
	setupIntegration(t)
	ctx, biz, product := newTestTenant(t)
	supplier := newTestSupplier(t, ctx)

	first := newPendingPurchase(t, ctx, supplier.ID, product.ID)

	// simulate a flushed redis: the counter must reseed from the committed
	// max, not restart at 1
	counterKey := biz.ID.String() + "-purchase_seq"
	if err := config.RemoveRedisKey(counterKey); err != nil {
		t.Fatalf("RemoveRedisKey: %v", err)
	}

	second := newPendingPurchase(t, ctx, supplier.ID, product.ID)

	if second.PurchaseNumber == first.PurchaseNumber {
		t.Fatalf("purchase number %s reissued after counter loss", first.PurchaseNumber)
	}
	if !second.SequenceNo.GreaterThan(first.SequenceNo) {
		t.Fatalf("sequence went backwards after counter loss: first=%s second=%s",
			first.SequenceNo.String(), second.SequenceNo.String())
	}
}

func TestConcurrentPurchaseNumbersAreDistinct(t *testing.T) {
	setupIntegration(t)
	ctx, _, product := newTestTenant(t)
	supplier := newTestSupplier(t, ctx)

	const workers = 4
	qty := d(t, "1")
	unitCost := d(t, "5")
	var wg sync.WaitGroup
	numbers := make(chan string, workers)
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			purchase, err := workflow.CreatePurchase(ctx, &models.NewPurchase{
				SupplierId:   supplier.ID,
				PurchaseDate: time.Now(),
				Details: []models.NewPurchaseDetail{
					{ProductId: product.ID, Qty: qty, UnitCost: unitCost},
				},
			})
			if err != nil {
				errs <- err
				return
			}
			numbers <- purchase.PurchaseNumber
		}()
	}
	wg.Wait()
	close(numbers)
	close(errs)

	for err := range errs {
		t.Fatalf("concurrent CreatePurchase: %v", err)
	}
	seen := make(map[string]bool)
	for number := range numbers {
		if seen[number] {
			t.Fatalf("purchase number %s issued twice", number)
		}
		seen[number] = true
	}
	if len(seen) != workers {
		t.Fatalf("expected %d distinct purchase numbers, got %d", workers, len(seen))
	}
}
