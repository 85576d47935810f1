package workflow_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/retail_backend/config"
	"bitbucket.org/mmdatafocus/retail_backend/models"
	"bitbucket.org/mmdatafocus/retail_backend/utils"
	"bitbucket.org/mmdatafocus/retail_backend/workflow"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

func receiveNewPurchase(t *testing.T, ctx context.Context, supplierId int, productId int, qty, unitCost string) *models.Purchase {
	t.Helper()

	purchase, err := workflow.CreatePurchase(ctx, &models.NewPurchase{
		SupplierId:   supplierId,
		PurchaseDate: time.Now(),
		Details: []models.NewPurchaseDetail{
			{ProductId: productId, Qty: d(t, qty), UnitCost: d(t, unitCost)},
		},
	})
	if err != nil {
		t.Fatalf("CreatePurchase: %v", err)
	}
	received, err := workflow.ReceivePurchase(ctx, purchase.ID, time.Now())
	if err != nil {
		t.Fatalf("ReceivePurchase: %v", err)
	}
	return received
}

func d(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	v, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("bad decimal %q: %v", s, err)
	}
	return v
}

func assertConsistent(t *testing.T, ctx context.Context, businessId string) {
	t.Helper()
	mismatches, err := workflow.VerifyStockConsistency(ctx, config.GetDB(), logrus.New(), businessId)
	if err != nil {
		t.Fatalf("VerifyStockConsistency: %v", err)
	}
	if len(mismatches) != 0 {
		t.Fatalf("stock inconsistencies found: %+v", mismatches)
	}
}

func TestFifoCostFlowAcrossPurchaseAndSale(t *testing.T) {
	setupIntegration(t)
	ctx, biz, product := newTestTenant(t)
	supplier := newTestSupplier(t, ctx)
	customer := newTestCustomer(t, ctx)

	receiveNewPurchase(t, ctx, supplier.ID, product.ID, "10", "5")
	// later receipt, later received_at, consumed second
	time.Sleep(1100 * time.Millisecond)
	receiveNewPurchase(t, ctx, supplier.ID, product.ID, "10", "7")

	sale, err := workflow.CreateSale(ctx, &models.NewSale{
		CustomerId: customer.ID,
		SaleDate:   time.Now(),
		Details: []models.NewSaleDetail{
			{ProductId: product.ID, Qty: d(t, "15"), UnitPrice: d(t, "20")},
		},
	})
	if err != nil {
		t.Fatalf("CreateSale: %v", err)
	}

	// 10*5 + 5*7
	if !sale.TotalCost.Equal(d(t, "85")) {
		t.Fatalf("expected COGS 85, got %s", sale.TotalCost)
	}
	if !sale.TotalAmount.Equal(d(t, "300")) {
		t.Fatalf("expected amount 300, got %s", sale.TotalAmount)
	}
	if !sale.TotalProfit.Equal(d(t, "215")) {
		t.Fatalf("expected profit 215, got %s", sale.TotalProfit)
	}

	summary, err := models.GetStockSummary(ctx, product.ID)
	if err != nil {
		t.Fatalf("GetStockSummary: %v", err)
	}
	if !summary.Balance.Equal(d(t, "5")) {
		t.Fatalf("expected balance 5, got %s", summary.Balance)
	}
	// weighted average is receipt-only: (10*5 + 10*7) / 20
	if !summary.AverageCost.Equal(d(t, "6")) {
		t.Fatalf("expected average cost 6, got %s", summary.AverageCost)
	}

	assertConsistent(t, ctx, biz.ID.String())
}

func TestInsufficientStockLeavesNothingBehind(t *testing.T) {
	setupIntegration(t)
	ctx, biz, product := newTestTenant(t)
	supplier := newTestSupplier(t, ctx)
	customer := newTestCustomer(t, ctx)

	receiveNewPurchase(t, ctx, supplier.ID, product.ID, "20", "5")

	_, err := workflow.CreateSale(ctx, &models.NewSale{
		CustomerId: customer.ID,
		SaleDate:   time.Now(),
		Details: []models.NewSaleDetail{
			{ProductId: product.ID, Qty: d(t, "25"), UnitPrice: d(t, "20")},
		},
	})
	if !utils.IsErrorKind(err, utils.ErrorKindInsufficientStock) {
		t.Fatalf("expected InsufficientStock, got %v", err)
	}

	summary, err := models.GetStockSummary(ctx, product.ID)
	if err != nil {
		t.Fatalf("GetStockSummary: %v", err)
	}
	if !summary.Balance.Equal(d(t, "20")) {
		t.Fatalf("expected balance unchanged at 20, got %s", summary.Balance)
	}

	sales, err := models.GetSales(ctx)
	if err != nil {
		t.Fatalf("GetSales: %v", err)
	}
	if len(sales) != 0 {
		t.Fatalf("expected no sale rows after failed posting, got %d", len(sales))
	}

	assertConsistent(t, ctx, biz.ID.String())
}

func TestWeightedAverageRecomputedOnReceiptOnly(t *testing.T) {
	setupIntegration(t)
	ctx, _, product := newTestTenant(t)
	supplier := newTestSupplier(t, ctx)
	customer := newTestCustomer(t, ctx)

	receiveNewPurchase(t, ctx, supplier.ID, product.ID, "10", "4")
	receiveNewPurchase(t, ctx, supplier.ID, product.ID, "10", "6")

	summary, err := models.GetStockSummary(ctx, product.ID)
	if err != nil {
		t.Fatalf("GetStockSummary: %v", err)
	}
	if !summary.AverageCost.Equal(d(t, "5")) {
		t.Fatalf("expected average cost 5, got %s", summary.AverageCost)
	}
	if !summary.TotalValue.Equal(d(t, "100")) {
		t.Fatalf("expected total value 100, got %s", summary.TotalValue)
	}

	// issues must not move the average
	_, err = workflow.CreateSale(ctx, &models.NewSale{
		CustomerId: customer.ID,
		SaleDate:   time.Now(),
		Details: []models.NewSaleDetail{
			{ProductId: product.ID, Qty: d(t, "5"), UnitPrice: d(t, "9")},
		},
	})
	if err != nil {
		t.Fatalf("CreateSale: %v", err)
	}
	summary, err = models.GetStockSummary(ctx, product.ID)
	if err != nil {
		t.Fatalf("GetStockSummary: %v", err)
	}
	if !summary.AverageCost.Equal(d(t, "5")) {
		t.Fatalf("expected average cost still 5 after issue, got %s", summary.AverageCost)
	}
}

func TestSaleReturnRoundTrip(t *testing.T) {
	setupIntegration(t)
	ctx, biz, product := newTestTenant(t)
	supplier := newTestSupplier(t, ctx)
	customer := newTestCustomer(t, ctx)

	receiveNewPurchase(t, ctx, supplier.ID, product.ID, "10", "5")
	time.Sleep(1100 * time.Millisecond)
	receiveNewPurchase(t, ctx, supplier.ID, product.ID, "5", "7")

	sale, err := workflow.CreateSale(ctx, &models.NewSale{
		CustomerId: customer.ID,
		SaleDate:   time.Now(),
		Details: []models.NewSaleDetail{
			{ProductId: product.ID, Qty: d(t, "15"), UnitPrice: d(t, "20")},
		},
	})
	if err != nil {
		t.Fatalf("CreateSale: %v", err)
	}

	saleReturn, err := workflow.CreateSaleReturn(ctx, &models.NewSaleReturn{
		SaleId:     sale.ID,
		ReturnDate: time.Now(),
		Reason:     "damaged",
		Details: []models.NewSaleReturnDetail{
			{SaleDetailId: sale.Details[0].ID, Qty: d(t, "15")},
		},
	})
	if err != nil {
		t.Fatalf("CreateSaleReturn: %v", err)
	}

	// refund at original sale price, cost restored exactly
	if !saleReturn.TotalRefund.Equal(d(t, "300")) {
		t.Fatalf("expected refund 300, got %s", saleReturn.TotalRefund)
	}
	if !saleReturn.TotalCost.Equal(sale.TotalCost) {
		t.Fatalf("expected restored cost %s, got %s", sale.TotalCost, saleReturn.TotalCost)
	}

	summary, err := models.GetStockSummary(ctx, product.ID)
	if err != nil {
		t.Fatalf("GetStockSummary: %v", err)
	}
	if !summary.Balance.Equal(d(t, "15")) {
		t.Fatalf("expected balance back at 15, got %s", summary.Balance)
	}

	refreshed, err := models.GetSale(ctx, sale.ID)
	if err != nil {
		t.Fatalf("GetSale: %v", err)
	}
	if refreshed.CurrentStatus != models.SaleStatusReturned {
		t.Fatalf("expected status Returned, got %s", refreshed.CurrentStatus)
	}

	assertConsistent(t, ctx, biz.ID.String())
}

func TestPartialReturnThenSecondReturn(t *testing.T) {
	setupIntegration(t)
	ctx, biz, product := newTestTenant(t)
	supplier := newTestSupplier(t, ctx)
	customer := newTestCustomer(t, ctx)

	receiveNewPurchase(t, ctx, supplier.ID, product.ID, "10", "5")

	sale, err := workflow.CreateSale(ctx, &models.NewSale{
		CustomerId: customer.ID,
		SaleDate:   time.Now(),
		Details: []models.NewSaleDetail{
			{ProductId: product.ID, Qty: d(t, "8"), UnitPrice: d(t, "12")},
		},
	})
	if err != nil {
		t.Fatalf("CreateSale: %v", err)
	}

	_, err = workflow.CreateSaleReturn(ctx, &models.NewSaleReturn{
		SaleId:     sale.ID,
		ReturnDate: time.Now(),
		Details: []models.NewSaleReturnDetail{
			{SaleDetailId: sale.Details[0].ID, Qty: d(t, "3")},
		},
	})
	if err != nil {
		t.Fatalf("first CreateSaleReturn: %v", err)
	}

	refreshed, err := models.GetSale(ctx, sale.ID)
	if err != nil {
		t.Fatalf("GetSale: %v", err)
	}
	if refreshed.CurrentStatus != models.SaleStatusPartiallyReturned {
		t.Fatalf("expected PartiallyReturned, got %s", refreshed.CurrentStatus)
	}

	// over-return across both requests must be rejected
	_, err = workflow.CreateSaleReturn(ctx, &models.NewSaleReturn{
		SaleId:     sale.ID,
		ReturnDate: time.Now(),
		Details: []models.NewSaleReturnDetail{
			{SaleDetailId: sale.Details[0].ID, Qty: d(t, "6")},
		},
	})
	if !utils.IsErrorKind(err, utils.ErrorKindInvalidQuantity) {
		t.Fatalf("expected InvalidQuantity on over-return, got %v", err)
	}

	assertConsistent(t, ctx, biz.ID.String())
}

func TestCancelReceivedPurchaseBlockedAfterConsumption(t *testing.T) {
	setupIntegration(t)
	ctx, biz, product := newTestTenant(t)
	supplier := newTestSupplier(t, ctx)
	customer := newTestCustomer(t, ctx)

	purchase := receiveNewPurchase(t, ctx, supplier.ID, product.ID, "10", "5")

	_, err := workflow.CreateSale(ctx, &models.NewSale{
		CustomerId: customer.ID,
		SaleDate:   time.Now(),
		Details: []models.NewSaleDetail{
			{ProductId: product.ID, Qty: d(t, "1"), UnitPrice: d(t, "8")},
		},
	})
	if err != nil {
		t.Fatalf("CreateSale: %v", err)
	}

	_, err = workflow.CancelPurchase(ctx, purchase.ID)
	if !utils.IsErrorKind(err, utils.ErrorKindDataIntegrityViolation) {
		t.Fatalf("expected DataIntegrityViolation, got %v", err)
	}

	assertConsistent(t, ctx, biz.ID.String())
}

func TestCancelUntouchedReceivedPurchaseReversesReceipt(t *testing.T) {
	setupIntegration(t)
	ctx, biz, product := newTestTenant(t)
	supplier := newTestSupplier(t, ctx)

	purchase := receiveNewPurchase(t, ctx, supplier.ID, product.ID, "10", "5")

	cancelled, err := workflow.CancelPurchase(ctx, purchase.ID)
	if err != nil {
		t.Fatalf("CancelPurchase: %v", err)
	}
	if cancelled.CurrentStatus != models.PurchaseStatusCancelled {
		t.Fatalf("expected Cancelled, got %s", cancelled.CurrentStatus)
	}

	summary, err := models.GetStockSummary(ctx, product.ID)
	if err != nil {
		t.Fatalf("GetStockSummary: %v", err)
	}
	if !summary.Balance.IsZero() {
		t.Fatalf("expected balance 0 after cancellation, got %s", summary.Balance)
	}

	assertConsistent(t, ctx, biz.ID.String())
}

func TestConcurrentSalesOverLimitedStock(t *testing.T) {
	setupIntegration(t)
	ctx, biz, product := newTestTenant(t)
	supplier := newTestSupplier(t, ctx)
	customer := newTestCustomer(t, ctx)

	receiveNewPurchase(t, ctx, supplier.ID, product.ID, "10", "5")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = workflow.CreateSale(ctx, &models.NewSale{
				CustomerId: customer.ID,
				SaleDate:   time.Now(),
				Details: []models.NewSaleDetail{
					{ProductId: product.ID, Qty: d(t, "6"), UnitPrice: d(t, "9")},
				},
			})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		kind, ok := utils.ErrorKindOf(err)
		if !ok || (kind != utils.ErrorKindInsufficientStock && kind != utils.ErrorKindConcurrencyConflict) {
			t.Fatalf("unexpected failure: %v", err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("expected exactly 1 of 2 concurrent sales to succeed, got %d", succeeded)
	}

	summary, err := models.GetStockSummary(ctx, product.ID)
	if err != nil {
		t.Fatalf("GetStockSummary: %v", err)
	}
	if !summary.Balance.Equal(d(t, "4")) {
		t.Fatalf("expected balance 4, got %s", summary.Balance)
	}

	assertConsistent(t, ctx, biz.ID.String())
}
