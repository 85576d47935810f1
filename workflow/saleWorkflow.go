package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"bitbucket.org/mmdatafocus/retail_backend/config"
	"bitbucket.org/mmdatafocus/retail_backend/models"
	"bitbucket.org/mmdatafocus/retail_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var oneHundred = decimal.NewFromInt(100)

// CreateSale posts a confirmed sale: one transaction covering the header, the
// lines, the FIFO allocation of every line and the derived totals. Nothing is
// written when any line fails.
func CreateSale(ctx context.Context, input *models.NewSale) (*models.Sale, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	userId, _ := utils.GetUserIdFromContext(ctx)

	var sale *models.Sale
	err := withConflictRetry(func() error {
		var err error
		sale, err = createSaleOnce(ctx, businessId, userId, input)
		return err
	})
	if err != nil {
		return nil, err
	}
	return sale, nil
}

func createSaleOnce(ctx context.Context, businessId string, userId int, input *models.NewSale) (*models.Sale, error) {
	logger := config.GetLogger()

	for _, line := range input.Details {
		if !line.Qty.IsPositive() {
			return nil, utils.ErrorInvalidQuantity(line.Qty)
		}
		if line.UnitPrice.IsNegative() {
			return nil, utils.NewAppError(utils.ErrorKindInvalidQuantity,
				"unit price must not be negative, got %s", line.UnitPrice.String())
		}
		if err := utils.ValidateResourceId[models.Product](ctx, businessId, line.ProductId); err != nil {
			return nil, utils.ErrorNotFound("product", line.ProductId)
		}
	}

	release, err := utils.BusinessLock(ctx, businessId, "posting", "saleWorkflow.go", "createSaleOnce")
	if err != nil {
		return nil, err
	}
	defer release()

	seqNo, err := utils.GetSequence[models.Sale](ctx, businessId)
	if err != nil {
		config.LogError(logger, "saleWorkflow.go", "createSaleOnce", "GetSequence", businessId, err)
		return nil, err
	}
	prefix, err := models.GetTransactionPrefix(ctx, businessId, "Sale")
	if err != nil {
		config.LogError(logger, "saleWorkflow.go", "createSaleOnce", "GetTransactionPrefix", businessId, err)
		return nil, err
	}

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	// GET_LOCK is session-scoped and survives commit/rollback, so the lock
	// must be released on the live transaction connection before it ends.
	rollback := func() {
		ReleaseBusinessPostingLock(tx, businessId)
		tx.Rollback()
	}
	defer func() {
		if r := recover(); r != nil {
			rollback()
			panic(r)
		}
	}()

	if err := AcquireBusinessPostingLock(tx, businessId); err != nil {
		tx.Rollback()
		return nil, err
	}

	// Cheap pre-check across all lines before any mutation, so a multi-line
	// request reports every shortage at once instead of failing on the first.
	requested := make(map[int]decimal.Decimal)
	for _, line := range input.Details {
		requested[line.ProductId] = requested[line.ProductId].Add(line.Qty)
	}
	var shortages []string
	for productId, qty := range requested {
		available, err := models.GetAvailableQty(tx, businessId, productId)
		if err != nil {
			rollback()
			config.LogError(logger, "saleWorkflow.go", "createSaleOnce", "GetAvailableQty", productId, err)
			return nil, err
		}
		if available.LessThan(qty) {
			shortages = append(shortages,
				fmt.Sprintf("product_id=%d required %s available %s", productId, qty.String(), available.String()))
		}
	}
	if len(shortages) > 0 {
		rollback()
		return nil, utils.NewAppError(utils.ErrorKindInsufficientStock,
			"insufficient stock: %s", strings.Join(shortages, "; "))
	}

	sale := models.Sale{
		BusinessId:    businessId,
		CustomerId:    input.CustomerId,
		InvoiceNumber: fmt.Sprintf("%s%06d", prefix, seqNo),
		SequenceNo:    decimal.NewFromInt(seqNo),
		SaleDate:      input.SaleDate,
		CurrentStatus: models.SaleStatusConfirmed,
		CreatedBy:     userId,
	}
	if err := tx.Create(&sale).Error; err != nil {
		rollback()
		config.LogError(logger, "saleWorkflow.go", "createSaleOnce", "CreateSaleHeader", sale.InvoiceNumber, err)
		if utils.IsDuplicateEntry(err) {
			return nil, utils.NewAppError(utils.ErrorKindConcurrencyConflict,
				"sequence_no %d taken concurrently for business_id=%s", seqNo, businessId)
		}
		return nil, err
	}

	totalAmount := decimal.Zero
	totalCost := decimal.Zero
	for _, line := range input.Details {
		detail := models.SaleDetail{
			BusinessId: businessId,
			SaleId:     sale.ID,
			ProductId:  line.ProductId,
			Qty:        line.Qty,
			UnitPrice:  line.UnitPrice,
			TotalPrice: line.Qty.Mul(line.UnitPrice),
		}
		if err := tx.Create(&detail).Error; err != nil {
			rollback()
			config.LogError(logger, "saleWorkflow.go", "createSaleOnce", "CreateSaleDetail", line.ProductId, err)
			return nil, err
		}

		allocation, err := AllocateStock(tx, logger, businessId, line.ProductId, line.Qty, models.StockReferenceTypeSale, sale.ID)
		if err != nil {
			rollback()
			return nil, err
		}

		for _, alloc := range allocation.Allocations {
			batch := models.SaleDetailBatch{
				BusinessId:       businessId,
				SaleDetailId:     detail.ID,
				PurchaseDetailId: alloc.PurchaseDetailId,
				Qty:              alloc.Qty,
				UnitCost:         alloc.UnitCost,
				TotalCost:        alloc.TotalCost,
			}
			if err := tx.Create(&batch).Error; err != nil {
				rollback()
				config.LogError(logger, "saleWorkflow.go", "createSaleOnce", "CreateSaleDetailBatch", detail.ID, err)
				return nil, err
			}
			detail.UsedBatches = append(detail.UsedBatches, batch)
		}

		detail.UnitCost = allocation.UnitCost()
		detail.TotalCost = allocation.TotalCost
		detail.Profit = detail.TotalPrice.Sub(detail.TotalCost)
		err = tx.Model(&models.SaleDetail{}).Where("id = ?", detail.ID).
			Updates(map[string]interface{}{
				"unit_cost":  detail.UnitCost,
				"total_cost": detail.TotalCost,
				"profit":     detail.Profit,
			}).Error
		if err != nil {
			rollback()
			config.LogError(logger, "saleWorkflow.go", "createSaleOnce", "UpdateSaleDetailCosts", detail.ID, err)
			return nil, err
		}

		totalAmount = totalAmount.Add(detail.TotalPrice)
		totalCost = totalCost.Add(detail.TotalCost)
		sale.Details = append(sale.Details, detail)
	}

	totalProfit := totalAmount.Sub(totalCost)
	profitMargin := decimal.Zero
	if !totalAmount.IsZero() {
		profitMargin = totalProfit.Div(totalAmount).Mul(oneHundred)
	}
	err = tx.Model(&models.Sale{}).Where("id = ?", sale.ID).
		Updates(map[string]interface{}{
			"total_amount":  totalAmount,
			"total_cost":    totalCost,
			"total_profit":  totalProfit,
			"profit_margin": profitMargin,
		}).Error
	if err != nil {
		rollback()
		config.LogError(logger, "saleWorkflow.go", "createSaleOnce", "UpdateSaleTotals", sale.ID, err)
		return nil, err
	}
	sale.TotalAmount = totalAmount
	sale.TotalCost = totalCost
	sale.TotalProfit = totalProfit
	sale.ProfitMargin = profitMargin

	ReleaseBusinessPostingLock(tx, businessId)
	if err := tx.Commit().Error; err != nil {
		config.LogError(logger, "saleWorkflow.go", "createSaleOnce", "Commit", sale.ID, err)
		return nil, err
	}
	return &sale, nil
}

// refreshSaleStatus recomputes the header status from the returned quantities
// of its lines. Caller holds the posting transaction.
func refreshSaleStatus(tx *gorm.DB, logger *logrus.Logger, sale *models.Sale) error {
	var details []*models.SaleDetail
	if err := tx.Where("sale_id = ?", sale.ID).Find(&details).Error; err != nil {
		config.LogError(logger, "saleWorkflow.go", "refreshSaleStatus", "LoadDetails", sale.ID, err)
		return err
	}

	anyReturned := false
	allReturned := true
	for _, d := range details {
		if d.ReturnedQty.IsPositive() {
			anyReturned = true
		}
		if d.ReturnedQty.LessThan(d.Qty) {
			allReturned = false
		}
	}

	status := models.SaleStatusConfirmed
	if allReturned && len(details) > 0 {
		status = models.SaleStatusReturned
	} else if anyReturned {
		status = models.SaleStatusPartiallyReturned
	}

	if status == sale.CurrentStatus {
		return nil
	}
	err := tx.Model(&models.Sale{}).Where("id = ?", sale.ID).
		Update("current_status", status).Error
	if err != nil {
		config.LogError(logger, "saleWorkflow.go", "refreshSaleStatus", "UpdateStatus", sale.ID, err)
		return err
	}
	sale.CurrentStatus = status
	return nil
}
