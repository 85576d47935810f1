package workflow

import (
	"context"
	"errors"
	"fmt"

	"bitbucket.org/mmdatafocus/retail_backend/config"
	"bitbucket.org/mmdatafocus/retail_backend/models"
	"bitbucket.org/mmdatafocus/retail_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CreateSaleReturn posts a sale return against a confirmed sale. Quantity goes
// back to the exact cost layers the sale drew from, at the cost it left with,
// and the refund is priced at the original sale unit price. All lines post or
// none do.
func CreateSaleReturn(ctx context.Context, input *models.NewSaleReturn) (*models.SaleReturn, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	userId, _ := utils.GetUserIdFromContext(ctx)

	var saleReturn *models.SaleReturn
	err := withConflictRetry(func() error {
		var err error
		saleReturn, err = createSaleReturnOnce(ctx, businessId, userId, input)
		return err
	})
	if err != nil {
		return nil, err
	}
	return saleReturn, nil
}

func createSaleReturnOnce(ctx context.Context, businessId string, userId int, input *models.NewSaleReturn) (*models.SaleReturn, error) {
	logger := config.GetLogger()

	for _, line := range input.Details {
		if !line.Qty.IsPositive() {
			return nil, utils.ErrorInvalidQuantity(line.Qty)
		}
	}

	release, err := utils.BusinessLock(ctx, businessId, "posting", "saleReturnWorkflow.go", "createSaleReturnOnce")
	if err != nil {
		return nil, err
	}
	defer release()

	seqNo, err := utils.GetSequence[models.SaleReturn](ctx, businessId)
	if err != nil {
		config.LogError(logger, "saleReturnWorkflow.go", "createSaleReturnOnce", "GetSequence", businessId, err)
		return nil, err
	}
	prefix, err := models.GetTransactionPrefix(ctx, businessId, "SaleReturn")
	if err != nil {
		config.LogError(logger, "saleReturnWorkflow.go", "createSaleReturnOnce", "GetTransactionPrefix", businessId, err)
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

	sale, err := lockSale(tx, businessId, input.SaleId)
	if err != nil {
		rollback()
		return nil, err
	}

	detailById := make(map[int]*models.SaleDetail, len(sale.Details))
	for i := range sale.Details {
		detailById[sale.Details[i].ID] = &sale.Details[i]
	}

	// Validate every line before touching stock so a bad line rejects the
	// whole return up front.
	requested := make(map[int]decimal.Decimal)
	for _, line := range input.Details {
		detail, found := detailById[line.SaleDetailId]
		if !found {
			rollback()
			return nil, utils.ErrorNotFound("sale detail", line.SaleDetailId)
		}
		requested[line.SaleDetailId] = requested[line.SaleDetailId].Add(line.Qty)
		returnable := detail.Qty.Sub(detail.ReturnedQty)
		if requested[line.SaleDetailId].GreaterThan(returnable) {
			rollback()
			return nil, utils.NewAppError(utils.ErrorKindInvalidQuantity,
				"return quantity %s exceeds returnable %s for sale detail id=%d",
				requested[line.SaleDetailId].String(), returnable.String(), line.SaleDetailId)
		}
	}

	saleReturn := models.SaleReturn{
		BusinessId:   businessId,
		SaleId:       sale.ID,
		ReturnNumber: fmt.Sprintf("%s%06d", prefix, seqNo),
		SequenceNo:   decimal.NewFromInt(seqNo),
		ReturnDate:   input.ReturnDate,
		Reason:       input.Reason,
		CreatedBy:    userId,
	}
	if err := tx.Create(&saleReturn).Error; err != nil {
		rollback()
		config.LogError(logger, "saleReturnWorkflow.go", "createSaleReturnOnce", "CreateReturnHeader", saleReturn.ReturnNumber, err)
		if utils.IsDuplicateEntry(err) {
			return nil, utils.NewAppError(utils.ErrorKindConcurrencyConflict,
				"sequence_no %d taken concurrently for business_id=%s", seqNo, businessId)
		}
		return nil, err
	}

	totalRefund := decimal.Zero
	totalCost := decimal.Zero
	for _, line := range input.Details {
		detail := detailById[line.SaleDetailId]

		restore, err := planReturnAllocations(tx, businessId, detail, line.Qty)
		if err != nil {
			rollback()
			return nil, err
		}

		lineCost, err := ReverseStock(tx, logger, businessId, detail.ProductId, restore, models.StockReferenceTypeSaleReturn, saleReturn.ID)
		if err != nil {
			rollback()
			return nil, err
		}

		newReturned := detail.ReturnedQty.Add(line.Qty)
		err = tx.Model(&models.SaleDetail{}).Where("id = ?", detail.ID).
			Update("returned_qty", newReturned).Error
		if err != nil {
			rollback()
			config.LogError(logger, "saleReturnWorkflow.go", "createSaleReturnOnce", "UpdateReturnedQty", detail.ID, err)
			return nil, err
		}
		detail.ReturnedQty = newReturned

		refund := line.Qty.Mul(detail.UnitPrice)
		returnDetail := models.SaleReturnDetail{
			BusinessId:   businessId,
			SaleReturnId: saleReturn.ID,
			SaleDetailId: detail.ID,
			ProductId:    detail.ProductId,
			Qty:          line.Qty,
			UnitPrice:    detail.UnitPrice,
			RefundAmount: refund,
			UnitCost:     lineCost.Div(line.Qty),
			TotalCost:    lineCost,
		}
		if err := tx.Create(&returnDetail).Error; err != nil {
			rollback()
			config.LogError(logger, "saleReturnWorkflow.go", "createSaleReturnOnce", "CreateReturnDetail", detail.ID, err)
			return nil, err
		}

		totalRefund = totalRefund.Add(refund)
		totalCost = totalCost.Add(lineCost)
		saleReturn.Details = append(saleReturn.Details, returnDetail)
	}

	err = tx.Model(&models.SaleReturn{}).Where("id = ?", saleReturn.ID).
		Updates(map[string]interface{}{
			"total_refund": totalRefund,
			"total_cost":   totalCost,
		}).Error
	if err != nil {
		rollback()
		config.LogError(logger, "saleReturnWorkflow.go", "createSaleReturnOnce", "UpdateReturnTotals", saleReturn.ID, err)
		return nil, err
	}
	saleReturn.TotalRefund = totalRefund
	saleReturn.TotalCost = totalCost

	if err := refreshSaleStatus(tx, logger, sale); err != nil {
		rollback()
		return nil, err
	}

	ReleaseBusinessPostingLock(tx, businessId)
	if err := tx.Commit().Error; err != nil {
		config.LogError(logger, "saleReturnWorkflow.go", "createSaleReturnOnce", "Commit", saleReturn.ID, err)
		return nil, err
	}
	return &saleReturn, nil
}

// planReturnAllocations decides which portion of the persisted allocation
// breakdown this return restores. Returns consume the breakdown from the last
// batch backwards, so repeated partial returns carve well-defined,
// non-overlapping slices: earlier returns took the tail, this one takes the
// next slice in.
func planReturnAllocations(tx *gorm.DB, businessId string, detail *models.SaleDetail, qty decimal.Decimal) ([]BatchAllocation, error) {
	batches, err := models.GetSaleDetailBatches(tx, businessId, detail.ID)
	if err != nil {
		return nil, err
	}
	if len(batches) == 0 {
		return nil, utils.NewAppError(utils.ErrorKindDataIntegrityViolation,
			"no allocation breakdown found for sale detail id=%d", detail.ID)
	}

	breakdownTotal := decimal.Zero
	for _, b := range batches {
		breakdownTotal = breakdownTotal.Add(b.Qty)
	}
	if !breakdownTotal.Equal(detail.Qty) {
		return nil, utils.NewAppError(utils.ErrorKindDataIntegrityViolation,
			"allocation breakdown for sale detail id=%d sums to %s, expected %s",
			detail.ID, breakdownTotal.String(), detail.Qty.String())
	}

	restore, shortfall := carveReturnSlice(batches, detail.ReturnedQty, qty)
	if shortfall.IsPositive() {
		return nil, utils.NewAppError(utils.ErrorKindDataIntegrityViolation,
			"allocation breakdown for sale detail id=%d cannot cover return of %s",
			detail.ID, qty.String())
	}
	return restore, nil
}

// carveReturnSlice walks the breakdown from the last batch backwards, skips
// the portion earlier returns already restored, then takes qty. The second
// return value is any uncoverable remainder.
func carveReturnSlice(batches []*models.SaleDetailBatch, alreadyReturned decimal.Decimal, qty decimal.Decimal) ([]BatchAllocation, decimal.Decimal) {
	skip := alreadyReturned
	remaining := qty
	restore := make([]BatchAllocation, 0, len(batches))
	for i := len(batches) - 1; i >= 0 && remaining.IsPositive(); i-- {
		b := batches[i]
		available := b.Qty
		if skip.IsPositive() {
			if skip.GreaterThanOrEqual(available) {
				skip = skip.Sub(available)
				continue
			}
			available = available.Sub(skip)
			skip = decimal.Zero
		}
		take := available
		if take.GreaterThan(remaining) {
			take = remaining
		}
		restore = append(restore, BatchAllocation{
			PurchaseDetailId: b.PurchaseDetailId,
			Qty:              take,
			UnitCost:         b.UnitCost,
			TotalCost:        take.Mul(b.UnitCost),
		})
		remaining = remaining.Sub(take)
	}
	return restore, remaining
}

func lockSale(tx *gorm.DB, businessId string, saleId int) (*models.Sale, error) {
	var sale models.Sale
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("business_id = ? AND id = ?", businessId, saleId).
		Preload("Details").
		First(&sale).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorNotFound("sale", saleId)
		}
		return nil, err
	}
	return &sale, nil
}
