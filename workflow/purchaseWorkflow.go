package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/retail_backend/config"
	"bitbucket.org/mmdatafocus/retail_backend/models"
	"bitbucket.org/mmdatafocus/retail_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CreatePurchase records a pending purchase order. No stock moves until the
// order is received.
func CreatePurchase(ctx context.Context, input *models.NewPurchase) (*models.Purchase, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	userId, _ := utils.GetUserIdFromContext(ctx)
	logger := config.GetLogger()

	for _, line := range input.Details {
		if !line.Qty.IsPositive() {
			return nil, utils.ErrorInvalidQuantity(line.Qty)
		}
		if line.UnitCost.IsNegative() {
			return nil, utils.NewAppError(utils.ErrorKindInvalidQuantity,
				"unit cost must not be negative, got %s", line.UnitCost.String())
		}
		if err := utils.ValidateResourceId[models.Product](ctx, businessId, line.ProductId); err != nil {
			return nil, utils.ErrorNotFound("product", line.ProductId)
		}
	}
	if err := utils.ValidateResourceId[models.Supplier](ctx, businessId, input.SupplierId); err != nil {
		return nil, utils.ErrorNotFound("supplier", input.SupplierId)
	}

	totalAmount := decimal.Zero
	details := make([]models.PurchaseDetail, 0, len(input.Details))
	for _, line := range input.Details {
		lineTotal := line.Qty.Mul(line.UnitCost)
		details = append(details, models.PurchaseDetail{
			BusinessId:  businessId,
			ProductId:   line.ProductId,
			Qty:         line.Qty,
			UnitCost:    line.UnitCost,
			TotalCost:   lineTotal,
			BatchNumber: line.BatchNumber,
			ExpiryDate:  line.ExpiryDate,
		})
		totalAmount = totalAmount.Add(lineTotal)
	}

	// A racing creation can take the same sequence_no; the unique
	// (business_id, sequence_no) index surfaces that as a duplicate entry and
	// the whole numbering plus insert is redone once.
	var purchase *models.Purchase
	err := withConflictRetry(func() error {
		seqNo, err := utils.GetSequence[models.Purchase](ctx, businessId)
		if err != nil {
			config.LogError(logger, "purchaseWorkflow.go", "CreatePurchase", "GetSequence", businessId, err)
			return err
		}
		prefix, err := models.GetTransactionPrefix(ctx, businessId, "Purchase")
		if err != nil {
			config.LogError(logger, "purchaseWorkflow.go", "CreatePurchase", "GetTransactionPrefix", businessId, err)
			return err
		}

		attempt := models.Purchase{
			BusinessId:     businessId,
			SupplierId:     input.SupplierId,
			PurchaseNumber: fmt.Sprintf("%s%06d", prefix, seqNo),
			SequenceNo:     decimal.NewFromInt(seqNo),
			PurchaseDate:   input.PurchaseDate,
			CurrentStatus:  models.PurchaseStatusPending,
			TotalAmount:    totalAmount,
			Details:        details,
			CreatedBy:      userId,
		}

		db := config.GetDB()
		if err := db.WithContext(ctx).Create(&attempt).Error; err != nil {
			config.LogError(logger, "purchaseWorkflow.go", "CreatePurchase", "CreatePurchase", attempt.PurchaseNumber, err)
			if utils.IsDuplicateEntry(err) {
				return utils.NewAppError(utils.ErrorKindConcurrencyConflict,
					"sequence_no %d taken concurrently for business_id=%s", seqNo, businessId)
			}
			return err
		}
		purchase = &attempt
		return nil
	})
	if err != nil {
		return nil, err
	}
	return purchase, nil
}

// ReceivePurchase turns a pending order into open cost layers: every line gets
// its received_at stamp (the FIFO ordering key), its remaining quantity opens
// at the full line quantity and the ledger gains one In entry per line.
func ReceivePurchase(ctx context.Context, purchaseId int, receivedDate time.Time) (*models.Purchase, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	var purchase *models.Purchase
	err := withConflictRetry(func() error {
		var err error
		purchase, err = receivePurchaseOnce(ctx, businessId, purchaseId, receivedDate)
		return err
	})
	if err != nil {
		return nil, err
	}
	return purchase, nil
}

func receivePurchaseOnce(ctx context.Context, businessId string, purchaseId int, receivedDate time.Time) (*models.Purchase, error) {
	logger := config.GetLogger()

	release, err := utils.BusinessLock(ctx, businessId, "posting", "purchaseWorkflow.go", "receivePurchaseOnce")
	if err != nil {
		return nil, err
	}
	defer release()

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

	purchase, err := lockPurchase(tx, businessId, purchaseId)
	if err != nil {
		rollback()
		return nil, err
	}
	if purchase.CurrentStatus != models.PurchaseStatusPending {
		rollback()
		return nil, fmt.Errorf("purchase %s is %s, only pending purchases can be received",
			purchase.PurchaseNumber, purchase.CurrentStatus)
	}

	for i := range purchase.Details {
		layer := &purchase.Details[i]
		layer.ReceivedAt = &receivedDate
		if err := ReceiveStock(tx, logger, businessId, layer, models.StockReferenceTypePurchase, purchase.ID); err != nil {
			rollback()
			return nil, err
		}
	}

	err = tx.Model(&models.Purchase{}).Where("id = ?", purchase.ID).
		Updates(map[string]interface{}{
			"current_status": models.PurchaseStatusReceived,
			"received_date":  receivedDate,
		}).Error
	if err != nil {
		rollback()
		config.LogError(logger, "purchaseWorkflow.go", "receivePurchaseOnce", "UpdateStatus", purchase.ID, err)
		return nil, err
	}
	purchase.CurrentStatus = models.PurchaseStatusReceived
	purchase.ReceivedDate = &receivedDate

	ReleaseBusinessPostingLock(tx, businessId)
	if err := tx.Commit().Error; err != nil {
		config.LogError(logger, "purchaseWorkflow.go", "receivePurchaseOnce", "Commit", purchase.ID, err)
		return nil, err
	}
	return purchase, nil
}

// CancelPurchase cancels an order. A pending order is a status flip; a
// received order is a full receipt reversal and only succeeds while every
// layer is still untouched. Once any layer has fed a sale the order is
// permanent and the goods can only leave through a sale return or adjustment.
func CancelPurchase(ctx context.Context, purchaseId int) (*models.Purchase, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	var purchase *models.Purchase
	err := withConflictRetry(func() error {
		var err error
		purchase, err = cancelPurchaseOnce(ctx, businessId, purchaseId)
		return err
	})
	if err != nil {
		return nil, err
	}
	return purchase, nil
}

func cancelPurchaseOnce(ctx context.Context, businessId string, purchaseId int) (*models.Purchase, error) {
	logger := config.GetLogger()

	release, err := utils.BusinessLock(ctx, businessId, "posting", "purchaseWorkflow.go", "cancelPurchaseOnce")
	if err != nil {
		return nil, err
	}
	defer release()

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
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

	purchase, err := lockPurchase(tx, businessId, purchaseId)
	if err != nil {
		rollback()
		return nil, err
	}

	switch purchase.CurrentStatus {
	case models.PurchaseStatusCancelled:
		rollback()
		return nil, fmt.Errorf("purchase %s is already cancelled", purchase.PurchaseNumber)

	case models.PurchaseStatusPending:
		// nothing was received, nothing to reverse

	case models.PurchaseStatusReceived:
		if config.StrictDocImmutability() {
			rollback()
			return nil, fmt.Errorf("purchase %s is received and strict immutability is enabled, post a supplier return instead",
				purchase.PurchaseNumber)
		}
		for i := range purchase.Details {
			layer := &purchase.Details[i]
			if layer.RemainingQty.LessThan(layer.Qty) {
				rollback()
				return nil, utils.NewAppError(utils.ErrorKindDataIntegrityViolation,
					"cannot cancel purchase %s: batch layer id=%d already consumed (%s of %s remaining)",
					purchase.PurchaseNumber, layer.ID, layer.RemainingQty.String(), layer.Qty.String())
			}
		}
		for i := range purchase.Details {
			layer := &purchase.Details[i]
			if err := reverseReceipt(tx, businessId, layer, purchase.ID); err != nil {
				rollback()
				return nil, err
			}
		}
	}

	err = tx.Model(&models.Purchase{}).Where("id = ?", purchase.ID).
		Update("current_status", models.PurchaseStatusCancelled).Error
	if err != nil {
		rollback()
		config.LogError(logger, "purchaseWorkflow.go", "cancelPurchaseOnce", "UpdateStatus", purchase.ID, err)
		return nil, err
	}
	purchase.CurrentStatus = models.PurchaseStatusCancelled

	ReleaseBusinessPostingLock(tx, businessId)
	if err := tx.Commit().Error; err != nil {
		config.LogError(logger, "purchaseWorkflow.go", "cancelPurchaseOnce", "Commit", purchase.ID, err)
		return nil, err
	}
	return purchase, nil
}

// reverseReceipt closes one untouched layer and takes its quantity back out of
// the summary and the ledger.
func reverseReceipt(tx *gorm.DB, businessId string, layer *models.PurchaseDetail, purchaseId int) error {
	logger := config.GetLogger()

	summary, err := models.LockStockSummary(tx, businessId, layer.ProductId)
	if err != nil {
		return err
	}

	result := tx.Exec(`UPDATE purchase_details
		SET remaining_qty = 0
		WHERE id = ? AND remaining_qty = qty`, layer.ID)
	if result.Error != nil {
		config.LogError(logger, "purchaseWorkflow.go", "reverseReceipt", "CloseBatchLayer", layer.ID, result.Error)
		return result.Error
	}
	if result.RowsAffected == 0 {
		return utils.NewAppError(utils.ErrorKindConcurrencyConflict,
			"batch layer id=%d changed concurrently during cancellation", layer.ID)
	}
	layer.RemainingQty = decimal.Zero

	if err := models.UpdateStockSummaryOnReceiptReversal(tx, summary, layer.Qty); err != nil {
		config.LogError(logger, "purchaseWorkflow.go", "reverseReceipt", "UpdateStockSummaryOnReceiptReversal", layer.ProductId, err)
		return err
	}

	entry := &models.StockTransaction{
		BusinessId:      businessId,
		ProductId:       layer.ProductId,
		TransactionType: models.StockTransactionTypeOut,
		ReferenceType:   models.StockReferenceTypePurchaseCancel,
		ReferenceId:     purchaseId,
		Qty:             layer.Qty,
		UnitCost:        layer.UnitCost,
		TotalCost:       layer.Qty.Mul(layer.UnitCost),
	}
	if err := models.AppendStockTransaction(tx, entry); err != nil {
		config.LogError(logger, "purchaseWorkflow.go", "reverseReceipt", "AppendStockTransaction", entry, err)
		return err
	}
	return nil
}

func lockPurchase(tx *gorm.DB, businessId string, purchaseId int) (*models.Purchase, error) {
	var purchase models.Purchase
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("business_id = ? AND id = ?", businessId, purchaseId).
		Preload("Details").
		First(&purchase).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorNotFound("purchase", purchaseId)
		}
		return nil, err
	}
	return &purchase, nil
}
