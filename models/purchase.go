package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/retail_backend/config"
	"bitbucket.org/mmdatafocus/retail_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Purchase struct {
	ID             int              `gorm:"primary_key" json:"id"`
	BusinessId     string           `gorm:"index;uniqueIndex:idx_purchases_biz_seq,priority:1;not null" json:"business_id"`
	SupplierId     int              `gorm:"index;not null" json:"supplier_id"`
	PurchaseNumber string           `gorm:"size:50;not null" json:"purchase_number"`
	SequenceNo     decimal.Decimal  `gorm:"type:decimal(20,0);uniqueIndex:idx_purchases_biz_seq,priority:2;default:0" json:"sequence_no"`
	PurchaseDate   time.Time        `gorm:"not null" json:"purchase_date"`
	ReceivedDate   *time.Time       `json:"received_date"`
	CurrentStatus  PurchaseStatus   `gorm:"type:enum('Pending','Received','Cancelled');default:Pending" json:"current_status"`
	TotalAmount    decimal.Decimal  `gorm:"type:decimal(20,4);default:0" json:"total_amount"`
	Details        []PurchaseDetail `gorm:"foreignKey:PurchaseId" json:"details"`
	CreatedBy      int              `json:"created_by"`
	CreatedAt      time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

// PurchaseDetail is a cost layer. RemainingQty starts equal to Qty when the
// purchase is received and is thereafter owned exclusively by the FIFO
// engine: it only decreases on sale allocation and only increases on a
// same-lineage return, never above Qty. Rows are never deleted.
//
// FIFO order is received_at ascending, id ascending as the tie-break, so
// allocation is reproducible for identical inputs.
type PurchaseDetail struct {
	ID           int             `gorm:"primary_key" json:"id"`
	BusinessId   string          `gorm:"index:idx_purchase_detail_fifo,priority:1;not null" json:"business_id"`
	PurchaseId   int             `gorm:"index;not null" json:"purchase_id"`
	ProductId    int             `gorm:"index:idx_purchase_detail_fifo,priority:2;not null" json:"product_id"`
	Qty          decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"qty"`
	RemainingQty decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"remaining_qty"`
	UnitCost     decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"unit_cost"`
	TotalCost    decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"total_cost"`
	BatchNumber  string          `gorm:"size:100" json:"batch_number"`
	ExpiryDate   *time.Time      `json:"expiry_date"`
	ReceivedAt   *time.Time      `gorm:"index:idx_purchase_detail_fifo,priority:3" json:"received_at"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewPurchase struct {
	SupplierId   int                 `json:"supplier_id" binding:"required"`
	PurchaseDate time.Time           `json:"purchase_date" binding:"required"`
	Details      []NewPurchaseDetail `json:"details" binding:"required,min=1,dive"`
}

type NewPurchaseDetail struct {
	ProductId   int             `json:"product_id" binding:"required"`
	Qty         decimal.Decimal `json:"qty" binding:"required"`
	UnitCost    decimal.Decimal `json:"unit_cost" binding:"required"`
	BatchNumber string          `json:"batch_number"`
	ExpiryDate  *time.Time      `json:"expiry_date"`
}

// GetOpenBatchLayers fetches all layers with remaining quantity for a
// product, oldest first, locked FOR UPDATE. Must run inside the posting
// transaction; the locks prevent two concurrent allocations from draining
// the same layer.
func GetOpenBatchLayers(tx *gorm.DB, businessId string, productId int) ([]*PurchaseDetail, error) {
	var layers []*PurchaseDetail
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("business_id = ? AND product_id = ? AND remaining_qty > 0 AND received_at IS NOT NULL", businessId, productId).
		Order("received_at ASC, id ASC").
		Find(&layers).Error
	if err != nil {
		return nil, err
	}
	return layers, nil
}

// GetAvailableQty sums remaining layer quantity for a product. This is the
// pre-check read; it takes no locks and is not a guarantee under concurrency.
func GetAvailableQty(tx *gorm.DB, businessId string, productId int) (decimal.Decimal, error) {
	var available decimal.Decimal
	err := tx.Model(&PurchaseDetail{}).
		Where("business_id = ? AND product_id = ? AND remaining_qty > 0 AND received_at IS NOT NULL", businessId, productId).
		Select("COALESCE(SUM(remaining_qty), 0)").
		Scan(&available).Error
	if err != nil {
		return decimal.Zero, err
	}
	return available, nil
}

// DecrementLayerRemainingQty takes qty out of one layer. The guard in the
// WHERE clause turns a lost-update race into a visible conflict instead of a
// negative remainder.
func DecrementLayerRemainingQty(tx *gorm.DB, layerId int, qty decimal.Decimal) error {
	result := tx.Exec(`UPDATE purchase_details
		SET remaining_qty = remaining_qty - ?
		WHERE id = ? AND remaining_qty >= ?`,
		qty, layerId, qty)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return utils.NewAppError(utils.ErrorKindConcurrencyConflict,
			"batch layer id=%d changed concurrently while allocating %s", layerId, qty.String())
	}
	return nil
}

// IncrementLayerRemainingQty restores qty to one layer. Restoring above the
// originally received quantity is a data-integrity fault and is reported,
// never clamped.
func IncrementLayerRemainingQty(tx *gorm.DB, layerId int, qty decimal.Decimal) error {
	result := tx.Exec(`UPDATE purchase_details
		SET remaining_qty = remaining_qty + ?
		WHERE id = ? AND remaining_qty + ? <= qty`,
		qty, layerId, qty)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return utils.NewAppError(utils.ErrorKindDataIntegrityViolation,
			"restoring %s to batch layer id=%d would exceed its received quantity", qty.String(), layerId)
	}
	return nil
}

func GetPurchase(ctx context.Context, id int) (*Purchase, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	purchase, err := utils.FetchModel[Purchase](ctx, businessId, id, "Details")
	if err != nil {
		return nil, utils.ErrorNotFound("purchase", id)
	}
	return purchase, nil
}

func GetPurchases(ctx context.Context) ([]*Purchase, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	db := config.GetDB()
	var purchases []*Purchase
	err := db.WithContext(ctx).
		Where("business_id = ?", businessId).
		Preload("Details").
		Order("id DESC").
		Find(&purchases).Error
	if err != nil {
		return nil, err
	}
	return purchases, nil
}
