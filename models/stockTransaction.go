package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/retail_backend/config"
	"bitbucket.org/mmdatafocus/retail_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// StockTransaction is the append-only audit trail of stock movement.
// Rows are never updated or deleted; reconciliation requires that
// SUM(In) - SUM(Out) equals the summary balance for every product.
type StockTransaction struct {
	ID              int                  `gorm:"primary_key" json:"id"`
	BusinessId      string               `gorm:"index:idx_stock_txn_biz_product,priority:1;not null" json:"business_id"`
	ProductId       int                  `gorm:"index:idx_stock_txn_biz_product,priority:2;not null" json:"product_id"`
	TransactionType StockTransactionType `gorm:"type:enum('In','Out');not null" json:"transaction_type"`
	ReferenceType   StockReferenceType   `gorm:"size:10;not null" json:"reference_type"`
	ReferenceId     int                  `gorm:"index;not null" json:"reference_id"`
	Qty             decimal.Decimal      `gorm:"type:decimal(20,4);not null" json:"qty"`
	UnitCost        decimal.Decimal      `gorm:"type:decimal(20,4);not null" json:"unit_cost"`
	TotalCost       decimal.Decimal      `gorm:"type:decimal(20,4);not null" json:"total_cost"`
	CreatedAt       time.Time            `gorm:"autoCreateTime" json:"created_at"`
}

// AppendStockTransaction writes one ledger entry. Qty must already be
// positive; direction is carried by TransactionType.
func AppendStockTransaction(tx *gorm.DB, entry *StockTransaction) error {
	if !entry.Qty.IsPositive() {
		return utils.ErrorInvalidQuantity(entry.Qty)
	}
	return tx.Create(entry).Error
}

// SumStockLedger computes the running balance from the transaction log
// (In - Out). Used by reconciliation, never by posting paths.
func SumStockLedger(tx *gorm.DB, businessId string, productId int) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := tx.Raw(`
		SELECT COALESCE(SUM(CASE WHEN transaction_type = 'In' THEN qty ELSE -qty END), 0)
		FROM stock_transactions
		WHERE business_id = ? AND product_id = ?
	`, businessId, productId).Scan(&sum).Error
	if err != nil {
		return decimal.Zero, err
	}
	return sum, nil
}

// GetStockTransactions lists ledger entries for a product, newest first.
func GetStockTransactions(ctx context.Context, productId int, limit int) ([]*StockTransaction, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	if limit <= 0 {
		limit = 50
	}

	db := config.GetDB()
	var entries []*StockTransaction
	err := db.WithContext(ctx).
		Where("business_id = ? AND product_id = ?", businessId, productId).
		Order("id DESC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}
