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

// StockSummary is the ledger head: one row per (business, product) carrying
// the running balance and the weighted average cost of everything received.
//
// Balance == TotalIn - TotalOut at every committed state, and equals the sum
// over PurchaseDetail.remaining_qty. TotalValue is a derived cache
// (balance * average_cost), never a source of truth. Rows are created on the
// first receipt and never deleted; zero balance is a valid state.
//
// Only the FIFO engine (workflow package) mutates these rows.
type StockSummary struct {
	ID          int             `gorm:"primary_key" json:"id"`
	BusinessId  string          `gorm:"uniqueIndex:idx_stock_summary_biz_product,priority:1;not null" json:"business_id"`
	ProductId   int             `gorm:"uniqueIndex:idx_stock_summary_biz_product,priority:2;not null" json:"product_id"`
	TotalIn     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_in"`
	TotalOut    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_out"`
	Balance     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"balance"`
	AverageCost decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"average_cost"`
	TotalValue  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_value"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// FirstOrCreateStockSummary fetches the ledger head FOR UPDATE, creating it
// on the first receipt of a product. Must be called inside the posting
// transaction so the row lock is held until commit.
func FirstOrCreateStockSummary(tx *gorm.DB, businessId string, productId int) (*StockSummary, error) {
	stockSummary := StockSummary{
		BusinessId: businessId,
		ProductId:  productId,
	}
	result := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("business_id = ? AND product_id = ?", businessId, productId).
		FirstOrCreate(&stockSummary)
	if result.Error != nil {
		if utils.IsDuplicateEntry(result.Error) {
			return nil, utils.NewAppError(utils.ErrorKindConcurrencyConflict,
				"ledger head for product_id=%d created concurrently", productId)
		}
		return nil, result.Error
	}
	return &stockSummary, nil
}

// LockStockSummary fetches the ledger head FOR UPDATE without creating it.
// Outbound movement against a product that never received stock is a
// business-rule failure, not an implicit row creation.
func LockStockSummary(tx *gorm.DB, businessId string, productId int) (*StockSummary, error) {
	var stockSummary StockSummary
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("business_id = ? AND product_id = ?", businessId, productId).
		First(&stockSummary).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorInsufficientStock(productId, decimal.Zero, decimal.Zero)
		}
		return nil, err
	}
	return &stockSummary, nil
}

// UpdateStockSummaryOnReceipt applies an inbound movement: the weighted
// average is recomputed here and nowhere else.
func UpdateStockSummaryOnReceipt(tx *gorm.DB, summary *StockSummary, qty decimal.Decimal, unitCost decimal.Decimal) error {
	newBalance := summary.Balance.Add(qty)

	var newAverage decimal.Decimal
	if newBalance.IsZero() {
		newAverage = decimal.Zero
	} else {
		newAverage = summary.Balance.Mul(summary.AverageCost).
			Add(qty.Mul(unitCost)).
			Div(newBalance)
	}
	newValue := newBalance.Mul(newAverage)

	err := tx.Exec(`UPDATE stock_summaries
		SET total_in = total_in + ?, balance = balance + ?, average_cost = ?, total_value = ?
		WHERE id = ?`,
		qty, qty, newAverage, newValue, summary.ID).Error
	if err != nil {
		return err
	}

	summary.TotalIn = summary.TotalIn.Add(qty)
	summary.Balance = newBalance
	summary.AverageCost = newAverage
	summary.TotalValue = newValue
	return nil
}

// UpdateStockSummaryOnIssue applies an outbound movement. Average cost
// reflects inbound cost only and is left untouched here.
func UpdateStockSummaryOnIssue(tx *gorm.DB, summary *StockSummary, qty decimal.Decimal) error {
	newBalance := summary.Balance.Sub(qty)
	if newBalance.IsNegative() {
		return utils.NewAppError(utils.ErrorKindDataIntegrityViolation,
			"stock balance would become negative for product_id=%d: balance=%s issue=%s",
			summary.ProductId, summary.Balance.String(), qty.String())
	}
	newValue := newBalance.Mul(summary.AverageCost)

	err := tx.Exec(`UPDATE stock_summaries
		SET total_out = total_out + ?, balance = balance - ?, total_value = ?
		WHERE id = ?`,
		qty, qty, newValue, summary.ID).Error
	if err != nil {
		return err
	}

	summary.TotalOut = summary.TotalOut.Add(qty)
	summary.Balance = newBalance
	summary.TotalValue = newValue
	return nil
}

// UpdateStockSummaryOnReversal undoes a previous outbound movement
// (sale return). The cost basis of the restored goods is unchanged, so
// average_cost stays as-is and the total_in side is untouched.
func UpdateStockSummaryOnReversal(tx *gorm.DB, summary *StockSummary, qty decimal.Decimal) error {
	newBalance := summary.Balance.Add(qty)
	newValue := newBalance.Mul(summary.AverageCost)

	err := tx.Exec(`UPDATE stock_summaries
		SET total_out = total_out - ?, balance = balance + ?, total_value = ?
		WHERE id = ?`,
		qty, qty, newValue, summary.ID).Error
	if err != nil {
		return err
	}

	summary.TotalOut = summary.TotalOut.Sub(qty)
	summary.Balance = newBalance
	summary.TotalValue = newValue
	return nil
}

// UpdateStockSummaryOnReceiptReversal undoes a previous inbound movement
// (cancelling a received purchase whose layers are still intact).
func UpdateStockSummaryOnReceiptReversal(tx *gorm.DB, summary *StockSummary, qty decimal.Decimal) error {
	newBalance := summary.Balance.Sub(qty)
	if newBalance.IsNegative() {
		return utils.NewAppError(utils.ErrorKindDataIntegrityViolation,
			"receipt reversal would make stock balance negative for product_id=%d: balance=%s reversal=%s",
			summary.ProductId, summary.Balance.String(), qty.String())
	}
	newValue := newBalance.Mul(summary.AverageCost)

	err := tx.Exec(`UPDATE stock_summaries
		SET total_in = total_in - ?, balance = balance - ?, total_value = ?
		WHERE id = ?`,
		qty, qty, newValue, summary.ID).Error
	if err != nil {
		return err
	}

	summary.TotalIn = summary.TotalIn.Sub(qty)
	summary.Balance = newBalance
	summary.TotalValue = newValue
	return nil
}

// GetStockSummary returns the ledger head for a product, or a zero-valued
// summary when the product has never been received.
func GetStockSummary(ctx context.Context, productId int) (*StockSummary, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	db := config.GetDB()
	var stockSummary StockSummary
	err := db.WithContext(ctx).
		Where("business_id = ? AND product_id = ?", businessId, productId).
		First(&stockSummary).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &StockSummary{BusinessId: businessId, ProductId: productId}, nil
		}
		return nil, err
	}
	return &stockSummary, nil
}
