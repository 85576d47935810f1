package workflow

import (
	"context"

	"bitbucket.org/mmdatafocus/retail_backend/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// StockInconsistency is one product whose three balance views disagree:
// the summary head, the open batch layers and the transaction ledger.
type StockInconsistency struct {
	ProductId      int             `json:"product_id"`
	SummaryBalance decimal.Decimal `json:"summary_balance"`
	SummaryInOut   decimal.Decimal `json:"summary_in_out"`
	LayerBalance   decimal.Decimal `json:"layer_balance"`
	LedgerBalance  decimal.Decimal `json:"ledger_balance"`
}

// VerifyStockConsistency cross-checks every product of a business against the
// invariant balance == total_in - total_out == SUM(remaining_qty) == ledger
// sum. It holds the posting lock so no posting commits mid-scan; a non-empty
// result means a posting path is broken and needs investigation, not repair.
//
// The whole scan runs inside one transaction so the advisory lock, the reads
// and the release all share a single session. On a pooled *gorm.DB each
// statement may check out a different connection, which would leave the lock
// on one session while the scan runs unprotected on others.
func VerifyStockConsistency(ctx context.Context, db *gorm.DB, logger *logrus.Logger, businessId string) ([]StockInconsistency, error) {
	tx := db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}
	defer tx.Rollback()

	if err := AcquireBusinessPostingLock(tx, businessId); err != nil {
		return nil, err
	}

	inconsistencies, err := scanStockConsistency(tx, logger, businessId)

	ReleaseBusinessPostingLock(tx, businessId)
	if commitErr := tx.Commit().Error; err == nil && commitErr != nil {
		return nil, commitErr
	}
	return inconsistencies, err
}

func scanStockConsistency(conn *gorm.DB, logger *logrus.Logger, businessId string) ([]StockInconsistency, error) {
	var summaries []*models.StockSummary
	if err := conn.Where("business_id = ?", businessId).Find(&summaries).Error; err != nil {
		return nil, err
	}

	inconsistencies := make([]StockInconsistency, 0)
	for _, summary := range summaries {
		layerBalance, err := models.GetAvailableQty(conn, businessId, summary.ProductId)
		if err != nil {
			return nil, err
		}
		ledgerBalance, err := models.SumStockLedger(conn, businessId, summary.ProductId)
		if err != nil {
			return nil, err
		}
		inOut := summary.TotalIn.Sub(summary.TotalOut)

		if summary.Balance.Equal(inOut) &&
			summary.Balance.Equal(layerBalance) &&
			summary.Balance.Equal(ledgerBalance) {
			continue
		}

		inconsistencies = append(inconsistencies, StockInconsistency{
			ProductId:      summary.ProductId,
			SummaryBalance: summary.Balance,
			SummaryInOut:   inOut,
			LayerBalance:   layerBalance,
			LedgerBalance:  ledgerBalance,
		})
		logger.WithFields(logrus.Fields{
			"business_id":     businessId,
			"product_id":      summary.ProductId,
			"summary_balance": summary.Balance.String(),
			"summary_in_out":  inOut.String(),
			"layer_balance":   layerBalance.String(),
			"ledger_balance":  ledgerBalance.String(),
		}).Error("stock consistency violation")
	}
	return inconsistencies, nil
}
