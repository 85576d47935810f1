package workflow

import (
	"bitbucket.org/mmdatafocus/retail_backend/config"
	"bitbucket.org/mmdatafocus/retail_backend/models"
	"bitbucket.org/mmdatafocus/retail_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// BatchAllocation records how much was drawn from one cost layer during a
// single allocation pass.
type BatchAllocation struct {
	PurchaseDetailId int
	Qty              decimal.Decimal
	UnitCost         decimal.Decimal
	TotalCost        decimal.Decimal
}

// FifoAllocationResult is the outcome of one allocation pass for one product.
// TotalCost is the exact weighted COGS of the allocated quantity.
type FifoAllocationResult struct {
	ProductId   int
	Qty         decimal.Decimal
	TotalCost   decimal.Decimal
	Allocations []BatchAllocation
}

// UnitCost returns TotalCost / Qty, zero when Qty is zero.
func (r *FifoAllocationResult) UnitCost() decimal.Decimal {
	if r.Qty.IsZero() {
		return decimal.Zero
	}
	return r.TotalCost.Div(r.Qty)
}

// allocateAcrossLayers walks the layers oldest first and plans how the
// requested quantity will be drawn. Pure planning, no db writes: callers
// apply the plan only when it covers the full quantity.
func allocateAcrossLayers(layers []*models.PurchaseDetail, qty decimal.Decimal) ([]BatchAllocation, decimal.Decimal, decimal.Decimal) {
	remaining := qty
	totalCost := decimal.Zero
	allocations := make([]BatchAllocation, 0, len(layers))

	for _, layer := range layers {
		if !remaining.IsPositive() {
			break
		}
		if !layer.RemainingQty.IsPositive() {
			continue
		}
		take := layer.RemainingQty
		if take.GreaterThan(remaining) {
			take = remaining
		}
		cost := take.Mul(layer.UnitCost)
		allocations = append(allocations, BatchAllocation{
			PurchaseDetailId: layer.ID,
			Qty:              take,
			UnitCost:         layer.UnitCost,
			TotalCost:        cost,
		})
		totalCost = totalCost.Add(cost)
		remaining = remaining.Sub(take)
	}
	return allocations, totalCost, remaining
}

// AllocateStock performs one FIFO allocation for a product inside the posting
// transaction: locks the open layers and the summary row, plans the draw,
// then applies it to the layers, the summary and the ledger. Either every
// write lands or the returned error aborts the whole transaction.
func AllocateStock(tx *gorm.DB, logger *logrus.Logger, businessId string, productId int, qty decimal.Decimal, referenceType models.StockReferenceType, referenceId int) (*FifoAllocationResult, error) {

	if !qty.IsPositive() {
		return nil, utils.ErrorInvalidQuantity(qty)
	}

	layers, err := models.GetOpenBatchLayers(tx, businessId, productId)
	if err != nil {
		config.LogError(logger, "fifo.go", "AllocateStock", "GetOpenBatchLayers", productId, err)
		return nil, err
	}

	summary, err := models.LockStockSummary(tx, businessId, productId)
	if err != nil {
		return nil, err
	}

	allocations, totalCost, shortfall := allocateAcrossLayers(layers, qty)
	if shortfall.IsPositive() {
		available := qty.Sub(shortfall)
		return nil, utils.ErrorInsufficientStock(productId, qty, available)
	}

	for _, alloc := range allocations {
		if err := models.DecrementLayerRemainingQty(tx, alloc.PurchaseDetailId, alloc.Qty); err != nil {
			config.LogError(logger, "fifo.go", "AllocateStock", "DecrementLayerRemainingQty", alloc.PurchaseDetailId, err)
			return nil, err
		}
	}

	if err := models.UpdateStockSummaryOnIssue(tx, summary, qty); err != nil {
		config.LogError(logger, "fifo.go", "AllocateStock", "UpdateStockSummaryOnIssue", productId, err)
		return nil, err
	}

	result := &FifoAllocationResult{
		ProductId:   productId,
		Qty:         qty,
		TotalCost:   totalCost,
		Allocations: allocations,
	}

	entry := &models.StockTransaction{
		BusinessId:      businessId,
		ProductId:       productId,
		TransactionType: models.StockTransactionTypeOut,
		ReferenceType:   referenceType,
		ReferenceId:     referenceId,
		Qty:             qty,
		UnitCost:        result.UnitCost(),
		TotalCost:       totalCost,
	}
	if err := models.AppendStockTransaction(tx, entry); err != nil {
		config.LogError(logger, "fifo.go", "AllocateStock", "AppendStockTransaction", entry, err)
		return nil, err
	}

	return result, nil
}

// ReceiveStock applies one inbound movement: opens the layer (remaining = qty),
// recomputes the weighted average on the summary and appends the ledger entry.
// The layer row itself must already exist; receivedAt stamping is the caller's
// job because it doubles as the FIFO ordering key.
func ReceiveStock(tx *gorm.DB, logger *logrus.Logger, businessId string, layer *models.PurchaseDetail, referenceType models.StockReferenceType, referenceId int) error {

	if !layer.Qty.IsPositive() {
		return utils.ErrorInvalidQuantity(layer.Qty)
	}

	summary, err := models.FirstOrCreateStockSummary(tx, businessId, layer.ProductId)
	if err != nil {
		config.LogError(logger, "fifo.go", "ReceiveStock", "FirstOrCreateStockSummary", layer.ProductId, err)
		return err
	}

	err = tx.Model(&models.PurchaseDetail{}).
		Where("id = ?", layer.ID).
		Updates(map[string]interface{}{"remaining_qty": layer.Qty, "received_at": layer.ReceivedAt}).Error
	if err != nil {
		config.LogError(logger, "fifo.go", "ReceiveStock", "OpenBatchLayer", layer.ID, err)
		return err
	}
	layer.RemainingQty = layer.Qty

	if err := models.UpdateStockSummaryOnReceipt(tx, summary, layer.Qty, layer.UnitCost); err != nil {
		config.LogError(logger, "fifo.go", "ReceiveStock", "UpdateStockSummaryOnReceipt", layer.ProductId, err)
		return err
	}

	entry := &models.StockTransaction{
		BusinessId:      businessId,
		ProductId:       layer.ProductId,
		TransactionType: models.StockTransactionTypeIn,
		ReferenceType:   referenceType,
		ReferenceId:     referenceId,
		Qty:             layer.Qty,
		UnitCost:        layer.UnitCost,
		TotalCost:       layer.Qty.Mul(layer.UnitCost),
	}
	if err := models.AppendStockTransaction(tx, entry); err != nil {
		config.LogError(logger, "fifo.go", "ReceiveStock", "AppendStockTransaction", entry, err)
		return err
	}

	return nil
}

// ReverseStock undoes part of a previous allocation by replaying the persisted
// breakdown: quantity goes back to the exact layers it came from, at the cost
// it left with. allocations carries the portion to restore per layer.
func ReverseStock(tx *gorm.DB, logger *logrus.Logger, businessId string, productId int, allocations []BatchAllocation, referenceType models.StockReferenceType, referenceId int) (decimal.Decimal, error) {

	totalQty := decimal.Zero
	totalCost := decimal.Zero
	for _, alloc := range allocations {
		if !alloc.Qty.IsPositive() {
			return decimal.Zero, utils.ErrorInvalidQuantity(alloc.Qty)
		}
		totalQty = totalQty.Add(alloc.Qty)
		totalCost = totalCost.Add(alloc.TotalCost)
	}
	if !totalQty.IsPositive() {
		return decimal.Zero, utils.ErrorInvalidQuantity(totalQty)
	}

	summary, err := models.LockStockSummary(tx, businessId, productId)
	if err != nil {
		return decimal.Zero, err
	}

	for _, alloc := range allocations {
		if err := models.IncrementLayerRemainingQty(tx, alloc.PurchaseDetailId, alloc.Qty); err != nil {
			config.LogError(logger, "fifo.go", "ReverseStock", "IncrementLayerRemainingQty", alloc.PurchaseDetailId, err)
			return decimal.Zero, err
		}
	}

	if err := models.UpdateStockSummaryOnReversal(tx, summary, totalQty); err != nil {
		config.LogError(logger, "fifo.go", "ReverseStock", "UpdateStockSummaryOnReversal", productId, err)
		return decimal.Zero, err
	}

	unitCost := decimal.Zero
	if !totalQty.IsZero() {
		unitCost = totalCost.Div(totalQty)
	}
	entry := &models.StockTransaction{
		BusinessId:      businessId,
		ProductId:       productId,
		TransactionType: models.StockTransactionTypeIn,
		ReferenceType:   referenceType,
		ReferenceId:     referenceId,
		Qty:             totalQty,
		UnitCost:        unitCost,
		TotalCost:       totalCost,
	}
	if err := models.AppendStockTransaction(tx, entry); err != nil {
		config.LogError(logger, "fifo.go", "ReverseStock", "AppendStockTransaction", entry, err)
		return decimal.Zero, err
	}

	return totalCost, nil
}
