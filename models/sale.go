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

type Sale struct {
	ID            int             `gorm:"primary_key" json:"id"`
	BusinessId    string          `gorm:"index;uniqueIndex:idx_sales_biz_seq,priority:1;not null" json:"business_id"`
	CustomerId    int             `gorm:"index" json:"customer_id"`
	InvoiceNumber string          `gorm:"size:50;not null" json:"invoice_number"`
	SequenceNo    decimal.Decimal `gorm:"type:decimal(20,0);uniqueIndex:idx_sales_biz_seq,priority:2;default:0" json:"sequence_no"`
	SaleDate      time.Time       `gorm:"not null" json:"sale_date"`
	CurrentStatus SaleStatus      `gorm:"type:enum('Confirmed','PartiallyReturned','Returned');default:Confirmed" json:"current_status"`
	TotalAmount   decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_amount"`
	TotalCost     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_cost"`
	TotalProfit   decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_profit"`
	ProfitMargin  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"profit_margin"`
	Details       []SaleDetail    `gorm:"foreignKey:SaleId" json:"details"`
	CreatedBy     int             `json:"created_by"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type SaleDetail struct {
	ID          int               `gorm:"primary_key" json:"id"`
	BusinessId  string            `gorm:"index;not null" json:"business_id"`
	SaleId      int               `gorm:"index;not null" json:"sale_id"`
	ProductId   int               `gorm:"index;not null" json:"product_id"`
	Qty         decimal.Decimal   `gorm:"type:decimal(20,4);not null" json:"qty"`
	UnitPrice   decimal.Decimal   `gorm:"type:decimal(20,4);not null" json:"unit_price"`
	TotalPrice  decimal.Decimal   `gorm:"type:decimal(20,4);not null" json:"total_price"`
	UnitCost    decimal.Decimal   `gorm:"type:decimal(20,4);default:0" json:"unit_cost"`
	TotalCost   decimal.Decimal   `gorm:"type:decimal(20,4);default:0" json:"total_cost"`
	Profit      decimal.Decimal   `gorm:"type:decimal(20,4);default:0" json:"profit"`
	ReturnedQty decimal.Decimal   `gorm:"type:decimal(20,4);default:0" json:"returned_qty"`
	UsedBatches []SaleDetailBatch `gorm:"foreignKey:SaleDetailId" json:"used_batches"`
	CreatedAt   time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}

// SaleDetailBatch is the durable allocation breakdown: which cost layers
// funded a sale line and at what cost. Written once at sale time; the
// return path replays these rows instead of re-deriving a FIFO pass that
// could pick different layers.
type SaleDetailBatch struct {
	ID               int             `gorm:"primary_key" json:"id"`
	BusinessId       string          `gorm:"index;not null" json:"business_id"`
	SaleDetailId     int             `gorm:"index;not null" json:"sale_detail_id"`
	PurchaseDetailId int             `gorm:"index;not null" json:"purchase_detail_id"`
	Qty              decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"qty"`
	UnitCost         decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"unit_cost"`
	TotalCost        decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"total_cost"`
	CreatedAt        time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

type NewSale struct {
	CustomerId int             `json:"customer_id"`
	SaleDate   time.Time       `json:"sale_date" binding:"required"`
	Details    []NewSaleDetail `json:"details" binding:"required,min=1,dive"`
}

type NewSaleDetail struct {
	ProductId int             `json:"product_id" binding:"required"`
	Qty       decimal.Decimal `json:"qty" binding:"required"`
	UnitPrice decimal.Decimal `json:"unit_price" binding:"required"`
}

// GetSaleDetailBatches returns the persisted allocation breakdown for a sale
// line in allocation order.
func GetSaleDetailBatches(tx *gorm.DB, businessId string, saleDetailId int) ([]*SaleDetailBatch, error) {
	var batches []*SaleDetailBatch
	err := tx.Where("business_id = ? AND sale_detail_id = ?", businessId, saleDetailId).
		Order("id ASC").
		Find(&batches).Error
	if err != nil {
		return nil, err
	}
	return batches, nil
}

func GetSale(ctx context.Context, id int) (*Sale, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	sale, err := utils.FetchModel[Sale](ctx, businessId, id, "Details", "Details.UsedBatches")
	if err != nil {
		return nil, utils.ErrorNotFound("sale", id)
	}
	return sale, nil
}

func GetSales(ctx context.Context) ([]*Sale, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	db := config.GetDB()
	var sales []*Sale
	err := db.WithContext(ctx).
		Where("business_id = ?", businessId).
		Preload("Details").
		Order("id DESC").
		Find(&sales).Error
	if err != nil {
		return nil, err
	}
	return sales, nil
}
