package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/retail_backend/config"
	"bitbucket.org/mmdatafocus/retail_backend/utils"
	"github.com/shopspring/decimal"
)

type SaleReturn struct {
	ID           int                `gorm:"primary_key" json:"id"`
	BusinessId   string             `gorm:"index;uniqueIndex:idx_sale_returns_biz_seq,priority:1;not null" json:"business_id"`
	SaleId       int                `gorm:"index;not null" json:"sale_id"`
	ReturnNumber string             `gorm:"size:50;not null" json:"return_number"`
	SequenceNo   decimal.Decimal    `gorm:"type:decimal(20,0);uniqueIndex:idx_sale_returns_biz_seq,priority:2;default:0" json:"sequence_no"`
	ReturnDate   time.Time          `gorm:"not null" json:"return_date"`
	Reason       string             `gorm:"size:255" json:"reason"`
	TotalRefund  decimal.Decimal    `gorm:"type:decimal(20,4);default:0" json:"total_refund"`
	TotalCost    decimal.Decimal    `gorm:"type:decimal(20,4);default:0" json:"total_cost"`
	Details      []SaleReturnDetail `gorm:"foreignKey:SaleReturnId" json:"details"`
	CreatedBy    int                `json:"created_by"`
	CreatedAt    time.Time          `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time          `gorm:"autoUpdateTime" json:"updated_at"`
}

type SaleReturnDetail struct {
	ID           int             `gorm:"primary_key" json:"id"`
	BusinessId   string          `gorm:"index;not null" json:"business_id"`
	SaleReturnId int             `gorm:"index;not null" json:"sale_return_id"`
	SaleDetailId int             `gorm:"index;not null" json:"sale_detail_id"`
	ProductId    int             `gorm:"index;not null" json:"product_id"`
	Qty          decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"qty"`
	UnitPrice    decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"unit_price"`
	RefundAmount decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"refund_amount"`
	UnitCost     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"unit_cost"`
	TotalCost    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_cost"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

type NewSaleReturn struct {
	SaleId     int                   `json:"sale_id" binding:"required"`
	ReturnDate time.Time             `json:"return_date" binding:"required"`
	Reason     string                `json:"reason"`
	Details    []NewSaleReturnDetail `json:"details" binding:"required,min=1,dive"`
}

type NewSaleReturnDetail struct {
	SaleDetailId int             `json:"sale_detail_id" binding:"required"`
	Qty          decimal.Decimal `json:"qty" binding:"required"`
}

func GetSaleReturn(ctx context.Context, id int) (*SaleReturn, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	saleReturn, err := utils.FetchModel[SaleReturn](ctx, businessId, id, "Details")
	if err != nil {
		return nil, utils.ErrorNotFound("sale return", id)
	}
	return saleReturn, nil
}

func GetSaleReturns(ctx context.Context) ([]*SaleReturn, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	db := config.GetDB()
	var returns []*SaleReturn
	err := db.WithContext(ctx).
		Where("business_id = ?", businessId).
		Preload("Details").
		Order("id DESC").
		Find(&returns).Error
	if err != nil {
		return nil, err
	}
	return returns, nil
}
