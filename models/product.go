package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/retail_backend/config"
	"bitbucket.org/mmdatafocus/retail_backend/utils"
	"github.com/shopspring/decimal"
)

type Product struct {
	ID            int             `gorm:"primary_key" json:"id"`
	BusinessId    string          `gorm:"index;not null" json:"business_id"`
	Name          string          `gorm:"size:100;not null" json:"name" binding:"required"`
	Description   string          `gorm:"type:text" json:"description"`
	Sku           string          `gorm:"size:100;not null" json:"sku" binding:"required"`
	Barcode       string          `gorm:"index;size:100" json:"barcode"`
	SupplierId    int             `json:"supplier_id"`
	SalesPrice    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"sales_price"`
	PurchasePrice decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"purchase_price"`
	IsActive      *bool           `gorm:"not null;default:true" json:"is_active"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewProduct struct {
	Name          string          `json:"name" binding:"required"`
	Description   string          `json:"description"`
	Sku           string          `json:"sku" binding:"required"`
	Barcode       string          `json:"barcode"`
	SupplierId    int             `json:"supplier_id"`
	SalesPrice    decimal.Decimal `json:"sales_price"`
	PurchasePrice decimal.Decimal `json:"purchase_price"`
}

func CreateProduct(ctx context.Context, input *NewProduct) (*Product, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	if err := utils.ValidateUnique[Product](ctx, businessId, "sku", input.Sku, 0); err != nil {
		return nil, err
	}
	if input.SupplierId > 0 {
		if err := utils.ValidateResourceId[Supplier](ctx, businessId, input.SupplierId); err != nil {
			return nil, err
		}
	}

	product := Product{
		BusinessId:    businessId,
		Name:          input.Name,
		Description:   input.Description,
		Sku:           input.Sku,
		Barcode:       input.Barcode,
		SupplierId:    input.SupplierId,
		SalesPrice:    input.SalesPrice,
		PurchasePrice: input.PurchasePrice,
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&product).Error; err != nil {
		return nil, err
	}
	return &product, nil
}

// GetProduct reads through the redis cache.
func GetProduct(ctx context.Context, id int) (*Product, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	cached, err := utils.RetrieveRedis[Product](id)
	if err != nil {
		return nil, err
	}
	if cached != nil && cached.BusinessId == businessId {
		return cached, nil
	}

	product, err := utils.FetchModel[Product](ctx, businessId, id)
	if err != nil {
		return nil, utils.ErrorNotFound("product", id)
	}
	if err := utils.StoreRedis[Product](product, id); err != nil {
		return nil, err
	}
	return product, nil
}

func GetProducts(ctx context.Context) ([]*Product, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	return utils.FetchAllModels[Product](ctx, businessId)
}

func UpdateProduct(ctx context.Context, id int, input *NewProduct) (*Product, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	if err := utils.ValidateUnique[Product](ctx, businessId, "sku", input.Sku, id); err != nil {
		return nil, err
	}

	product, err := utils.FetchModel[Product](ctx, businessId, id)
	if err != nil {
		return nil, utils.ErrorNotFound("product", id)
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Model(&product).
		Updates(map[string]interface{}{
			"Name":          input.Name,
			"Description":   input.Description,
			"Sku":           input.Sku,
			"Barcode":       input.Barcode,
			"SupplierId":    input.SupplierId,
			"SalesPrice":    input.SalesPrice,
			"PurchasePrice": input.PurchasePrice,
		}).Error; err != nil {
		return nil, err
	}

	if err := utils.RemoveRedisItem[Product](id); err != nil {
		return nil, err
	}
	return product, nil
}
