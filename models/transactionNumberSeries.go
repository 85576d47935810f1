package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/retail_backend/config"
	"bitbucket.org/mmdatafocus/retail_backend/utils"
	"gorm.io/gorm"
)

type TransactionNumberSeries struct {
	ID         int                             `gorm:"primary_key" json:"id"`
	BusinessId string                          `gorm:"index;not null" json:"business_id"`
	Name       string                          `gorm:"size:100;not null" json:"name" binding:"required"`
	Modules    []TransactionNumberSeriesModule `gorm:"foreignKey:SeriesId" json:"modules"`
	CreatedAt  time.Time                       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time                       `gorm:"autoUpdateTime" json:"updated_at"`
}

type TransactionNumberSeriesModule struct {
	SeriesId   int    `gorm:"primaryKey;autoIncrement:false" json:"series_id"`
	ModuleName string `gorm:"primaryKey;autoIncrement:false" json:"module_name"`
	Prefix     string `gorm:"size:10" json:"prefix"`
}

type NewTransactionNumberSeries struct {
	Name    string                             `json:"name" binding:"required"`
	Modules []NewTransactionNumberSeriesModule `json:"modules"`
}

type NewTransactionNumberSeriesModule struct {
	ModuleName string `json:"module_name" binding:"required"`
	Prefix     string `json:"prefix"`
}

func CreateTransactionNumberSeries(ctx context.Context, input *NewTransactionNumberSeries) (*TransactionNumberSeries, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	if err := utils.ValidateUnique[TransactionNumberSeries](ctx, businessId, "name", input.Name, 0); err != nil {
		return nil, err
	}

	modules := make([]TransactionNumberSeriesModule, 0)
	for _, m := range input.Modules {
		modules = append(modules, TransactionNumberSeriesModule{
			ModuleName: m.ModuleName,
			Prefix:     m.Prefix,
		})
	}

	series := TransactionNumberSeries{
		BusinessId: businessId,
		Name:       input.Name,
		Modules:    modules,
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&series).Error; err != nil {
		return nil, err
	}
	return &series, nil
}

func GetTransactionNumberSeriesAll(ctx context.Context) ([]*TransactionNumberSeries, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	return utils.FetchAllModels[TransactionNumberSeries](ctx, businessId, "Modules")
}

// GetTransactionPrefix resolves the configured prefix for a document module,
// falling back to empty when the tenant has no series configured.
func GetTransactionPrefix(ctx context.Context, businessId string, moduleName string) (string, error) {
	db := config.GetDB()
	var prefix string
	err := db.WithContext(ctx).Model(&TransactionNumberSeriesModule{}).
		Joins("INNER JOIN transaction_number_series ON transaction_number_series.id = transaction_number_series_modules.series_id").
		Where("transaction_number_series.business_id = ? AND transaction_number_series_modules.module_name = ?", businessId, moduleName).
		Select("transaction_number_series_modules.prefix").
		Scan(&prefix).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", err
	}
	return prefix, nil
}
