package models

import (
	"log"

	"bitbucket.org/mmdatafocus/retail_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Business{}, &User{},
		&Product{}, &Supplier{}, &Customer{},
		&Purchase{}, &PurchaseDetail{},
		&Sale{}, &SaleDetail{}, &SaleDetailBatch{},
		&SaleReturn{}, &SaleReturnDetail{},
		&StockSummary{}, &StockTransaction{},
		&TransactionNumberSeries{}, &TransactionNumberSeriesModule{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
