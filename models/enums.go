package models

type StockTransactionType string

const (
	StockTransactionTypeIn  StockTransactionType = "In"
	StockTransactionTypeOut StockTransactionType = "Out"
)

type StockReferenceType string

const (
	StockReferenceTypePurchase       StockReferenceType = "PO"
	StockReferenceTypePurchaseCancel StockReferenceType = "POC"
	StockReferenceTypeSale           StockReferenceType = "SL"
	StockReferenceTypeSaleReturn     StockReferenceType = "SR"
)

type PurchaseStatus string

const (
	PurchaseStatusPending   PurchaseStatus = "Pending"
	PurchaseStatusReceived  PurchaseStatus = "Received"
	PurchaseStatusCancelled PurchaseStatus = "Cancelled"
)

type SaleStatus string

const (
	SaleStatusConfirmed         SaleStatus = "Confirmed"
	SaleStatusPartiallyReturned SaleStatus = "PartiallyReturned"
	SaleStatusReturned          SaleStatus = "Returned"
)

type UserRole string

const (
	UserRoleAdmin UserRole = "Admin"
	UserRoleStaff UserRole = "Staff"
)
