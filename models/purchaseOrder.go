package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PurchaseOrder is one imported order; ID is platform-prefixed (e.g. "JD-123", "TB-456").
type PurchaseOrder struct {
	ID              string             `gorm:"primaryKey;size:100" json:"id"`
	StoreName       string             `gorm:"size:255;default:null" json:"store_name"`
	TotalPrice      decimal.Decimal    `gorm:"type:decimal(20,4);default:0" json:"total_price"`
	DeliveryCost    decimal.Decimal    `gorm:"type:decimal(20,4);default:0" json:"delivery_cost"`
	PayFee          decimal.Decimal    `gorm:"type:decimal(20,4);default:0" json:"pay_fee"`
	PurchaseDate    time.Time          `gorm:"not null;index" json:"purchase_date"`
	PurchaseChannel string             `gorm:"size:100;default:null" json:"purchase_channel"`
	Items           []PurchaseLineItem `gorm:"foreignKey:ParentId;references:ID" json:"items"`
	CreatedAt       time.Time          `gorm:"autoCreateTime" json:"created_at"`
}

func (PurchaseOrder) TableName() string { return "purchase_history" }

type PurchaseLineItem struct {
	ID        int             `gorm:"primary_key" json:"id"`
	ParentId  string          `gorm:"size:100;index;not null" json:"parent_id"`
	ItemName  string          `gorm:"size:255;index;not null" json:"item_name"`
	Quantity  int             `gorm:"not null;default:0" json:"quantity"`
	Model     string          `gorm:"size:255;default:null" json:"model"`
	UnitPrice decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"unit_price"`
	Category  string          `gorm:"size:100;index;default:null" json:"category"`
}

func (PurchaseLineItem) TableName() string { return "purchase_sub_list" }

// LineTotal is unit_price * quantity.
func (l PurchaseLineItem) LineTotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// PurchaseLine is a line item joined with its order's purchase date.
type PurchaseLine struct {
	OrderId      string          `json:"order_id"`
	ItemName     string          `json:"item_name"`
	Category     string          `json:"category"`
	Model        string          `json:"model"`
	Quantity     int             `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	PurchaseDate time.Time       `json:"purchase_date"`
	StoreName    string          `json:"store_name"`
}

func (l PurchaseLine) LineTotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}
