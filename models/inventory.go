package models

import "time"

// InventoryItem is one stocked household item; ItemName is the logical identity.
type InventoryItem struct {
	ID              int        `gorm:"primary_key" json:"id"`
	ItemName        string     `gorm:"size:255;not null;uniqueIndex" json:"item_name"`
	Category        string     `gorm:"size:100;index;default:null" json:"category"`
	CurrentQuantity int        `gorm:"not null;default:0" json:"current_quantity"`
	Unit            string     `gorm:"size:50;default:null" json:"unit"`
	StorageLocation string     `gorm:"size:255;default:null" json:"storage_location"`
	ProductionDate  *time.Time `gorm:"default:null" json:"production_date"`
	ExpiryDate      *time.Time `gorm:"default:null" json:"expiry_date"`
	WarrantyPeriod  string     `gorm:"size:100;default:null" json:"warranty_period"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (InventoryItem) TableName() string { return "inventory" }

// ApplyDelta adds delta to the current quantity; consumption floors at 0.
func (i *InventoryItem) ApplyDelta(delta int) {
	q := i.CurrentQuantity + delta
	if q < 0 {
		q = 0
	}
	i.CurrentQuantity = q
}
