package gormstore

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// TimeSlot mirrors the time_slots table.
type TimeSlot struct {
	SlotKey   string    `gorm:"primaryKey;size:15"`
	VisitDate string    `gorm:"size:10;not null;index:idx_time_slots_visit_date"`
	VisitTime string    `gorm:"size:5;not null"`
	Capacity  int       `gorm:"not null"`
	Reserved  int       `gorm:"not null"`
	Available bool      `gorm:"not null"`
	Revision  int64     `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (TimeSlot) TableName() string { return "time_slots" }

// Product mirrors the products table.
type Product struct {
	ProductID         string          `gorm:"primaryKey"`
	Name              string          `gorm:"not null"`
	Description       string          `gorm:"not null"`
	ImageURL          string          `gorm:"not null"`
	Price             decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	OrderStart        *time.Time      `gorm:""`
	OrderEnd          *time.Time      `gorm:""`
	MaxPerReservation int             `gorm:"not null"`
	MaxPerUser        int             `gorm:"not null"`
	TotalOrderLimit   int             `gorm:"not null"`
	CurrentOrderCount int             `gorm:"not null"`
	Active            bool            `gorm:"not null;index:idx_products_active"`
	Revision          int64           `gorm:"not null"`
	CreatedAt         time.Time       `gorm:"not null;index:idx_products_created"`
	UpdatedAt         time.Time       `gorm:"not null"`
}

func (Product) TableName() string { return "products" }

// Reservation mirrors the reservations table. Items holds the line items as a JSON array.
type Reservation struct {
	ReservationID     string         `gorm:"primaryKey"`
	ReservationNumber string         `gorm:"not null;uniqueIndex:uniq_reservations_number"`
	Email             string         `gorm:"not null;index:idx_reservations_email"`
	CustomerName      string         `gorm:"not null"`
	Phone             string         `gorm:"not null"`
	VisitDate         string         `gorm:"size:10;not null;index:idx_reservations_visit,priority:1"`
	VisitTime         string         `gorm:"size:5;not null;index:idx_reservations_visit,priority:2"`
	Status            string         `gorm:"not null;index:idx_reservations_status"`
	Items             datatypes.JSON `gorm:"not null"`
	Revision          int64          `gorm:"not null"`
	CreatedAt         time.Time      `gorm:"not null;index:idx_reservations_created"`
	UpdatedAt         time.Time      `gorm:"not null"`
}

func (Reservation) TableName() string { return "reservations" }

type lineItemJSON struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// Models lists every table model in migration order.
func Models() []any {
	return []any{&TimeSlot{}, &Product{}, &Reservation{}}
}
