package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/popupshop/pkg/booking"
	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	constraintReservationPrimary = "reservations_pkey"
	constraintReservationNumber  = "uniq_reservations_number"
	columnReservationNumber      = "reservation_number"
	pgUniqueViolationCode        = "23505"
	sqliteConstraintCode         = 19
	emptyItemsJSON               = "[]"
	errorOperationStore          = "store"
	errorSubjectSlot             = "slot"
	errorSubjectProduct          = "product"
	errorSubjectReservation      = "reservation"
	errorCodeInsert              = "insert"
	errorCodeDuplicate           = "duplicate"
	errorCodeGet                 = "get"
	errorCodeList                = "list"
	errorCodeUpdate              = "update"
	errorCodeDelete              = "delete"
	errorCodeInvalid             = "invalid"
	errorCodeEncode              = "encode"
)

// Store implements booking.Store using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// AutoMigrate creates or updates the booking tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(Models()...)
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore booking.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

// Capabilities reports that date ranges are served by one indexed query.
func (store *Store) Capabilities() booking.Capabilities {
	return booking.Capabilities{RangeQueries: true}
}

func (store *Store) InsertSlot(ctx context.Context, slot booking.TimeSlot) error {
	model := TimeSlot{
		SlotKey:   slot.Key.String(),
		VisitDate: slot.Date.String(),
		VisitTime: slot.Time.String(),
		Capacity:  slot.Capacity,
		Reserved:  slot.Reserved,
		Available: slot.Available,
		Revision:  slot.Revision,
		CreatedAt: slot.CreatedAt,
		UpdatedAt: slot.UpdatedAt,
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectSlot, errorCodeDuplicate, fmt.Errorf("%w: %s", booking.ErrSlotExists, model.SlotKey))
	}
	if err != nil {
		return wrapStoreError(errorSubjectSlot, errorCodeInsert, booking.Unavailable(err))
	}
	return nil
}

func (store *Store) GetSlot(ctx context.Context, key booking.SlotKey) (booking.TimeSlot, error) {
	var model TimeSlot
	err := store.db.WithContext(ctx).Where("slot_key = ?", key.String()).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return booking.TimeSlot{}, wrapStoreError(errorSubjectSlot, errorCodeGet, fmt.Errorf("%w: %s", booking.ErrUnknownSlot, key))
	}
	if err != nil {
		return booking.TimeSlot{}, wrapStoreError(errorSubjectSlot, errorCodeGet, booking.Unavailable(err))
	}
	slot, err := mapTimeSlot(model)
	if err != nil {
		return booking.TimeSlot{}, wrapStoreError(errorSubjectSlot, errorCodeInvalid, err)
	}
	return slot, nil
}

func (store *Store) ListSlots(ctx context.Context, filter booking.SlotFilter) ([]booking.TimeSlot, error) {
	query := store.db.WithContext(ctx).Model(&TimeSlot{})
	switch {
	case !filter.Date.IsZero():
		query = query.Where("visit_date = ?", filter.Date.String())
	default:
		if !filter.From.IsZero() {
			query = query.Where("visit_date >= ?", filter.From.String())
		}
		if !filter.To.IsZero() {
			query = query.Where("visit_date <= ?", filter.To.String())
		}
	}
	var rows []TimeSlot
	if err := query.Order("visit_date ASC, visit_time ASC").Find(&rows).Error; err != nil {
		return nil, wrapStoreError(errorSubjectSlot, errorCodeList, booking.Unavailable(err))
	}
	slots := make([]booking.TimeSlot, 0, len(rows))
	for _, row := range rows {
		slot, err := mapTimeSlot(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectSlot, errorCodeInvalid, err)
		}
		slots = append(slots, slot)
	}
	return slots, nil
}

func (store *Store) UpdateSlot(ctx context.Context, slot booking.TimeSlot, expectedRevision int64) error {
	result := store.db.WithContext(ctx).
		Model(&TimeSlot{}).
		Where("slot_key = ? AND revision = ?", slot.Key.String(), expectedRevision).
		Updates(map[string]any{
			"capacity":   slot.Capacity,
			"reserved":   slot.Reserved,
			"available":  slot.Available,
			"revision":   expectedRevision + 1,
			"updated_at": slot.UpdatedAt,
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectSlot, errorCodeUpdate, booking.Unavailable(result.Error))
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectSlot, errorCodeUpdate, store.missingOrConflict(ctx, &TimeSlot{}, "slot_key = ?", slot.Key.String(), booking.ErrUnknownSlot))
	}
	return nil
}

func (store *Store) DeleteSlot(ctx context.Context, key booking.SlotKey, expectedRevision int64) error {
	result := store.db.WithContext(ctx).
		Where("slot_key = ? AND revision = ?", key.String(), expectedRevision).
		Delete(&TimeSlot{})
	if result.Error != nil {
		return wrapStoreError(errorSubjectSlot, errorCodeDelete, booking.Unavailable(result.Error))
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectSlot, errorCodeDelete, store.missingOrConflict(ctx, &TimeSlot{}, "slot_key = ?", key.String(), booking.ErrUnknownSlot))
	}
	return nil
}

func (store *Store) InsertProduct(ctx context.Context, product booking.Product) error {
	model := Product{
		ProductID:         product.ID.String(),
		Name:              product.Name,
		Description:       product.Description,
		ImageURL:          product.ImageURL,
		Price:             product.Price,
		OrderStart:        timePointer(product.OrderStart),
		OrderEnd:          timePointer(product.OrderEnd),
		MaxPerReservation: product.MaxPerReservation,
		MaxPerUser:        product.MaxPerUser,
		TotalOrderLimit:   product.TotalOrderLimit,
		CurrentOrderCount: product.CurrentOrderCount,
		Active:            product.Active,
		Revision:          product.Revision,
		CreatedAt:         product.CreatedAt,
		UpdatedAt:         product.UpdatedAt,
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectProduct, errorCodeDuplicate, fmt.Errorf("%w: %s", booking.ErrProductExists, model.ProductID))
	}
	if err != nil {
		return wrapStoreError(errorSubjectProduct, errorCodeInsert, booking.Unavailable(err))
	}
	return nil
}

func (store *Store) GetProduct(ctx context.Context, productID booking.ProductID) (booking.Product, error) {
	var model Product
	err := store.db.WithContext(ctx).Where("product_id = ?", productID.String()).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return booking.Product{}, wrapStoreError(errorSubjectProduct, errorCodeGet, fmt.Errorf("%w: %s", booking.ErrUnknownProduct, productID))
	}
	if err != nil {
		return booking.Product{}, wrapStoreError(errorSubjectProduct, errorCodeGet, booking.Unavailable(err))
	}
	product, err := mapProduct(model)
	if err != nil {
		return booking.Product{}, wrapStoreError(errorSubjectProduct, errorCodeInvalid, err)
	}
	return product, nil
}

func (store *Store) ListProducts(ctx context.Context, filter booking.ProductFilter) ([]booking.Product, error) {
	query := store.db.WithContext(ctx).Model(&Product{})
	if filter.ActiveOnly {
		query = query.Where("active = ?", true)
	}
	var rows []Product
	if err := query.Order("created_at DESC").Find(&rows).Error; err != nil {
		return nil, wrapStoreError(errorSubjectProduct, errorCodeList, booking.Unavailable(err))
	}
	products := make([]booking.Product, 0, len(rows))
	for _, row := range rows {
		product, err := mapProduct(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectProduct, errorCodeInvalid, err)
		}
		products = append(products, product)
	}
	return products, nil
}

func (store *Store) UpdateProduct(ctx context.Context, product booking.Product, expectedRevision int64) error {
	result := store.db.WithContext(ctx).
		Model(&Product{}).
		Where("product_id = ? AND revision = ?", product.ID.String(), expectedRevision).
		Updates(map[string]any{
			"name":                product.Name,
			"description":         product.Description,
			"image_url":           product.ImageURL,
			"price":               product.Price,
			"order_start":         timePointer(product.OrderStart),
			"order_end":           timePointer(product.OrderEnd),
			"max_per_reservation": product.MaxPerReservation,
			"max_per_user":        product.MaxPerUser,
			"total_order_limit":   product.TotalOrderLimit,
			"current_order_count": product.CurrentOrderCount,
			"active":              product.Active,
			"revision":            expectedRevision + 1,
			"updated_at":          product.UpdatedAt,
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectProduct, errorCodeUpdate, booking.Unavailable(result.Error))
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectProduct, errorCodeUpdate, store.missingOrConflict(ctx, &Product{}, "product_id = ?", product.ID.String(), booking.ErrUnknownProduct))
	}
	return nil
}

func (store *Store) InsertReservation(ctx context.Context, reservation booking.Reservation) error {
	items, err := encodeItems(reservation.Items)
	if err != nil {
		return wrapStoreError(errorSubjectReservation, errorCodeEncode, err)
	}
	model := Reservation{
		ReservationID:     reservation.ID.String(),
		ReservationNumber: reservation.Number.String(),
		Email:             reservation.Customer.Email.String(),
		CustomerName:      reservation.Customer.Name,
		Phone:             reservation.Customer.Phone,
		VisitDate:         reservation.VisitDate.String(),
		VisitTime:         reservation.VisitTime.String(),
		Status:            reservation.Status.String(),
		Items:             items,
		Revision:          reservation.Revision,
		CreatedAt:         reservation.CreatedAt,
		UpdatedAt:         reservation.UpdatedAt,
	}
	err = store.db.WithContext(ctx).Create(&model).Error
	if isReservationNumberConflict(err) {
		return wrapStoreError(errorSubjectReservation, errorCodeDuplicate, fmt.Errorf("%w: %s", booking.ErrReservationNumberTaken, model.ReservationNumber))
	}
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectReservation, errorCodeDuplicate, fmt.Errorf("%w: %s", booking.ErrReservationExists, model.ReservationID))
	}
	if err != nil {
		return wrapStoreError(errorSubjectReservation, errorCodeInsert, booking.Unavailable(err))
	}
	return nil
}

func (store *Store) GetReservation(ctx context.Context, reservationID booking.ReservationID) (booking.Reservation, error) {
	return store.takeReservation(ctx, "reservation_id = ?", reservationID.String())
}

func (store *Store) GetReservationByNumber(ctx context.Context, number booking.ReservationNumber) (booking.Reservation, error) {
	return store.takeReservation(ctx, "reservation_number = ?", number.String())
}

func (store *Store) takeReservation(ctx context.Context, condition string, value string) (booking.Reservation, error) {
	var model Reservation
	err := store.db.WithContext(ctx).Where(condition, value).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return booking.Reservation{}, wrapStoreError(errorSubjectReservation, errorCodeGet, fmt.Errorf("%w: %s", booking.ErrUnknownReservation, value))
	}
	if err != nil {
		return booking.Reservation{}, wrapStoreError(errorSubjectReservation, errorCodeGet, booking.Unavailable(err))
	}
	reservation, err := mapReservation(model)
	if err != nil {
		return booking.Reservation{}, wrapStoreError(errorSubjectReservation, errorCodeInvalid, err)
	}
	return reservation, nil
}

// likeEscaper makes wildcard characters in a search term match literally.
var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

func (store *Store) ListReservations(ctx context.Context, filter booking.ReservationFilter) ([]booking.Reservation, error) {
	query := store.db.WithContext(ctx).Model(&Reservation{})
	if !filter.Email.IsZero() {
		query = query.Where("email = ?", filter.Email.String())
	}
	if filter.Number.String() != "" {
		query = query.Where("reservation_number = ?", filter.Number.String())
	}
	if filter.Name != "" {
		query = query.Where(`LOWER(customer_name) LIKE ? ESCAPE '\'`, "%"+likeEscaper.Replace(strings.ToLower(filter.Name))+"%")
	}
	if !filter.VisitDate.IsZero() {
		query = query.Where("visit_date = ?", filter.VisitDate.String())
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, 0, len(filter.Statuses))
		for _, status := range filter.Statuses {
			statuses = append(statuses, status.String())
		}
		query = query.Where("status IN ?", statuses)
	}
	query = query.Order("created_at DESC")
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	var rows []Reservation
	if err := query.Find(&rows).Error; err != nil {
		return nil, wrapStoreError(errorSubjectReservation, errorCodeList, booking.Unavailable(err))
	}
	reservations := make([]booking.Reservation, 0, len(rows))
	for _, row := range rows {
		reservation, err := mapReservation(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectReservation, errorCodeInvalid, err)
		}
		reservations = append(reservations, reservation)
	}
	return reservations, nil
}

func (store *Store) UpdateReservation(ctx context.Context, reservation booking.Reservation, expectedRevision int64) error {
	items, err := encodeItems(reservation.Items)
	if err != nil {
		return wrapStoreError(errorSubjectReservation, errorCodeEncode, err)
	}
	result := store.db.WithContext(ctx).
		Model(&Reservation{}).
		Where("reservation_id = ? AND revision = ?", reservation.ID.String(), expectedRevision).
		Updates(map[string]any{
			"email":         reservation.Customer.Email.String(),
			"customer_name": reservation.Customer.Name,
			"phone":         reservation.Customer.Phone,
			"visit_date":    reservation.VisitDate.String(),
			"visit_time":    reservation.VisitTime.String(),
			"status":        reservation.Status.String(),
			"items":         items,
			"revision":      expectedRevision + 1,
			"updated_at":    reservation.UpdatedAt,
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectReservation, errorCodeUpdate, booking.Unavailable(result.Error))
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectReservation, errorCodeUpdate, store.missingOrConflict(ctx, &Reservation{}, "reservation_id = ?", reservation.ID.String(), booking.ErrUnknownReservation))
	}
	return nil
}

// missingOrConflict explains a conditional write that matched no row.
func (store *Store) missingOrConflict(ctx context.Context, model any, condition string, value string, missing error) error {
	var count int64
	if err := store.db.WithContext(ctx).Model(model).Where(condition, value).Count(&count).Error; err != nil {
		return booking.Unavailable(err)
	}
	if count == 0 {
		return fmt.Errorf("%w: %s", missing, value)
	}
	return fmt.Errorf("%w: %s changed concurrently", booking.ErrConflict, value)
}

func wrapStoreError(subject string, code string, err error) error {
	return booking.WrapError(errorOperationStore, subject, code, err)
}

func mapTimeSlot(row TimeSlot) (booking.TimeSlot, error) {
	key, err := booking.ParseSlotKey(row.SlotKey)
	if err != nil {
		return booking.TimeSlot{}, err
	}
	date, timeOfDay, err := key.Decode()
	if err != nil {
		return booking.TimeSlot{}, err
	}
	return booking.TimeSlot{
		Key:       key,
		Date:      date,
		Time:      timeOfDay,
		Capacity:  row.Capacity,
		Reserved:  row.Reserved,
		Available: row.Available,
		Revision:  row.Revision,
		CreatedAt: row.CreatedAt.UTC(),
		UpdatedAt: row.UpdatedAt.UTC(),
	}, nil
}

func mapProduct(row Product) (booking.Product, error) {
	productID, err := booking.NewProductID(row.ProductID)
	if err != nil {
		return booking.Product{}, err
	}
	return booking.Product{
		ID:                productID,
		Name:              row.Name,
		Description:       row.Description,
		ImageURL:          row.ImageURL,
		Price:             row.Price,
		OrderStart:        timeOrZero(row.OrderStart),
		OrderEnd:          timeOrZero(row.OrderEnd),
		MaxPerReservation: row.MaxPerReservation,
		MaxPerUser:        row.MaxPerUser,
		TotalOrderLimit:   row.TotalOrderLimit,
		CurrentOrderCount: row.CurrentOrderCount,
		Active:            row.Active,
		Revision:          row.Revision,
		CreatedAt:         row.CreatedAt.UTC(),
		UpdatedAt:         row.UpdatedAt.UTC(),
	}, nil
}

func mapReservation(row Reservation) (booking.Reservation, error) {
	reservationID, err := booking.NewReservationID(row.ReservationID)
	if err != nil {
		return booking.Reservation{}, err
	}
	number, err := booking.NewReservationNumber(row.ReservationNumber)
	if err != nil {
		return booking.Reservation{}, err
	}
	email, err := booking.NewEmail(row.Email)
	if err != nil {
		return booking.Reservation{}, err
	}
	visitDate, err := booking.ParseDate(row.VisitDate)
	if err != nil {
		return booking.Reservation{}, err
	}
	visitTime, err := booking.ParseTimeOfDay(row.VisitTime)
	if err != nil {
		return booking.Reservation{}, err
	}
	status, err := booking.ParseReservationStatus(row.Status)
	if err != nil {
		return booking.Reservation{}, err
	}
	items, err := decodeItems(row.Items)
	if err != nil {
		return booking.Reservation{}, err
	}
	return booking.Reservation{
		ID:        reservationID,
		Number:    number,
		Customer:  booking.Customer{Email: email, Name: row.CustomerName, Phone: row.Phone},
		VisitDate: visitDate,
		VisitTime: visitTime,
		Status:    status,
		Items:     items,
		Revision:  row.Revision,
		CreatedAt: row.CreatedAt.UTC(),
		UpdatedAt: row.UpdatedAt.UTC(),
	}, nil
}

func encodeItems(items []booking.LineItem) (datatypes.JSON, error) {
	if len(items) == 0 {
		return datatypes.JSON(emptyItemsJSON), nil
	}
	encoded := make([]lineItemJSON, 0, len(items))
	for _, item := range items {
		encoded = append(encoded, lineItemJSON{ProductID: item.ProductID.String(), Quantity: item.Quantity})
	}
	raw, err := json.Marshal(encoded)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}

func decodeItems(raw datatypes.JSON) ([]booking.LineItem, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var decoded []lineItemJSON
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, err
	}
	items := make([]booking.LineItem, 0, len(decoded))
	for _, entry := range decoded {
		item, err := booking.NewLineItem(entry.ProductID, entry.Quantity)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func timePointer(value time.Time) *time.Time {
	if value.IsZero() {
		return nil
	}
	utc := value.UTC()
	return &utc
}

func timeOrZero(value *time.Time) time.Time {
	if value == nil {
		return time.Time{}
	}
	return value.UTC()
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}

func isReservationNumberConflict(err error) bool {
	if !isUniqueViolation(err) {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.ConstraintName == constraintReservationNumber
	}
	return strings.Contains(err.Error(), columnReservationNumber)
}
