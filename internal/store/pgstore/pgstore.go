package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MarkoPoloResearchLab/popupshop/pkg/booking"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const (
	constraintSlotPrimary        = "time_slots_pkey"
	constraintProductPrimary     = "products_pkey"
	constraintReservationPrimary = "reservations_pkey"
	constraintReservationNumber  = "uniq_reservations_number"
	pgUniqueViolationCode        = "23505"
	emptyItemsJSON               = "[]"
	errorOperationStore          = "store"
	errorSubjectSlot             = "slot"
	errorSubjectProduct          = "product"
	errorSubjectReservation      = "reservation"
	errorSubjectTransaction      = "transaction"
	errorCodeBegin               = "begin"
	errorCodeCommit              = "commit"
	errorCodeBuild               = "build"
	errorCodeDuplicate           = "duplicate"
	errorCodeInsert              = "insert"
	errorCodeGet                 = "get"
	errorCodeList                = "list"
	errorCodeUpdate              = "update"
	errorCodeDelete              = "delete"
	errorCodeInvalid             = "invalid"
	errorCodeEncode              = "encode"

	sqlInsertSlot = `
		insert into time_slots(slot_key, visit_date, visit_time, capacity, reserved, available, revision, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	sqlSelectSlot = `
		select ` + slotColumns + `
		from time_slots
		where slot_key = $1
	`

	sqlUpdateSlot = `
		update time_slots
		set capacity = $3, reserved = $4, available = $5, revision = $2 + 1, updated_at = $6
		where slot_key = $1 and revision = $2
	`

	sqlDeleteSlot = `
		delete from time_slots
		where slot_key = $1 and revision = $2
	`

	sqlSlotExists = `select exists(select 1 from time_slots where slot_key = $1)`

	sqlInsertProduct = `
		insert into products(
			product_id, name, description, image_url, price, order_start, order_end,
			max_per_reservation, max_per_user, total_order_limit, current_order_count,
			active, revision, created_at, updated_at
		)
		values ($1, $2, $3, $4, $5::numeric, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`

	sqlSelectProduct = `
		select ` + productColumns + `
		from products
		where product_id = $1
	`

	sqlUpdateProduct = `
		update products
		set name = $3, description = $4, image_url = $5, price = $6::numeric,
			order_start = $7, order_end = $8, max_per_reservation = $9, max_per_user = $10,
			total_order_limit = $11, current_order_count = $12, active = $13,
			revision = $2 + 1, updated_at = $14
		where product_id = $1 and revision = $2
	`

	sqlProductExists = `select exists(select 1 from products where product_id = $1)`

	sqlInsertReservation = `
		insert into reservations(
			reservation_id, reservation_number, email, customer_name, phone,
			visit_date, visit_time, status, items, revision, created_at, updated_at
		)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb, $10, $11, $12)
	`

	sqlSelectReservationByID = `
		select ` + reservationColumns + `
		from reservations
		where reservation_id = $1
	`

	sqlSelectReservationByNumber = `
		select ` + reservationColumns + `
		from reservations
		where reservation_number = $1
	`

	sqlUpdateReservation = `
		update reservations
		set email = $3, customer_name = $4, phone = $5, visit_date = $6, visit_time = $7,
			status = $8, items = $9::jsonb, revision = $2 + 1, updated_at = $10
		where reservation_id = $1 and revision = $2
	`

	sqlReservationExists = `select exists(select 1 from reservations where reservation_id = $1)`

	slotColumns        = `slot_key, capacity, reserved, available, revision, created_at, updated_at`
	productColumns     = `product_id, name, description, image_url, price::text, order_start, order_end, max_per_reservation, max_per_user, total_order_limit, current_order_count, active, revision, created_at, updated_at`
	reservationColumns = `reservation_id, reservation_number, email, customer_name, phone, visit_date, visit_time, status, items::text, revision, created_at, updated_at`
)

// querier is the statement surface shared by the pool and an open transaction.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row
}

type txBeginner interface {
	BeginTx(ctx context.Context, options pgx.TxOptions) (pgx.Tx, error)
}

// Store implements booking.Store using a pgx connection pool (autocommit).
// Inside WithTx the same type runs its statements on the transaction.
type Store struct {
	pool txBeginner
	db   querier
}

// New returns a Store backed by a pgx pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, db: pool}
}

// WithTx executes fn inside one transaction; nested calls join the open one.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore booking.Store) error) error {
	if store.pool == nil {
		return fn(ctx, store)
	}
	tx, err := store.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeBegin, booking.Unavailable(err))
	}
	// Rollback after Commit is a no-op; the defer also covers a panicking fn.
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()
	transactionStore := &Store{db: tx}
	if err := fn(ctx, transactionStore); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeCommit, booking.Unavailable(err))
	}
	return nil
}

// Capabilities reports that date ranges are served by one indexed query.
func (store *Store) Capabilities() booking.Capabilities {
	return booking.Capabilities{RangeQueries: true}
}

func (store *Store) InsertSlot(ctx context.Context, slot booking.TimeSlot) error {
	_, err := store.db.Exec(ctx, sqlInsertSlot,
		slot.Key.String(),
		slot.Date.String(),
		slot.Time.String(),
		slot.Capacity,
		slot.Reserved,
		slot.Available,
		slot.Revision,
		slot.CreatedAt,
		slot.UpdatedAt,
	)
	if isConstraintViolation(err, constraintSlotPrimary) {
		return wrapStoreError(errorSubjectSlot, errorCodeDuplicate, fmt.Errorf("%w: %s", booking.ErrSlotExists, slot.Key))
	}
	if err != nil {
		return wrapStoreError(errorSubjectSlot, errorCodeInsert, booking.Unavailable(err))
	}
	return nil
}

func (store *Store) GetSlot(ctx context.Context, key booking.SlotKey) (booking.TimeSlot, error) {
	slot, err := scanSlot(store.db.QueryRow(ctx, sqlSelectSlot, key.String()))
	if errors.Is(err, pgx.ErrNoRows) {
		return booking.TimeSlot{}, wrapStoreError(errorSubjectSlot, errorCodeGet, fmt.Errorf("%w: %s", booking.ErrUnknownSlot, key))
	}
	if err != nil {
		return booking.TimeSlot{}, wrapStoreError(errorSubjectSlot, errorCodeGet, err)
	}
	return slot, nil
}

func (store *Store) ListSlots(ctx context.Context, filter booking.SlotFilter) ([]booking.TimeSlot, error) {
	query, arguments, err := slotListQuery(filter)
	if err != nil {
		return nil, wrapStoreError(errorSubjectSlot, errorCodeBuild, err)
	}
	rows, err := store.db.Query(ctx, query, arguments...)
	if err != nil {
		return nil, wrapStoreError(errorSubjectSlot, errorCodeList, booking.Unavailable(err))
	}
	defer rows.Close()
	slots := make([]booking.TimeSlot, 0, 16)
	for rows.Next() {
		slot, err := scanSlot(rows)
		if err != nil {
			return nil, wrapStoreError(errorSubjectSlot, errorCodeList, err)
		}
		slots = append(slots, slot)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectSlot, errorCodeList, booking.Unavailable(err))
	}
	return slots, nil
}

func (store *Store) UpdateSlot(ctx context.Context, slot booking.TimeSlot, expectedRevision int64) error {
	tag, err := store.db.Exec(ctx, sqlUpdateSlot,
		slot.Key.String(),
		expectedRevision,
		slot.Capacity,
		slot.Reserved,
		slot.Available,
		slot.UpdatedAt,
	)
	if err != nil {
		return wrapStoreError(errorSubjectSlot, errorCodeUpdate, booking.Unavailable(err))
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectSlot, errorCodeUpdate, store.missingOrConflict(ctx, sqlSlotExists, slot.Key.String(), booking.ErrUnknownSlot))
	}
	return nil
}

func (store *Store) DeleteSlot(ctx context.Context, key booking.SlotKey, expectedRevision int64) error {
	tag, err := store.db.Exec(ctx, sqlDeleteSlot, key.String(), expectedRevision)
	if err != nil {
		return wrapStoreError(errorSubjectSlot, errorCodeDelete, booking.Unavailable(err))
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectSlot, errorCodeDelete, store.missingOrConflict(ctx, sqlSlotExists, key.String(), booking.ErrUnknownSlot))
	}
	return nil
}

func (store *Store) InsertProduct(ctx context.Context, product booking.Product) error {
	_, err := store.db.Exec(ctx, sqlInsertProduct,
		product.ID.String(),
		product.Name,
		product.Description,
		product.ImageURL,
		product.Price.String(),
		timePointer(product.OrderStart),
		timePointer(product.OrderEnd),
		product.MaxPerReservation,
		product.MaxPerUser,
		product.TotalOrderLimit,
		product.CurrentOrderCount,
		product.Active,
		product.Revision,
		product.CreatedAt,
		product.UpdatedAt,
	)
	if isConstraintViolation(err, constraintProductPrimary) {
		return wrapStoreError(errorSubjectProduct, errorCodeDuplicate, fmt.Errorf("%w: %s", booking.ErrProductExists, product.ID))
	}
	if err != nil {
		return wrapStoreError(errorSubjectProduct, errorCodeInsert, booking.Unavailable(err))
	}
	return nil
}

func (store *Store) GetProduct(ctx context.Context, productID booking.ProductID) (booking.Product, error) {
	product, err := scanProduct(store.db.QueryRow(ctx, sqlSelectProduct, productID.String()))
	if errors.Is(err, pgx.ErrNoRows) {
		return booking.Product{}, wrapStoreError(errorSubjectProduct, errorCodeGet, fmt.Errorf("%w: %s", booking.ErrUnknownProduct, productID))
	}
	if err != nil {
		return booking.Product{}, wrapStoreError(errorSubjectProduct, errorCodeGet, err)
	}
	return product, nil
}

func (store *Store) ListProducts(ctx context.Context, filter booking.ProductFilter) ([]booking.Product, error) {
	query, arguments, err := productListQuery(filter)
	if err != nil {
		return nil, wrapStoreError(errorSubjectProduct, errorCodeBuild, err)
	}
	rows, err := store.db.Query(ctx, query, arguments...)
	if err != nil {
		return nil, wrapStoreError(errorSubjectProduct, errorCodeList, booking.Unavailable(err))
	}
	defer rows.Close()
	products := make([]booking.Product, 0, 16)
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, wrapStoreError(errorSubjectProduct, errorCodeList, err)
		}
		products = append(products, product)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectProduct, errorCodeList, booking.Unavailable(err))
	}
	return products, nil
}

func (store *Store) UpdateProduct(ctx context.Context, product booking.Product, expectedRevision int64) error {
	tag, err := store.db.Exec(ctx, sqlUpdateProduct,
		product.ID.String(),
		expectedRevision,
		product.Name,
		product.Description,
		product.ImageURL,
		product.Price.String(),
		timePointer(product.OrderStart),
		timePointer(product.OrderEnd),
		product.MaxPerReservation,
		product.MaxPerUser,
		product.TotalOrderLimit,
		product.CurrentOrderCount,
		product.Active,
		product.UpdatedAt,
	)
	if err != nil {
		return wrapStoreError(errorSubjectProduct, errorCodeUpdate, booking.Unavailable(err))
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectProduct, errorCodeUpdate, store.missingOrConflict(ctx, sqlProductExists, product.ID.String(), booking.ErrUnknownProduct))
	}
	return nil
}

func (store *Store) InsertReservation(ctx context.Context, reservation booking.Reservation) error {
	items, err := encodeItems(reservation.Items)
	if err != nil {
		return wrapStoreError(errorSubjectReservation, errorCodeEncode, err)
	}
	_, err = store.db.Exec(ctx, sqlInsertReservation,
		reservation.ID.String(),
		reservation.Number.String(),
		reservation.Customer.Email.String(),
		reservation.Customer.Name,
		reservation.Customer.Phone,
		reservation.VisitDate.String(),
		reservation.VisitTime.String(),
		reservation.Status.String(),
		items,
		reservation.Revision,
		reservation.CreatedAt,
		reservation.UpdatedAt,
	)
	if isConstraintViolation(err, constraintReservationNumber) {
		return wrapStoreError(errorSubjectReservation, errorCodeDuplicate, fmt.Errorf("%w: %s", booking.ErrReservationNumberTaken, reservation.Number))
	}
	if isConstraintViolation(err, constraintReservationPrimary) {
		return wrapStoreError(errorSubjectReservation, errorCodeDuplicate, fmt.Errorf("%w: %s", booking.ErrReservationExists, reservation.ID))
	}
	if err != nil {
		return wrapStoreError(errorSubjectReservation, errorCodeInsert, booking.Unavailable(err))
	}
	return nil
}

func (store *Store) GetReservation(ctx context.Context, reservationID booking.ReservationID) (booking.Reservation, error) {
	reservation, err := scanReservation(store.db.QueryRow(ctx, sqlSelectReservationByID, reservationID.String()))
	if errors.Is(err, pgx.ErrNoRows) {
		return booking.Reservation{}, wrapStoreError(errorSubjectReservation, errorCodeGet, fmt.Errorf("%w: %s", booking.ErrUnknownReservation, reservationID))
	}
	if err != nil {
		return booking.Reservation{}, wrapStoreError(errorSubjectReservation, errorCodeGet, err)
	}
	return reservation, nil
}

func (store *Store) GetReservationByNumber(ctx context.Context, number booking.ReservationNumber) (booking.Reservation, error) {
	reservation, err := scanReservation(store.db.QueryRow(ctx, sqlSelectReservationByNumber, number.String()))
	if errors.Is(err, pgx.ErrNoRows) {
		return booking.Reservation{}, wrapStoreError(errorSubjectReservation, errorCodeGet, fmt.Errorf("%w: %s", booking.ErrUnknownReservation, number))
	}
	if err != nil {
		return booking.Reservation{}, wrapStoreError(errorSubjectReservation, errorCodeGet, err)
	}
	return reservation, nil
}

func (store *Store) ListReservations(ctx context.Context, filter booking.ReservationFilter) ([]booking.Reservation, error) {
	query, arguments, err := reservationListQuery(filter)
	if err != nil {
		return nil, wrapStoreError(errorSubjectReservation, errorCodeBuild, err)
	}
	rows, err := store.db.Query(ctx, query, arguments...)
	if err != nil {
		return nil, wrapStoreError(errorSubjectReservation, errorCodeList, booking.Unavailable(err))
	}
	defer rows.Close()
	reservations := make([]booking.Reservation, 0, 16)
	for rows.Next() {
		reservation, err := scanReservation(rows)
		if err != nil {
			return nil, wrapStoreError(errorSubjectReservation, errorCodeList, err)
		}
		reservations = append(reservations, reservation)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectReservation, errorCodeList, booking.Unavailable(err))
	}
	return reservations, nil
}

func (store *Store) UpdateReservation(ctx context.Context, reservation booking.Reservation, expectedRevision int64) error {
	items, err := encodeItems(reservation.Items)
	if err != nil {
		return wrapStoreError(errorSubjectReservation, errorCodeEncode, err)
	}
	tag, err := store.db.Exec(ctx, sqlUpdateReservation,
		reservation.ID.String(),
		expectedRevision,
		reservation.Customer.Email.String(),
		reservation.Customer.Name,
		reservation.Customer.Phone,
		reservation.VisitDate.String(),
		reservation.VisitTime.String(),
		reservation.Status.String(),
		items,
		reservation.UpdatedAt,
	)
	if err != nil {
		return wrapStoreError(errorSubjectReservation, errorCodeUpdate, booking.Unavailable(err))
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectReservation, errorCodeUpdate, store.missingOrConflict(ctx, sqlReservationExists, reservation.ID.String(), booking.ErrUnknownReservation))
	}
	return nil
}

func (store *Store) missingOrConflict(ctx context.Context, existsQuery string, key string, missing error) error {
	var exists bool
	if err := store.db.QueryRow(ctx, existsQuery, key).Scan(&exists); err != nil {
		return booking.Unavailable(err)
	}
	if !exists {
		return fmt.Errorf("%w: %s", missing, key)
	}
	return fmt.Errorf("%w: %s changed concurrently", booking.ErrConflict, key)
}

func scanSlot(row pgx.Row) (booking.TimeSlot, error) {
	var (
		keyValue  string
		slot      booking.TimeSlot
		createdAt time.Time
		updatedAt time.Time
	)
	if err := row.Scan(&keyValue, &slot.Capacity, &slot.Reserved, &slot.Available, &slot.Revision, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return booking.TimeSlot{}, err
		}
		return booking.TimeSlot{}, booking.Unavailable(err)
	}
	key, err := booking.ParseSlotKey(keyValue)
	if err != nil {
		return booking.TimeSlot{}, err
	}
	slot.Key = key
	slot.Date, slot.Time, err = key.Decode()
	if err != nil {
		return booking.TimeSlot{}, err
	}
	slot.CreatedAt = createdAt.UTC()
	slot.UpdatedAt = updatedAt.UTC()
	return slot, nil
}

func scanProduct(row pgx.Row) (booking.Product, error) {
	var (
		idValue    string
		priceValue string
		orderStart *time.Time
		orderEnd   *time.Time
		product    booking.Product
		createdAt  time.Time
		updatedAt  time.Time
	)
	if err := row.Scan(
		&idValue,
		&product.Name,
		&product.Description,
		&product.ImageURL,
		&priceValue,
		&orderStart,
		&orderEnd,
		&product.MaxPerReservation,
		&product.MaxPerUser,
		&product.TotalOrderLimit,
		&product.CurrentOrderCount,
		&product.Active,
		&product.Revision,
		&createdAt,
		&updatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return booking.Product{}, err
		}
		return booking.Product{}, booking.Unavailable(err)
	}
	productID, err := booking.NewProductID(idValue)
	if err != nil {
		return booking.Product{}, err
	}
	price, err := decimal.NewFromString(priceValue)
	if err != nil {
		return booking.Product{}, fmt.Errorf("%w: price %q", booking.ErrInvalidProduct, priceValue)
	}
	product.ID = productID
	product.Price = price
	product.OrderStart = timeOrZero(orderStart)
	product.OrderEnd = timeOrZero(orderEnd)
	product.CreatedAt = createdAt.UTC()
	product.UpdatedAt = updatedAt.UTC()
	return product, nil
}

func scanReservation(row pgx.Row) (booking.Reservation, error) {
	var (
		idValue, numberValue, emailValue string
		dateValue, timeValue             string
		statusValue, itemsValue          string
		reservation                      booking.Reservation
		createdAt                        time.Time
		updatedAt                        time.Time
	)
	if err := row.Scan(
		&idValue,
		&numberValue,
		&emailValue,
		&reservation.Customer.Name,
		&reservation.Customer.Phone,
		&dateValue,
		&timeValue,
		&statusValue,
		&itemsValue,
		&reservation.Revision,
		&createdAt,
		&updatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return booking.Reservation{}, err
		}
		return booking.Reservation{}, booking.Unavailable(err)
	}
	var err error
	if reservation.ID, err = booking.NewReservationID(idValue); err != nil {
		return booking.Reservation{}, err
	}
	if reservation.Number, err = booking.NewReservationNumber(numberValue); err != nil {
		return booking.Reservation{}, err
	}
	if reservation.Customer.Email, err = booking.NewEmail(emailValue); err != nil {
		return booking.Reservation{}, err
	}
	if reservation.VisitDate, err = booking.ParseDate(dateValue); err != nil {
		return booking.Reservation{}, err
	}
	if reservation.VisitTime, err = booking.ParseTimeOfDay(timeValue); err != nil {
		return booking.Reservation{}, err
	}
	if reservation.Status, err = booking.ParseReservationStatus(statusValue); err != nil {
		return booking.Reservation{}, err
	}
	if reservation.Items, err = decodeItems(itemsValue); err != nil {
		return booking.Reservation{}, err
	}
	reservation.CreatedAt = createdAt.UTC()
	reservation.UpdatedAt = updatedAt.UTC()
	return reservation, nil
}

type lineItemJSON struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

func encodeItems(items []booking.LineItem) (string, error) {
	if len(items) == 0 {
		return emptyItemsJSON, nil
	}
	encoded := make([]lineItemJSON, 0, len(items))
	for _, item := range items {
		encoded = append(encoded, lineItemJSON{ProductID: item.ProductID.String(), Quantity: item.Quantity})
	}
	raw, err := json.Marshal(encoded)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func decodeItems(raw string) ([]booking.LineItem, error) {
	var decoded []lineItemJSON
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
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

func wrapStoreError(subject string, code string, err error) error {
	return booking.WrapError(errorOperationStore, subject, code, err)
}

func isConstraintViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraint
	}
	return false
}
