package booking

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ProductLedger owns per-product order counts and purchase limits.
type ProductLedger struct {
	store    Store
	clock    Clock
	settings settings
}

// NewProductInput describes a product to create. Zero limits take the defaults.
type NewProductInput struct {
	Name              string
	Description       string
	ImageURL          string
	Price             decimal.Decimal
	OrderStart        time.Time
	OrderEnd          time.Time
	MaxPerReservation int
	MaxPerUser        int
	TotalOrderLimit   int
	Active            *bool
}

// ProductUpdate is a partial product update; nil fields are left unchanged.
type ProductUpdate struct {
	Name              *string
	Description       *string
	ImageURL          *string
	Price             *decimal.Decimal
	OrderStart        *time.Time
	OrderEnd          *time.Time
	MaxPerReservation *int
	MaxPerUser        *int
	TotalOrderLimit   *int
	Active            *bool
}

// AllocationRequest is the input of CheckAllocation.
// ExcludeReservation leaves one reservation out of the per-user sum, so a
// replacement item set is not counted twice. Previous holds the quantities
// that reservation already has allocated; only growth beyond them is checked
// against the order window and the total limit.
type AllocationRequest struct {
	Items              []LineItem
	UserEmail          Email
	ExcludeReservation ReservationID
	Previous           []LineItem
}

// ProductAvailability is the purchasable state of a product today.
type ProductAvailability struct {
	Available         bool
	AvailableCount    int
	MaxPerReservation int
	MaxPerUser        int
	CurrentOrderCount int
	TotalOrderLimit   int
}

// NewProductLedger wires a ProductLedger.
func NewProductLedger(store Store, clock Clock, options ...Option) (*ProductLedger, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if clock == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	current, err := newSettings(options)
	if err != nil {
		return nil, err
	}
	return &ProductLedger{store: store, clock: clock, settings: current}, nil
}

// Create stores a new active product with a zero order count.
func (ledger *ProductLedger) Create(ctx context.Context, input NewProductInput) (Product, error) {
	now := ledger.clock().UTC()
	product := Product{
		ID:                ProductID{value: uuid.NewString()},
		Name:              strings.TrimSpace(input.Name),
		Description:       input.Description,
		ImageURL:          strings.TrimSpace(input.ImageURL),
		Price:             input.Price,
		OrderStart:        input.OrderStart,
		OrderEnd:          input.OrderEnd,
		MaxPerReservation: input.MaxPerReservation,
		MaxPerUser:        input.MaxPerUser,
		TotalOrderLimit:   input.TotalOrderLimit,
		Active:            true,
		Revision:          1,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if product.MaxPerReservation == 0 {
		product.MaxPerReservation = defaultMaxPerReservation
	}
	if product.MaxPerUser == 0 {
		product.MaxPerUser = defaultMaxPerUser
	}
	if input.Active != nil {
		product.Active = *input.Active
	}
	err := validateProduct(product)
	if err == nil {
		err = ledger.store.InsertProduct(ctx, product)
	}
	ledger.settings.logOperation(ctx, OperationLog{
		Operation: OperationCreateProduct,
		ProductID: product.ID,
		Attempts:  1,
		Error:     err,
	})
	if err != nil {
		return Product{}, err
	}
	return product, nil
}

// Get returns a product, active or not.
func (ledger *ProductLedger) Get(ctx context.Context, productID ProductID) (Product, error) {
	return ledger.store.GetProduct(ctx, productID)
}

// ListActive returns active products, newest first.
func (ledger *ProductLedger) ListActive(ctx context.Context) ([]Product, error) {
	return ledger.list(ctx, ProductFilter{ActiveOnly: true})
}

// ListAll returns every product including deactivated ones, newest first.
func (ledger *ProductLedger) ListAll(ctx context.Context) ([]Product, error) {
	return ledger.list(ctx, ProductFilter{})
}

func (ledger *ProductLedger) list(ctx context.Context, filter ProductFilter) ([]Product, error) {
	products, err := ledger.store.ListProducts(ctx, filter)
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(products, func(left Product, right Product) int {
		return right.CreatedAt.Compare(left.CreatedAt)
	})
	return products, nil
}

// Update applies a partial product change.
func (ledger *ProductLedger) Update(ctx context.Context, productID ProductID, update ProductUpdate) (Product, error) {
	var updated Product
	attempts, err := ledger.settings.retry.run(ctx, func(ctx context.Context) error {
		product, err := ledger.store.GetProduct(ctx, productID)
		if err != nil {
			return err
		}
		applyProductUpdate(&product, update)
		if err := validateProduct(product); err != nil {
			return err
		}
		if product.HasTotalLimit() && product.TotalOrderLimit < product.CurrentOrderCount {
			return fmt.Errorf("%w: total order limit %d is below %d ordered", ErrInvalidProduct, product.TotalOrderLimit, product.CurrentOrderCount)
		}
		if err := ledger.writeProduct(ctx, ledger.store, &product); err != nil {
			return err
		}
		updated = product
		return nil
	})
	ledger.settings.logOperation(ctx, OperationLog{
		Operation: OperationUpdateProduct,
		ProductID: productID,
		Attempts:  attempts,
		Error:     err,
	})
	if err != nil {
		return Product{}, err
	}
	return updated, nil
}

// Deactivate soft-deletes a product.
func (ledger *ProductLedger) Deactivate(ctx context.Context, productID ProductID) error {
	attempts, err := ledger.settings.retry.run(ctx, func(ctx context.Context) error {
		product, err := ledger.store.GetProduct(ctx, productID)
		if err != nil {
			return err
		}
		if !product.Active {
			return nil
		}
		product.Active = false
		return ledger.writeProduct(ctx, ledger.store, &product)
	})
	ledger.settings.logOperation(ctx, OperationLog{
		Operation: OperationDeactivateProduct,
		ProductID: productID,
		Attempts:  attempts,
		Error:     err,
	})
	return err
}

// CheckAllocation validates items against every product limit without side effects.
// All violations are reported together as joined *LimitError values.
func (ledger *ProductLedger) CheckAllocation(ctx context.Context, request AllocationRequest) error {
	items := mergeLineItems(request.Items)
	if len(items) == 0 {
		return nil
	}
	today := ledger.settings.today(ledger.clock)
	previous := quantities(request.Previous)
	var (
		committed  map[ProductID]int
		violations []error
	)
	for _, item := range items {
		product, err := ledger.store.GetProduct(ctx, item.ProductID)
		if err != nil {
			return err
		}
		growth := item.Quantity - previous[product.ID]
		if !product.Active && growth > 0 {
			return fmt.Errorf("%w: %s", ErrProductInactive, product.ID)
		}
		if product.MaxPerReservation > 0 && item.Quantity > product.MaxPerReservation {
			violations = append(violations, &LimitError{Reason: LimitPerReservation, ProductID: product.ID, Requested: item.Quantity, Allowed: product.MaxPerReservation})
		}
		if growth > 0 && !ledger.settings.withinOrderWindow(product, today) {
			violations = append(violations, &LimitError{Reason: LimitOrderWindow, ProductID: product.ID, Requested: item.Quantity})
		}
		if growth > 0 && product.HasTotalLimit() && product.CurrentOrderCount+growth > product.TotalOrderLimit {
			violations = append(violations, &LimitError{Reason: LimitTotalOrders, ProductID: product.ID, Requested: growth, Allowed: max(0, product.TotalOrderLimit-product.CurrentOrderCount)})
		}
		if product.MaxPerUser > 0 && !request.UserEmail.IsZero() {
			if committed == nil {
				committed, err = ledger.committedByUser(ctx, request.UserEmail, request.ExcludeReservation)
				if err != nil {
					return err
				}
			}
			if committed[product.ID]+item.Quantity > product.MaxPerUser {
				violations = append(violations, &LimitError{Reason: LimitPerUser, ProductID: product.ID, Requested: item.Quantity, Allowed: max(0, product.MaxPerUser-committed[product.ID])})
			}
		}
	}
	return errors.Join(violations...)
}

// TryAllocate adds every item's quantity to its product's order count as one batch.
// The total limit is re-checked inside the batch; any failure leaves all counts unchanged.
func (ledger *ProductLedger) TryAllocate(ctx context.Context, items []LineItem) error {
	merged := mergeLineItems(items)
	if len(merged) == 0 {
		return nil
	}
	slices.SortFunc(merged, func(left LineItem, right LineItem) int {
		return cmp.Compare(left.ProductID.value, right.ProductID.value)
	})
	attempts, err := ledger.settings.retry.run(ctx, func(ctx context.Context) error {
		return ledger.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
			for _, item := range merged {
				product, err := txStore.GetProduct(ctx, item.ProductID)
				if err != nil {
					return err
				}
				if !product.Active {
					return fmt.Errorf("%w: %s", ErrProductInactive, product.ID)
				}
				if product.HasTotalLimit() && product.CurrentOrderCount+item.Quantity > product.TotalOrderLimit {
					return &LimitError{Reason: LimitTotalOrders, ProductID: product.ID, Requested: item.Quantity, Allowed: max(0, product.TotalOrderLimit-product.CurrentOrderCount)}
				}
				product.CurrentOrderCount += item.Quantity
				if err := ledger.writeProduct(ctx, txStore, &product); err != nil {
					return err
				}
			}
			return nil
		})
	})
	ledger.settings.logOperation(ctx, OperationLog{
		Operation: OperationAllocateProducts,
		Items:     merged,
		Attempts:  attempts,
		Error:     err,
	})
	return err
}

// Release subtracts each item's quantity from its product's order count, floored at zero.
// Items are released independently; unknown products are skipped.
func (ledger *ProductLedger) Release(ctx context.Context, items []LineItem) error {
	merged := mergeLineItems(items)
	if len(merged) == 0 {
		return nil
	}
	var (
		failures      []error
		totalAttempts int
	)
	for _, item := range merged {
		attempts, err := ledger.settings.retry.run(ctx, func(ctx context.Context) error {
			product, err := ledger.store.GetProduct(ctx, item.ProductID)
			if errors.Is(err, ErrUnknownProduct) {
				return nil
			}
			if err != nil {
				return err
			}
			if product.CurrentOrderCount <= 0 {
				return nil
			}
			product.CurrentOrderCount = max(0, product.CurrentOrderCount-item.Quantity)
			return ledger.writeProduct(ctx, ledger.store, &product)
		})
		totalAttempts += attempts
		if err != nil {
			failures = append(failures, fmt.Errorf("release %s: %w", item.ProductID, err))
		}
	}
	err := errors.Join(failures...)
	ledger.settings.logOperation(ctx, OperationLog{
		Operation: OperationReleaseProducts,
		Items:     merged,
		Attempts:  totalAttempts,
		Error:     err,
	})
	return err
}

// Availability reports how many units of a product can still be ordered today.
func (ledger *ProductLedger) Availability(ctx context.Context, productID ProductID) (ProductAvailability, error) {
	product, err := ledger.store.GetProduct(ctx, productID)
	if err != nil {
		return ProductAvailability{}, err
	}
	availableCount := product.MaxPerReservation
	if product.HasTotalLimit() {
		availableCount = max(0, product.TotalOrderLimit-product.CurrentOrderCount)
	}
	inWindow := ledger.settings.withinOrderWindow(product, ledger.settings.today(ledger.clock))
	if !inWindow {
		availableCount = 0
	}
	return ProductAvailability{
		Available:         product.Active && inWindow && availableCount > 0,
		AvailableCount:    availableCount,
		MaxPerReservation: product.MaxPerReservation,
		MaxPerUser:        product.MaxPerUser,
		CurrentOrderCount: product.CurrentOrderCount,
		TotalOrderLimit:   product.TotalOrderLimit,
	}, nil
}

func (ledger *ProductLedger) committedByUser(ctx context.Context, email Email, exclude ReservationID) (map[ProductID]int, error) {
	reservations, err := ledger.store.ListReservations(ctx, ReservationFilter{
		Email:    email,
		Statuses: ActiveReservationStatuses(),
	})
	if err != nil {
		return nil, err
	}
	committed := make(map[ProductID]int)
	for _, reservation := range reservations {
		if reservation.Status.IsTerminal() || (!exclude.IsZero() && reservation.ID == exclude) {
			continue
		}
		for _, item := range reservation.Items {
			committed[item.ProductID] += item.Quantity
		}
	}
	return committed, nil
}

// releaseIn subtracts the items through store, one conditional write per product.
// A conflict is returned as is so the enclosing transaction can be retried whole.
func (ledger *ProductLedger) releaseIn(ctx context.Context, store Store, items []LineItem) error {
	for _, item := range mergeLineItems(items) {
		product, err := store.GetProduct(ctx, item.ProductID)
		if errors.Is(err, ErrUnknownProduct) {
			continue
		}
		if err != nil {
			return err
		}
		if product.CurrentOrderCount <= 0 {
			continue
		}
		product.CurrentOrderCount = max(0, product.CurrentOrderCount-item.Quantity)
		if err := ledger.writeProduct(ctx, store, &product); err != nil {
			return err
		}
	}
	return nil
}

func (ledger *ProductLedger) writeProduct(ctx context.Context, store Store, product *Product) error {
	expected := product.Revision
	product.UpdatedAt = ledger.clock().UTC()
	if err := store.UpdateProduct(ctx, *product, expected); err != nil {
		return err
	}
	product.Revision = expected + 1
	return nil
}

func applyProductUpdate(product *Product, update ProductUpdate) {
	if update.Name != nil {
		product.Name = strings.TrimSpace(*update.Name)
	}
	if update.Description != nil {
		product.Description = *update.Description
	}
	if update.ImageURL != nil {
		product.ImageURL = strings.TrimSpace(*update.ImageURL)
	}
	if update.Price != nil {
		product.Price = *update.Price
	}
	if update.OrderStart != nil {
		product.OrderStart = *update.OrderStart
	}
	if update.OrderEnd != nil {
		product.OrderEnd = *update.OrderEnd
	}
	if update.MaxPerReservation != nil {
		product.MaxPerReservation = *update.MaxPerReservation
	}
	if update.MaxPerUser != nil {
		product.MaxPerUser = *update.MaxPerUser
	}
	if update.TotalOrderLimit != nil {
		product.TotalOrderLimit = *update.TotalOrderLimit
	}
	if update.Active != nil {
		product.Active = *update.Active
	}
}

func validateProduct(product Product) error {
	if product.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidProduct)
	}
	if product.Price.IsNegative() {
		return fmt.Errorf("%w: negative price", ErrInvalidProduct)
	}
	if !product.OrderStart.IsZero() && !product.OrderEnd.IsZero() && product.OrderEnd.Before(product.OrderStart) {
		return fmt.Errorf("%w: order window ends before it starts", ErrInvalidProduct)
	}
	if product.MaxPerReservation <= 0 || product.MaxPerUser <= 0 {
		return fmt.Errorf("%w: per-reservation and per-user limits must be positive", ErrInvalidProduct)
	}
	if product.TotalOrderLimit < 0 {
		return fmt.Errorf("%w: negative total order limit", ErrInvalidProduct)
	}
	return nil
}

// mergeLineItems sums quantities of repeated products, keeping first-seen order.
func mergeLineItems(items []LineItem) []LineItem {
	merged := make([]LineItem, 0, len(items))
	positions := make(map[ProductID]int, len(items))
	for _, item := range items {
		if position, seen := positions[item.ProductID]; seen {
			merged[position].Quantity += item.Quantity
			continue
		}
		positions[item.ProductID] = len(merged)
		merged = append(merged, item)
	}
	return merged
}

func quantities(items []LineItem) map[ProductID]int {
	totals := make(map[ProductID]int, len(items))
	for _, item := range items {
		totals[item.ProductID] += item.Quantity
	}
	return totals
}

// itemDelta splits the move from before to after into quantities to allocate and to release.
func itemDelta(before []LineItem, after []LineItem) (grow []LineItem, shrink []LineItem) {
	previous := quantities(before)
	next := quantities(after)
	for _, item := range mergeLineItems(after) {
		if delta := next[item.ProductID] - previous[item.ProductID]; delta > 0 {
			grow = append(grow, LineItem{ProductID: item.ProductID, Quantity: delta})
		}
	}
	for _, item := range mergeLineItems(before) {
		if delta := previous[item.ProductID] - next[item.ProductID]; delta > 0 {
			shrink = append(shrink, LineItem{ProductID: item.ProductID, Quantity: delta})
		}
	}
	return grow, shrink
}

func (current settings) today(clock Clock) Date {
	return DateOf(clock().In(current.location))
}

func (current settings) withinOrderWindow(product Product, today Date) bool {
	if !product.OrderStart.IsZero() && today.Before(DateOf(product.OrderStart.In(current.location))) {
		return false
	}
	if !product.OrderEnd.IsZero() && today.After(DateOf(product.OrderEnd.In(current.location))) {
		return false
	}
	return true
}
