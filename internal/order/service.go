package order

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vasiliy-maslov/marketplace/internal/cart"
	"github.com/vasiliy-maslov/marketplace/internal/catalog"
	"github.com/vasiliy-maslov/marketplace/internal/events"
	"github.com/vasiliy-maslov/marketplace/internal/stock"
	"github.com/vasiliy-maslov/marketplace/internal/user"
)

// Fulfilment moves forward only. Cancellation is not a plain transition:
// it restores stock and goes through CancelOrder.
var allowedTransitions = map[OrderStatus]map[OrderStatus]bool{
	StatusPlaced: {
		StatusProcessing: true,
	},
	StatusProcessing: {
		StatusShipped: true,
	},
	StatusShipped: {
		StatusDelivered: true,
	},
	StatusDelivered: {},
	StatusCancelled: {},
}

var cancellable = map[OrderStatus]bool{
	StatusPlaced:     true,
	StatusProcessing: true,
}

var (
	ErrInvalidStatusTransition = errors.New("invalid order status transition")
	ErrAlreadyCancelled        = fmt.Errorf("%w: order is already cancelled", ErrInvalidStatusTransition)
	ErrNotCancellable          = fmt.Errorf("%w: order can no longer be cancelled", ErrInvalidStatusTransition)
	ErrNotOwner                = errors.New("order does not belong to user")
	ErrEmptyCart               = errors.New("cart is empty")
	ErrMissingShippingAddress  = errors.New("shipping address is required")
	ErrInvalidPaymentMethod    = errors.New("payment method must be COD or Online")
)

type Service interface {
	PlaceOrder(ctx context.Context, userID uuid.UUID, input PlaceOrderInput) (*Order, error)
	CancelOrder(ctx context.Context, userID, orderID uuid.UUID, reason string) (*Order, error)
	GetOrderByID(ctx context.Context, id uuid.UUID) (*Order, error)
	GetUserOrder(ctx context.Context, userID, orderID uuid.UUID) (*Order, error)
	GetOrdersByUserID(ctx context.Context, userID uuid.UUID) ([]Order, error)
	UpdateOrderStatus(ctx context.Context, orderID uuid.UUID, newStatus OrderStatus) (*Order, error)
}

type service struct {
	orderRepo Repository
	userRepo  user.Repository
	publisher events.Publisher
	metrics   instruments
}

func NewService(orderRepo Repository, userRepo user.Repository, publisher events.Publisher) Service {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &service{
		orderRepo: orderRepo,
		userRepo:  userRepo,
		publisher: publisher,
		metrics:   newInstruments(),
	}
}

// plannedLine is a staged cart item resolved against locked product rows.
type plannedLine struct {
	item   cart.Item
	res    catalog.Resolution
	amount decimal.Decimal
}

func (s *service) PlaceOrder(ctx context.Context, userID uuid.UUID, input PlaceOrderInput) (placed *Order, err error) {
	ctx, span := tracer.Start(ctx, "order.PlaceOrder", trace.WithAttributes(attribute.String("user.id", userID.String())))
	defer func() { endSpan(span, err) }()

	// 1. Способ оплаты по умолчанию - наложенный платёж
	if input.PaymentMethod == "" {
		input.PaymentMethod = PaymentCOD
	}
	if !input.PaymentMethod.Valid() {
		return nil, ErrInvalidPaymentMethod
	}

	// 2. Профиль нужен для адреса доставки по умолчанию
	profile, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, user.ErrUserNotFound) {
			log.Warn().Stringer("user_id", userID).Msg("service: user not found, cannot place order")
			return nil, user.ErrUserNotFound
		}
		return nil, fmt.Errorf("service: failed to get user: %w", err)
	}

	tx, err := s.orderRepo.BeginTx(ctx)
	if err != nil {
		log.Error().Err(err).Msg("service: failed to begin order transaction")
		return nil, fmt.Errorf("service: failed to begin transaction: %w", err)
	}
	defer rollback(ctx, tx) // после Commit это no-op

	// 3. Корзину читаем под блокировкой, параллельный AddItem подождёт
	cartID, items, err := s.orderRepo.LockCart(ctx, tx, userID)
	if err != nil {
		return nil, fmt.Errorf("service: failed to lock cart: %w", err)
	}
	if len(items) == 0 {
		log.Warn().Stringer("user_id", userID).Msg("service: attempt to place order with empty cart")
		return nil, ErrEmptyCart
	}

	o := &Order{
		UserID:          userID,
		ShippingAddress: firstNonEmpty(input.ShippingAddress, profile.AddressLine),
		City:            firstNonEmpty(input.City, profile.City),
		State:           firstNonEmpty(input.State, profile.State),
		Pincode:         firstNonEmpty(input.Pincode, profile.Pincode),
		Status:          StatusPlaced,
		PaymentMethod:   input.PaymentMethod,
	}
	if o.ShippingAddress == "" {
		return nil, ErrMissingShippingAddress
	}

	// 4. Товары блокируются в порядке id, чтобы два заказа не ждали друг друга по кругу
	products, err := s.orderRepo.LockProducts(ctx, tx, productIDs(items))
	if err != nil {
		return nil, fmt.Errorf("service: failed to lock products: %w", err)
	}
	byID := make(map[uuid.UUID]*catalog.Product, len(products))
	for i := range products {
		byID[products[i].ID] = &products[i]
	}

	// The total is fixed from the locked rows before anything is deducted.
	plan := make([]plannedLine, 0, len(items))
	total := decimal.Zero
	for _, it := range items {
		product, ok := byID[it.ProductID]
		if !ok {
			log.Warn().Stringer("product_id", it.ProductID).Stringer("cart_id", cartID).Msg("service: staged product no longer exists")
			return nil, fmt.Errorf("service: cart item %s: %w", it.ID, catalog.ErrProductNotFound)
		}
		res := catalog.Resolve(product, it.UnitSize)
		plan = append(plan, plannedLine{item: it, res: res, amount: res.Deduction(it.Count)})
		total = total.Add(res.LinePrice(it.Count))
	}

	o.ID, err = uuid.NewV4()
	if err != nil {
		return nil, fmt.Errorf("service: failed to generate order ID: %w", err)
	}
	now := time.Now().UTC()
	o.TotalAmount = catalog.RoundAmount(total) // до копеек
	o.CreatedAt = now
	o.UpdatedAt = now
	o.Lines = make([]Line, 0, len(plan))

	// 5. Сначала заказ, затем позиции со списанием
	if err = s.orderRepo.InsertOrder(ctx, tx, o); err != nil {
		return nil, fmt.Errorf("service: failed to create order: %w", err)
	}

	// Two lines can draw from the same pool, so availability is tracked
	// across the whole order rather than per line.
	pools := make(map[stock.PoolRef]*stock.Pool)
	for _, p := range plan {
		ref := p.res.PoolRef()
		pool, ok := pools[ref]
		if !ok {
			pool = p.res.Pool()
			pools[ref] = pool
		}

		if err = pool.Reserve(p.amount); err != nil {
			return nil, s.stockRejected(ctx, err, p.res)
		}
		if err = s.orderRepo.DeductStock(ctx, tx, ref, p.amount); err != nil {
			return nil, s.stockRejected(ctx, err, p.res)
		}

		line := Line{
			ID:          uuid.Must(uuid.NewV4()),
			OrderID:     o.ID,
			ProductID:   p.item.ProductID,
			ProductName: p.res.Label(),
			Quantity:    p.amount,
			UnitPrice:   p.res.UnitPrice(),
			Pool:        ref,
			CreatedAt:   now,
		}
		if err = s.orderRepo.InsertLine(ctx, tx, &line); err != nil {
			return nil, fmt.Errorf("service: failed to create order line: %w", err)
		}
		if err = s.orderRepo.RecordMovement(ctx, tx, stock.NewMovement(ref, o.ID, p.amount, stock.MovementDecreased)); err != nil {
			return nil, fmt.Errorf("service: failed to record stock movement: %w", err)
		}
		o.Lines = append(o.Lines, line)
	}

	// 6. Корзина очищается в той же транзакции
	if err = s.orderRepo.ClearCart(ctx, tx, cartID); err != nil {
		return nil, fmt.Errorf("service: failed to clear cart: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		log.Error().Err(err).Stringer("order_id", o.ID).Msg("service: failed to commit order")
		return nil, fmt.Errorf("service: failed to commit order: %w", err)
	}

	// 7. Событие уходит только после успешного Commit
	s.metrics.placed.Add(ctx, 1)
	s.publish(ctx, events.TypeOrderPlaced, o, "")
	log.Info().Stringer("order_id", o.ID).Stringer("user_id", userID).Stringer("total_amount", o.TotalAmount).Int("lines", len(o.Lines)).Msg("service: order placed")

	return o, nil
}

// stockRejected names the product on a stock failure and counts it.
func (s *service) stockRejected(ctx context.Context, err error, res catalog.Resolution) error {
	var insufficient *stock.InsufficientStockError
	if errors.As(err, &insufficient) {
		s.metrics.recordRejection(ctx, res.PoolRef().Kind.String())
		log.Warn().
			Stringer("product_id", res.Product.ID).
			Stringer("pool", res.PoolRef()).
			Stringer("requested", insufficient.Requested).
			Stringer("available", insufficient.Available).
			Msg("service: insufficient stock, order aborted")
		return insufficient.WithProduct(res.Label())
	}
	if errors.Is(err, stock.ErrConflict) {
		s.metrics.recordRejection(ctx, res.PoolRef().Kind.String())
		log.Warn().Err(err).Stringer("product_id", res.Product.ID).Msg("service: concurrent stock update, order aborted")
		return &stock.ConflictError{ProductID: res.Product.ID, Err: err}
	}
	return fmt.Errorf("service: failed to deduct stock: %w", err)
}

func (s *service) CancelOrder(ctx context.Context, userID, orderID uuid.UUID, reason string) (cancelled *Order, err error) {
	ctx, span := tracer.Start(ctx, "order.CancelOrder", trace.WithAttributes(
		attribute.String("user.id", userID.String()),
		attribute.String("order.id", orderID.String()),
	))
	defer func() { endSpan(span, err) }()

	tx, err := s.orderRepo.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("service: failed to begin transaction: %w", err)
	}
	defer rollback(ctx, tx)

	// 1. Блокируем заказ, второй cancel будет ждать здесь
	o, err := s.orderRepo.GetOrderForUpdate(ctx, tx, orderID)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			log.Warn().Stringer("order_id", orderID).Msg("service: order not found, cannot cancel")
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("service: failed to lock order: %w", err)
	}
	// 2. Проверки владельца и статуса
	if o.UserID != userID {
		log.Warn().Stringer("order_id", orderID).Stringer("user_id", userID).Msg("service: cancel attempt by non-owner")
		return nil, ErrNotOwner
	}
	if o.Status == StatusCancelled {
		return nil, ErrAlreadyCancelled
	}
	exists, err := s.orderRepo.HasCancellation(ctx, tx, orderID)
	if err != nil {
		return nil, fmt.Errorf("service: failed to check cancellation: %w", err)
	}
	if exists {
		return nil, ErrAlreadyCancelled
	}
	if !cancellable[o.Status] {
		log.Warn().Stringer("order_id", orderID).Stringer("status", o.Status).Msg("service: order is not cancellable")
		return nil, ErrNotCancellable
	}

	ids := make([]uuid.UUID, 0, len(o.Lines))
	for _, line := range o.Lines {
		ids = append(ids, line.ProductID)
	}
	// 3. Тот же порядок блокировок, что и в PlaceOrder
	if _, err = s.orderRepo.LockProducts(ctx, tx, sortedUnique(ids)); err != nil {
		return nil, fmt.Errorf("service: failed to lock products: %w", err)
	}

	// Each line goes back to the exact pool it was taken from.
	for _, line := range o.Lines {
		if !line.Quantity.IsPositive() {
			continue
		}
		if err = s.orderRepo.RestoreStock(ctx, tx, line.Pool, line.Quantity); err != nil {
			return nil, fmt.Errorf("service: failed to restore stock for line %s: %w", line.ID, err)
		}
		if err = s.orderRepo.RecordMovement(ctx, tx, stock.NewMovement(line.Pool, o.ID, line.Quantity, stock.MovementIncreased)); err != nil {
			return nil, fmt.Errorf("service: failed to record stock movement: %w", err)
		}
	}

	// 4. Статус и запись об отмене, уникальный order_id не даст отменить дважды
	if err = s.orderRepo.UpdateOrderStatus(ctx, tx, orderID, StatusCancelled); err != nil {
		return nil, fmt.Errorf("service: failed to update order status: %w", err)
	}

	now := time.Now().UTC()
	record := &Cancellation{
		ID:        uuid.Must(uuid.NewV4()),
		OrderID:   orderID,
		Reason:    reason,
		CreatedAt: now,
	}
	if err = s.orderRepo.CreateCancellation(ctx, tx, record); err != nil {
		if errors.Is(err, ErrAlreadyCancelled) {
			return nil, ErrAlreadyCancelled
		}
		return nil, fmt.Errorf("service: failed to record cancellation: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		log.Error().Err(err).Stringer("order_id", orderID).Msg("service: failed to commit cancellation")
		return nil, fmt.Errorf("service: failed to commit cancellation: %w", err)
	}

	o.Status = StatusCancelled
	o.UpdatedAt = now

	s.metrics.cancelled.Add(ctx, 1)
	s.publish(ctx, events.TypeOrderCancelled, o, reason)
	log.Info().Stringer("order_id", orderID).Stringer("user_id", userID).Msg("service: order cancelled, stock restored")

	return o, nil
}

func (s *service) GetOrderByID(ctx context.Context, id uuid.UUID) (*Order, error) {
	o, err := s.orderRepo.GetOrderByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			log.Warn().Err(err).Stringer("order_id", id).Msg("service: order not found by id")
			return nil, ErrOrderNotFound
		}

		log.Error().Err(err).Msg("service: failed to fetch order by id in repository")
		return nil, fmt.Errorf("service: failed to fetch order by id: %w", err)
	}

	return o, nil
}

// GetUserOrder is GetOrderByID scoped to the buyer, with the same ownership
// rule as CancelOrder.
func (s *service) GetUserOrder(ctx context.Context, userID, orderID uuid.UUID) (*Order, error) {
	o, err := s.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.UserID != userID {
		log.Warn().Stringer("order_id", orderID).Stringer("user_id", userID).Msg("service: order read by non-owner")
		return nil, ErrNotOwner
	}
	return o, nil
}

func (s *service) GetOrdersByUserID(ctx context.Context, userID uuid.UUID) ([]Order, error) {
	if _, err := s.userRepo.GetByID(ctx, userID); err != nil {
		if errors.Is(err, user.ErrUserNotFound) {
			return nil, user.ErrUserNotFound
		}
		return nil, fmt.Errorf("service: failed to get user: %w", err)
	}

	orders, err := s.orderRepo.GetOrdersByUserID(ctx, userID)
	if err != nil {
		log.Error().Err(err).Stringer("user_id", userID).Msg("service: failed to fetch user orders in repository")
		return nil, fmt.Errorf("service: failed to fetch user orders: %w", err)
	}

	return orders, nil
}

func (s *service) UpdateOrderStatus(ctx context.Context, orderID uuid.UUID, newStatus OrderStatus) (*Order, error) {
	tx, err := s.orderRepo.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("service: failed to begin transaction: %w", err)
	}
	defer rollback(ctx, tx)

	current, err := s.orderRepo.GetOrderForUpdate(ctx, tx, orderID)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			log.Warn().Err(err).Stringer("order_id", orderID).Stringer("new_status", newStatus).Msg("service: order not found, cannot update status")
			return nil, ErrOrderNotFound
		}
		log.Error().Err(err).Stringer("order_id", orderID).Msg("service: failed to get order for status update")
		return nil, fmt.Errorf("service: failed to get order for status update: %w", err)
	}

	if current.Status == newStatus {
		log.Info().Stringer("order_id", orderID).Stringer("status", newStatus).Msg("service: order status is already the same, no update needed")
		return current, nil
	}

	if newStatus == StatusCancelled {
		return nil, fmt.Errorf("%w: use cancel to cancel an order", ErrInvalidStatusTransition)
	}

	transitions, ok := allowedTransitions[current.Status]
	if !ok || !transitions[newStatus] {
		log.Warn().
			Stringer("order_id", orderID).
			Stringer("current_status", current.Status).
			Stringer("new_status", newStatus).
			Msg("service: invalid status transition attempt")
		return nil, fmt.Errorf("%w: from %s to %s", ErrInvalidStatusTransition, current.Status, newStatus)
	}

	if err = s.orderRepo.UpdateOrderStatus(ctx, tx, orderID, newStatus); err != nil {
		return nil, fmt.Errorf("service: failed to update order status: %w", err)
	}
	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("service: failed to commit status update: %w", err)
	}

	current.Status = newStatus
	current.UpdatedAt = time.Now().UTC()
	log.Info().Stringer("order_id", orderID).Stringer("status", newStatus).Msg("service: order status updated")

	return current, nil
}

func (s *service) publish(ctx context.Context, eventType string, o *Order, reason string) {
	event := events.OrderEvent{
		Type:        eventType,
		OrderID:     o.ID,
		UserID:      o.UserID,
		Status:      o.Status.String(),
		TotalAmount: o.TotalAmount,
		Reason:      reason,
		Lines:       make([]events.StockChange, 0, len(o.Lines)),
		OccurredAt:  time.Now().UTC(),
	}
	for _, line := range o.Lines {
		change := events.StockChange{ProductID: line.ProductID, Quantity: line.Quantity}
		if line.Pool.IsVariant() {
			id := line.Pool.VariantID
			change.VariantID = &id
		}
		event.Lines = append(event.Lines, change)
	}

	if err := s.publisher.Publish(ctx, event); err != nil {
		log.Error().Err(err).Str("event_type", eventType).Stringer("order_id", o.ID).Msg("service: failed to publish order event")
	}
}

func rollback(ctx context.Context, tx Tx) {
	if err := tx.Rollback(ctx); err != nil {
		log.Error().Err(err).Msg("service: failed to rollback transaction")
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func productIDs(items []cart.Item) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ProductID)
	}
	return sortedUnique(ids)
}

// sortedUnique orders ids ascending, which is the lock acquisition order.
func sortedUnique(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]bool, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Bytes(), out[j].Bytes()) < 0
	})
	return out
}
