package cart

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/vasiliy-maslov/marketplace/internal/catalog"
	"github.com/vasiliy-maslov/marketplace/internal/stock"
	"github.com/vasiliy-maslov/marketplace/internal/user"
)

var (
	ErrInvalidCount    = errors.New("count must be positive with at most 3 decimal places, whole for pack variants")
	ErrInvalidUnitSize = errors.New("unit size must be greater than zero with at most 3 decimal places")
	ErrSelfPurchase    = errors.New("vendors cannot add their own products to cart")
)

var tracer = otel.Tracer("github.com/vasiliy-maslov/marketplace/internal/cart")

// DefaultUnitSize applies when add-to-cart omits the unit size.
var DefaultUnitSize = decimal.NewFromInt(1)

type Service interface {
	Get(ctx context.Context, userID uuid.UUID) (*View, error)
	Add(ctx context.Context, userID, productID uuid.UUID, count int, unitSize decimal.Decimal) (*View, error)
	Update(ctx context.Context, userID, itemID uuid.UUID, count decimal.Decimal) (*View, error)
	Remove(ctx context.Context, userID, itemID uuid.UUID) (*View, error)
	Clear(ctx context.Context, userID uuid.UUID) (*View, error)
}

type service struct {
	cartRepo    Repository
	userRepo    user.Repository
	productRepo catalog.Repository
}

func NewService(cartRepo Repository, userRepo user.Repository, productRepo catalog.Repository) Service {
	return &service{
		cartRepo:    cartRepo,
		userRepo:    userRepo,
		productRepo: productRepo,
	}
}

// ValidUnitSize reports whether unitSize can be stored in a numeric(10,3) column.
func ValidUnitSize(unitSize decimal.Decimal) bool {
	return unitSize.IsPositive() && unitSize.Equal(unitSize.Round(3))
}

// ValidCount reports whether count fits the same numeric(10,3) scale as unit
// sizes, so count × unitSize never needs more than 6 decimal places.
func ValidCount(count decimal.Decimal) bool {
	return count.IsPositive() && count.Equal(count.Round(3))
}

func (s *service) Get(ctx context.Context, userID uuid.UUID) (*View, error) {
	c, err := s.cartFor(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.view(ctx, c)
}

func (s *service) Add(ctx context.Context, userID, productID uuid.UUID, count int, unitSize decimal.Decimal) (*View, error) {
	ctx, span := tracer.Start(ctx, "cart.Add")
	defer span.End()
	span.SetAttributes(
		attribute.String("user.id", userID.String()),
		attribute.String("product.id", productID.String()),
		attribute.Int("cart.count", count),
	)

	if count <= 0 {
		return nil, ErrInvalidCount
	}
	if !ValidUnitSize(unitSize) {
		return nil, ErrInvalidUnitSize
	}

	c, err := s.cartFor(ctx, userID)
	if err != nil {
		return nil, err
	}

	product, err := s.product(ctx, productID)
	if err != nil {
		return nil, err
	}
	if product.VendorID == userID {
		log.Warn().Stringer("user_id", userID).Stringer("product_id", productID).Msg("service: self-purchase attempt rejected")
		return nil, ErrSelfPurchase
	}

	staged := decimal.Zero
	existing, err := s.cartRepo.FindItem(ctx, c.ID, productID, unitSize)
	switch {
	case err == nil:
		staged = existing.Count
	case errors.Is(err, ErrItemNotFound):
	default:
		log.Error().Err(err).Stringer("cart_id", c.ID).Msg("service: failed to look up staged cart item")
		return nil, fmt.Errorf("service: failed to look up cart item: %w", err)
	}

	demand := staged.Add(decimal.NewFromInt(int64(count)))
	if err := checkStock(product, unitSize, demand); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if _, err := s.cartRepo.AddItem(ctx, c.ID, productID, unitSize, decimal.NewFromInt(int64(count))); err != nil {
		log.Error().Err(err).Stringer("cart_id", c.ID).Stringer("product_id", productID).Msg("service: failed to stage cart item")
		return nil, fmt.Errorf("service: failed to add cart item: %w", err)
	}

	log.Info().Stringer("user_id", userID).Stringer("product_id", productID).Stringer("unit_size", unitSize).Int("count", count).Msg("service: item added to cart")

	return s.view(ctx, c)
}

func (s *service) Update(ctx context.Context, userID, itemID uuid.UUID, count decimal.Decimal) (*View, error) {
	ctx, span := tracer.Start(ctx, "cart.Update")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID.String()), attribute.String("cart_item.id", itemID.String()))

	c, err := s.cartFor(ctx, userID)
	if err != nil {
		return nil, err
	}

	item, err := s.cartRepo.GetItem(ctx, c.ID, itemID)
	if err != nil {
		return nil, s.itemErr(err, itemID)
	}

	if !count.IsPositive() {
		if err := s.cartRepo.DeleteItem(ctx, item.ID); err != nil && !errors.Is(err, ErrItemNotFound) {
			return nil, fmt.Errorf("service: failed to delete cart item: %w", err)
		}
		return s.view(ctx, c)
	}
	if !ValidCount(count) {
		return nil, ErrInvalidCount
	}

	product, err := s.product(ctx, item.ProductID)
	if err != nil {
		return nil, err
	}
	if product.VendorID == userID {
		return nil, ErrSelfPurchase
	}
	// Вариант продаётся только целыми упаковками.
	if catalog.Resolve(product, item.UnitSize).IsVariant() && !count.Equal(count.Truncate(0)) {
		return nil, ErrInvalidCount
	}

	if err := checkStock(product, item.UnitSize, count); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if err := s.cartRepo.SetItemCount(ctx, item.ID, count); err != nil {
		return nil, s.itemErr(err, itemID)
	}

	return s.view(ctx, c)
}

func (s *service) Remove(ctx context.Context, userID, itemID uuid.UUID) (*View, error) {
	c, err := s.cartFor(ctx, userID)
	if err != nil {
		return nil, err
	}

	item, err := s.cartRepo.GetItem(ctx, c.ID, itemID)
	if err != nil {
		return nil, s.itemErr(err, itemID)
	}
	if err := s.cartRepo.DeleteItem(ctx, item.ID); err != nil {
		return nil, s.itemErr(err, itemID)
	}

	return s.view(ctx, c)
}

func (s *service) Clear(ctx context.Context, userID uuid.UUID) (*View, error) {
	c, err := s.cartFor(ctx, userID)
	if err != nil {
		return nil, err
	}

	if err := s.cartRepo.ClearItems(ctx, c.ID); err != nil {
		log.Error().Err(err).Stringer("cart_id", c.ID).Msg("service: failed to clear cart")
		return nil, fmt.Errorf("service: failed to clear cart: %w", err)
	}

	return s.view(ctx, c)
}

// checkStock validates demand against the governing pool without touching it.
func checkStock(product *catalog.Product, unitSize, demand decimal.Decimal) error {
	res := catalog.Resolve(product, unitSize)
	err := res.Pool().Reserve(res.Deduction(demand))

	var insufficient *stock.InsufficientStockError
	if errors.As(err, &insufficient) {
		log.Warn().
			Stringer("product_id", product.ID).
			Stringer("pool", res.PoolRef()).
			Stringer("requested", insufficient.Requested).
			Stringer("available", insufficient.Available).
			Msg("service: cart demand exceeds available stock")
		return insufficient.WithProduct(res.Label())
	}
	return err
}

func (s *service) cartFor(ctx context.Context, userID uuid.UUID) (*Cart, error) {
	if _, err := s.userRepo.GetByID(ctx, userID); err != nil {
		if errors.Is(err, user.ErrUserNotFound) {
			log.Warn().Stringer("user_id", userID).Msg("service: user not found")
			return nil, user.ErrUserNotFound
		}
		return nil, fmt.Errorf("service: failed to get user: %w", err)
	}

	c, err := s.cartRepo.GetOrCreateCart(ctx, userID)
	if err != nil {
		log.Error().Err(err).Stringer("user_id", userID).Msg("service: failed to get or create cart")
		return nil, fmt.Errorf("service: failed to get cart: %w", err)
	}
	return c, nil
}

func (s *service) product(ctx context.Context, productID uuid.UUID) (*catalog.Product, error) {
	product, err := s.productRepo.GetProduct(ctx, productID)
	if err != nil {
		if errors.Is(err, catalog.ErrProductNotFound) {
			log.Warn().Stringer("product_id", productID).Msg("service: product not found")
			return nil, catalog.ErrProductNotFound
		}
		return nil, fmt.Errorf("service: failed to get product: %w", err)
	}
	return product, nil
}

func (s *service) itemErr(err error, itemID uuid.UUID) error {
	if errors.Is(err, ErrItemNotFound) {
		log.Warn().Stringer("item_id", itemID).Msg("service: cart item not found")
		return ErrItemNotFound
	}
	return fmt.Errorf("service: cart item %s: %w", itemID, err)
}

func (s *service) view(ctx context.Context, c *Cart) (*View, error) {
	items, err := s.cartRepo.ListItems(ctx, c.ID)
	if err != nil {
		return nil, fmt.Errorf("service: failed to list cart items: %w", err)
	}

	v := &View{
		ID:         c.ID,
		UserID:     c.UserID,
		Items:      make([]ItemView, 0, len(items)),
		TotalPrice: decimal.Zero,
	}

	products := make(map[uuid.UUID]*catalog.Product)
	for _, it := range items {
		product, ok := products[it.ProductID]
		if !ok {
			product, err = s.productRepo.GetProduct(ctx, it.ProductID)
			if err != nil {
				return nil, fmt.Errorf("service: failed to price cart item %s: %w", it.ID, err)
			}
			products[it.ProductID] = product
		}

		res := catalog.Resolve(product, it.UnitSize)
		line := ItemView{
			ID:          it.ID,
			ProductID:   it.ProductID,
			ProductName: res.Label(),
			UnitSize:    it.UnitSize,
			Count:       it.Count,
			UnitPrice:   res.UnitPrice(),
			LinePrice:   res.LinePrice(it.Count),
		}
		if res.Variant != nil {
			id := res.Variant.ID
			line.VariantID = &id
		}

		v.Items = append(v.Items, line)
		v.TotalPrice = v.TotalPrice.Add(line.LinePrice)
	}
	v.TotalPrice = catalog.RoundAmount(v.TotalPrice)

	return v, nil
}
