package http_test

import (
	"context"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"

	"github.com/vasiliy-maslov/marketplace/internal/cart"
	"github.com/vasiliy-maslov/marketplace/internal/catalog"
	"github.com/vasiliy-maslov/marketplace/internal/order"
)

type MockCartService struct {
	mock.Mock
}

func (m *MockCartService) view(args mock.Arguments) (*cart.View, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*cart.View), args.Error(1)
}

func (m *MockCartService) Get(ctx context.Context, userID uuid.UUID) (*cart.View, error) {
	return m.view(m.Called(ctx, userID))
}

func (m *MockCartService) Add(ctx context.Context, userID, productID uuid.UUID, count int, unitSize decimal.Decimal) (*cart.View, error) {
	return m.view(m.Called(ctx, userID, productID, count, unitSize))
}

func (m *MockCartService) Update(ctx context.Context, userID, itemID uuid.UUID, count decimal.Decimal) (*cart.View, error) {
	return m.view(m.Called(ctx, userID, itemID, count))
}

func (m *MockCartService) Remove(ctx context.Context, userID, itemID uuid.UUID) (*cart.View, error) {
	return m.view(m.Called(ctx, userID, itemID))
}

func (m *MockCartService) Clear(ctx context.Context, userID uuid.UUID) (*cart.View, error) {
	return m.view(m.Called(ctx, userID))
}

type MockOrderService struct {
	mock.Mock
}

func (m *MockOrderService) order(args mock.Arguments) (*order.Order, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

func (m *MockOrderService) PlaceOrder(ctx context.Context, userID uuid.UUID, input order.PlaceOrderInput) (*order.Order, error) {
	return m.order(m.Called(ctx, userID, input))
}

func (m *MockOrderService) CancelOrder(ctx context.Context, userID, orderID uuid.UUID, reason string) (*order.Order, error) {
	return m.order(m.Called(ctx, userID, orderID, reason))
}

func (m *MockOrderService) GetOrderByID(ctx context.Context, id uuid.UUID) (*order.Order, error) {
	return m.order(m.Called(ctx, id))
}

func (m *MockOrderService) GetUserOrder(ctx context.Context, userID, orderID uuid.UUID) (*order.Order, error) {
	return m.order(m.Called(ctx, userID, orderID))
}

func (m *MockOrderService) GetOrdersByUserID(ctx context.Context, userID uuid.UUID) ([]order.Order, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]order.Order), args.Error(1)
}

func (m *MockOrderService) UpdateOrderStatus(ctx context.Context, orderID uuid.UUID, newStatus order.OrderStatus) (*order.Order, error) {
	return m.order(m.Called(ctx, orderID, newStatus))
}

type MockProductService struct {
	mock.Mock
}

func (m *MockProductService) GetProduct(ctx context.Context, id uuid.UUID) (*catalog.Product, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*catalog.Product), args.Error(1)
}
