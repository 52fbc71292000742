package http_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/vasiliy-maslov/marketplace/internal/catalog"
	handler "github.com/vasiliy-maslov/marketplace/internal/handler/http"
	"github.com/vasiliy-maslov/marketplace/internal/order"
	"github.com/vasiliy-maslov/marketplace/internal/stock"
)

func newOrderRouter(svc *MockOrderService) chi.Router {
	router := chi.NewRouter()
	handler.NewOrderHandler(svc).RegisterRoutes(router)
	return router
}

func TestOrderHandler_handlePlaceOrder_Success(t *testing.T) {
	mockService := new(MockOrderService)
	userID := uuid.Must(uuid.NewV4())

	placed := &order.Order{
		ID:              uuid.Must(uuid.NewV4()),
		UserID:          userID,
		ShippingAddress: "1 Main St",
		TotalAmount:     decimal.NewFromInt(115),
		Status:          order.StatusPlaced,
		PaymentMethod:   order.PaymentOnline,
	}
	mockService.On("PlaceOrder", mock.Anything, userID, order.PlaceOrderInput{
		ShippingAddress: "1 Main St",
		City:            "Pune",
		PaymentMethod:   order.PaymentOnline,
	}).Return(placed, nil).Once()

	body := `{"shipping_address":"1 Main St","city":"Pune","payment_method":"Online"}`
	req := httptest.NewRequest(http.MethodPost, "/users/"+userID.String()+"/orders", bytes.NewBufferString(body))
	rr := httptest.NewRecorder()

	newOrderRouter(mockService).ServeHTTP(rr, req)
	require.Equal(t, http.StatusCreated, rr.Code)

	var got order.Order
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
	assert.Equal(t, placed.ID, got.ID)
	assert.Equal(t, order.StatusPlaced, got.Status)
	assert.True(t, got.TotalAmount.Equal(decimal.NewFromInt(115)))
	mockService.AssertExpectations(t)
}

func TestOrderHandler_handlePlaceOrder_EmptyBodyUsesDefaults(t *testing.T) {
	mockService := new(MockOrderService)
	userID := uuid.Must(uuid.NewV4())

	mockService.On("PlaceOrder", mock.Anything, userID, order.PlaceOrderInput{}).
		Return(&order.Order{ID: uuid.Must(uuid.NewV4()), UserID: userID}, nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/users/"+userID.String()+"/orders", nil)
	rr := httptest.NewRecorder()

	newOrderRouter(mockService).ServeHTTP(rr, req)
	assert.Equal(t, http.StatusCreated, rr.Code)
	mockService.AssertExpectations(t)
}

func TestOrderHandler_handlePlaceOrder_InvalidPaymentMethod(t *testing.T) {
	mockService := new(MockOrderService)
	userID := uuid.Must(uuid.NewV4())

	req := httptest.NewRequest(http.MethodPost, "/users/"+userID.String()+"/orders", bytes.NewBufferString(`{"payment_method":"Card"}`))
	rr := httptest.NewRecorder()

	newOrderRouter(mockService).ServeHTTP(rr, req)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	var got handler.ValidationErrorResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
	assert.Equal(t, "must be one of: COD Online", got.Details["PaymentMethod"])
	mockService.AssertNotCalled(t, "PlaceOrder", mock.Anything, mock.Anything, mock.Anything)
}

func TestOrderHandler_handlePlaceOrder_ServiceErrors(t *testing.T) {
	userID := uuid.Must(uuid.NewV4())
	productID := uuid.Must(uuid.NewV4())

	tests := []struct {
		name          string
		err           error
		wantStatus    int
		wantRetryable bool
		wantProduct   bool
	}{
		{name: "unknown_product", err: fmt.Errorf("service: %w", catalog.ErrProductNotFound), wantStatus: http.StatusNotFound},
		{name: "empty_cart", err: order.ErrEmptyCart, wantStatus: http.StatusBadRequest},
		{name: "missing_address", err: order.ErrMissingShippingAddress, wantStatus: http.StatusBadRequest},
		{
			name: "insufficient_stock",
			err: &stock.InsufficientStockError{
				Pool:        stock.ProductPool(productID),
				ProductName: "Truffle",
				Requested:   decimal.NewFromInt(2),
				Available:   decimal.NewFromInt(1),
			},
			wantStatus:  http.StatusConflict,
			wantProduct: true,
		},
		{
			name:          "concurrent_conflict",
			err:           &stock.ConflictError{ProductID: productID, Err: stock.ErrConflict},
			wantStatus:    http.StatusConflict,
			wantRetryable: true,
			wantProduct:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := new(MockOrderService)
			mockService.On("PlaceOrder", mock.Anything, userID, mock.Anything).Return(nil, tt.err).Once()

			req := httptest.NewRequest(http.MethodPost, "/users/"+userID.String()+"/orders", bytes.NewBufferString(`{}`))
			rr := httptest.NewRecorder()

			newOrderRouter(mockService).ServeHTTP(rr, req)
			require.Equal(t, tt.wantStatus, rr.Code)

			var got handler.StockErrorResponse
			require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
			assert.NotEmpty(t, got.Error)
			assert.Equal(t, tt.wantRetryable, got.Retryable)
			if tt.wantProduct {
				assert.Equal(t, productID, got.ProductID)
			}
			mockService.AssertExpectations(t)
		})
	}
}

func TestOrderHandler_handleCancelOrder(t *testing.T) {
	userID := uuid.Must(uuid.NewV4())
	orderID := uuid.Must(uuid.NewV4())
	path := "/users/" + userID.String() + "/orders/" + orderID.String() + "/cancel"

	tests := []struct {
		name       string
		body       string
		reason     string
		result     *order.Order
		err        error
		wantStatus int
	}{
		{
			name:       "success",
			body:       `{"reason":"changed my mind"}`,
			reason:     "changed my mind",
			result:     &order.Order{ID: orderID, UserID: userID, Status: order.StatusCancelled},
			wantStatus: http.StatusOK,
		},
		{
			name:       "empty_body",
			result:     &order.Order{ID: orderID, UserID: userID, Status: order.StatusCancelled},
			wantStatus: http.StatusOK,
		},
		{name: "already_cancelled", body: `{}`, err: order.ErrAlreadyCancelled, wantStatus: http.StatusConflict},
		{name: "shipped", body: `{}`, err: order.ErrNotCancellable, wantStatus: http.StatusConflict},
		{name: "not_owner", body: `{}`, err: order.ErrNotOwner, wantStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := new(MockOrderService)
			if tt.err != nil {
				mockService.On("CancelOrder", mock.Anything, userID, orderID, tt.reason).Return(nil, tt.err).Once()
			} else {
				mockService.On("CancelOrder", mock.Anything, userID, orderID, tt.reason).Return(tt.result, nil).Once()
			}

			req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(tt.body))
			rr := httptest.NewRecorder()

			newOrderRouter(mockService).ServeHTTP(rr, req)
			assert.Equal(t, tt.wantStatus, rr.Code)
			mockService.AssertExpectations(t)
		})
	}
}

func TestOrderHandler_handleUpdateOrderStatus(t *testing.T) {
	orderID := uuid.Must(uuid.NewV4())
	path := "/orders/" + orderID.String() + "/status"

	t.Run("advances", func(t *testing.T) {
		mockService := new(MockOrderService)
		mockService.On("UpdateOrderStatus", mock.Anything, orderID, order.StatusProcessing).
			Return(&order.Order{ID: orderID, Status: order.StatusProcessing}, nil).Once()

		rr := httptest.NewRecorder()
		newOrderRouter(mockService).ServeHTTP(rr, httptest.NewRequest(http.MethodPatch, path, bytes.NewBufferString(`{"status":"Processing"}`)))
		assert.Equal(t, http.StatusOK, rr.Code)
		mockService.AssertExpectations(t)
	})

	t.Run("cancelled_is_not_a_status_update", func(t *testing.T) {
		mockService := new(MockOrderService)

		rr := httptest.NewRecorder()
		newOrderRouter(mockService).ServeHTTP(rr, httptest.NewRequest(http.MethodPatch, path, bytes.NewBufferString(`{"status":"Cancelled"}`)))
		assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
		mockService.AssertNotCalled(t, "UpdateOrderStatus", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("invalid_transition", func(t *testing.T) {
		mockService := new(MockOrderService)
		mockService.On("UpdateOrderStatus", mock.Anything, orderID, order.StatusDelivered).
			Return(nil, fmt.Errorf("%w: from Placed to Delivered", order.ErrInvalidStatusTransition)).Once()

		rr := httptest.NewRecorder()
		newOrderRouter(mockService).ServeHTTP(rr, httptest.NewRequest(http.MethodPatch, path, bytes.NewBufferString(`{"status":"Delivered"}`)))
		assert.Equal(t, http.StatusConflict, rr.Code)
		mockService.AssertExpectations(t)
	})
}

func TestOrderHandler_handleGetOrders(t *testing.T) {
	mockService := new(MockOrderService)
	userID := uuid.Must(uuid.NewV4())
	orderID := uuid.Must(uuid.NewV4())

	mockService.On("GetOrdersByUserID", mock.Anything, userID).
		Return([]order.Order{{ID: orderID, UserID: userID}}, nil).Once()
	mockService.On("GetOrderByID", mock.Anything, orderID).Return(nil, order.ErrOrderNotFound).Once()

	router := newOrderRouter(mockService)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/users/"+userID.String()+"/orders", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var got []order.Order
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
	require.Len(t, got, 1)
	assert.Equal(t, orderID, got[0].ID)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/orders/"+orderID.String(), nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)

	mockService.AssertExpectations(t)
}

func TestOrderHandler_handleGetUserOrder(t *testing.T) {
	userID := uuid.Must(uuid.NewV4())
	orderID := uuid.Must(uuid.NewV4())
	path := "/users/" + userID.String() + "/orders/" + orderID.String()

	tests := []struct {
		name       string
		result     *order.Order
		err        error
		wantStatus int
	}{
		{name: "owner", result: &order.Order{ID: orderID, UserID: userID}, wantStatus: http.StatusOK},
		{name: "not_owner", err: order.ErrNotOwner, wantStatus: http.StatusNotFound},
		{name: "not_found", err: order.ErrOrderNotFound, wantStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := new(MockOrderService)
			if tt.err != nil {
				mockService.On("GetUserOrder", mock.Anything, userID, orderID).Return(nil, tt.err).Once()
			} else {
				mockService.On("GetUserOrder", mock.Anything, userID, orderID).Return(tt.result, nil).Once()
			}

			rr := httptest.NewRecorder()
			newOrderRouter(mockService).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
			assert.Equal(t, tt.wantStatus, rr.Code)
			mockService.AssertExpectations(t)
			mockService.AssertNotCalled(t, "GetOrderByID", mock.Anything, mock.Anything)
		})
	}
}
