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

	"github.com/vasiliy-maslov/marketplace/internal/cart"
	"github.com/vasiliy-maslov/marketplace/internal/catalog"
	handler "github.com/vasiliy-maslov/marketplace/internal/handler/http"
	"github.com/vasiliy-maslov/marketplace/internal/stock"
)

func newCartRouter(svc *MockCartService) chi.Router {
	router := chi.NewRouter()
	handler.NewCartHandler(svc).RegisterRoutes(router)
	return router
}

func decimalEq(want string) interface{} {
	return mock.MatchedBy(func(d decimal.Decimal) bool {
		return d.Equal(decimal.RequireFromString(want))
	})
}

func TestCartHandler_handleAddItem_Success(t *testing.T) {
	mockService := new(MockCartService)
	userID := uuid.Must(uuid.NewV4())
	productID := uuid.Must(uuid.NewV4())

	view := &cart.View{
		ID:     uuid.Must(uuid.NewV4()),
		UserID: userID,
		Items: []cart.ItemView{{
			ID:          uuid.Must(uuid.NewV4()),
			ProductID:   productID,
			ProductName: "Sugar",
			UnitSize:    decimal.NewFromInt(1),
			Count:       decimal.NewFromInt(2),
			UnitPrice:   decimal.NewFromInt(50),
			LinePrice:   decimal.NewFromInt(100),
		}},
		TotalPrice: decimal.NewFromInt(100),
	}
	mockService.On("Add", mock.Anything, userID, productID, 2, decimalEq("1")).Return(view, nil).Once()

	body := fmt.Sprintf(`{"product_id":%q,"count":2}`, productID)
	req := httptest.NewRequest(http.MethodPost, "/users/"+userID.String()+"/cart/items", bytes.NewBufferString(body))
	rr := httptest.NewRecorder()

	newCartRouter(mockService).ServeHTTP(rr, req)
	require.Equal(t, http.StatusCreated, rr.Code)

	var got cart.View
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
	assert.Equal(t, view.ID, got.ID)
	require.Len(t, got.Items, 1)
	assert.True(t, got.TotalPrice.Equal(decimal.NewFromInt(100)))
	mockService.AssertExpectations(t)
}

func TestCartHandler_handleAddItem_PassesUnitSize(t *testing.T) {
	mockService := new(MockCartService)
	userID := uuid.Must(uuid.NewV4())
	productID := uuid.Must(uuid.NewV4())

	mockService.On("Add", mock.Anything, userID, productID, 3, decimalEq("0.25")).
		Return(&cart.View{UserID: userID}, nil).Once()

	body := fmt.Sprintf(`{"product_id":%q,"count":3,"unit_size":"0.25"}`, productID)
	req := httptest.NewRequest(http.MethodPost, "/users/"+userID.String()+"/cart/items", bytes.NewBufferString(body))
	rr := httptest.NewRecorder()

	newCartRouter(mockService).ServeHTTP(rr, req)
	assert.Equal(t, http.StatusCreated, rr.Code)
	mockService.AssertExpectations(t)
}

func TestCartHandler_handleAddItem_InsufficientStock(t *testing.T) {
	mockService := new(MockCartService)
	userID := uuid.Must(uuid.NewV4())
	productID := uuid.Must(uuid.NewV4())
	variantID := uuid.Must(uuid.NewV4())

	shortfall := &stock.InsufficientStockError{
		Pool:        stock.VariantPool(productID, variantID),
		ProductName: "Saffron (0.25 kg)",
		Requested:   decimal.NewFromInt(4),
		Available:   decimal.NewFromInt(3),
	}
	mockService.On("Add", mock.Anything, userID, productID, 4, mock.Anything).
		Return(nil, fmt.Errorf("service: %w", shortfall)).Once()

	body := fmt.Sprintf(`{"product_id":%q,"count":4,"unit_size":0.25}`, productID)
	req := httptest.NewRequest(http.MethodPost, "/users/"+userID.String()+"/cart/items", bytes.NewBufferString(body))
	rr := httptest.NewRecorder()

	newCartRouter(mockService).ServeHTTP(rr, req)
	require.Equal(t, http.StatusConflict, rr.Code)

	var got handler.StockErrorResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
	assert.Equal(t, productID, got.ProductID)
	assert.Equal(t, "Saffron (0.25 kg)", got.ProductName)
	require.NotNil(t, got.VariantID)
	assert.Equal(t, variantID, *got.VariantID)
	require.NotNil(t, got.Requested)
	require.NotNil(t, got.Available)
	assert.True(t, got.Requested.Equal(decimal.NewFromInt(4)))
	assert.True(t, got.Available.Equal(decimal.NewFromInt(3)))
	assert.False(t, got.Retryable)
	mockService.AssertExpectations(t)
}

func TestCartHandler_handleAddItem_BadRequests(t *testing.T) {
	userID := uuid.Must(uuid.NewV4())
	productID := uuid.Must(uuid.NewV4())

	tests := []struct {
		name       string
		path       string
		body       string
		wantStatus int
		wantDetail string
	}{
		{
			name:       "invalid_user_id",
			path:       "/users/not-a-uuid/cart/items",
			body:       fmt.Sprintf(`{"product_id":%q,"count":1}`, productID),
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unknown_field",
			path:       "/users/" + userID.String() + "/cart/items",
			body:       fmt.Sprintf(`{"product_id":%q,"count":1,"price":1}`, productID),
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "missing_product_id",
			path:       "/users/" + userID.String() + "/cart/items",
			body:       `{"count":1}`,
			wantStatus: http.StatusUnprocessableEntity,
			wantDetail: "ProductID",
		},
		{
			name:       "zero_count",
			path:       "/users/" + userID.String() + "/cart/items",
			body:       fmt.Sprintf(`{"product_id":%q,"count":0}`, productID),
			wantStatus: http.StatusUnprocessableEntity,
			wantDetail: "Count",
		},
		{
			name:       "fractional_count",
			path:       "/users/" + userID.String() + "/cart/items",
			body:       fmt.Sprintf(`{"product_id":%q,"count":1.5}`, productID),
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := new(MockCartService)
			req := httptest.NewRequest(http.MethodPost, tt.path, bytes.NewBufferString(tt.body))
			rr := httptest.NewRecorder()

			newCartRouter(mockService).ServeHTTP(rr, req)
			require.Equal(t, tt.wantStatus, rr.Code)

			if tt.wantDetail != "" {
				var got handler.ValidationErrorResponse
				require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
				assert.Contains(t, got.Details, tt.wantDetail)
			}
			mockService.AssertNotCalled(t, "Add", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestCartHandler_handleAddItem_ServiceErrors(t *testing.T) {
	userID := uuid.Must(uuid.NewV4())
	productID := uuid.Must(uuid.NewV4())

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantError  string
	}{
		{name: "self_purchase", err: fmt.Errorf("service: %w", cart.ErrSelfPurchase), wantStatus: http.StatusBadRequest, wantError: cart.ErrSelfPurchase.Error()},
		{name: "unknown_product", err: catalog.ErrProductNotFound, wantStatus: http.StatusNotFound, wantError: catalog.ErrProductNotFound.Error()},
		{name: "internal", err: fmt.Errorf("repository: connection refused"), wantStatus: http.StatusInternalServerError, wantError: "Failed to add item to cart"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := new(MockCartService)
			mockService.On("Add", mock.Anything, userID, productID, 1, mock.Anything).Return(nil, tt.err).Once()

			body := fmt.Sprintf(`{"product_id":%q,"count":1}`, productID)
			req := httptest.NewRequest(http.MethodPost, "/users/"+userID.String()+"/cart/items", bytes.NewBufferString(body))
			rr := httptest.NewRecorder()

			newCartRouter(mockService).ServeHTTP(rr, req)
			require.Equal(t, tt.wantStatus, rr.Code)

			var got handler.ErrorResponse
			require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
			assert.Equal(t, tt.wantError, got.Error)
			mockService.AssertExpectations(t)
		})
	}
}

func TestCartHandler_handleUpdateItem(t *testing.T) {
	mockService := new(MockCartService)
	userID := uuid.Must(uuid.NewV4())
	itemID := uuid.Must(uuid.NewV4())

	mockService.On("Update", mock.Anything, userID, itemID, decimalEq("0")).
		Return(&cart.View{UserID: userID, Items: []cart.ItemView{}}, nil).Once()

	req := httptest.NewRequest(http.MethodPut, "/users/"+userID.String()+"/cart/items/"+itemID.String(), bytes.NewBufferString(`{"count":0}`))
	rr := httptest.NewRecorder()

	newCartRouter(mockService).ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	mockService.AssertExpectations(t)
}

func TestCartHandler_handleUpdateItem_MissingCount(t *testing.T) {
	mockService := new(MockCartService)
	userID := uuid.Must(uuid.NewV4())
	itemID := uuid.Must(uuid.NewV4())

	req := httptest.NewRequest(http.MethodPut, "/users/"+userID.String()+"/cart/items/"+itemID.String(), bytes.NewBufferString(`{}`))
	rr := httptest.NewRecorder()

	newCartRouter(mockService).ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	mockService.AssertNotCalled(t, "Update", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCartHandler_handleRemoveItem_NotFound(t *testing.T) {
	mockService := new(MockCartService)
	userID := uuid.Must(uuid.NewV4())
	itemID := uuid.Must(uuid.NewV4())

	mockService.On("Remove", mock.Anything, userID, itemID).Return(nil, cart.ErrItemNotFound).Once()

	req := httptest.NewRequest(http.MethodDelete, "/users/"+userID.String()+"/cart/items/"+itemID.String(), nil)
	rr := httptest.NewRecorder()

	newCartRouter(mockService).ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	mockService.AssertExpectations(t)
}

func TestCartHandler_handleGetAndClear(t *testing.T) {
	mockService := new(MockCartService)
	userID := uuid.Must(uuid.NewV4())
	empty := &cart.View{UserID: userID, Items: []cart.ItemView{}, TotalPrice: decimal.Zero}

	mockService.On("Get", mock.Anything, userID).Return(empty, nil).Once()
	mockService.On("Clear", mock.Anything, userID).Return(empty, nil).Once()

	router := newCartRouter(mockService)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/users/"+userID.String()+"/cart", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/users/"+userID.String()+"/cart/items", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	mockService.AssertExpectations(t)
}
