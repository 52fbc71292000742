package http_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/vasiliy-maslov/marketplace/internal/catalog"
	handler "github.com/vasiliy-maslov/marketplace/internal/handler/http"
)

func TestNewRouter(t *testing.T) {
	products := new(MockProductService)
	productID := uuid.Must(uuid.NewV4())
	missingID := uuid.Must(uuid.NewV4())

	products.On("GetProduct", mock.Anything, productID).
		Return(&catalog.Product{ID: productID, Name: "Sugar", BasePrice: decimal.NewFromInt(50)}, nil).Once()
	products.On("GetProduct", mock.Anything, missingID).Return(nil, catalog.ErrProductNotFound).Once()

	router := handler.NewRouter(
		handler.NewCartHandler(new(MockCartService)),
		handler.NewOrderHandler(new(MockOrderService)),
		handler.NewProductHandler(products),
	)

	tests := []struct {
		name       string
		method     string
		path       string
		wantStatus int
	}{
		{name: "health", method: http.MethodGet, path: "/health", wantStatus: http.StatusOK},
		{name: "product", method: http.MethodGet, path: "/api/v1/products/" + productID.String(), wantStatus: http.StatusOK},
		{name: "missing_product", method: http.MethodGet, path: "/api/v1/products/" + missingID.String(), wantStatus: http.StatusNotFound},
		{name: "bad_product_id", method: http.MethodGet, path: "/api/v1/products/nope", wantStatus: http.StatusBadRequest},
		{name: "unversioned_path", method: http.MethodGet, path: "/products/" + productID.String(), wantStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, httptest.NewRequest(tt.method, tt.path, nil))
			assert.Equal(t, tt.wantStatus, rr.Code)
		})
	}

	products.AssertExpectations(t)
}
