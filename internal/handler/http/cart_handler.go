package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/vasiliy-maslov/marketplace/internal/cart"
)

type AddCartItemRequest struct {
	ProductID string           `json:"product_id" validate:"required,uuid"`
	Count     int              `json:"count" validate:"gt=0"`
	UnitSize  *decimal.Decimal `json:"unit_size,omitempty"`
}

// UpdateCartItemRequest sets an absolute count; zero or below removes the item.
type UpdateCartItemRequest struct {
	Count *decimal.Decimal `json:"count" validate:"required"`
}

type CartHandler struct {
	service  cart.Service
	validate *validator.Validate
}

func NewCartHandler(service cart.Service) *CartHandler {
	return &CartHandler{
		service:  service,
		validate: validator.New(),
	}
}

func (h *CartHandler) RegisterRoutes(router chi.Router) {
	router.Get("/users/{userID}/cart", h.handleGetCart)
	router.Post("/users/{userID}/cart/items", h.handleAddItem)
	router.Put("/users/{userID}/cart/items/{itemID}", h.handleUpdateItem)
	router.Delete("/users/{userID}/cart/items/{itemID}", h.handleRemoveItem)
	router.Delete("/users/{userID}/cart/items", h.handleClearCart)
}

func (h *CartHandler) handleGetCart(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseUUIDParam(w, chi.URLParam(r, "userID"), "user_id")
	if !ok {
		return
	}

	view, err := h.service.Get(r.Context(), userID)
	if err != nil {
		respondWithServiceError(w, err, "Failed to get cart")
		return
	}

	respondWithJSON(w, http.StatusOK, view)
}

func (h *CartHandler) handleAddItem(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseUUIDParam(w, chi.URLParam(r, "userID"), "user_id")
	if !ok {
		return
	}

	var requestPayload AddCartItemRequest
	if !decodeAndValidate(w, r, h.validate, &requestPayload) {
		return
	}

	productID := uuid.FromStringOrNil(requestPayload.ProductID)
	unitSize := cart.DefaultUnitSize
	if requestPayload.UnitSize != nil {
		unitSize = *requestPayload.UnitSize
	}

	view, err := h.service.Add(r.Context(), userID, productID, requestPayload.Count, unitSize)
	if err != nil {
		log.Warn().Err(err).Stringer("user_id", userID).Stringer("product_id", productID).Msg("Failed to add item to cart")
		respondWithServiceError(w, err, "Failed to add item to cart")
		return
	}

	respondWithJSON(w, http.StatusCreated, view)
}

func (h *CartHandler) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseUUIDParam(w, chi.URLParam(r, "userID"), "user_id")
	if !ok {
		return
	}
	itemID, ok := parseUUIDParam(w, chi.URLParam(r, "itemID"), "item_id")
	if !ok {
		return
	}

	var requestPayload UpdateCartItemRequest
	if !decodeAndValidate(w, r, h.validate, &requestPayload) {
		return
	}

	view, err := h.service.Update(r.Context(), userID, itemID, *requestPayload.Count)
	if err != nil {
		log.Warn().Err(err).Stringer("user_id", userID).Stringer("item_id", itemID).Msg("Failed to update cart item")
		respondWithServiceError(w, err, "Failed to update cart item")
		return
	}

	respondWithJSON(w, http.StatusOK, view)
}

func (h *CartHandler) handleRemoveItem(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseUUIDParam(w, chi.URLParam(r, "userID"), "user_id")
	if !ok {
		return
	}
	itemID, ok := parseUUIDParam(w, chi.URLParam(r, "itemID"), "item_id")
	if !ok {
		return
	}

	view, err := h.service.Remove(r.Context(), userID, itemID)
	if err != nil {
		respondWithServiceError(w, err, "Failed to remove cart item")
		return
	}

	respondWithJSON(w, http.StatusOK, view)
}

func (h *CartHandler) handleClearCart(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseUUIDParam(w, chi.URLParam(r, "userID"), "user_id")
	if !ok {
		return
	}

	view, err := h.service.Clear(r.Context(), userID)
	if err != nil {
		respondWithServiceError(w, err, "Failed to clear cart")
		return
	}

	respondWithJSON(w, http.StatusOK, view)
}
