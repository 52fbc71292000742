package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"github.com/vasiliy-maslov/marketplace/internal/order"
)

// PlaceOrderRequest fields are optional; missing shipping fields come from
// the buyer's profile and payment defaults to COD.
type PlaceOrderRequest struct {
	ShippingAddress string `json:"shipping_address" validate:"max=500"`
	City            string `json:"city" validate:"max=100"`
	State           string `json:"state" validate:"max=100"`
	Pincode         string `json:"pincode" validate:"max=20"`
	PaymentMethod   string `json:"payment_method" validate:"omitempty,oneof=COD Online"`
}

type CancelOrderRequest struct {
	Reason string `json:"reason" validate:"max=1000"`
}

type UpdateOrderStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=Processing Shipped Delivered"`
}

type OrderHandler struct {
	service  order.Service
	validate *validator.Validate
}

func NewOrderHandler(service order.Service) *OrderHandler {
	return &OrderHandler{
		service:  service,
		validate: validator.New(),
	}
}

func (h *OrderHandler) RegisterRoutes(router chi.Router) {
	router.Post("/users/{userID}/orders", h.handlePlaceOrder)
	router.Get("/users/{userID}/orders", h.handleGetOrdersByUserID)
	router.Get("/users/{userID}/orders/{orderID}", h.handleGetUserOrder)
	router.Post("/users/{userID}/orders/{orderID}/cancel", h.handleCancelOrder)
	router.Get("/orders/{orderID}", h.handleGetOrderByID)
	router.Patch("/orders/{orderID}/status", h.handleUpdateOrderStatus)
}

func (h *OrderHandler) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseUUIDParam(w, chi.URLParam(r, "userID"), "user_id")
	if !ok {
		return
	}

	var requestPayload PlaceOrderRequest
	if !decodeAndValidate(w, r, h.validate, &requestPayload) {
		return
	}

	placed, err := h.service.PlaceOrder(r.Context(), userID, order.PlaceOrderInput{
		ShippingAddress: requestPayload.ShippingAddress,
		City:            requestPayload.City,
		State:           requestPayload.State,
		Pincode:         requestPayload.Pincode,
		PaymentMethod:   order.PaymentMethod(requestPayload.PaymentMethod),
	})
	if err != nil {
		log.Warn().Err(err).Stringer("user_id", userID).Msg("Failed to place order")
		respondWithServiceError(w, err, "Failed to place order")
		return
	}

	respondWithJSON(w, http.StatusCreated, placed)
}

func (h *OrderHandler) handleGetOrdersByUserID(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseUUIDParam(w, chi.URLParam(r, "userID"), "user_id")
	if !ok {
		return
	}

	orders, err := h.service.GetOrdersByUserID(r.Context(), userID)
	if err != nil {
		respondWithServiceError(w, err, "Failed to get orders")
		return
	}

	respondWithJSON(w, http.StatusOK, orders)
}

func (h *OrderHandler) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseUUIDParam(w, chi.URLParam(r, "userID"), "user_id")
	if !ok {
		return
	}
	orderID, ok := parseUUIDParam(w, chi.URLParam(r, "orderID"), "order_id")
	if !ok {
		return
	}

	var requestPayload CancelOrderRequest
	if !decodeAndValidate(w, r, h.validate, &requestPayload) {
		return
	}

	cancelled, err := h.service.CancelOrder(r.Context(), userID, orderID, requestPayload.Reason)
	if err != nil {
		log.Warn().Err(err).Stringer("user_id", userID).Stringer("order_id", orderID).Msg("Failed to cancel order")
		respondWithServiceError(w, err, "Failed to cancel order")
		return
	}

	respondWithJSON(w, http.StatusOK, cancelled)
}

func (h *OrderHandler) handleGetUserOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseUUIDParam(w, chi.URLParam(r, "userID"), "user_id")
	if !ok {
		return
	}
	orderID, ok := parseUUIDParam(w, chi.URLParam(r, "orderID"), "order_id")
	if !ok {
		return
	}

	found, err := h.service.GetUserOrder(r.Context(), userID, orderID)
	if err != nil {
		respondWithServiceError(w, err, "Failed to get order")
		return
	}

	respondWithJSON(w, http.StatusOK, found)
}

func (h *OrderHandler) handleGetOrderByID(w http.ResponseWriter, r *http.Request) {
	orderID, ok := parseUUIDParam(w, chi.URLParam(r, "orderID"), "order_id")
	if !ok {
		return
	}

	found, err := h.service.GetOrderByID(r.Context(), orderID)
	if err != nil {
		respondWithServiceError(w, err, "Failed to get order")
		return
	}

	respondWithJSON(w, http.StatusOK, found)
}

func (h *OrderHandler) handleUpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	orderID, ok := parseUUIDParam(w, chi.URLParam(r, "orderID"), "order_id")
	if !ok {
		return
	}

	var requestPayload UpdateOrderStatusRequest
	if !decodeAndValidate(w, r, h.validate, &requestPayload) {
		return
	}

	updated, err := h.service.UpdateOrderStatus(r.Context(), orderID, order.OrderStatus(requestPayload.Status))
	if err != nil {
		respondWithServiceError(w, err, "Failed to update order status")
		return
	}

	respondWithJSON(w, http.StatusOK, updated)
}
