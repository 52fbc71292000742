package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/vasiliy-maslov/marketplace/internal/cart"
	"github.com/vasiliy-maslov/marketplace/internal/catalog"
	"github.com/vasiliy-maslov/marketplace/internal/order"
	"github.com/vasiliy-maslov/marketplace/internal/stock"
	"github.com/vasiliy-maslov/marketplace/internal/user"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

type ValidationErrorResponse struct {
	Error   string            `json:"error"`
	Details map[string]string `json:"details"`
}

// StockErrorResponse tells the client which pool could not cover the request.
type StockErrorResponse struct {
	Error       string           `json:"error"`
	ProductID   uuid.UUID        `json:"product_id"`
	ProductName string           `json:"product_name,omitempty"`
	VariantID   *uuid.UUID       `json:"variant_id,omitempty"`
	Requested   *decimal.Decimal `json:"requested,omitempty"`
	Available   *decimal.Decimal `json:"available,omitempty"`
	Retryable   bool             `json:"retryable"`
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, ErrorResponse{Error: message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"Failed to marshal JSON response"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := w.Write(response); err != nil {
		log.Error().Err(err).Msg("Failed to write JSON response")
	}
}

func mapErrorToStatusCode(err error) int {
	switch {
	case errors.Is(err, user.ErrUserNotFound),
		errors.Is(err, catalog.ErrProductNotFound),
		errors.Is(err, cart.ErrItemNotFound),
		errors.Is(err, order.ErrOrderNotFound),
		errors.Is(err, order.ErrNotOwner):
		return http.StatusNotFound
	case errors.Is(err, cart.ErrInvalidCount),
		errors.Is(err, cart.ErrInvalidUnitSize),
		errors.Is(err, cart.ErrSelfPurchase),
		errors.Is(err, order.ErrEmptyCart),
		errors.Is(err, order.ErrMissingShippingAddress),
		errors.Is(err, order.ErrInvalidPaymentMethod):
		return http.StatusBadRequest
	case errors.Is(err, stock.ErrInsufficientStock),
		errors.Is(err, order.ErrInvalidStatusTransition):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// respondWithServiceError writes the mapped status. Internal failures keep
// their details in the log and send fallback to the client.
func respondWithServiceError(w http.ResponseWriter, err error, fallback string) {
	statusCode := mapErrorToStatusCode(err)
	if statusCode == http.StatusInternalServerError {
		log.Error().Err(err).Msg(fallback)
		respondWithError(w, statusCode, fallback)
		return
	}

	if body, ok := stockErrorBody(err); ok {
		respondWithJSON(w, statusCode, body)
		return
	}
	respondWithError(w, statusCode, clientMessage(err))
}

func stockErrorBody(err error) (StockErrorResponse, bool) {
	var conflict *stock.ConflictError
	if errors.As(err, &conflict) {
		return StockErrorResponse{
			Error:     conflict.Error(),
			ProductID: conflict.ProductID,
			Retryable: true,
		}, true
	}

	var insufficient *stock.InsufficientStockError
	if !errors.As(err, &insufficient) {
		return StockErrorResponse{}, false
	}
	body := StockErrorResponse{
		Error:       insufficient.Error(),
		ProductID:   insufficient.Pool.ProductID,
		ProductName: insufficient.ProductName,
		Requested:   &insufficient.Requested,
		Available:   &insufficient.Available,
	}
	if insufficient.Pool.IsVariant() {
		variantID := insufficient.Pool.VariantID
		body.VariantID = &variantID
	}
	return body, true
}

// clientMessage returns the innermost sentinel text of a domain error so that
// layer prefixes and IDs stay out of responses.
func clientMessage(err error) string {
	for _, sentinel := range []error{
		order.ErrAlreadyCancelled,
		order.ErrNotCancellable,
		order.ErrInvalidStatusTransition,
		order.ErrNotOwner,
		order.ErrOrderNotFound,
		order.ErrEmptyCart,
		order.ErrMissingShippingAddress,
		order.ErrInvalidPaymentMethod,
		cart.ErrInvalidCount,
		cart.ErrInvalidUnitSize,
		cart.ErrSelfPurchase,
		cart.ErrItemNotFound,
		catalog.ErrProductNotFound,
		user.ErrUserNotFound,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return err.Error()
}

func formatValidationErrors(errs validator.ValidationErrors) map[string]string {
	details := make(map[string]string, len(errs))
	for _, fe := range errs {
		switch fe.Tag() {
		case "required":
			details[fe.Field()] = "is required"
		case "uuid":
			details[fe.Field()] = "must be a valid UUID"
		case "gt":
			details[fe.Field()] = fmt.Sprintf("must be greater than %s", fe.Param())
		case "oneof":
			details[fe.Field()] = fmt.Sprintf("must be one of: %s", fe.Param())
		case "max":
			details[fe.Field()] = fmt.Sprintf("must be at most %s characters", fe.Param())
		default:
			details[fe.Field()] = fmt.Sprintf("failed on %q", fe.Tag())
		}
	}
	return details
}

// decodeAndValidate writes the error response itself and reports whether the
// handler may continue. An empty body decodes to the zero request.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, validate *validator.Validate, dst interface{}) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		log.Warn().Err(err).Msg("Failed to decode request body")
		respondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return false
	}

	if err := validate.Struct(dst); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			respondWithJSON(w, http.StatusUnprocessableEntity, ValidationErrorResponse{
				Error:   "Validation failed",
				Details: formatValidationErrors(validationErrors),
			})
			return false
		}
		log.Error().Err(err).Type("validation_error_type", err).Msg("Unexpected error type during validation")
		respondWithError(w, http.StatusInternalServerError, "Internal validation error")
		return false
	}
	return true
}

func parseUUIDParam(w http.ResponseWriter, raw, name string) (uuid.UUID, bool) {
	id, err := uuid.FromString(raw)
	if err != nil {
		log.Warn().Err(err).Str(name, raw).Msg("Failed to parse id parameter from URL")
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid %s parameter", name))
		return uuid.Nil, false
	}
	return id, true
}
