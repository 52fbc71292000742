package order

import (
	"context"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const instrumentationName = "github.com/vasiliy-maslov/marketplace/internal/order"

var (
	tracer = otel.Tracer(instrumentationName)
	meter  = otel.Meter(instrumentationName)
)

type instruments struct {
	placed          metric.Int64Counter
	cancelled       metric.Int64Counter
	stockRejections metric.Int64Counter
}

func newInstruments() instruments {
	return instruments{
		placed:          counter("marketplace.orders.placed", "Orders committed", "{order}"),
		cancelled:       counter("marketplace.orders.cancelled", "Orders cancelled with stock restored", "{order}"),
		stockRejections: counter("marketplace.stock.rejections", "Order lines rejected for insufficient stock", "{line}"),
	}
}

func counter(name, description, unit string) metric.Int64Counter {
	c, err := meter.Int64Counter(name, metric.WithDescription(description), metric.WithUnit(unit))
	if err != nil {
		log.Error().Err(err).Str("instrument", name).Msg("metrics: failed to create counter, falling back to noop")
		return noop.Int64Counter{}
	}
	return c
}

func (i instruments) recordRejection(ctx context.Context, kind string) {
	i.stockRejections.Add(ctx, 1, metric.WithAttributes(attribute.String("pool.kind", kind)))
}
