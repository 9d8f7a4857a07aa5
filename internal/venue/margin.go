package venue

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MarginConfig configures a crypto-margin venue adapter.
type MarginConfig struct {
	Name              string
	BaseURL           string
	APIKey            string
	APISecret         string
	RequestsPerSecond float64
}

// MarginAdapter trades short margin positions over a REST order API. Both
// crypto-margin venues speak this shape with different endpoints/credentials.
type MarginAdapter struct {
	name string
	rest *restClient
}

func NewMarginAdapter(cfg MarginConfig) (*MarginAdapter, error) {
	if cfg.Name == "" || cfg.BaseURL == "" {
		return nil, fmt.Errorf("margin venue requires name and base url")
	}
	if cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, fmt.Errorf("margin venue %s requires credentials", cfg.Name)
	}
	return &MarginAdapter{
		name: cfg.Name,
		rest: newRESTClient(cfg.Name, cfg.BaseURL, cfg.APIKey, cfg.APISecret, cfg.RequestsPerSecond),
	}, nil
}

func (a *MarginAdapter) Name() string { return a.name }

type marginOrderRequest struct {
	ClientOrderID string          `json:"client_order_id"`
	Instrument    string          `json:"instrument"`
	Side          string          `json:"side"`
	Type          string          `json:"type"`
	Size          decimal.Decimal `json:"size"`
	ReduceOnly    bool            `json:"reduce_only,omitempty"`
}

type marginOrderResponse struct {
	OrderID    string          `json:"order_id"`
	Status     string          `json:"status"`
	FilledSize decimal.Decimal `json:"filled_size"`
	AvgPrice   decimal.Decimal `json:"avg_price"`
	Reason     string          `json:"reason"`
}

// OpenShort submits a market sell and reports the venue's fill state.
func (a *MarginAdapter) OpenShort(ctx context.Context, instrument string, size decimal.Decimal) (Position, error) {
	req := marginOrderRequest{
		ClientOrderID: uuid.NewString(),
		Instrument:    instrument,
		Side:          "sell",
		Type:          "market",
		Size:          size,
	}

	var resp marginOrderResponse
	if err := a.rest.doJSON(ctx, "POST", "/v1/orders", req, &resp); err != nil {
		return Position{}, a.asVenueError(err)
	}
	if resp.Status == "rejected" {
		return Position{}, &Error{Venue: a.name, Reason: resp.Reason}
	}

	return Position{
		ID:         resp.OrderID,
		Instrument: instrument,
		FilledSize: resp.FilledSize,
		FillPrice:  resp.AvgPrice,
		Filled:     resp.Status == "filled",
	}, nil
}

// Close buys back the short at the recorded size. Closing an already-closed
// position is idempotent at the venue.
func (a *MarginAdapter) Close(ctx context.Context, instrument string, size decimal.Decimal) (bool, error) {
	req := marginOrderRequest{
		ClientOrderID: uuid.NewString(),
		Instrument:    instrument,
		Side:          "buy",
		Type:          "market",
		Size:          size,
		ReduceOnly:    true,
	}

	var resp marginOrderResponse
	if err := a.rest.doJSON(ctx, "POST", "/v1/orders", req, &resp); err != nil {
		return false, a.asVenueError(err)
	}
	return resp.Status == "filled", nil
}

type tickerResponse struct {
	Last decimal.Decimal `json:"last"`
}

// CurrentPrice returns the venue's last traded price for the instrument.
func (a *MarginAdapter) CurrentPrice(ctx context.Context, instrument string) (decimal.Decimal, error) {
	var resp tickerResponse
	path := "/v1/ticker?instrument=" + url.QueryEscape(instrument)
	if err := a.rest.doJSON(ctx, "GET", path, nil, &resp); err != nil {
		return decimal.Zero, err
	}
	if !resp.Last.IsPositive() {
		return decimal.Zero, fmt.Errorf("%s: no price for %s", a.name, instrument)
	}
	return resp.Last, nil
}

func (a *MarginAdapter) asVenueError(err error) error {
	var verr *Error
	if errors.As(err, &verr) {
		return verr
	}
	return &Error{Venue: a.name, Reason: err.Error()}
}
