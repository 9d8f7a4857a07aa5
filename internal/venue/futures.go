package venue

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// FuturesConfig configures the currency-futures venue adapter.
type FuturesConfig struct {
	Name              string
	BaseURL           string
	APIKey            string
	APISecret         string
	RequestsPerSecond float64
}

// FuturesAdapter trades inverse currency futures. Order sizes are whole
// contract counts; the orchestrator converts the notional before calling in.
type FuturesAdapter struct {
	name string
	rest *restClient
}

func NewFuturesAdapter(cfg FuturesConfig) (*FuturesAdapter, error) {
	if cfg.Name == "" || cfg.BaseURL == "" {
		return nil, fmt.Errorf("futures venue requires name and base url")
	}
	if cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, fmt.Errorf("futures venue %s requires credentials", cfg.Name)
	}
	return &FuturesAdapter{
		name: cfg.Name,
		rest: newRESTClient(cfg.Name, cfg.BaseURL, cfg.APIKey, cfg.APISecret, cfg.RequestsPerSecond),
	}, nil
}

func (a *FuturesAdapter) Name() string { return a.name }

type futuresOrderRequest struct {
	ClientOrderID string `json:"cliOrdId"`
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	OrderType     string `json:"orderType"`
	Contracts     int64  `json:"size"`
	ReduceOnly    bool   `json:"reduceOnly,omitempty"`
}

type futuresOrderResponse struct {
	OrderID   string          `json:"orderId"`
	Status    string          `json:"status"`
	FilledQty int64           `json:"filledQty"`
	AvgPrice  decimal.Decimal `json:"avgPrice"`
	Error     string          `json:"error"`
}

// OpenShort sells contracts at market. Size must already be a whole contract
// count; fractional input is an adapter contract violation.
func (a *FuturesAdapter) OpenShort(ctx context.Context, instrument string, size decimal.Decimal) (Position, error) {
	contracts, err := contractCount(size)
	if err != nil {
		return Position{}, &Error{Venue: a.name, Reason: err.Error()}
	}

	req := futuresOrderRequest{
		ClientOrderID: uuid.NewString(),
		Symbol:        instrument,
		Side:          "sell",
		OrderType:     "mkt",
		Contracts:     contracts,
	}

	var resp futuresOrderResponse
	if err := a.rest.doJSON(ctx, "POST", "/v1/sendorder", req, &resp); err != nil {
		return Position{}, a.asVenueError(err)
	}
	if resp.Error != "" {
		return Position{}, &Error{Venue: a.name, Reason: resp.Error}
	}

	return Position{
		ID:         resp.OrderID,
		Instrument: instrument,
		FilledSize: decimal.NewFromInt(resp.FilledQty),
		FillPrice:  resp.AvgPrice,
		Filled:     resp.Status == "filled",
	}, nil
}

// Close buys back the contracts reduce-only.
func (a *FuturesAdapter) Close(ctx context.Context, instrument string, size decimal.Decimal) (bool, error) {
	contracts, err := contractCount(size)
	if err != nil {
		return false, &Error{Venue: a.name, Reason: err.Error()}
	}

	req := futuresOrderRequest{
		ClientOrderID: uuid.NewString(),
		Symbol:        instrument,
		Side:          "buy",
		OrderType:     "mkt",
		Contracts:     contracts,
		ReduceOnly:    true,
	}

	var resp futuresOrderResponse
	if err := a.rest.doJSON(ctx, "POST", "/v1/sendorder", req, &resp); err != nil {
		return false, a.asVenueError(err)
	}
	if resp.Error != "" {
		return false, &Error{Venue: a.name, Reason: resp.Error}
	}
	return resp.Status == "filled", nil
}

type futuresTickerResponse struct {
	Last decimal.Decimal `json:"last"`
}

// CurrentPrice returns the venue's last traded price for the symbol.
func (a *FuturesAdapter) CurrentPrice(ctx context.Context, instrument string) (decimal.Decimal, error) {
	var resp futuresTickerResponse
	path := "/v1/ticker?symbol=" + url.QueryEscape(instrument)
	if err := a.rest.doJSON(ctx, "GET", path, nil, &resp); err != nil {
		return decimal.Zero, err
	}
	if !resp.Last.IsPositive() {
		return decimal.Zero, fmt.Errorf("%s: no price for %s", a.name, instrument)
	}
	return resp.Last, nil
}

func contractCount(size decimal.Decimal) (int64, error) {
	if !size.Equal(size.Floor()) {
		return 0, fmt.Errorf("contract count must be whole, got %s", size)
	}
	if !size.IsPositive() {
		return 0, fmt.Errorf("contract count must be positive, got %s", size)
	}
	return size.IntPart(), nil
}

func (a *FuturesAdapter) asVenueError(err error) error {
	var verr *Error
	if errors.As(err, &verr) {
		return verr
	}
	return &Error{Venue: a.name, Reason: err.Error()}
}
