package main

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"hedgeflow/internal/archive"
	"hedgeflow/internal/config"
	"hedgeflow/internal/hedger"
	"hedgeflow/internal/venue"
)

// buildArchive constructs the optional audit sink. Postgres wins when both
// sinks are configured.
func buildArchive(ctx context.Context, cfg config.Config) (archive.Archive, func(), error) {
	if cfg.PostgresDSN != "" {
		pg, err := archive.NewPostgresArchive(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres archive: %w", err)
		}
		return pg, pg.Close, nil
	}
	if cfg.ArchivePath != "" {
		return archive.NewJsonlArchive(cfg.ArchivePath), nil, nil
	}
	return nil, nil, nil
}

// buildTargets turns venue configuration into orchestrator targets.
func buildTargets(venues []config.VenueConfig) ([]hedger.Target, error) {
	targets := make([]hedger.Target, 0, len(venues))
	for _, vc := range venues {
		adapter, err := buildAdapter(vc)
		if err != nil {
			return nil, err
		}

		contractSize, err := parseDecimal(vc.ContractSize)
		if err != nil {
			return nil, fmt.Errorf("venue %s: contract_size: %w", vc.Name, err)
		}
		minIncrement, err := parseDecimal(vc.MinIncrement)
		if err != nil {
			return nil, fmt.Errorf("venue %s: min_increment: %w", vc.Name, err)
		}
		minOrderSize, err := parseDecimal(vc.MinOrderSize)
		if err != nil {
			return nil, fmt.Errorf("venue %s: min_order_size: %w", vc.Name, err)
		}

		targets = append(targets, hedger.Target{
			Adapter:      adapter,
			Instrument:   vc.Instrument,
			ContractSize: contractSize,
			MinIncrement: minIncrement,
			MinOrderSize: minOrderSize,
		})
	}
	return targets, nil
}

func buildAdapter(vc config.VenueConfig) (venue.Adapter, error) {
	switch vc.Kind {
	case "margin":
		return venue.NewMarginAdapter(venue.MarginConfig{
			Name:              vc.Name,
			BaseURL:           vc.BaseURL,
			APIKey:            vc.APIKey,
			APISecret:         vc.APISecret,
			RequestsPerSecond: vc.RequestsPerSecond,
		})
	case "perp":
		return venue.NewPerpAdapter(venue.PerpConfig{
			Name:              vc.Name,
			BaseURL:           vc.BaseURL,
			PrivateKeyHex:     vc.PrivateKey,
			RequestsPerSecond: vc.RequestsPerSecond,
		})
	case "futures":
		return venue.NewFuturesAdapter(venue.FuturesConfig{
			Name:              vc.Name,
			BaseURL:           vc.BaseURL,
			APIKey:            vc.APIKey,
			APISecret:         vc.APISecret,
			RequestsPerSecond: vc.RequestsPerSecond,
		})
	default:
		return nil, fmt.Errorf("venue %s: unknown kind %q", vc.Name, vc.Kind)
	}
}

func parseDecimal(raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(raw)
}
