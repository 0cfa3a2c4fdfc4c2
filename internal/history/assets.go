package history

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sawpanic/exledger/internal/ledger"
)

// AssetHolding is the amount of one asset held at one service on a day
type AssetHolding struct {
	Service string           `json:"service"`
	Unit    string           `json:"unit"`
	Name    *string          `json:"name,omitempty"`
	Amount  decimal.Decimal  `json:"amount"`
	Rate    *decimal.Decimal `json:"rate,omitempty"`
	Value   *decimal.Decimal `json:"value,omitempty"`
}

// AssetReport values the holdings of one day in fiat
type AssetReport struct {
	Date     time.Time       `json:"date"`
	Fiat     string          `json:"fiat"`
	Holdings []AssetHolding  `json:"holdings"`
	Total    decimal.Decimal `json:"total"`
	// Unvalued counts holdings without a rate path to the fiat; they are
	// left out of Total.
	Unvalued int `json:"unvalued"`
}

// AssetSnapshot values the asset ledger of date's day through that day's
// exchange rates.
func (s *Service) AssetSnapshot(ctx context.Context, date time.Time, fiat string) (*AssetReport, error) {
	if s.live == nil {
		return nil, fmt.Errorf("live %w", ErrDatabaseDisabled)
	}
	store := s.live.Assets
	day := ledger.NormalizeDate(date)
	fiat = strings.ToUpper(strings.TrimSpace(fiat))

	assets, err := store.Assets(ctx)
	if err != nil {
		return nil, err
	}
	services, err := store.Services(ctx)
	if err != nil {
		return nil, err
	}
	history, err := store.AssetHistoryOn(ctx, day)
	if err != nil {
		return nil, err
	}
	exchange, err := store.ExchangeRatesOn(ctx, day)
	if err != nil {
		return nil, err
	}

	assetByID := make(map[ledger.ID]ledger.Asset, len(assets))
	var target ledger.ID
	for _, a := range assets {
		assetByID[a.ID] = a
		if a.Unit == fiat {
			target = a.ID
		}
	}
	serviceName := make(map[ledger.ID]string, len(services))
	for _, svc := range services {
		serviceName[svc.ID] = svc.Name
	}

	holdings := make([]ledger.Holding[ledger.ID], 0, len(history))
	for _, h := range history {
		holdings = append(holdings, ledger.Holding[ledger.ID]{Asset: h.Asset, Available: h.Amount})
	}
	rates := make([]ledger.Rate[ledger.ID], 0, len(exchange))
	for _, r := range exchange {
		rates = append(rates, ledger.Rate[ledger.ID]{Base: r.Base, Quote: r.Target, Value: r.Rate})
	}

	report := &AssetReport{Date: day, Fiat: fiat, Holdings: make([]AssetHolding, 0, len(history))}
	for i, v := range ledger.Valuate(holdings, rates, target) {
		a := assetByID[v.Asset]
		row := AssetHolding{
			Service: serviceName[history[i].Service],
			Unit:    a.Unit,
			Name:    a.Name,
			Amount:  v.Available,
		}
		if target != 0 && v.Rate != nil {
			value := v.Available.Mul(*v.Rate)
			row.Rate = v.Rate
			row.Value = &value
			report.Total = report.Total.Add(value)
		} else {
			report.Unvalued++
		}
		report.Holdings = append(report.Holdings, row)
	}

	sort.SliceStable(report.Holdings, func(i, j int) bool {
		if report.Holdings[i].Service != report.Holdings[j].Service {
			return report.Holdings[i].Service < report.Holdings[j].Service
		}
		return report.Holdings[i].Unit < report.Holdings[j].Unit
	})
	return report, nil
}
