package sources

import (
	"context"
	"fmt"
	"net/url"

	"github.com/aristath/stockwatch/internal/domain"
)

// Financials are the headline figures of the latest report.
type Financials struct {
	ReportDate   string  `json:"report_date"`
	Revenue      float64 `json:"revenue"`
	RevenueYoY   float64 `json:"revenue_yoy"`
	NetProfit    float64 `json:"net_profit"`
	NetProfitYoY float64 `json:"net_profit_yoy"`
	ROE          float64 `json:"roe"`
	GrossMargin  float64 `json:"gross_margin"`
	DebtRatio    float64 `json:"debt_ratio"`
	EPS          float64 `json:"eps"`
	BVPS         float64 `json:"bvps"`
}

// FinancialsFetcher fetches the latest financial report.
type FinancialsFetcher struct {
	client *Client
}

// NewFinancialsFetcher creates a FinancialsFetcher.
func NewFinancialsFetcher(client *Client) *FinancialsFetcher {
	return &FinancialsFetcher{client: client}
}

// Fetch implements domain.Fetcher.
func (f *FinancialsFetcher) Fetch(ctx context.Context, securityID string) (domain.Document, error) {
	var fin Financials
	if err := f.client.getJSON(ctx, "/api/financials/"+url.PathEscape(securityID), nil, &fin); err != nil {
		return domain.Document{}, fmt.Errorf("financials %s: %w", securityID, err)
	}

	text := fmt.Sprintf(
		"报告期 %s：营业收入 %s (同比 %.2f%%)，净利润 %s (同比 %.2f%%)，ROE %.2f%%，毛利率 %.2f%%，资产负债率 %.2f%%，每股收益 %.3f，每股净资产 %.2f",
		fin.ReportDate, fmtYi(fin.Revenue), fin.RevenueYoY, fmtYi(fin.NetProfit), fin.NetProfitYoY,
		fin.ROE, fin.GrossMargin, fin.DebtRatio, fin.EPS, fin.BVPS,
	)

	return domain.Document{
		Source: NameFinancials,
		Fields: map[string]any{
			"report_date":    fin.ReportDate,
			"revenue_yoy":    fin.RevenueYoY,
			"net_profit_yoy": fin.NetProfitYoY,
			"roe":            fin.ROE,
		},
		Text:      text,
		FetchedAt: f.client.now(),
	}, nil
}
