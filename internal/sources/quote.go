package sources

import (
	"context"
	"fmt"
	"net/url"

	"github.com/aristath/stockwatch/internal/domain"
)

// Quote is a real-time quote snapshot.
type Quote struct {
	Code          string  `json:"code"`
	Name          string  `json:"name"`
	Price         float64 `json:"price"`
	Change        float64 `json:"change"`
	ChangePercent float64 `json:"change_percent"`
	Open          float64 `json:"open"`
	High          float64 `json:"high"`
	Low           float64 `json:"low"`
	PreClose      float64 `json:"pre_close"`
	Volume        int64   `json:"volume"` // lots
	Amount        float64 `json:"amount"` // yuan
	TurnoverRate  float64 `json:"turnover_rate"`
	PE            float64 `json:"pe"`
	PB            float64 `json:"pb"`
	Time          string  `json:"time"`
}

// QuoteFetcher fetches real-time quotes.
type QuoteFetcher struct {
	client *Client
}

// NewQuoteFetcher creates a QuoteFetcher.
func NewQuoteFetcher(client *Client) *QuoteFetcher {
	return &QuoteFetcher{client: client}
}

// Fetch implements domain.Fetcher.
func (f *QuoteFetcher) Fetch(ctx context.Context, securityID string) (domain.Document, error) {
	var q Quote
	if err := f.client.getJSON(ctx, "/api/quote/"+url.PathEscape(securityID), nil, &q); err != nil {
		return domain.Document{}, fmt.Errorf("quote %s: %w", securityID, err)
	}

	text := fmt.Sprintf(
		"%s(%s) 现价 %.2f，涨跌 %.2f (%.2f%%)，今开 %.2f，最高 %.2f，最低 %.2f，昨收 %.2f，成交量 %d 手，成交额 %s，换手率 %.2f%%，市盈率 %.2f，市净率 %.2f",
		q.Name, q.Code, q.Price, q.Change, q.ChangePercent, q.Open, q.High, q.Low, q.PreClose,
		q.Volume, fmtYi(q.Amount), q.TurnoverRate, q.PE, q.PB,
	)

	return domain.Document{
		Source: NameQuote,
		Fields: map[string]any{
			"name":           q.Name,
			"price":          q.Price,
			"change_percent": q.ChangePercent,
			"volume":         q.Volume,
			"amount":         q.Amount,
			"pe":             q.PE,
			"pb":             q.PB,
		},
		Text:      text,
		FetchedAt: f.client.now(),
	}, nil
}
