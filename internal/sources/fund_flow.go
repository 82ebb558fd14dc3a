package sources

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/aristath/stockwatch/internal/domain"
)

// FundFlow is the money-flow breakdown by order size, in yuan.
type FundFlow struct {
	MainNetInflow       float64 `json:"main_net_inflow"`
	SuperLargeNetInflow float64 `json:"super_large_net_inflow"`
	LargeNetInflow      float64 `json:"large_net_inflow"`
	MediumNetInflow     float64 `json:"medium_net_inflow"`
	SmallNetInflow      float64 `json:"small_net_inflow"`
	MainNetRatio        float64 `json:"main_net_ratio"` // percent of turnover
	Days                []struct {
		Date          string  `json:"date"`
		MainNetInflow float64 `json:"main_net_inflow"`
	} `json:"days"`
}

// FundFlowFetcher fetches main-force money flow.
type FundFlowFetcher struct {
	client *Client
}

// NewFundFlowFetcher creates a FundFlowFetcher.
func NewFundFlowFetcher(client *Client) *FundFlowFetcher {
	return &FundFlowFetcher{client: client}
}

// Fetch implements domain.Fetcher.
func (f *FundFlowFetcher) Fetch(ctx context.Context, securityID string) (domain.Document, error) {
	var ff FundFlow
	query := url.Values{"days": []string{"5"}}
	if err := f.client.getJSON(ctx, "/api/fundflow/"+url.PathEscape(securityID), query, &ff); err != nil {
		return domain.Document{}, fmt.Errorf("fund flow %s: %w", securityID, err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "主力净流入 %s (占比 %.2f%%)，超大单 %s，大单 %s，中单 %s，小单 %s",
		fmtYi(ff.MainNetInflow), ff.MainNetRatio, fmtYi(ff.SuperLargeNetInflow),
		fmtYi(ff.LargeNetInflow), fmtYi(ff.MediumNetInflow), fmtYi(ff.SmallNetInflow))

	var total float64
	for _, d := range ff.Days {
		total += d.MainNetInflow
	}
	if len(ff.Days) > 0 {
		fmt.Fprintf(&b, "；近 %d 日主力累计净流入 %s", len(ff.Days), fmtYi(total))
	}

	return domain.Document{
		Source: NameFundFlow,
		Fields: map[string]any{
			"main_net_inflow": ff.MainNetInflow,
			"main_net_ratio":  ff.MainNetRatio,
			"recent_total":    total,
		},
		Text:      b.String(),
		FetchedAt: f.client.now(),
	}, nil
}
