package testing

import (
	"time"

	"github.com/aristath/stockwatch/internal/domain"
)

// Monday is a regular trading day (2026-03-02) used as the base date in session-aware tests.
var Monday = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

// EngineAnswer is a well-formed engine response carrying every default section.
const EngineAnswer = `【综合评级】
中性偏多。
【技术面】
RSI 55，MACD 金叉，短线偏强。
【资金面】
主力资金小幅净流入。
【基本面】
估值处于历史低位。
【消息面】
近期无重大公告。
【操作建议】
逢低关注，控制仓位。
【风险提示】
注意大盘系统性风险。
`

// NewDocument returns a successful branch document.
func NewDocument(source, text string) domain.Document {
	return domain.Document{
		Source:    source,
		Fields:    map[string]any{"summary": text},
		Text:      text,
		FetchedAt: time.Now(),
	}
}

// NewAggregateFixture returns a document for five sources where fund_flow and news failed.
func NewAggregateFixture() domain.AggregateDocument {
	ok := func(source, text string) domain.BranchResult {
		doc := NewDocument(source, text)
		return domain.BranchResult{Value: &doc}
	}
	return domain.AggregateDocument{
		"quote":      ok("quote", "现价 10.50 元，涨跌幅 +1.20%"),
		"technical":  ok("technical", "RSI(14) 55.0，MACD 金叉"),
		"financials": ok("financials", "市盈率 8.1，市净率 0.9"),
		"fund_flow":  {Failed: true, Err: "source fund_flow failed after 3 attempt(s): timeout"},
		"news":       {Failed: true, Err: "source news failed after 1 attempt(s): not found"},
	}
}
