package analysis

import (
	"fmt"
	"strings"
	"time"

	"github.com/aristath/stockwatch/internal/domain"
)

// DefaultSections are the section names requested from the engine and extracted from its answer.
var DefaultSections = []string{
	"综合评级",
	"技术面",
	"资金面",
	"基本面",
	"消息面",
	"操作建议",
	"风险提示",
}

// BuildPrompt renders the engine prompt from the succeeded branches of doc.
// Branches are emitted in name order so identical inputs produce identical prompts.
func BuildPrompt(securityID string, doc domain.AggregateDocument, sections []string, now time.Time) string {
	var b strings.Builder

	fmt.Fprintf(&b, "请对证券 %s 进行综合分析。数据时间：%s。\n\n", securityID, now.Format("2006-01-02 15:04"))

	succeeded := doc.Succeeded()
	if len(succeeded) == 0 {
		b.WriteString("所有数据源均获取失败，请仅给出一般性风险提示。\n")
	} else {
		b.WriteString("## 数据\n")
		for _, name := range succeeded {
			fmt.Fprintf(&b, "### %s\n%s\n\n", name, strings.TrimSpace(doc[name].Value.Text))
		}
	}

	if failures := doc.Failures(); len(failures) > 0 {
		fmt.Fprintf(&b, "以下数据源暂不可用，分析时请说明相应数据缺失：%s\n\n", strings.Join(failures, "、"))
	}

	b.WriteString("## 输出要求\n请严格按以下章节输出，每个章节单独一段，并以【章节名】开头：\n")
	for _, s := range sections {
		fmt.Fprintf(&b, "【%s】\n", s)
	}

	return b.String()
}
