package sources

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/aristath/stockwatch/internal/domain"
	"github.com/rs/zerolog"
)

// NewsItem is one headline scraped from the news listing.
type NewsItem struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Time    string `json:"time"`
	Summary string `json:"summary"` // markdown
}

// NewsFetcher scrapes the per-security news listing page.
//
// The page lists items as elements with class "news-item", each holding an anchor
// with class "title", an optional ".time" and an optional ".summary" HTML fragment.
type NewsFetcher struct {
	client   *Client
	baseURL  string
	maxItems int
	log      zerolog.Logger
}

// NewNewsFetcher creates a NewsFetcher reading from baseURL.
func NewNewsFetcher(client *Client, baseURL string, log zerolog.Logger) *NewsFetcher {
	return &NewsFetcher{
		client:   client,
		baseURL:  strings.TrimRight(baseURL, "/"),
		maxItems: 8,
		log:      log.With().Str("component", "news_fetcher").Logger(),
	}
}

// Fetch implements domain.Fetcher.
func (f *NewsFetcher) Fetch(ctx context.Context, securityID string) (domain.Document, error) {
	pageURL := f.baseURL + "/news/" + url.PathEscape(securityID)

	body, err := f.client.get(ctx, pageURL, nil)
	if err != nil {
		return domain.Document{}, fmt.Errorf("news %s: %w", securityID, err)
	}
	defer body.Close()

	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return domain.Document{}, fmt.Errorf("news %s: failed to parse page: %w", securityID, err)
	}

	items := f.parseItems(doc, pageURL)

	var b strings.Builder
	if len(items) == 0 {
		b.WriteString("近期无相关新闻")
	}
	for i, item := range items {
		fmt.Fprintf(&b, "%d. %s", i+1, item.Title)
		if item.Time != "" {
			fmt.Fprintf(&b, " (%s)", item.Time)
		}
		if item.Summary != "" {
			fmt.Fprintf(&b, "\n   %s", strings.ReplaceAll(item.Summary, "\n", " "))
		}
		b.WriteString("\n")
	}

	return domain.Document{
		Source: NameNews,
		Fields: map[string]any{
			"count": len(items),
		},
		Text:      strings.TrimSpace(b.String()),
		FetchedAt: f.client.now(),
	}, nil
}

func (f *NewsFetcher) parseItems(doc *goquery.Document, pageURL string) []NewsItem {
	converter := md.NewConverter(pageURL, true, nil)
	base, _ := url.Parse(pageURL)

	var items []NewsItem
	doc.Find(".news-item").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		title := sel.Find("a.title").First()
		text := strings.TrimSpace(title.Text())
		if text == "" {
			return true
		}

		item := NewsItem{
			Title: text,
			Time:  strings.TrimSpace(sel.Find(".time").First().Text()),
		}
		if href, ok := title.Attr("href"); ok && base != nil {
			if ref, err := base.Parse(href); err == nil {
				item.URL = ref.String()
			}
		}

		if html, err := sel.Find(".summary").First().Html(); err == nil && strings.TrimSpace(html) != "" {
			summary, err := converter.ConvertString(html)
			if err != nil {
				f.log.Debug().Err(err).Msg("Summary conversion failed, using plain text")
				summary = sel.Find(".summary").First().Text()
			}
			item.Summary = strings.TrimSpace(summary)
		}

		items = append(items, item)
		return len(items) < f.maxItems
	})

	return items
}
