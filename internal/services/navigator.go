package services

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"

	"hamburg-family-events-scraper/internal/models"
)

// Calendar keyword tiers, German-focused. Primary keywords are strong
// signals for a schedule page, secondary ones weaker; depriority keywords
// mark repertoire/overview pages that list productions without dates.
var (
	primaryKeywords = []string{
		"spielplan", "termine", "kalender", "vorstellungen",
		"aufführungen", "auffuehrungen", "tickets",
	}
	secondaryKeywords = []string{
		"programm", "veranstaltungen", "events", "eventkalender", "terminkalender",
	}
	depriorityKeywords = []string{
		"stücke", "stuecke", "stück", "stueck", "repertoire",
		"produktionen", "produktion", "inszenierungen", "ensemble",
		"spielzeit", "aktuelles",
	}
)

// Navigator finds the event calendar URL on an operator website: keyword
// scoring over the page's anchors first, a language-model pass over the
// navigation markup only when scoring comes up empty.
type Navigator struct {
	fetcher *PageFetcher
	llm     *openai.Client
	model   string
	log     *logrus.Logger
}

// NewNavigator creates a navigator. llm may be nil, which disables the
// language-model fallback.
func NewNavigator(fetcher *PageFetcher, llm *openai.Client, model string, log *logrus.Logger) *Navigator {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Navigator{fetcher: fetcher, llm: llm, model: model, log: log}
}

// DiscoverTarget finds the calendar URL for a source. Returns "" when no
// suitable page could be identified.
func (n *Navigator) DiscoverTarget(ctx context.Context, source *models.Source) (string, error) {
	html, err := n.fetcher.FetchHTML(ctx, source.InputURL)
	if err != nil {
		return "", fmt.Errorf("failed to fetch root page: %w", err)
	}

	if target := ScoreCalendarLinks(html, source.InputURL); target != "" {
		n.log.WithFields(logrus.Fields{"source": source.Name, "target": target}).
			Debug("calendar url found via keyword scoring")
		return target, nil
	}

	if n.llm == nil {
		return "", nil
	}
	target, err := n.discoverViaLLM(ctx, html, source.InputURL)
	if err != nil {
		return "", fmt.Errorf("llm navigation fallback failed: %w", err)
	}
	if target != "" {
		n.log.WithFields(logrus.Fields{"source": source.Name, "target": target}).
			Debug("calendar url found via llm fallback")
	}
	return target, nil
}

// ScoreCalendarLinks scores every anchor in the document against the
// calendar keyword tiers and returns the best-scoring absolute URL, or ""
// when nothing scores above zero.
func ScoreCalendarLinks(html, baseURL string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return ""
	}

	type candidate struct {
		url   string
		score int
	}
	var candidates []candidate

	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "#") ||
			strings.HasPrefix(href, "mailto:") || strings.HasPrefix(href, "tel:") {
			return
		}

		text := strings.ToLower(strings.TrimSpace(sel.Text()))
		hrefLower := strings.ToLower(href)

		score := 0
		for _, kw := range primaryKeywords {
			if strings.Contains(hrefLower, kw) {
				score += 4
			}
			if strings.Contains(text, kw) {
				score += 3
			}
		}
		for _, kw := range secondaryKeywords {
			if strings.Contains(hrefLower, kw) {
				score += 2
			}
			if strings.Contains(text, kw) {
				score++
			}
		}
		for _, kw := range depriorityKeywords {
			if strings.Contains(hrefLower, kw) {
				score -= 3
			}
			if strings.Contains(text, kw) {
				score -= 2
			}
		}

		if score <= 0 {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		candidates = append(candidates, candidate{url: base.ResolveReference(ref).String(), score: score})
	})

	if len(candidates) == 0 {
		return ""
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})
	return candidates[0].url
}

// discoverViaLLM asks the language model to pick the calendar URL from the
// navigation-relevant markup only, keeping the prompt small.
func (n *Navigator) discoverViaLLM(ctx context.Context, html, baseURL string) (string, error) {
	navHTML := NavigationExcerpt(html, 8000)
	if navHTML == "" {
		return "", nil
	}

	prompt := fmt.Sprintf(`Analysiere die Navigation dieser Webseite und finde die URL der Seite mit dem Veranstaltungskalender bzw. konkreten Terminen.

Basis-URL: %s

Navigations-HTML:
%s

Regeln:
1. Bevorzuge Links mit Begriffen wie Spielplan, Termine, Kalender, Vorstellungen, Aufführungen
2. Vermeide Repertoire-/Übersichtsseiten (Stücke, Repertoire, Produktionen, Ensemble)
3. Antworte NUR mit der vollständigen absoluten URL
4. Wenn keine Kalender-URL erkennbar ist, antworte mit: NONE

Kalender-URL:`, baseURL, navHTML)

	resp, err := n.llm.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       n.model,
		Temperature: 0,
		MaxTokens:   200,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("navigation completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("navigation completion returned no choices")
	}

	answer := strings.TrimSpace(resp.Choices[0].Message.Content)
	if answer == "" || strings.EqualFold(answer, "NONE") {
		return "", nil
	}
	if strings.HasPrefix(answer, "/") {
		base, err := url.Parse(baseURL)
		if err != nil {
			return "", nil
		}
		ref, err := url.Parse(answer)
		if err != nil {
			return "", nil
		}
		answer = base.ResolveReference(ref).String()
	}
	parsed, err := url.Parse(answer)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", nil
	}
	return answer, nil
}

// NavigationExcerpt extracts nav, header, footer and menu elements from the
// page; when none exist it falls back to a capped list of anchors. The
// result is truncated to maxLen bytes.
func NavigationExcerpt(html string, maxLen int) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}

	var parts []string
	doc.Find("nav, header, footer, menu").Each(func(_ int, sel *goquery.Selection) {
		if fragment, err := goquery.OuterHtml(sel); err == nil {
			parts = append(parts, fragment)
		}
	})

	if len(parts) == 0 {
		count := 0
		doc.Find("a[href]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
			href, _ := sel.Attr("href")
			text := strings.TrimSpace(sel.Text())
			if href == "" || text == "" || strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "#") {
				return true
			}
			parts = append(parts, fmt.Sprintf("<a href=%q>%s</a>", href, text))
			count++
			return count < 50
		})
	}

	excerpt := strings.Join(parts, "\n")
	if len(excerpt) > maxLen {
		excerpt = excerpt[:maxLen] + "..."
	}
	return excerpt
}

// ExtractLinkList builds a "text -> URL" listing of the page's anchors for
// the extraction prompt, so the model can attach detail links to events.
func ExtractLinkList(html, baseURL string, max int) []string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil
	}

	seen := make(map[string]bool)
	var links []string
	doc.Find("a[href]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		href, _ := sel.Attr("href")
		text := strings.TrimSpace(sel.Text())
		if href == "" || text == "" || strings.HasPrefix(href, "javascript:") ||
			strings.HasPrefix(href, "#") || strings.HasPrefix(href, "mailto:") {
			return true
		}
		ref, err := url.Parse(href)
		if err != nil {
			return true
		}
		absolute := base.ResolveReference(ref).String()
		if seen[absolute] {
			return true
		}
		seen[absolute] = true
		links = append(links, fmt.Sprintf("%s -> %s", text, absolute))
		return len(links) < max
	})
	return links
}
