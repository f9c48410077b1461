package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"hamburg-family-events-scraper/internal/models"
)

const defaultGeminiEndpoint = "https://generativelanguage.googleapis.com/v1beta"

// defaultGroundedQuery is used when a search source carries no query of its
// own.
const defaultGroundedQuery = "familienfreundliche Veranstaltungen und Ausflüge für Kinder"

const groundedSearchPromptTemplate = `Du bist ein Recherche-Assistent für Familienveranstaltungen in %s.

Suchanfrage: %s

Finde über die Google-Suche konkrete Veranstaltungen zur Suchanfrage für Familien mit Kindern ab 4 Jahren im Zeitraum %s bis %s.

Suche nach:
- Kindertheater, Puppentheater und Familienvorstellungen
- Museums- und Mitmachangeboten für Kinder
- Festen, Märkten und Stadtteilfesten
- Konzerten, Lesungen und Kreativworkshops für Kinder
- Outdoor-Aktivitäten und Naturerlebnissen

Regeln:
- Nur Veranstaltungen mit konkretem Datum im genannten Zeitraum
- Maximal %d Veranstaltungen
- Datumsangaben als ISO-8601 (z.B. 2026-02-15T15:00:00)
- Preise als String (z.B. "8€", "Kostenlos")
- Kategorie ist eine von: theater, outdoor, museum, music, sport, market, kreativ, lesen
- original_link ist die Seite des Veranstalters, nicht die Suchergebnisseite`

// geminiEventSchema constrains the model output to the candidate shape the
// normalizer expects.
var geminiEventSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"events": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"title":             map[string]any{"type": "string"},
					"description":       map[string]any{"type": "string"},
					"date_start":        map[string]any{"type": "string"},
					"date_end":          map[string]any{"type": "string"},
					"location_name":     map[string]any{"type": "string"},
					"location_address":  map[string]any{"type": "string"},
					"location_district": map[string]any{"type": "string"},
					"category":          map[string]any{"type": "string"},
					"is_indoor":         map[string]any{"type": "boolean"},
					"age_suitability":   map[string]any{"type": "string"},
					"price_info":        map[string]any{"type": "string"},
					"original_link":     map[string]any{"type": "string"},
				},
				"required": []string{"title", "date_start"},
			},
		},
	},
	"required": []string{"events"},
}

// GroundedSearch discovers event candidates through a Gemini generate call
// with the google_search tool enabled. Unlike the site pipeline it needs no
// input URL; the search query itself is the source.
type GroundedSearch struct {
	httpClient *http.Client
	endpoint   string
	apiKey     string
	model      string
	region     string
	daysAhead  int
	limit      int
	retry      RetryPolicy
	log        *logrus.Logger
}

// NewGroundedSearch creates a grounded-search adapter for the region.
func NewGroundedSearch(apiKey, model, region string, daysAhead, limit int, timeout time.Duration, log *logrus.Logger) *GroundedSearch {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &GroundedSearch{
		httpClient: &http.Client{Timeout: timeout},
		endpoint:   defaultGeminiEndpoint,
		apiKey:     apiKey,
		model:      model,
		region:     region,
		daysAhead:  daysAhead,
		limit:      limit,
		retry:      DefaultRetryPolicy(),
		log:        log,
	}
}

// SetEndpoint overrides the API base URL.
func (g *GroundedSearch) SetEndpoint(endpoint string) {
	g.endpoint = endpoint
}

// Discover runs one grounded search over the configured window using the
// source's query and the configured model.
func (g *GroundedSearch) Discover(ctx context.Context, source *models.Source) (*models.Discovery, error) {
	return g.DiscoverQuery(ctx, source, source.Query, "")
}

// DiscoverQuery runs one grounded search with an explicit natural-language
// query and an optional model override; empty arguments fall back to the
// default query and the configured model.
func (g *GroundedSearch) DiscoverQuery(ctx context.Context, source *models.Source, query, model string) (*models.Discovery, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		query = defaultGroundedQuery
	}
	if model == "" {
		model = g.model
	}

	now := time.Now()
	from := now.Format("2006-01-02")
	to := now.AddDate(0, 0, g.daysAhead).Format("2006-01-02")
	prompt := fmt.Sprintf(groundedSearchPromptTemplate, g.region, query, from, to, g.limit)

	body := map[string]any{
		"contents": []map[string]any{
			{
				"role":  "user",
				"parts": []map[string]any{{"text": prompt}},
			},
		},
		"tools": []map[string]any{
			{"google_search": map[string]any{}},
		},
		"generationConfig": map[string]any{
			"temperature":        0.2,
			"responseMimeType":   "application/json",
			"responseJsonSchema": geminiEventSchema,
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal gemini request: %w", err)
	}

	var raw []byte
	err = g.retry.Do(ctx, func() error {
		var callErr error
		raw, callErr = g.call(ctx, model, payload)
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("grounded search failed for %s: %w", source.Name, err)
	}

	text := gjson.GetBytes(raw, "candidates.0.content.parts.0.text").String()
	if text == "" {
		return nil, fmt.Errorf("grounded search returned no text content")
	}
	candidates, err := ParseCandidates(text)
	if err != nil {
		return nil, fmt.Errorf("grounded search output unusable: %w", err)
	}

	var groundingURLs []string
	seen := make(map[string]bool)
	for _, chunk := range gjson.GetBytes(raw, "candidates.0.groundingMetadata.groundingChunks.#.web.uri").Array() {
		uri := chunk.String()
		if uri == "" || seen[uri] {
			continue
		}
		seen[uri] = true
		groundingURLs = append(groundingURLs, uri)
	}
	tokens := int(gjson.GetBytes(raw, "usageMetadata.totalTokenCount").Int())

	g.log.WithFields(logrus.Fields{
		"source":    source.Name,
		"found":     len(candidates),
		"grounding": len(groundingURLs),
		"tokens":    tokens,
	}).Info("grounded search completed")

	return &models.Discovery{
		Candidates: candidates,
		Provenance: models.Provenance{
			Model:         model,
			GroundingURLs: groundingURLs,
			TokensUsed:    tokens,
		},
	}, nil
}

func (g *GroundedSearch) call(ctx context.Context, model string, payload []byte) ([]byte, error) {
	url := fmt.Sprintf("%s/models/%s:generateContent", g.endpoint, model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, Permanent(fmt.Errorf("failed to create gemini request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", g.apiKey)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gemini request failed: %w", err)
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, fmt.Errorf("failed to read gemini response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return buf.Bytes(), nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fmt.Errorf("gemini returned status %d", resp.StatusCode)
	default:
		return nil, Permanent(fmt.Errorf("gemini returned status %d: %s", resp.StatusCode, buf.String()))
	}
}
