package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"

	"hamburg-family-events-scraper/internal/models"
)

const extractionSystemPrompt = `Du bist ein Experte für die Extraktion von Veranstaltungsdaten aus Webseiten für Familien in Hamburg.

Deine Aufgabe:
1. Extrahiere ALLE Veranstaltungen aus dem bereitgestellten Text
2. Filtere NUR familienfreundliche Events, die für Kinder ab 4 Jahren geeignet sind
3. Kategorisiere jedes Event präzise nach dem Hauptinhalt

KATEGORIEN (wähle die am besten passende):
- theater: Theateraufführungen, Puppentheater, Musicals, Figurentheater, Kinderoper
- outdoor: Outdoor-Aktivitäten, Naturerlebnisse, Tierparkbesuche, Radtouren, Wanderungen
- museum: Museumsbesuche, Ausstellungen, Führungen, Planetarium, Science Center
- music: Konzerte für Kinder, Mitmachkonzerte, Musikworkshops, Kinderdisco
- sport: Sportevents, Turniere, Schwimmen, Klettern, Tanzkurse, Zirkusworkshops
- market: Märkte, Flohmärkte, Festivals, Stadtteilfeste, Weihnachtsmärkte
- kreativ: Bastel- und Kreativworkshops, Malkurse, Töpfern
- lesen: Lesungen, Vorlesestunden, Bibliotheksveranstaltungen

Wichtige Regeln:
- Ignoriere Events, die explizit für Erwachsene sind (z.B. "ab 16 Jahren")
- Preise immer als String formatieren (z.B. "8€", "5-10€", "Kostenlos")
- is_indoor: true für Indoor-Events (Theater, Museum, Hallen), false für Outdoor-Events
- Wenn mehrere konkrete Termine genannt werden, erstelle EIN Event pro Termin
- Nutze wenn möglich den spezifischen Detail-Link zum Event aus der Linkliste
- Datumsangaben als ISO-8601 (z.B. 2026-02-15T15:00:00)`

const extractionUserPromptTemplate = `Extrahiere alle familienfreundlichen Veranstaltungen aus diesem Text.

Quelle: %s
URL: %s

Webseiten-Inhalt:
%s

Verfügbare Links (Text -> URL):
%s

Antworte NUR mit einem JSON-Objekt der Form {"events": [...]} mit Events im Format:
{
  "title": "Event-Titel (prägnant, ohne Datum im Titel)",
  "description": "Kurze Beschreibung (max 200 Zeichen)",
  "date_start": "2026-02-15T15:00:00",
  "date_end": "2026-02-15T17:00:00",
  "location_name": "Veranstaltungsort",
  "location_address": "Straße Hausnummer, PLZ Hamburg-Stadtteil",
  "location_district": "Hamburger Stadtteil",
  "category": "theater|outdoor|museum|music|sport|market|kreativ|lesen",
  "is_indoor": true,
  "age_suitability": "4+",
  "price_info": "8€",
  "original_link": "https://...",
  "region": "hamburg"
}

Wenn keine passenden Events gefunden werden, antworte mit: {"events": []}`

// Extractor turns a page's markdown rendering into raw event candidates via
// a language-model call constrained to JSON output.
type Extractor struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	maxContent  int
	log         *logrus.Logger
}

// NewExtractor creates an extractor using the given OpenAI client.
func NewExtractor(client *openai.Client, model string, log *logrus.Logger) *Extractor {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Extractor{
		client:      client,
		model:       model,
		temperature: 0.1,
		maxTokens:   4000,
		maxContent:  15000,
		log:         log,
	}
}

// Extract runs the extraction call over the page content and returns the
// raw candidates plus the tokens consumed. Non-conforming model output is an
// error; the caller converts it into a zero-candidate result.
func (e *Extractor) Extract(ctx context.Context, content, sourceName, pageURL string, links []string) ([]models.RawCandidate, int, error) {
	if e.client == nil {
		return nil, 0, fmt.Errorf("no extraction model configured, set OPENAI_API_KEY")
	}
	content = strings.TrimSpace(content)
	if len(content) < 200 {
		return nil, 0, fmt.Errorf("content too short (%d chars) to extract events", len(content))
	}
	if len(content) > e.maxContent {
		content = content[:e.maxContent]
	}

	linkList := "keine"
	if len(links) > 0 {
		linkList = strings.Join(links, "\n")
	}
	userPrompt := fmt.Sprintf(extractionUserPromptTemplate, sourceName, pageURL, content, linkList)

	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       e.model,
		Temperature: e.temperature,
		MaxTokens:   e.maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: extractionSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
	})
	if err != nil {
		return nil, 0, fmt.Errorf("extraction completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, 0, fmt.Errorf("extraction completion returned no choices")
	}

	candidates, err := ParseCandidates(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, resp.Usage.TotalTokens, err
	}

	e.log.WithFields(logrus.Fields{
		"source": sourceName,
		"url":    pageURL,
		"found":  len(candidates),
		"tokens": resp.Usage.TotalTokens,
	}).Info("extraction completed")

	return candidates, resp.Usage.TotalTokens, nil
}

// ParseCandidates parses a model response into raw candidates. Accepts both
// the {"events": [...]} object shape and a bare JSON array, with or without
// markdown code fences.
func ParseCandidates(response string) ([]models.RawCandidate, error) {
	cleaned := CleanJSONResponse(response)
	if cleaned == "" {
		return nil, fmt.Errorf("empty extraction response")
	}

	var wrapper struct {
		Events []models.RawCandidate `json:"events"`
	}
	if err := json.Unmarshal([]byte(cleaned), &wrapper); err == nil && wrapper.Events != nil {
		return wrapper.Events, nil
	}

	var list []models.RawCandidate
	if err := json.Unmarshal([]byte(cleaned), &list); err != nil {
		return nil, fmt.Errorf("extraction response is not conforming JSON: %w", err)
	}
	return list, nil
}

// CleanJSONResponse strips markdown code fences a model sometimes wraps its
// JSON output in.
func CleanJSONResponse(response string) string {
	cleaned := strings.TrimSpace(response)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	return strings.TrimSpace(cleaned)
}
