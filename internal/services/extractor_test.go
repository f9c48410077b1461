package services

import (
	"testing"
)

func TestParseCandidatesObjectShape(t *testing.T) {
	response := `{"events": [
		{"title": "Kinderkonzert", "date_start": "2026-02-14T11:00:00", "category": "music", "is_indoor": true},
		{"title": "Puppentheater", "date_start": "2026-02-15T16:00:00", "category": "theater", "is_indoor": true}
	]}`

	candidates, err := ParseCandidates(response)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(candidates) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(candidates))
	}
	if candidates[0]["title"] != "Kinderkonzert" {
		t.Errorf("unexpected title %v", candidates[0]["title"])
	}
	if candidates[1]["is_indoor"] != true {
		t.Errorf("boolean field lost: %v", candidates[1]["is_indoor"])
	}
}

func TestParseCandidatesBareArray(t *testing.T) {
	response := `[{"title": "Flohmarkt", "date_start": "2026-03-01T09:00:00"}]`

	candidates, err := ParseCandidates(response)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(candidates) != 1 || candidates[0]["title"] != "Flohmarkt" {
		t.Errorf("unexpected candidates %v", candidates)
	}
}

func TestParseCandidatesMarkdownFences(t *testing.T) {
	response := "```json\n{\"events\": [{\"title\": \"Lesung\", \"date_start\": \"2026-03-01T15:00:00\"}]}\n```"

	candidates, err := ParseCandidates(response)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(candidates) != 1 || candidates[0]["title"] != "Lesung" {
		t.Errorf("unexpected candidates %v", candidates)
	}
}

func TestParseCandidatesEmptyEvents(t *testing.T) {
	candidates, err := ParseCandidates(`{"events": []}`)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(candidates) != 0 {
		t.Errorf("expected zero candidates, got %d", len(candidates))
	}
}

func TestParseCandidatesRejectsNonJSON(t *testing.T) {
	for _, response := range []string{
		"",
		"Leider habe ich keine Veranstaltungen gefunden.",
		"```json\nnicht json\n```",
		`{"events": "kaputt"}`,
	} {
		if _, err := ParseCandidates(response); err == nil {
			t.Errorf("expected error for %q", response)
		}
	}
}

func TestCleanJSONResponse(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{"```\n[1]\n```", "[1]"},
		{`{"a":1}`, `{"a":1}`},
		{"  \n{\"a\":1}\n  ", `{"a":1}`},
	}
	for _, tc := range cases {
		if got := CleanJSONResponse(tc.in); got != tc.want {
			t.Errorf("CleanJSONResponse(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
