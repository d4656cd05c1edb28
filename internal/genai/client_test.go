package genai

import (
	"strings"
	"testing"
)

func TestParseExplanation(t *testing.T) {
	raw := `{"explanation":"# MoE\ntext","spatialDescription":"Flow starts top-left","imagePrompt":"flowchart of router"}`
	exp, err := parseExplanation(raw)
	if err != nil {
		t.Fatal(err)
	}
	if exp.Explanation != "# MoE\ntext" {
		t.Errorf("explanation = %q", exp.Explanation)
	}
	if exp.SpatialDescription != "Flow starts top-left" {
		t.Errorf("spatialDescription = %q", exp.SpatialDescription)
	}
	if exp.ImagePrompt != "flowchart of router" {
		t.Errorf("imagePrompt = %q", exp.ImagePrompt)
	}
}

func TestParseExplanationStripsFence(t *testing.T) {
	raw := "```json\n{\"explanation\":\"e\",\"spatialDescription\":\"s\",\"imagePrompt\":\"i\"}\n```"
	if _, err := parseExplanation(raw); err != nil {
		t.Errorf("fenced JSON should parse: %v", err)
	}
}

func TestParseExplanationMissingField(t *testing.T) {
	cases := map[string]string{
		"missing explanation": `{"spatialDescription":"s","imagePrompt":"i"}`,
		"missing spatial":     `{"explanation":"e","imagePrompt":"i"}`,
		"missing imagePrompt": `{"explanation":"e","spatialDescription":"s"}`,
		"empty field":         `{"explanation":"","spatialDescription":"s","imagePrompt":"i"}`,
		"not json":            `the router sends tokens to experts`,
	}
	for name, raw := range cases {
		if _, err := parseExplanation(raw); err == nil {
			t.Errorf("%s: want error, got none", name)
		}
	}
}

func TestTruncateRunes(t *testing.T) {
	if got := truncateRunes("hello", 800); got != "hello" {
		t.Errorf("short string truncated: %q", got)
	}

	long := strings.Repeat("a", 900)
	if got := truncateRunes(long, speechCharLimit); len(got) != 800 {
		t.Errorf("truncated to %d chars, want 800", len(got))
	}

	// Multi-byte runes must not be split.
	cyrillic := strings.Repeat("ж", 801)
	got := truncateRunes(cyrillic, speechCharLimit)
	if n := len([]rune(got)); n != 800 {
		t.Errorf("truncated to %d runes, want 800", n)
	}
}

func TestImageDataURI(t *testing.T) {
	if got := imageDataURI("AAAA"); got != "data:image/png;base64,AAAA" {
		t.Errorf("data URI = %q", got)
	}
}
