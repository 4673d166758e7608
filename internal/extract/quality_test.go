package extract

import (
	"strings"
	"testing"
)

func TestContentQualityOK(t *testing.T) {
	tests := []struct {
		name string
		text string
		want bool
	}{
		{
			"real article text",
			strings.Repeat("The committee published its annual findings on regional water quality today. ", 3),
			true,
		},
		{
			"mentions home once",
			"Home prices in the region climbed again last quarter, according to the latest housing market survey released this week.",
			true,
		},
		{
			"too short",
			"Too short to be an article.",
			false,
		},
		{
			"navigation chrome",
			strings.Repeat("Home News Menu Search Subscribe Sign in Cookie settings Privacy policy About ", 2),
			false,
		},
		{
			"repeated phrase",
			strings.Repeat("Read more ", 30),
			false,
		},
		{
			"mostly symbols",
			strings.Repeat("#$%^& *()! ", 20),
			false,
		},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := contentQualityOK(tt.text); got != tt.want {
				t.Errorf("contentQualityOK(%q...) = %v, want %v", truncate(tt.text, 40), got, tt.want)
			}
		})
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func TestLooksLikeNavigationNeedsSeveralHits(t *testing.T) {
	if looksLikeNavigation("Home Depot announced record earnings for the quarter.") {
		t.Error("single keyword hit flagged as navigation")
	}
	if !looksLikeNavigation("Home | Search | Subscribe | Sign in") {
		t.Error("menu row not flagged as navigation")
	}
}

func TestIsRepeatedPhrase(t *testing.T) {
	if !isRepeatedPhrase(strings.Repeat("click here ", 20)) {
		t.Error("repeated fragment not flagged")
	}
	if isRepeatedPhrase("A few distinct words only") {
		t.Error("short varied text flagged as repeated")
	}
}
