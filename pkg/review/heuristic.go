// Package review scores candidate alt text: a deterministic heuristic plus an optional
// model-based critique, combined conservatively.
package review

import (
	"path"
	"strings"
	"unicode"

	"github.com/Sriram-PR/alt-text-gen/pkg/models"
)

const (
	minGoodLength = 45
	maxGoodLength = 160
)

// placeholderWords are complete alt texts that carry no information
var placeholderWords = map[string]bool{
	"test": true, "testing": true, "sample": true, "example": true, "n/a": true, "na": true,
	"none": true, "image": true, "photo": true, "picture": true, "img": true, "pic": true,
	"placeholder": true, "untitled": true, "alt": true, "alt text": true, "dummy": true,
	"tbd": true, "todo": true, "default": true, "graphic": true, "logo": true, "screenshot": true,
}

// placeholderSubstrings betray boilerplate anywhere in the text
var placeholderSubstrings = []string{
	"lorem ipsum", "placeholder", "dummy text", "sample text", "insert alt", "alt text here", "describe image",
}

// fillerWords are generic nouns that waste a screen reader's time
var fillerWords = map[string]bool{
	"image": true, "photo": true, "picture": true, "graphic": true, "photograph": true, "img": true,
}

// Heuristic is the result of the network-free scorer
type Heuristic struct {
	Score  int
	Status models.QualityStatus
	Issues []string
}

// HeuristicScore grades text from its own properties and the asset's metadata.
// Subtractive penalties apply first, then caps, then the 0..100 clamp.
func HeuristicScore(text string, asset *models.ImageAsset) Heuristic {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Heuristic{Score: 0, Status: models.QualityCritical, Issues: []string{"ALT text is empty."}}
	}

	lower := strings.ToLower(trimmed)
	normalized := normalize(trimmed)
	words := strings.Fields(normalized)

	score := 100
	limit := 100
	var issues []string
	capAt := func(n int) {
		if n < limit {
			limit = n
		}
	}

	if placeholderWords[strings.Trim(lower, " .!?")] {
		capAt(10)
		issues = append(issues, "ALT text is a placeholder word.")
	}

	length := len([]rune(trimmed))
	if length < minGoodLength {
		score -= 25
		issues = append(issues, "ALT text is too short to describe the image.")
	} else if length > maxGoodLength {
		score -= 15
		issues = append(issues, "ALT text is longer than 160 characters.")
	}

	for _, w := range words {
		if fillerWords[w] {
			score -= 10
			issues = append(issues, "Avoid generic words like 'image' or 'photo'.")
			break
		}
	}

	for _, sub := range placeholderSubstrings {
		if strings.Contains(lower, sub) {
			capAt(10)
			issues = append(issues, "ALT text contains placeholder content.")
			break
		}
	}

	switch n := len(words); {
	case n < 4:
		capAt(10)
		issues = append(issues, "ALT text has fewer than 4 words.")
	case n < 6:
		capAt(25)
		issues = append(issues, "ALT text has fewer than 6 words.")
	case n < 8:
		capAt(45)
		issues = append(issues, "ALT text has fewer than 8 words.")
	}

	if asset != nil {
		if title := normalize(asset.Title); title != "" && title == normalized {
			score -= 12
			issues = append(issues, "ALT text repeats the image title.")
		}
		if name := normalizeFilename(asset.DisplayFilename()); name != "" && name == normalized {
			score -= 20
			issues = append(issues, "ALT text repeats the file name.")
		}
	}

	if !hasLongWord(normalized) {
		score -= 15
		issues = append(issues, "ALT text has no descriptive words.")
	}

	if score > limit {
		score = limit
	}
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return Heuristic{Score: score, Status: models.StatusForScore(score), Issues: issues}
}

// normalize lowercases and replaces punctuation with spaces, folding runs of whitespace
func normalize(s string) string {
	mapped := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return ' '
	}, s)
	return strings.Join(strings.Fields(mapped), " ")
}

func normalizeFilename(name string) string {
	if name == "" {
		return ""
	}
	return normalize(strings.TrimSuffix(name, path.Ext(name)))
}

// hasLongWord reports whether any word has at least four letters
func hasLongWord(normalized string) bool {
	for _, w := range strings.Fields(normalized) {
		letters := 0
		for _, r := range w {
			if unicode.IsLetter(r) {
				letters++
			}
		}
		if letters >= 4 {
			return true
		}
	}
	return false
}
