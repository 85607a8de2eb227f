package orchestrator

import (
	"math/rand"
	"regexp"
	"strings"
	"unicode/utf8"
)

// baseHashtags are always included in every mirror post, grounded on
// original_source's hashtag_generator.py BASE_HASHTAGS.
var baseHashtags = []string{
	"бишкек", "кыргызстан", "доставкаизкитая", "тулпарэкспресс", "китай", "карго",
}

var categoryHashtags = map[string][]string{
	"electronics": {"техника", "гаджеты", "электроника", "смартфон", "наушники", "аксессуары", "гаджетыизкитая", "техникаизкитая"},
	"clothing":    {"одежда", "мода", "стиль", "fashion", "одеждаизкитая", "модабишкек", "стильнаяодежда", "тренды"},
	"home":        {"дом", "интерьер", "уют", "декор", "товарыдлядома", "домашнийуют", "длядома", "домизкитая"},
	"beauty":      {"красота", "косметика", "уход", "beauty", "косметикаизкитая", "уходзасобой", "бьютибишкек", "макияж"},
	"kids":        {"дети", "детскиетовары", "игрушки", "детям", "мама", "длядетей", "детскоеизкитая", "родителям"},
	"auto":        {"авто", "автотовары", "машина", "автоаксессуары", "тюнинг", "автобишкек", "длямашины", "автоизкитая"},
}

var genericHashtags = []string{
	"товарыизкитая", "выгодно", "скидки", "распродажа", "акция", "дешево", "качество", "хит",
}

// categoryMapping resolves either a Pinduoduo/Taobao category key or a
// free-form category label to one of categoryHashtags' keys.
var categoryMapping = map[string]string{
	"электроника": "electronics", "техника": "electronics", "гаджеты": "electronics",
	"одежда": "clothing", "мода": "clothing",
	"дом": "home", "интерьер": "home",
	"красота": "beauty", "косметика": "beauty",
	"дети": "kids", "детское": "kids", "игрушки": "kids",
	"авто": "auto", "автомобиль": "auto",
	"electronics": "electronics", "headphones": "electronics", "gadgets": "electronics",
	"clothing": "clothing", "clothes": "clothing", "bags": "clothing",
	"home": "home", "beauty": "beauty", "kids": "kids", "children": "kids",
	"auto": "auto", "car": "auto",
}

var titleStopWords = map[string]bool{
	"для": true, "или": true, "это": true, "как": true, "что": true, "при": true, "под": true, "над": true,
	"без": true, "про": true, "через": true, "после": true, "перед": true, "между": true,
	"the": true, "and": true, "for": true, "with": true, "from": true, "this": true, "that": true,
}

var titleWordPattern = regexp.MustCompile(`[^a-zа-яё\s]+`)

const (
	minHashtags = 10
	maxHashtags = 15
)

// GenerateHashtags builds the Stage 8 hashtag set (§4.2): the fixed
// base set, up to 8 category-specific tags, and up to 5 keywords
// extracted from the product title, topped up with generic tags when
// still short of the minimum and randomly trimmed (base tags spared)
// when over the maximum — grounded on original_source's
// HashtagGenerator.generate.
func GenerateHashtags(category, title string, rng *rand.Rand) []string {
	tags := make([]string, len(baseHashtags))
	copy(tags, baseHashtags)
	seen := make(map[string]bool, len(tags)+16)
	for _, t := range tags {
		seen[t] = true
	}

	if category != "" {
		for _, t := range resolveCategoryHashtags(category) {
			if !seen[t] {
				tags = append(tags, t)
				seen[t] = true
			}
		}
	}

	if title != "" {
		for _, t := range extractTitleHashtags(title) {
			if !seen[t] {
				tags = append(tags, t)
				seen[t] = true
			}
		}
	}

	if len(tags) < minHashtags {
		for _, t := range genericHashtags {
			if !seen[t] {
				tags = append(tags, t)
				seen[t] = true
			}
			if len(tags) >= maxHashtags {
				break
			}
		}
	}

	if len(tags) > maxHashtags {
		baseCount := len(baseHashtags)
		extra := append([]string(nil), tags[baseCount:]...)
		rng.Shuffle(len(extra), func(i, j int) { extra[i], extra[j] = extra[j], extra[i] })
		remaining := maxHashtags - baseCount
		tags = append(append([]string{}, tags[:baseCount]...), extra[:remaining]...)
	}

	result := make([]string, len(tags))
	for i, t := range tags {
		result[i] = "#" + t
	}
	return result
}

func resolveCategoryHashtags(category string) []string {
	key := strings.ToLower(strings.TrimSpace(category))
	mapped, ok := categoryMapping[key]
	if !ok {
		for name, k := range categoryMapping {
			if strings.Contains(key, name) || strings.Contains(name, key) {
				mapped = k
				ok = true
				break
			}
		}
	}
	if !ok {
		return nil
	}
	return categoryHashtags[mapped]
}

func extractTitleHashtags(title string) []string {
	lower := strings.ToLower(title)
	cleaned := titleWordPattern.ReplaceAllString(lower, " ")
	words := strings.Fields(cleaned)

	var out []string
	seen := make(map[string]bool)
	for _, w := range words {
		n := utf8.RuneCountInString(w)
		if n < 4 || n > 20 {
			continue
		}
		if titleStopWords[w] || seen[w] || isBaseHashtag(w) {
			continue
		}
		out = append(out, w)
		seen[w] = true
		if len(out) >= 5 {
			break
		}
	}
	return out
}

func isBaseHashtag(w string) bool {
	for _, b := range baseHashtags {
		if b == w {
			return true
		}
	}
	return false
}
