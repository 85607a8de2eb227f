package orchestrator

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/tulparexpress/autopost-bot/internal/broadcast"
	"github.com/tulparexpress/autopost-bot/internal/models"
)

var indexEmojis = []string{"1️⃣", "2️⃣", "3️⃣", "4️⃣", "5️⃣", "6️⃣", "7️⃣", "8️⃣", "9️⃣", "🔟"}

// formatPrice adds thousand separators and the currency suffix,
// matching original_source's ContentFormatter.format_price.
func formatPrice(amount int64, currencyCode string) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	digits := strconv.FormatInt(amount, 10)

	var groups []string
	for len(digits) > 3 {
		groups = append([]string{digits[len(digits)-3:]}, groups...)
		digits = digits[:len(digits)-3]
	}
	groups = append([]string{digits}, groups...)

	return sign + strings.Join(groups, " ") + " " + currencySuffix(currencyCode)
}

func currencySuffix(code string) string {
	if code == "" || code == "KGS" {
		return "сом"
	}
	return code
}

// truncateRunes cuts s to at most max runes, counting by code point
// rather than byte, since captions are budgeted in code units.
func truncateRunes(s string, max int) string {
	if max <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}

// buildBroadcastCaption appends the deterministic price block to a
// generated description, truncating the description with an ellipsis
// so the price block always fits within the Telegram caption limit
// (§4.2 Stage 7).
func buildBroadcastCaption(description string, p models.Product, currencyCode string) string {
	savings := p.OldPriceLocal.Sub(p.PriceLocal).IntPart()
	priceBlock := fmt.Sprintf(
		"\n\n💰 <s>%s</s> → <b>%s</b>\n🔥 Экономия: %s!",
		formatPrice(p.OldPriceLocal.IntPart(), currencyCode),
		formatPrice(p.PriceLocal.IntPart(), currencyCode),
		formatPrice(savings, currencyCode),
	)

	caption := description + priceBlock
	if utf8.RuneCountInString(caption) > broadcast.MaxCaptionLength {
		maxDescLen := broadcast.MaxCaptionLength - utf8.RuneCountInString(priceBlock) - 1
		description = truncateRunes(description, maxDescLen) + "…"
		caption = description + priceBlock
	}
	return caption
}

// formatMirrorProductLine renders one product line for the mirror
// caption body, without HTML markup (Instagram captions are plain
// text), matching original_source's format_instagram_product_line.
func formatMirrorProductLine(index int, p models.Product, currencyCode string) string {
	indexStr := fmt.Sprintf("%d.", index)
	if index >= 1 && index <= len(indexEmojis) {
		indexStr = indexEmojis[index-1]
	}

	current := formatPrice(p.PriceLocal.IntPart(), currencyCode)
	if p.OldPriceLocal.GreaterThan(p.PriceLocal) {
		old := formatPrice(p.OldPriceLocal.IntPart(), currencyCode)
		discountStr := ""
		if p.DiscountPct > 0 {
			discountStr = fmt.Sprintf(" (-%d%%)", p.DiscountPct)
		}
		return fmt.Sprintf("%s %s — %s (было %s)%s", indexStr, p.Title, current, old, discountStr)
	}
	return fmt.Sprintf("%s %s — %s", indexStr, p.Title, current)
}

// formatMirrorCaptionBody builds the caption text (without hashtags)
// for the mirror carousel, matching original_source's
// format_instagram_caption.
func formatMirrorCaptionBody(products []models.Product, currencyCode string) string {
	var b strings.Builder
	b.WriteString("🔥 ТОП-10 ТОВАРОВ ДНЯ от Тулпар Экспресс!\n\n")
	b.WriteString("Лучшие скидки из Китая с доставкой в Бишкек 🚀\n\n")
	for i, p := range products {
		b.WriteString(formatMirrorProductLine(i+1, p, currencyCode))
		b.WriteString("\n")
	}
	b.WriteString("\n📲 Заказ: @tulpar_express или te.kg\n📦 Доставка 7-14 дней")
	return b.String()
}
