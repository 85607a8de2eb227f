// Package pinduoduo implements the primary Marketplace Client (§2),
// grounded on original_source's pinduoduo.py: RapidAPI search over
// Chinese category keywords, fen-to-yuan price normalisation, and
// CJK-suffixed sales-count parsing.
package pinduoduo

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"

	"github.com/tulparexpress/autopost-bot/internal/apierr"
	"github.com/tulparexpress/autopost-bot/internal/marketplace"
	"github.com/tulparexpress/autopost-bot/internal/models"
)

const rapidAPIHost = "pinduoduo1.p.rapidapi.com"

// CategoryKeywords maps the business-facing category key to the
// Chinese search term that performs best against the upstream API.
var CategoryKeywords = map[string]string{
	"headphones": "蓝牙耳机 无线",
	"gadgets":    "智能手表 数码",
	"bags":       "背包 双肩包",
	"clothing":   "卫衣 男女",
	"unisex":     "休闲服装 男女通用",
	"home":       "家居 收纳",
	"kitchen":    "厨房 用品",
	"beauty":     "护肤 化妆",
	"kids":       "儿童 玩具",
	"sports":     "运动 健身",
	"auto":       "汽车 配件",
}

// defaultRating is used because Pinduoduo's search payload carries no
// rating field.
const defaultRating = 4.5

type Client struct {
	http    *resty.Client
	breaker *gobreaker.CircuitBreaker
	limiter *marketplace.DailyLimiter
}

func New(baseURL, rapidAPIKey string, dailyLimit int, timeout time.Duration) *Client {
	http, breaker := marketplace.NewTransport("pinduoduo", baseURL, rapidAPIKey, rapidAPIHost, timeout)
	return &Client{http: http, breaker: breaker, limiter: marketplace.NewDailyLimiter(dailyLimit)}
}

func (c *Client) Source() models.ProductSource { return models.SourcePrimary }

type searchResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    struct {
		Items []searchItem `json:"items"`
	} `json:"data"`
}

type searchItem struct {
	GoodsID      interface{} `json:"goods_id"`
	GoodsName    string      `json:"goods_name"`
	DefaultPrice interface{} `json:"default_price"`
	MarketPrice  interface{} `json:"market_price"`
	HDThumbURL   string      `json:"hd_thumb_url"`
	ThumbURL     string      `json:"thumb_url"`
	SideSalesTip string      `json:"side_sales_tip"`
}

// Fetch searches the given categoryKey's Chinese keyword and returns
// up to pageSize parsed products. Items the API returns that fail to
// parse into a usable RawProduct are skipped, not fatal (§7
// SchemaMismatch is per-item, not per-batch).
func (c *Client) Fetch(ctx context.Context, categoryKey string, pageSize int) ([]models.RawProduct, error) {
	if !c.limiter.Allow() {
		return nil, &apierr.RateLimitExceeded{Source: "pinduoduo", Limit: 0}
	}

	keyword, ok := CategoryKeywords[categoryKey]
	if !ok {
		keyword = categoryKey
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		var out searchResponse
		resp, reqErr := c.http.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"keyword": keyword,
				"page":    "1",
			}).
			SetResult(&out).
			Get("/pinduoduo/search")
		if cerr := marketplace.ClassifyHTTPError("pinduoduo", resp, reqErr); cerr != nil {
			return nil, cerr
		}
		if !out.Success && out.Message != "" {
			return nil, &apierr.PermanentUpstream{Op: "pinduoduo", StatusCode: resp.StatusCode(), Body: out.Message}
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}

	out := result.(searchResponse)
	items := out.Data.Items
	if len(items) > pageSize {
		items = items[:pageSize]
	}

	products := make([]models.RawProduct, 0, len(items))
	for _, item := range items {
		p, ok := parseProduct(item, categoryKey)
		if ok {
			products = append(products, p)
		}
	}
	return products, nil
}

func parseProduct(item searchItem, categoryKey string) (models.RawProduct, bool) {
	id := fmt.Sprint(item.GoodsID)
	if id == "" || id == "0" || id == "<nil>" {
		return models.RawProduct{}, false
	}
	if item.GoodsName == "" {
		return models.RawProduct{}, false
	}

	priceFen := toFloat(item.DefaultPrice)
	if priceFen == 0 {
		priceFen = toFloat(item.MarketPrice)
	}
	priceCNY := decimal.NewFromFloat(priceFen).Div(decimal.NewFromInt(100))
	if priceCNY.LessThanOrEqual(decimal.Zero) {
		return models.RawProduct{}, false
	}

	imageURL := item.HDThumbURL
	if imageURL == "" {
		imageURL = item.ThumbURL
	}
	if imageURL == "" {
		return models.RawProduct{}, false
	}
	if strings.HasPrefix(imageURL, "//") {
		imageURL = "https:" + imageURL
	}
	imageURL = upgradeImageURL(imageURL)

	discount := 0
	marketPrice := toFloat(item.MarketPrice)
	defaultPrice := toFloat(item.DefaultPrice)
	if marketPrice > 0 && defaultPrice > 0 && marketPrice > defaultPrice {
		discount = int((1 - defaultPrice/marketPrice) * 100)
	}

	return models.RawProduct{
		ID:          id,
		Title:       item.GoodsName,
		PriceNative: priceCNY,
		ImageURL:    imageURL,
		Rating:      defaultRating,
		DiscountPct: discount,
		SalesCount:  parseSalesCount(item.SideSalesTip),
		Source:      models.SourcePrimary,
		CategoryKey: categoryKey,
	}, true
}

func toFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

// parseSalesCount parses strings like "已抢6475件" or "总售24万+件" into an
// integer count, handling the CJK "万" (ten-thousand) suffix.
func parseSalesCount(raw string) int64 {
	if raw == "" {
		return 0
	}
	s := raw
	for _, token := range []string{"件", "已抢", "总售", "+"} {
		s = strings.ReplaceAll(s, token, "")
	}
	s = strings.TrimSpace(s)

	if strings.Contains(s, "万") {
		s = strings.ReplaceAll(s, "万", "")
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0
		}
		return int64(f * 10000)
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return int64(f)
}

var (
	reThumbnailSize = regexp.MustCompile(`imageMogr2/thumbnail/x\d+`)
	reSizeSuffix    = regexp.MustCompile(`_\d+x\d+(\.\w+)?$`)
	reWParam        = regexp.MustCompile(`[@?&]w=\d+`)
	reHParam        = regexp.MustCompile(`[@?&]h=\d+`)
	reQualitySuffix = regexp.MustCompile(`_q\d+(\.\w+)?$`)
)

// upgradeImageURL rewrites CDN thumbnail parameters to the largest
// supported resolution, following original_source's
// _get_high_res_image_url exactly.
func upgradeImageURL(url string) string {
	if url == "" {
		return url
	}
	if reThumbnailSize.MatchString(url) {
		return reThumbnailSize.ReplaceAllString(url, "imageMogr2/thumbnail/x800")
	}
	if strings.Contains(url, "pddpic.com") && !strings.Contains(url, "?") {
		return url + "?imageMogr2/thumbnail/x800"
	}
	url = reSizeSuffix.ReplaceAllString(url, "")
	url = reWParam.ReplaceAllString(url, "")
	url = reHParam.ReplaceAllString(url, "")
	url = reQualitySuffix.ReplaceAllString(url, "")
	return url
}

func (c *Client) RemainingToday() int { return c.limiter.Remaining() }

// categoryGroups rotates 3 categories per day of the year so that the
// daily autopost shows a different product mix, matching
// original_source's CATEGORY_GROUPS/get_daily_categories.
var categoryGroups = [][]string{
	{"headphones", "bags", "beauty"},
	{"gadgets", "unisex", "home"},
	{"sports", "kids", "kitchen"},
	{"headphones", "unisex", "beauty"},
	{"gadgets", "bags", "sports"},
	{"home", "kids", "unisex"},
	{"headphones", "kitchen", "unisex"},
	{"gadgets", "beauty", "sports"},
	{"bags", "home", "unisex"},
	{"headphones", "auto", "beauty"},
}

// DailyCategories returns today's 3-category rotation for dayOfYear
// (1-366), taking the day number as an argument rather than reading
// the clock so callers stay deterministic and testable.
func DailyCategories(dayOfYear int) []string {
	idx := dayOfYear % len(categoryGroups)
	return categoryGroups[idx]
}
