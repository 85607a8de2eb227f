// Package taobao implements the secondary Marketplace Client (§2),
// grounded on original_source's taobao_service.py: the Otapi
// batch-search shape, nested price object parsing, and the
// VendorScore-to-rating rescale.
package taobao

import (
	"context"
	"fmt"
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

const rapidAPIHost = "taobao-tmall1.p.rapidapi.com"

type Client struct {
	http    *resty.Client
	breaker *gobreaker.CircuitBreaker
	limiter *marketplace.DailyLimiter
}

func New(baseURL, rapidAPIKey string, dailyLimit int, timeout time.Duration) *Client {
	http, breaker := marketplace.NewTransport("taobao", baseURL, rapidAPIKey, rapidAPIHost, timeout)
	return &Client{http: http, breaker: breaker, limiter: marketplace.NewDailyLimiter(dailyLimit)}
}

func (c *Client) Source() models.ProductSource { return models.SourceSecondary }

type searchResponse struct {
	ErrorCode        string `json:"ErrorCode"`
	ErrorDescription string `json:"ErrorDescription"`
	Result           struct {
		Items struct {
			Items struct {
				Content []searchItem `json:"Content"`
			} `json:"Items"`
		} `json:"Items"`
	} `json:"Result"`
}

type priceObject struct {
	OriginalPrice interface{} `json:"OriginalPrice"`
	MarginPrice   interface{} `json:"MarginPrice"`
}

type searchItem struct {
	ID            interface{} `json:"Id"`
	Title         string      `json:"Title"`
	OriginalTitle string      `json:"OriginalTitle"`
	Price         priceObject `json:"Price"`
	MainPictureURL string     `json:"MainPictureUrl"`
	Pictures      []struct {
		URL string `json:"Url"`
	} `json:"Pictures"`
	VendorScore interface{} `json:"VendorScore"`
	Volume      interface{} `json:"Volume"`
}

// Fetch searches keyword via the Otapi batch-search endpoint and
// returns up to pageSize parsed products.
func (c *Client) Fetch(ctx context.Context, keyword string, pageSize int) ([]models.RawProduct, error) {
	if !c.limiter.Allow() {
		return nil, &apierr.RateLimitExceeded{Source: "taobao", Limit: 0}
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		var out searchResponse
		resp, reqErr := c.http.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"frame":         "Taobao",
				"framePosition": "1",
				"frameSize":     strconv.Itoa(pageSize),
				"language":      "en",
				"ItemTitle":     keyword,
			}).
			SetResult(&out).
			Get("/BatchSearchItemsFrame")
		if cerr := marketplace.ClassifyHTTPError("taobao", resp, reqErr); cerr != nil {
			return nil, cerr
		}
		if out.ErrorCode != "" && out.ErrorCode != "Ok" {
			return nil, &apierr.PermanentUpstream{Op: "taobao", StatusCode: resp.StatusCode(), Body: out.ErrorDescription}
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}

	out := result.(searchResponse)
	items := out.Result.Items.Items.Content

	products := make([]models.RawProduct, 0, len(items))
	for _, item := range items {
		p, ok := parseProduct(item)
		if ok {
			products = append(products, p)
		}
	}
	return products, nil
}

func parseProduct(item searchItem) (models.RawProduct, bool) {
	id := fmt.Sprint(item.ID)
	if id == "" || id == "0" || id == "<nil>" {
		return models.RawProduct{}, false
	}

	title := item.Title
	if title == "" {
		title = item.OriginalTitle
	}
	if title == "" {
		return models.RawProduct{}, false
	}

	originalPrice := toFloat(item.Price.OriginalPrice)
	priceCNY := decimal.NewFromFloat(originalPrice)
	if priceCNY.LessThanOrEqual(decimal.Zero) {
		return models.RawProduct{}, false
	}

	imageURL := item.MainPictureURL
	if imageURL == "" && len(item.Pictures) > 0 {
		imageURL = item.Pictures[0].URL
	}
	if imageURL == "" {
		return models.RawProduct{}, false
	}
	if strings.HasPrefix(imageURL, "//") {
		imageURL = "https:" + imageURL
	}

	// VendorScore is on a 0-20 scale upstream; rescale to 0-5.
	vendorScore := toFloat(item.VendorScore)
	if vendorScore == 0 {
		vendorScore = 15
	}
	rating := vendorScore / 4
	if rating > 5 {
		rating = 5
	}
	if rating < 0 {
		rating = 0
	}

	discount := 0
	marginPrice := toFloat(item.Price.MarginPrice)
	if marginPrice > 0 && originalPrice > 0 && marginPrice > originalPrice {
		discount = int((1 - originalPrice/marginPrice) * 100)
	}

	return models.RawProduct{
		ID:          id,
		Title:       title,
		PriceNative: priceCNY,
		ImageURL:    imageURL,
		Rating:      rating,
		DiscountPct: discount,
		SalesCount:  int64(toFloat(item.Volume)),
		Source:      models.SourceSecondary,
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

func (c *Client) RemainingToday() int { return c.limiter.Remaining() }
