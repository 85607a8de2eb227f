package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/tulparexpress/autopost-bot/internal/broadcast"
	"github.com/tulparexpress/autopost-bot/internal/imagefetch"
	"github.com/tulparexpress/autopost-bot/internal/mirror"
	"github.com/tulparexpress/autopost-bot/internal/models"
)

type fakeClient struct {
	source  models.ProductSource
	fetch   func(ctx context.Context, term string, pageSize int) ([]models.RawProduct, error)
	calls   []string
}

func (f *fakeClient) Source() models.ProductSource { return f.source }

func (f *fakeClient) Fetch(ctx context.Context, term string, pageSize int) ([]models.RawProduct, error) {
	f.calls = append(f.calls, term)
	return f.fetch(ctx, term, pageSize)
}

func rawProduct(id, category string, rating float64, sales int64) models.RawProduct {
	return models.RawProduct{
		ID:          id,
		Title:       "Беспроводные наушники Bluetooth гарнитура " + id,
		PriceNative: decimal.NewFromInt(100),
		ImageURL:    "https://example.com/" + id + ".jpg",
		Rating:      rating,
		DiscountPct: 0,
		SalesCount:  sales,
		Source:      models.SourcePrimary,
		CategoryKey: category,
	}
}

type fakeCurrency struct {
	rate decimal.Decimal
	err  error
}

func (f *fakeCurrency) Rate(ctx context.Context, from, to string) (decimal.Decimal, error) {
	if f.err != nil {
		return decimal.Zero, f.err
	}
	return f.rate, nil
}

type fakeTextGen struct{}

func (f *fakeTextGen) GenerateBatch(ctx context.Context, products []models.Product) []string {
	out := make([]string, len(products))
	for i, p := range products {
		out[i] = "описание " + p.Title
	}
	return out
}

type fakeImages struct {
	fail    map[string]bool
	purged  bool
}

func (f *fakeImages) DownloadAll(ctx context.Context, urls []string) []imagefetch.Result {
	out := make([]imagefetch.Result, len(urls))
	for i, u := range urls {
		if f.fail[u] {
			out[i] = imagefetch.Result{Err: errors.New("download failed")}
			continue
		}
		out[i] = imagefetch.Result{Path: "/tmp/" + u}
	}
	return out
}

func (f *fakeImages) Purge() { f.purged = true }

type fakeCards struct{ failFor string }

func (f *fakeCards) ComposeCard(srcPath, outPath string, priceLocal, oldPriceLocal decimal.Decimal, discountPct int, currencyCode string) error {
	if f.failFor != "" && srcPath == f.failFor {
		return errors.New("composition failed")
	}
	return nil
}

type fakeBroadcast struct {
	messageID int
	err       error
	sentItems []broadcast.MediaItem
}

func (f *fakeBroadcast) SendMessage(ctx context.Context, text string) (int, error) {
	return 1, nil
}

func (f *fakeBroadcast) SendMediaGroup(ctx context.Context, items []broadcast.MediaItem, mainCaption string) (int, error) {
	f.sentItems = items
	if f.err != nil {
		return 0, f.err
	}
	return f.messageID, nil
}

type fakeMirror struct {
	mediaID string
	err     error
}

func (f *fakeMirror) PublishCarousel(ctx context.Context, imageURLs []string, caption string) (string, mirror.State, error) {
	if f.err != nil {
		return "", mirror.StateFailed, f.err
	}
	return f.mediaID, mirror.StateDone, nil
}

type fakeProductCache struct {
	cached map[string][]models.PersistedProduct
}

func (f *fakeProductCache) ByCategory(category string, limit int) ([]models.PersistedProduct, error) {
	return f.cached[category], nil
}

func (f *fakeProductCache) Upsert(p *models.PersistedProduct) error { return nil }

type fakePostStore struct {
	created []*models.Post
}

func (f *fakePostStore) Create(p *models.Post) error {
	f.created = append(f.created, p)
	return nil
}

type fakeAnnouncer struct {
	successes int
	failures  []string
	partials  []string
}

func (f *fakeAnnouncer) Success(ctx context.Context, productCount int, elapsed time.Duration, broadcastMessageID string) error {
	f.successes++
	return nil
}

func (f *fakeAnnouncer) Failure(ctx context.Context, stage string, cause error) error {
	f.failures = append(f.failures, stage)
	return nil
}

func (f *fakeAnnouncer) PartialFailure(ctx context.Context, stage string, cause error) error {
	f.partials = append(f.partials, stage)
	return nil
}

func basePipeline() (*Pipeline, *fakePostStore, *fakeAnnouncer, *fakeBroadcast) {
	primary := &fakeClient{
		source: models.SourcePrimary,
		fetch: func(ctx context.Context, term string, pageSize int) ([]models.RawProduct, error) {
			return []models.RawProduct{
				rawProduct(term+"-1", term, 4.8, 500),
				rawProduct(term+"-2", term, 4.9, 800),
			}, nil
		},
	}
	currency := &fakeCurrency{rate: decimal.NewFromInt(1)}
	posts := &fakePostStore{}
	announcer := &fakeAnnouncer{}
	bc := &fakeBroadcast{messageID: 555}

	deps := Dependencies{
		Primary:      primary,
		Currency:     currency,
		CurrencyCode: "KGS",
		FilterCfg:    FilterConfig{MinDiscount: 0, MinRating: 4.0, TopLimit: 10},
		TextGen:      &fakeTextGen{},
		Images:       &fakeImages{fail: map[string]bool{}},
		Cards:        &fakeCards{},
		Broadcast:    bc,
		Products:     &fakeProductCache{cached: map[string][]models.PersistedProduct{}},
		Posts:        posts,
		Notifier:     announcer,
		Rng:          rand.New(rand.NewSource(1)),
	}
	return New(deps), posts, announcer, bc
}

func TestRunHappyPathPublishesAndPersists(t *testing.T) {
	p, posts, announcer, bc := basePipeline()

	result := p.Run(context.Background(), "headphones")

	assert.True(t, result.Success)
	assert.Equal(t, "555", result.BroadcastMessageID)
	assert.Equal(t, 2, result.ProductsCount)
	assert.Len(t, posts.created, 1)
	assert.Equal(t, models.PostBroadcastOnly, posts.created[0].Status)
	assert.Equal(t, 1, announcer.successes)
	assert.Len(t, bc.sentItems, 2)
}

func TestRunMirrorSuccessMarksPublished(t *testing.T) {
	p, posts, _, _ := basePipeline()
	p.mirror = &fakeMirror{mediaID: "ig-123"}

	result := p.Run(context.Background(), "headphones")

	assert.True(t, result.Success)
	assert.Equal(t, "ig-123", result.MirrorPostID)
	assert.Equal(t, models.PostPublished, posts.created[0].Status)
}

func TestRunMirrorFailureIsNonFatalAndMarksMirrorFailed(t *testing.T) {
	p, posts, announcer, _ := basePipeline()
	p.mirror = &fakeMirror{err: errors.New("token expired")}

	result := p.Run(context.Background(), "headphones")

	assert.True(t, result.Success)
	assert.Empty(t, result.MirrorPostID)
	assert.Equal(t, models.PostMirrorFailed, posts.created[0].Status)
	assert.Contains(t, announcer.partials, string(StageMirrorPublish))
}

func TestRunFetchFallsBackToCacheWhenPrimaryFails(t *testing.T) {
	p, _, _, _ := basePipeline()
	p.primary = &fakeClient{
		source: models.SourcePrimary,
		fetch: func(ctx context.Context, term string, pageSize int) ([]models.RawProduct, error) {
			return nil, errors.New("upstream down")
		},
	}
	p.products = &fakeProductCache{
		cached: map[string][]models.PersistedProduct{
			"headphones": {
				{SourceID: "cached-1", Title: "Кэшированные наушники", PriceNative: decimal.NewFromInt(90), Rating: 4.7, SalesCount: 300},
			},
		},
	}

	result := p.Run(context.Background(), "headphones")

	assert.True(t, result.Success)
	assert.Equal(t, 1, result.ProductsCount)
}

func TestRunFetchFailsWhenNoSourceOrCacheAvailable(t *testing.T) {
	p, _, announcer, _ := basePipeline()
	p.primary = &fakeClient{
		source: models.SourcePrimary,
		fetch: func(ctx context.Context, term string, pageSize int) ([]models.RawProduct, error) {
			return nil, errors.New("upstream down")
		},
	}
	p.products = &fakeProductCache{cached: map[string][]models.PersistedProduct{}}

	result := p.Run(context.Background(), "headphones")

	assert.False(t, result.Success)
	assert.Equal(t, StageFetch, result.FailedStage)
	assert.Contains(t, announcer.failures, string(StageFetch))
}

func TestRunFilterRankFailsWhenNoProductsPassThresholds(t *testing.T) {
	p, _, _, _ := basePipeline()
	p.filterCfg = FilterConfig{MinDiscount: 0, MinRating: 4.95, TopLimit: 10}

	result := p.Run(context.Background(), "headphones")

	assert.False(t, result.Success)
	assert.Equal(t, StageFilterRank, result.FailedStage)
}

func TestRunImageDownloadDropsFailedProductsButContinues(t *testing.T) {
	p, _, _, bc := basePipeline()
	p.images = &fakeImages{fail: map[string]bool{"https://example.com/headphones-1.jpg": true}}

	result := p.Run(context.Background(), "headphones")

	assert.True(t, result.Success)
	assert.Equal(t, 1, result.ProductsCount)
	assert.Len(t, bc.sentItems, 1)
}

func TestRunBroadcastFailureIsFatal(t *testing.T) {
	p, _, announcer, _ := basePipeline()
	p.broadcast = &fakeBroadcast{err: errors.New("bot kicked from channel")}

	result := p.Run(context.Background(), "headphones")

	assert.False(t, result.Success)
	assert.Equal(t, StageBroadcastPublish, result.FailedStage)
	assert.Contains(t, announcer.failures, string(StageBroadcastPublish))
}

func TestGenerateHashtagsIncludesBaseAndCategoryTags(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	tags := GenerateHashtags("electronics", "Беспроводные наушники", rng)

	joined := fmt.Sprintf("%v", tags)
	assert.Contains(t, joined, "#бишкек")
	assert.Contains(t, joined, "#техника")
	assert.GreaterOrEqual(t, len(tags), 10)
}

func TestGenerateHashtagsCapsAtMaximum(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	tags := GenerateHashtags("electronics", "один два три четыре пять шесть семь восемь девять десять одиннадцать", rng)

	assert.LessOrEqual(t, len(tags), maxHashtags)
	for _, base := range baseHashtags {
		assert.Contains(t, tags, "#"+base)
	}
}

func TestFormatPriceAddsThousandSeparator(t *testing.T) {
	assert.Equal(t, "1 299 сом", formatPrice(1299, "KGS"))
	assert.Equal(t, "299 сом", formatPrice(299, ""))
}

func TestBuildBroadcastCaptionTruncatesDescriptionToFitPriceBlock(t *testing.T) {
	p := models.Product{
		RawProduct:    models.RawProduct{Title: "Товар"},
		PriceLocal:    decimal.NewFromInt(999),
		OldPriceLocal: decimal.NewFromInt(1499),
		DiscountPct:   33,
	}
	longDescription := ""
	for i := 0; i < 1100; i++ {
		longDescription += "а"
	}

	caption := buildBroadcastCaption(longDescription, p, "KGS")

	assert.LessOrEqual(t, len([]rune(caption)), broadcast.MaxCaptionLength)
	assert.Contains(t, caption, "Экономия")
}
