// Package orchestrator implements price conversion, filtering, and the
// ten-stage Pipeline Orchestrator (§4.2) that chains every other
// service package into one daily run, grounded on original_source's
// daily_pipeline.py.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tulparexpress/autopost-bot/internal/broadcast"
	"github.com/tulparexpress/autopost-bot/internal/imagefetch"
	"github.com/tulparexpress/autopost-bot/internal/marketplace"
	"github.com/tulparexpress/autopost-bot/internal/marketplace/pinduoduo"
	"github.com/tulparexpress/autopost-bot/internal/mirror"
	"github.com/tulparexpress/autopost-bot/internal/models"
)

// Stage names the pipeline stages (§4.2), shared with notify's
// recommendation lookup.
type Stage string

const (
	StageFetch            Stage = "fetch"
	StagePriceConversion  Stage = "price_conversion"
	StageFilterRank       Stage = "filter_rank"
	StageTextGeneration   Stage = "text_generation"
	StageImageDownload    Stage = "image_download"
	StageCardComposition  Stage = "card_composition"
	StageBroadcastPublish Stage = "broadcast_publish"
	StageMirrorPublish    Stage = "mirror_publish"
	StagePersist          Stage = "persist"
)

// StageResult records one stage's outcome for the run report (§4.2).
type StageResult struct {
	Stage    Stage
	Success  bool
	Duration time.Duration
	Error    error
}

// PipelineResult is the full run report returned by Run.
type PipelineResult struct {
	Success            bool
	Stages             []StageResult
	ProductsCount      int
	BroadcastMessageID string
	MirrorPostID       string
	Elapsed            time.Duration
	FailedStage        Stage
}

// The following narrow interfaces describe exactly the methods the
// pipeline calls on each collaborator, so the orchestration logic
// itself can be exercised with fakes instead of live HTTP transports.
// Every concrete service package (currency.Feed, textgen.Generator,
// imagefetch.Downloader, cardcompositor.Compositor, broadcast.Publisher,
// mirror.Publisher, repository.ProductRepository, repository.PostRepository,
// notify.Notifier) already satisfies the corresponding interface here
// without modification.

type CurrencyFeed interface {
	Rate(ctx context.Context, from, to string) (decimal.Decimal, error)
}

type TextGenerator interface {
	GenerateBatch(ctx context.Context, products []models.Product) []string
}

type ImageDownloader interface {
	DownloadAll(ctx context.Context, urls []string) []imagefetch.Result
	Purge()
}

type CardComposer interface {
	ComposeCard(srcPath, outPath string, priceLocal, oldPriceLocal decimal.Decimal, discountPct int, currencyCode string) error
}

type BroadcastPublisher interface {
	SendMessage(ctx context.Context, text string) (int, error)
	SendMediaGroup(ctx context.Context, items []broadcast.MediaItem, mainCaption string) (int, error)
}

type MirrorPublisher interface {
	PublishCarousel(ctx context.Context, imageURLs []string, caption string) (string, mirror.State, error)
}

type ProductCache interface {
	ByCategory(category string, limit int) ([]models.PersistedProduct, error)
	Upsert(p *models.PersistedProduct) error
}

type PostStore interface {
	Create(p *models.Post) error
}

// Announcer is the subset of notify.Notifier the pipeline depends on.
type Announcer interface {
	Success(ctx context.Context, productCount int, elapsed time.Duration, broadcastMessageID string) error
	Failure(ctx context.Context, stage string, cause error) error
	PartialFailure(ctx context.Context, stage string, cause error) error
}

// Dependencies wires every collaborator the pipeline needs. Secondary
// and Mirror are optional: a nil Secondary skips the secondary-source
// fetch, a nil Mirror skips Stage 8 entirely (treated as
// BROADCAST_ONLY rather than MIRROR_FAILED).
type Dependencies struct {
	Primary           marketplace.Client
	Secondary         marketplace.Client
	Currency          CurrencyFeed
	CurrencyCode      string
	FilterCfg         FilterConfig
	ProductsPerSource int
	TextGen           TextGenerator
	Images            ImageDownloader
	Cards             CardComposer
	Broadcast         BroadcastPublisher
	Mirror            MirrorPublisher
	Products          ProductCache
	Posts             PostStore
	Notifier          Announcer
	Rng               *rand.Rand
}

type Pipeline struct {
	primary           marketplace.Client
	secondary         marketplace.Client
	currency          CurrencyFeed
	currencyCode      string
	filterCfg         FilterConfig
	productsPerSource int
	textgen           TextGenerator
	images            ImageDownloader
	cards             CardComposer
	broadcast         BroadcastPublisher
	mirror            MirrorPublisher
	products          ProductCache
	posts             PostStore
	notifier          Announcer
	rng               *rand.Rand
}

func New(deps Dependencies) *Pipeline {
	rng := deps.Rng
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	perSource := deps.ProductsPerSource
	if perSource < 1 {
		perSource = 10
	}
	return &Pipeline{
		primary:           deps.Primary,
		secondary:         deps.Secondary,
		currency:          deps.Currency,
		currencyCode:      deps.CurrencyCode,
		filterCfg:         deps.FilterCfg,
		productsPerSource: perSource,
		textgen:           deps.TextGen,
		images:            deps.Images,
		cards:             deps.Cards,
		broadcast:         deps.Broadcast,
		mirror:            deps.Mirror,
		products:          deps.Products,
		posts:             deps.Posts,
		notifier:          deps.Notifier,
		rng:               rng,
	}
}

// Run executes the full daily pipeline (§4.2). categoryHint, when
// non-empty, overrides the day-of-year category rotation with a
// single forced category (a manual trigger's override).
func (p *Pipeline) Run(ctx context.Context, categoryHint string) *PipelineResult {
	start := time.Now()
	var stages []StageResult

	raw, stage := p.stageFetch(ctx, categoryHint)
	stages = append(stages, stage)
	if !stage.Success {
		return p.fail(stages, start, StageFetch, stage.Error)
	}

	converted, stage := p.stageConvertPrices(ctx, raw)
	stages = append(stages, stage)
	if !stage.Success {
		return p.fail(stages, start, StagePriceConversion, stage.Error)
	}

	filtered, stage := p.stageFilterRank(converted)
	stages = append(stages, stage)
	if !stage.Success {
		return p.fail(stages, start, StageFilterRank, stage.Error)
	}

	descriptions, stage := p.stageGenerateText(ctx, filtered)
	stages = append(stages, stage)
	if !stage.Success {
		return p.fail(stages, start, StageTextGeneration, stage.Error)
	}

	imagePaths, keptProducts, keptDescriptions, stage := p.stageDownloadImages(ctx, filtered, descriptions)
	stages = append(stages, stage)
	if !stage.Success {
		return p.fail(stages, start, StageImageDownload, stage.Error)
	}

	cardPaths, stage := p.stageComposeCards(keptProducts, imagePaths)
	stages = append(stages, stage)
	if !stage.Success {
		return p.fail(stages, start, StageCardComposition, stage.Error)
	}

	broadcastMsgID, stage := p.stageBroadcastPublish(ctx, keptProducts, cardPaths, keptDescriptions)
	stages = append(stages, stage)
	if !stage.Success {
		return p.fail(stages, start, StageBroadcastPublish, stage.Error)
	}

	mirrorPostID, stage := p.stageMirrorPublish(ctx, keptProducts, cardPaths)
	stages = append(stages, stage)
	if !stage.Success && p.notifier != nil {
		if nerr := p.notifier.PartialFailure(ctx, string(StageMirrorPublish), stage.Error); nerr != nil {
			log.Printf("pipeline: partial failure notification failed: %v", nerr)
		}
	}

	_, stage = p.stagePersist(keptProducts, broadcastMsgID, mirrorPostID)
	stages = append(stages, stage)
	if !stage.Success {
		log.Printf("pipeline: persist failed, earlier publish side effects stand: %v", stage.Error)
	}

	if p.images != nil {
		p.images.Purge()
	}

	elapsed := time.Since(start)
	if p.notifier != nil {
		if nerr := p.notifier.Success(ctx, len(keptProducts), elapsed, broadcastMsgID); nerr != nil {
			log.Printf("pipeline: success notification failed: %v", nerr)
		}
	}

	return &PipelineResult{
		Success:            true,
		Stages:             stages,
		ProductsCount:      len(keptProducts),
		BroadcastMessageID: broadcastMsgID,
		MirrorPostID:       mirrorPostID,
		Elapsed:            elapsed,
	}
}

func (p *Pipeline) fail(stages []StageResult, start time.Time, failedStage Stage, cause error) *PipelineResult {
	if p.images != nil {
		p.images.Purge()
	}
	if p.notifier != nil {
		if nerr := p.notifier.Failure(context.Background(), string(failedStage), cause); nerr != nil {
			log.Printf("pipeline: failure notification failed: %v", nerr)
		}
	}
	return &PipelineResult{
		Success:     false,
		Stages:      stages,
		Elapsed:     time.Since(start),
		FailedStage: failedStage,
	}
}

// stageFetch is Stage 1 (§4.2): today's category rotation, per-key
// primary fetch with cached-row fallback, an optional secondary-source
// slice under one randomly chosen key, then a shuffle to interleave
// sources.
func (p *Pipeline) stageFetch(ctx context.Context, categoryHint string) ([]models.RawProduct, StageResult) {
	start := time.Now()

	var categories []string
	if categoryHint != "" {
		categories = []string{categoryHint}
	} else {
		categories = pinduoduo.DailyCategories(time.Now().UTC().YearDay())
	}

	var all []models.RawProduct
	for _, key := range categories {
		fetched, err := p.primary.Fetch(ctx, key, p.productsPerSource)
		if err == nil && len(fetched) > 0 {
			for i := range fetched {
				fetched[i].CategoryKey = key
				if fetched[i].Source == "" {
					fetched[i].Source = models.SourcePrimary
				}
			}
			all = append(all, fetched...)
			if p.products != nil {
				for _, rp := range fetched {
					if uerr := p.products.Upsert(rawToPersisted(rp)); uerr != nil {
						log.Printf("pipeline: failed to cache product %s: %v", rp.ID, uerr)
					}
				}
			}
			continue
		}

		log.Printf("pipeline: primary fetch for category %q failed (%v), falling back to cache", key, err)
		if p.products == nil {
			continue
		}
		cached, cacheErr := p.products.ByCategory(key, p.productsPerSource)
		if cacheErr != nil || len(cached) == 0 {
			log.Printf("pipeline: no cached fallback available for category %q", key)
			continue
		}
		all = append(all, persistedToRaw(cached, key)...)
	}

	if p.secondary != nil && len(categories) > 0 {
		key := categories[p.rng.Intn(len(categories))]
		secFetched, err := p.secondary.Fetch(ctx, key, p.productsPerSource)
		if err != nil {
			log.Printf("pipeline: secondary fetch for category %q failed: %v", key, err)
		} else {
			for i := range secFetched {
				secFetched[i].CategoryKey = key
				if secFetched[i].Source == "" {
					secFetched[i].Source = models.SourceSecondary
				}
			}
			all = append(all, secFetched...)
		}
	}

	p.rng.Shuffle(len(all), func(i, j int) { all[i], all[j] = all[j], all[i] })

	duration := time.Since(start)
	if len(all) == 0 {
		return nil, StageResult{Stage: StageFetch, Success: false, Duration: duration, Error: fmt.Errorf("no products available from any source or cached fallback")}
	}
	return all, StageResult{Stage: StageFetch, Success: true, Duration: duration}
}

func rawToPersisted(p models.RawProduct) *models.PersistedProduct {
	return &models.PersistedProduct{
		SourceID:    p.ID,
		Title:       p.Title,
		PriceNative: p.PriceNative,
		ImageURL:    p.ImageURL,
		Rating:      p.Rating,
		Discount:    p.DiscountPct,
		SalesCount:  p.SalesCount,
		Category:    p.CategoryKey,
	}
}

func persistedToRaw(rows []models.PersistedProduct, categoryKey string) []models.RawProduct {
	out := make([]models.RawProduct, len(rows))
	for i, r := range rows {
		out[i] = models.RawProduct{
			ID:          r.SourceID,
			Title:       r.Title,
			PriceNative: r.PriceNative,
			ImageURL:    r.ImageURL,
			Rating:      r.Rating,
			DiscountPct: r.Discount,
			SalesCount:  r.SalesCount,
			Source:      models.SourcePrimary,
			CategoryKey: categoryKey,
		}
	}
	return out
}

// stageConvertPrices is Stage 2 (§4.2): fetch the CNY->local rate once
// and apply ConvertPrice to every raw product.
func (p *Pipeline) stageConvertPrices(ctx context.Context, raw []models.RawProduct) ([]models.Product, StageResult) {
	start := time.Now()

	rate, err := p.currency.Rate(ctx, "CNY", p.currencyCode)
	if err != nil {
		return nil, StageResult{Stage: StagePriceConversion, Success: false, Duration: time.Since(start), Error: err}
	}

	runDate := time.Now().UTC().Format("2006-01-02")
	products := make([]models.Product, len(raw))
	for i, r := range raw {
		products[i] = ConvertPrice(r, rate, markupRand(r.ID, runDate))
	}
	return products, StageResult{Stage: StagePriceConversion, Success: true, Duration: time.Since(start)}
}

// stageFilterRank is Stage 3 (§4.2).
func (p *Pipeline) stageFilterRank(products []models.Product) ([]models.Product, StageResult) {
	start := time.Now()
	filtered := FilterAndRank(products, p.filterCfg)
	if len(filtered) == 0 {
		return nil, StageResult{Stage: StageFilterRank, Success: false, Duration: time.Since(start), Error: fmt.Errorf("no products passed the discount/rating thresholds")}
	}
	return filtered, StageResult{Stage: StageFilterRank, Success: true, Duration: time.Since(start)}
}

// stageGenerateText is Stage 4 (§4.2). TextGenerator.GenerateBatch
// never fails the stage itself — per-product LLM failures are
// substituted with a fallback template inside the generator.
func (p *Pipeline) stageGenerateText(ctx context.Context, products []models.Product) ([]string, StageResult) {
	start := time.Now()
	descriptions := p.textgen.GenerateBatch(ctx, products)
	return descriptions, StageResult{Stage: StageTextGeneration, Success: true, Duration: time.Since(start)}
}

// stageDownloadImages is Stage 5 (§4.2). Products whose image could
// not be downloaded after retry are dropped, along with their paired
// description, so later stages stay index-aligned.
func (p *Pipeline) stageDownloadImages(ctx context.Context, products []models.Product, descriptions []string) ([]string, []models.Product, []string, StageResult) {
	start := time.Now()

	urls := make([]string, len(products))
	for i, pr := range products {
		urls[i] = pr.ImageURL
	}
	results := p.images.DownloadAll(ctx, urls)

	var paths []string
	var kept []models.Product
	var keptDesc []string
	for i, r := range results {
		if r.Err != nil || r.Path == "" {
			log.Printf("pipeline: image download failed for product %s: %v", products[i].ID, r.Err)
			continue
		}
		paths = append(paths, r.Path)
		kept = append(kept, products[i])
		if i < len(descriptions) {
			keptDesc = append(keptDesc, descriptions[i])
		} else {
			keptDesc = append(keptDesc, "")
		}
	}

	duration := time.Since(start)
	if len(paths) == 0 {
		return nil, nil, nil, StageResult{Stage: StageImageDownload, Success: false, Duration: duration, Error: fmt.Errorf("failed to download any product image")}
	}
	return paths, kept, keptDesc, StageResult{Stage: StageImageDownload, Success: true, Duration: duration}
}

// stageComposeCards is Stage 6 (§4.2). A per-item composition failure
// falls back to the plain downloaded image rather than dropping the
// product.
func (p *Pipeline) stageComposeCards(products []models.Product, imagePaths []string) ([]string, StageResult) {
	start := time.Now()

	n := len(products)
	if len(imagePaths) < n {
		n = len(imagePaths)
	}

	cardPaths := make([]string, 0, n)
	for i := 0; i < n; i++ {
		pr := products[i]
		outPath := imagePaths[i] + ".card.jpg"
		if err := p.cards.ComposeCard(imagePaths[i], outPath, pr.PriceLocal, pr.OldPriceLocal, pr.DiscountPct, p.currencyCode); err != nil {
			log.Printf("pipeline: card composition failed for %s, using original image: %v", pr.ID, err)
			cardPaths = append(cardPaths, imagePaths[i])
			continue
		}
		cardPaths = append(cardPaths, outPath)
	}
	return cardPaths, StageResult{Stage: StageCardComposition, Success: true, Duration: time.Since(start)}
}

// stageBroadcastPublish is Stage 7 (§4.2): an intro message, then a
// media group whose per-photo caption is the generated description
// plus the deterministic price block.
func (p *Pipeline) stageBroadcastPublish(ctx context.Context, products []models.Product, cardPaths []string, descriptions []string) (string, StageResult) {
	start := time.Now()

	introText := "🔥 <b>Горячая подборка товаров!</b>\n\nНажмите на фото, чтобы увидеть описание и цену 👇"
	if _, err := p.broadcast.SendMessage(ctx, introText); err != nil {
		log.Printf("pipeline: intro message failed: %v", err)
	}

	n := len(cardPaths)
	if len(products) < n {
		n = len(products)
	}
	items := make([]broadcast.MediaItem, 0, n)
	for i := 0; i < n; i++ {
		desc := ""
		if i < len(descriptions) {
			desc = descriptions[i]
		}
		items = append(items, broadcast.MediaItem{
			Path:    cardPaths[i],
			Caption: buildBroadcastCaption(desc, products[i], p.currencyCode),
		})
	}

	messageID, err := p.broadcast.SendMediaGroup(ctx, items, "")
	duration := time.Since(start)
	if err != nil {
		return "", StageResult{Stage: StageBroadcastPublish, Success: false, Duration: duration, Error: err}
	}
	return fmt.Sprintf("%d", messageID), StageResult{Stage: StageBroadcastPublish, Success: true, Duration: duration}
}

// stageMirrorPublish is Stage 8 (§4.2), non-fatal: a nil Mirror
// publisher (mirroring disabled by config) is treated as a clean skip,
// never as a failure.
func (p *Pipeline) stageMirrorPublish(ctx context.Context, products []models.Product, cardPaths []string) (string, StageResult) {
	start := time.Now()

	if p.mirror == nil {
		return "", StageResult{Stage: StageMirrorPublish, Success: true, Duration: time.Since(start)}
	}

	category := dominantCategory(products)
	title := ""
	if len(products) > 0 {
		title = products[0].Title
	}
	hashtags := GenerateHashtags(category, title, p.rng)
	body := formatMirrorCaptionBody(products, p.currencyCode)
	caption := mirror.BuildCaption(body, hashtags)

	imageURLs := make([]string, len(cardPaths))
	for i, path := range cardPaths {
		imageURLs[i] = "file://" + path
	}

	mediaID, _, err := p.mirror.PublishCarousel(ctx, imageURLs, caption)
	duration := time.Since(start)
	if err != nil {
		return "", StageResult{Stage: StageMirrorPublish, Success: false, Duration: duration, Error: err}
	}
	return mediaID, StageResult{Stage: StageMirrorPublish, Success: true, Duration: duration}
}

func dominantCategory(products []models.Product) string {
	counts := make(map[string]int)
	order := make([]string, 0, 4)
	for _, p := range products {
		if p.CategoryKey == "" {
			continue
		}
		if counts[p.CategoryKey] == 0 {
			order = append(order, p.CategoryKey)
		}
		counts[p.CategoryKey]++
	}
	best, bestCount := "", 0
	for _, key := range order {
		if counts[key] > bestCount {
			best, bestCount = key, counts[key]
		}
	}
	return best
}

// stagePersist is Stage 9 (§4.2): the broadcast message ID is always
// available by this point; the mirror post ID is present only when
// Stage 8 succeeded before Persist runs (§5 ordering guarantee).
func (p *Pipeline) stagePersist(products []models.Product, broadcastMessageID, mirrorPostID string) (*models.Post, StageResult) {
	start := time.Now()

	productsJSON, err := json.Marshal(products)
	if err != nil {
		return nil, StageResult{Stage: StagePersist, Success: false, Duration: time.Since(start), Error: err}
	}

	status := models.PostBroadcastOnly
	switch {
	case mirrorPostID != "":
		status = models.PostPublished
	case p.mirror != nil:
		status = models.PostMirrorFailed
	}

	post := &models.Post{
		ProductsJSON: string(productsJSON),
		Status:       status,
	}
	if broadcastMessageID != "" {
		post.BroadcastMessageID = &broadcastMessageID
	}
	if mirrorPostID != "" {
		post.MirrorPostID = &mirrorPostID
	}

	if err := p.posts.Create(post); err != nil {
		return nil, StageResult{Stage: StagePersist, Success: false, Duration: time.Since(start), Error: err}
	}
	return post, StageResult{Stage: StagePersist, Success: true, Duration: time.Since(start)}
}
