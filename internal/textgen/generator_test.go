package textgen

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/tulparexpress/autopost-bot/internal/models"
)

func testProduct() models.Product {
	return models.Product{
		RawProduct:    models.RawProduct{ID: "p1", Title: "Wireless earbuds"},
		PriceLocal:    decimal.NewFromInt(999),
		OldPriceLocal: decimal.NewFromInt(1499),
		DiscountPct:   33,
	}
}

func TestGenerateReturnsContentOnSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"Беспроводные наушники, отличный звук!"}}]}`))
	}))
	defer server.Close()

	g := New(server.URL, "test-key", "openai/gpt-4o-mini", "tulparexpress_support", 5*time.Second)
	out := g.Generate(nil, testProduct())
	assert.Equal(t, "Беспроводные наушники, отличный звук!", out)
}

func TestGenerateFallsBackOn5xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	g := New(server.URL, "test-key", "openai/gpt-4o-mini", "tulparexpress_support", 5*time.Second)
	out := g.Generate(nil, testProduct())
	assert.Contains(t, out, "Wireless earbuds")
	assert.Contains(t, out, "@tulparexpress_support")
}

func TestGenerateFallsBackOnEmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer server.Close()

	g := New(server.URL, "test-key", "openai/gpt-4o-mini", "tulparexpress_support", 5*time.Second)
	out := g.Generate(nil, testProduct())
	assert.Contains(t, out, "@tulparexpress_support")
}

func TestGenerateFallsBackOnEmptyContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"   "}}]}`))
	}))
	defer server.Close()

	g := New(server.URL, "test-key", "openai/gpt-4o-mini", "tulparexpress_support", 5*time.Second)
	out := g.Generate(nil, testProduct())
	assert.Contains(t, out, "@tulparexpress_support")
}

func TestGenerateBatchIsParallelToInput(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"desc"}}]}`))
	}))
	defer server.Close()

	g := New(server.URL, "test-key", "openai/gpt-4o-mini", "tulparexpress_support", 5*time.Second)
	products := []models.Product{testProduct(), testProduct(), testProduct()}
	out := g.GenerateBatch(nil, products)
	assert.Len(t, out, 3)
	for _, d := range out {
		assert.Equal(t, "desc", d)
	}
}

func TestFallbackTruncatesLongTitle(t *testing.T) {
	g := New("", "", "", "tulparexpress_support", time.Second)
	p := testProduct()
	p.Title = ""
	for i := 0; i < 100; i++ {
		p.Title += "x"
	}
	out := g.fallback(p)
	assert.LessOrEqual(t, len(out), 80+len("🛒 \n\n📩 Для заказа: @tulparexpress_support"))
}
