package taobao

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseProductSkipsMissingID(t *testing.T) {
	item := searchItem{Title: "widget", Price: priceObject{OriginalPrice: 10.0}}
	_, ok := parseProduct(item)
	assert.False(t, ok)
}

func TestParseProductSkipsZeroPrice(t *testing.T) {
	item := searchItem{ID: "1", Title: "widget", Price: priceObject{OriginalPrice: 0.0}}
	_, ok := parseProduct(item)
	assert.False(t, ok)
}

func TestParseProductFallsBackToOriginalTitle(t *testing.T) {
	item := searchItem{
		ID:            "1",
		OriginalTitle: "原始标题",
		Price:         priceObject{OriginalPrice: 50.0},
		MainPictureURL: "https://example.com/a.jpg",
	}
	p, ok := parseProduct(item)
	assert.True(t, ok)
	assert.Equal(t, "原始标题", p.Title)
}

func TestParseProductUsesProtocolRelativePictureURL(t *testing.T) {
	item := searchItem{
		ID:    "1",
		Title: "widget",
		Price: priceObject{OriginalPrice: 50.0},
		Pictures: []struct {
			URL string `json:"Url"`
		}{{URL: "//img.example.com/a.jpg"}},
	}
	p, ok := parseProduct(item)
	assert.True(t, ok)
	assert.Equal(t, "https://img.example.com/a.jpg", p.ImageURL)
}

func TestParseProductRescalesVendorScore(t *testing.T) {
	item := searchItem{
		ID:             "1",
		Title:          "widget",
		Price:          priceObject{OriginalPrice: 50.0},
		MainPictureURL: "https://example.com/a.jpg",
		VendorScore:    20.0,
	}
	p, ok := parseProduct(item)
	assert.True(t, ok)
	assert.Equal(t, 5.0, p.Rating)
}

func TestParseProductComputesDiscountFromMarginPrice(t *testing.T) {
	item := searchItem{
		ID:             "1",
		Title:          "widget",
		Price:          priceObject{OriginalPrice: 50.0, MarginPrice: 100.0},
		MainPictureURL: "https://example.com/a.jpg",
	}
	p, ok := parseProduct(item)
	assert.True(t, ok)
	assert.Equal(t, 50, p.DiscountPct)
}

func TestParseProductSkipsMissingImage(t *testing.T) {
	item := searchItem{ID: "1", Title: "widget", Price: priceObject{OriginalPrice: 50.0}}
	_, ok := parseProduct(item)
	assert.False(t, ok)
}

func TestToFloatHandlesStringAndGarbage(t *testing.T) {
	assert.Equal(t, 3.5, toFloat("3.5"))
	assert.Equal(t, 0.0, toFloat("not-a-number"))
	assert.Equal(t, 4.0, toFloat(4))
}
