// Package imagefetch implements the Image Downloader (§4.6):
// bounded-concurrency parallel fetch with per-URL retry, CDN
// host-substitution, format sniffing, and a scratch-directory
// lifecycle, grounded on original_source's image_service.py.
package imagefetch

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/tulparexpress/autopost-bot/internal/apierr"
)

const (
	maxConcurrency  = 5
	maxRetries      = 3
	retryDelay      = 2 * time.Second
	interTaskDelay  = 500 * time.Millisecond
	minContentBytes = 1024
)

var aliCDNHostPattern = regexp.MustCompile(`(gd\d|img|gw|cbu\d+)\.alicdn\.com`)
var aliCDNAlternatives = []string{"img.alicdn.com", "gw.alicdn.com", "cbu01.alicdn.com"}

var contentTypeExt = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/webp": "webp",
}

var magicBytes = []struct {
	prefix []byte
	ext    string
}{
	{[]byte{0xff, 0xd8, 0xff}, "jpg"},
	{[]byte("\x89PNG"), "png"},
	{[]byte("RIFF"), "webp"},
}

// Result is one download outcome, parallel to the input URL slice.
type Result struct {
	Path string
	Err  error
}

type Downloader struct {
	http    *resty.Client
	tempDir string
	mu      sync.Mutex
	created []string
}

func New(timeout time.Duration) (*Downloader, error) {
	tempDir := filepath.Join(os.TempDir(), "tulpar_images")
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create image temp dir: %w", err)
	}
	httpClient := resty.New().SetTimeout(timeout)
	return &Downloader{http: httpClient, tempDir: tempDir}, nil
}

// DownloadAll fetches every URL with bounded concurrency (≤5) and a
// small inter-task delay to spread load (§4.6), returning one Result
// per input URL in the same order.
func (d *Downloader) DownloadAll(ctx context.Context, urls []string) []Result {
	results := make([]Result, len(urls))
	sem := make(chan struct{}, maxConcurrency)
	var wg sync.WaitGroup

	for i, url := range urls {
		wg.Add(1)
		go func(i int, url string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			time.Sleep(interTaskDelay)
			path, err := d.download(ctx, url)
			results[i] = Result{Path: path, Err: err}
		}(i, url)
	}
	wg.Wait()
	return results
}

func validateURL(url string) bool {
	return strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://")
}

func alternativeURLs(url string) []string {
	urls := []string{url}
	if !strings.Contains(url, "alicdn.com") {
		return urls
	}
	for _, alt := range aliCDNAlternatives {
		altURL := aliCDNHostPattern.ReplaceAllString(url, alt)
		if altURL != url && !contains(urls, altURL) {
			urls = append(urls, altURL)
		}
	}
	return urls
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func (d *Downloader) download(ctx context.Context, imageURL string) (string, error) {
	if !validateURL(imageURL) {
		return "", &apierr.PermanentUpstream{Op: "imagefetch", StatusCode: 0, Body: "invalid URL: " + imageURL}
	}

	content, contentType, err := d.downloadWithRetry(ctx, imageURL)
	if err != nil {
		return "", err
	}

	ext := detectFormat(content, contentType, imageURL)
	filename := uuid.New().String() + "." + ext
	path := filepath.Join(d.tempDir, filename)

	if err := os.WriteFile(path, content, 0o644); err != nil {
		return "", fmt.Errorf("failed to write downloaded image: %w", err)
	}

	d.mu.Lock()
	d.created = append(d.created, path)
	d.mu.Unlock()

	return path, nil
}

func (d *Downloader) downloadWithRetry(ctx context.Context, imageURL string) ([]byte, string, error) {
	var lastErr error
	for _, tryURL := range alternativeURLs(imageURL) {
		for attempt := 0; attempt < maxRetries; attempt++ {
			resp, err := d.http.R().SetContext(ctx).Get(tryURL)
			if err == nil && resp.StatusCode() < 400 && len(resp.Body()) >= minContentBytes {
				return resp.Body(), resp.Header().Get("Content-Type"), nil
			}
			if err != nil {
				lastErr = &apierr.TransientUpstream{Op: "imagefetch", Err: err}
			} else if resp.StatusCode() >= 400 {
				lastErr = &apierr.TransientUpstream{Op: "imagefetch", Err: fmt.Errorf("status %d", resp.StatusCode())}
			} else {
				lastErr = &apierr.SchemaMismatch{Source: "imagefetch", Field: "content_length"}
			}
			if attempt < maxRetries-1 {
				time.Sleep(retryDelay * time.Duration(attempt+1))
			}
		}
	}
	return nil, "", &apierr.TransientUpstream{Op: "imagefetch", Err: fmt.Errorf("all download attempts failed for %s: %w", imageURL, lastErr)}
}

func detectFormat(content []byte, contentType, url string) string {
	if ct := strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0])); ct != "" {
		if ext, ok := contentTypeExt[ct]; ok {
			return ext
		}
	}
	for _, m := range magicBytes {
		if bytes.HasPrefix(content, m.prefix) {
			return m.ext
		}
	}
	urlPath := strings.ToLower(strings.Split(url, "?")[0])
	for _, ext := range []string{"jpeg", "jpg", "png", "webp"} {
		if strings.HasSuffix(urlPath, "."+ext) {
			if ext == "jpeg" {
				return "jpg"
			}
			return ext
		}
	}
	return "jpg"
}

// Purge removes every file this Downloader has created, for use at
// the end of a pipeline run.
func (d *Downloader) Purge() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, path := range d.created {
		_ = os.Remove(path)
	}
	d.created = nil
}
