// Package scan fetches a page and classifies its URL, main text and images
// the way the extension's content script does in the browser.
package scan

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"
	"golang.org/x/sync/errgroup"

	"github.com/runnerr0/filterx/internal/classify"
	"github.com/runnerr0/filterx/internal/config"
	"github.com/runnerr0/filterx/internal/dispatcher"
)

const (
	maxPageBytes  = 5 << 20
	maxImageBytes = 10 << 20
)

// Classifier is the part of the dispatcher the scanner needs.
type Classifier interface {
	ClassifyURL(ctx context.Context, rawURL string) dispatcher.Outcome
	ClassifyText(ctx context.Context, text string) dispatcher.Outcome
	ClassifyImage(ctx context.Context, data string) dispatcher.Outcome
}

// Options tunes a Scanner. Zero values take the config defaults.
type Options struct {
	MinTextLength int
	MaxTextLength int
	MaxImages     int
	Concurrency   int
	Timeout       time.Duration
	UserAgent     string
	HTTPClient    *http.Client
	Logger        *slog.Logger
}

// Item is one classified piece of a page.
type Item struct {
	Kind    string             `json:"kind"`
	Source  string             `json:"source"`
	Outcome dispatcher.Outcome `json:"outcome"`
}

// Report summarizes one scanned page.
type Report struct {
	URL     string `json:"url"`
	Title   string `json:"title,omitempty"`
	Page    Item   `json:"page"`
	Text    *Item  `json:"text,omitempty"`
	Images  []Item `json:"images"`
	Blocked int    `json:"blocked"`
	Blurred int    `json:"blurred"`
	Failed  int    `json:"failed"`
	// Skipped is set when the page URL itself was blocked and its content
	// was not fetched.
	Skipped bool `json:"skipped,omitempty"`
}

// Scanner classifies pages through a Classifier.
type Scanner struct {
	classifier Classifier
	opts       Options
	http       *http.Client
	logger     *slog.Logger
}

// New returns a scanner. Unset options fall back to the defaults.
func New(c Classifier, opts Options) *Scanner {
	def := config.DefaultConfig().Scan
	if opts.MinTextLength <= 0 {
		opts.MinTextLength = def.MinTextLength
	}
	if opts.MaxTextLength <= 0 {
		opts.MaxTextLength = def.MaxTextLength
	}
	if opts.MaxImages <= 0 {
		opts.MaxImages = def.MaxImages
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.Timeout <= 0 {
		opts.Timeout = time.Duration(def.TimeoutSeconds) * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = def.UserAgent
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{classifier: c, opts: opts, http: hc, logger: logger}
}

// FromConfig builds a scanner from the scan section of the config.
func FromConfig(c Classifier, cfg config.ScanConfig, concurrency int, logger *slog.Logger) *Scanner {
	return New(c, Options{
		MinTextLength: cfg.MinTextLength,
		MaxTextLength: cfg.MaxTextLength,
		MaxImages:     cfg.MaxImages,
		Concurrency:   concurrency,
		Timeout:       time.Duration(cfg.TimeoutSeconds) * time.Second,
		UserAgent:     cfg.UserAgent,
		Logger:        logger,
	})
}

// Scan classifies the page URL, then fetches the page and classifies its
// main text and images. A blocked page URL stops the scan.
func (s *Scanner) Scan(ctx context.Context, rawURL string) (*Report, error) {
	pageURL, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (pageURL.Scheme != "http" && pageURL.Scheme != "https") || pageURL.Host == "" {
		return nil, fmt.Errorf("invalid page url %q", rawURL)
	}

	report := &Report{URL: pageURL.String(), Images: []Item{}}
	report.Page = Item{Kind: classify.URL.String(), Source: report.URL,
		Outcome: s.classifier.ClassifyURL(ctx, report.URL)}
	report.tally(report.Page)
	if report.Page.Outcome.Decision() == classify.Block {
		report.Skipped = true
		return report, nil
	}

	body, err := s.fetch(ctx, report.URL, maxPageBytes)
	if err != nil {
		return nil, err
	}
	if err := s.scanDocument(ctx, pageURL, body, report); err != nil {
		return nil, err
	}
	return report, nil
}

// ScanHTML classifies the text and images of an already fetched document.
// The page URL is only used to resolve relative links.
func (s *Scanner) ScanHTML(ctx context.Context, pageURL *url.URL, body []byte) (*Report, error) {
	report := &Report{URL: pageURL.String(), Images: []Item{}}
	if err := s.scanDocument(ctx, pageURL, body, report); err != nil {
		return nil, err
	}
	return report, nil
}

func (s *Scanner) scanDocument(ctx context.Context, pageURL *url.URL, body []byte, report *Report) error {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("parse html: %w", err)
	}

	title, text := ExtractText(body, doc, pageURL)
	report.Title = title
	text = Truncate(text, s.opts.MaxTextLength)
	images := ExtractImages(doc, pageURL, s.opts.MaxImages)

	var textItem *Item
	imageItems := make([]Item, len(images))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Concurrency)

	if len([]rune(text)) >= s.opts.MinTextLength {
		textItem = &Item{Kind: classify.Text.String(), Source: excerpt(text)}
		g.Go(func() error {
			textItem.Outcome = s.classifier.ClassifyText(gctx, text)
			return gctx.Err()
		})
	} else {
		s.logger.Debug("page text too short, skipped", "url", report.URL, "chars", len([]rune(text)))
	}

	for i, src := range images {
		g.Go(func() error {
			imageItems[i] = s.classifyImage(gctx, src)
			return gctx.Err()
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	report.Text = textItem
	if textItem != nil {
		report.tally(*textItem)
	}
	for _, it := range imageItems {
		report.tally(it)
	}
	report.Images = imageItems
	return nil
}

func (s *Scanner) classifyImage(ctx context.Context, src string) Item {
	item := Item{Kind: classify.Image.String(), Source: src}
	if strings.HasPrefix(src, "data:") {
		item.Source = "data:"
		payload, ok := dataURLPayload(src)
		if !ok {
			item.Outcome = dispatcher.Outcome{Err: "classify image: unsupported data url"}
			return item
		}
		item.Outcome = s.classifier.ClassifyImage(ctx, payload)
		return item
	}

	data, err := s.fetch(ctx, src, maxImageBytes)
	if err != nil {
		s.logger.Debug("image fetch failed", "src", src, "error", err)
		item.Outcome = dispatcher.Outcome{Err: fmt.Sprintf("classify image: %v", err)}
		return item
	}
	item.Outcome = s.classifier.ClassifyImage(ctx, base64.StdEncoding.EncodeToString(data))
	return item
}

func (s *Scanner) fetch(ctx context.Context, target string, limit int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", s.opts.UserAgent)

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %d", target, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", target, err)
	}
	return data, nil
}

func (r *Report) tally(it Item) {
	if it.Outcome.Failed() {
		r.Failed++
		return
	}
	switch it.Outcome.Decision() {
	case classify.Block:
		r.Blocked++
	case classify.Blur:
		r.Blurred++
	}
}

// ExtractImages returns the absolute src (or data-src) of every <img>,
// deduplicated, in document order, at most max entries.
func ExtractImages(doc *goquery.Document, base *url.URL, max int) []string {
	seen := make(map[string]bool)
	var out []string
	doc.Find("img").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		src := strings.TrimSpace(sel.AttrOr("src", ""))
		if src == "" {
			src = strings.TrimSpace(sel.AttrOr("data-src", ""))
		}
		if src == "" {
			return true
		}
		if !strings.HasPrefix(src, "data:") {
			ref, err := url.Parse(src)
			if err != nil {
				return true
			}
			abs := base.ResolveReference(ref)
			if abs.Scheme != "http" && abs.Scheme != "https" {
				return true
			}
			src = abs.String()
		}
		if seen[src] {
			return true
		}
		seen[src] = true
		out = append(out, src)
		return max <= 0 || len(out) < max
	})
	return out
}

// ExtractText returns the page title and its main text with whitespace
// collapsed. Readability picks the main content; when it finds nothing the
// whole body is used.
func ExtractText(body []byte, doc *goquery.Document, pageURL *url.URL) (title, text string) {
	parser := readability.NewParser()
	article, err := parser.Parse(bytes.NewReader(body), pageURL)
	if err == nil {
		title = NormalizeSpace(article.Title)
		if content, err := goquery.NewDocumentFromReader(strings.NewReader(article.Content)); err == nil {
			text = NormalizeSpace(content.Text())
		}
	}
	if title == "" {
		title = NormalizeSpace(doc.Find("title").First().Text())
	}
	if text == "" {
		sel := doc.Find("body").Clone()
		sel.Find("script,style,noscript,template").Remove()
		text = NormalizeSpace(sel.Text())
	}
	return title, text
}

// NormalizeSpace collapses runs of whitespace into single spaces.
func NormalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func excerpt(s string) string {
	const n = 80
	if t := Truncate(s, n); t != s {
		return t + "..."
	}
	return s
}

// dataURLPayload returns the base64 payload of a data:image/...;base64 URL.
func dataURLPayload(src string) (string, bool) {
	meta, payload, ok := strings.Cut(strings.TrimPrefix(src, "data:"), ",")
	if !ok || !strings.HasPrefix(meta, "image/") || !strings.HasSuffix(meta, ";base64") {
		return "", false
	}
	return payload, true
}
