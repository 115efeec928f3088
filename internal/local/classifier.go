// Package local classifies content without a backend: keyword matching for
// text, a host blocklist for URLs, and a domain allowlist.
package local

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"regexp"
	"strings"

	"github.com/runnerr0/filterx/internal/classify"
)

// Classifier is the offline classifier used in local mode.
type Classifier struct {
	keywords  []*regexp.Regexp
	terms     []string
	blocklist []string
}

// New compiles the keyword list and normalizes the blocklist.
func New(keywords, blocklist []string) *Classifier {
	c := &Classifier{}
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" {
			continue
		}
		c.terms = append(c.terms, k)
		c.keywords = append(c.keywords, regexp.MustCompile(`(?i)\b`+regexp.QuoteMeta(k)+`\b`))
	}
	for _, b := range blocklist {
		b = strings.ToLower(strings.TrimSpace(b))
		if b != "" {
			c.blocklist = append(c.blocklist, b)
		}
	}
	return c
}

// Classify implements classify.Classifier.
func (c *Classifier) Classify(ctx context.Context, req classify.Request) (classify.Result, error) {
	if err := ctx.Err(); err != nil {
		return classify.Result{}, err
	}
	switch req.Kind {
	case classify.Text:
		return c.classifyText(req.Payload), nil
	case classify.URL:
		return c.classifyURL(req.Payload), nil
	case classify.Image:
		return classifyImage(req.Payload), nil
	}
	return classify.Result{}, fmt.Errorf("unsupported kind %s", req.Kind)
}

func (c *Classifier) classifyText(text string) classify.Result {
	var hits []string
	for i, re := range c.keywords {
		if re.MatchString(text) {
			hits = append(hits, c.terms[i])
		}
	}
	if len(hits) == 0 {
		return classify.Result{Label: classify.Safe, Confidence: 0.2, Action: classify.Allow, Source: classify.Local}
	}
	conf := 0.5 + 0.12*float64(len(hits))
	if conf > 0.99 {
		conf = 0.99
	}
	return classify.Result{
		Label:      classify.NSFW,
		Confidence: conf,
		Action:     classify.Blur,
		Reason:     "matched keywords: " + strings.Join(hits, ", "),
		Source:     classify.Local,
	}
}

func (c *Classifier) classifyURL(raw string) classify.Result {
	lower := strings.ToLower(raw)
	for _, b := range c.blocklist {
		if strings.Contains(lower, b) {
			return classify.Result{
				Label:      classify.NSFW,
				Confidence: 0.95,
				Action:     classify.Block,
				Reason:     "blocklisted: " + b,
				Source:     classify.Local,
			}
		}
	}
	return classify.Result{Label: classify.Safe, Confidence: 0.1, Action: classify.Allow, Source: classify.Local}
}

// classifyImage only validates the image; there is no local image model.
func classifyImage(payload string) classify.Result {
	data, err := classify.DecodeImage(payload)
	if err != nil {
		return classify.AllowResult("invalid image data")
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return classify.AllowResult("invalid image data")
	}
	return classify.AllowResult(fmt.Sprintf("%s %dx%d, no local image model", format, cfg.Width, cfg.Height))
}
