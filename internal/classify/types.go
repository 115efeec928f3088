// Package classify holds the request and result types shared by the
// classifiers, the cache and the dispatcher.
package classify

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
)

// Kind is the type of content being classified.
type Kind int

const (
	Image Kind = iota
	Text
	URL
)

func (k Kind) String() string {
	switch k {
	case Image:
		return "image"
	case Text:
		return "text"
	case URL:
		return "url"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Title is the capitalized form used in activity log lines.
func (k Kind) Title() string {
	switch k {
	case Image:
		return "Image"
	case Text:
		return "Text"
	case URL:
		return "URL"
	default:
		return k.String()
	}
}

// ParseKind accepts the wire names image, text and url.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "image":
		return Image, nil
	case "text":
		return Text, nil
	case "url":
		return URL, nil
	}
	return 0, fmt.Errorf("unknown content type %q", s)
}

// Labels.
const (
	Safe = "safe"
	NSFW = "nsfw"
)

// Actions.
const (
	Allow = "allow"
	Blur  = "blur"
	Block = "block"
)

// Source tells where a verdict came from.
type Source string

const (
	Remote Source = "remote"
	Local  Source = "local"
)

// Request is one piece of content to classify. Build it with NewRequest so
// the fingerprint is always set.
type Request struct {
	Kind        Kind
	Payload     string
	Fingerprint string
}

// NewRequest builds a request and derives its cache fingerprint.
// Images carry base64 data, Text raw text, URL an absolute URL.
func NewRequest(kind Kind, payload string) Request {
	if kind == URL {
		payload = strings.TrimSpace(payload)
	}
	return Request{
		Kind:        kind,
		Payload:     payload,
		Fingerprint: Fingerprint(kind, payload),
	}
}

// Fingerprint derives the cache key for a payload. URLs are keyed on their
// normalized form, everything else on a SHA-256 digest of the full payload.
func Fingerprint(kind Kind, payload string) string {
	if kind == URL {
		return "url:" + normalizeURL(payload)
	}
	sum := sha256.Sum256([]byte(payload))
	return kind.String() + ":" + hex.EncodeToString(sum[:])
}

func normalizeURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return strings.TrimSpace(raw)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	return u.String()
}

// Result is a classifier verdict.
type Result struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Action     string  `json:"action"`
	Reason     string  `json:"reason,omitempty"`
	Source     Source  `json:"source"`
}

// Verdict folds label and action into blocked, blurred or allowed.
// nsfw content is blocked unless the classifier asked for a blur.
func (r Result) Verdict() string {
	if r.Label != NSFW {
		return "allowed"
	}
	if r.Action == Blur {
		return "blurred"
	}
	return "blocked"
}

// Decision is the render decision for the caller.
func (r Result) Decision() string {
	switch r.Verdict() {
	case "blocked":
		return Block
	case "blurred":
		return Blur
	default:
		return Allow
	}
}

// LogAction renders the activity-log line for a classified request,
// e.g. "Image blocked" or "URL allowed".
func LogAction(kind Kind, r Result) string {
	return kind.Title() + " " + r.Verdict()
}

// AllowResult is a locally decided pass-through verdict.
func AllowResult(reason string) Result {
	return Result{Label: Safe, Confidence: 0, Action: Allow, Reason: reason, Source: Local}
}

// Classifier turns a request into a verdict.
type Classifier interface {
	Classify(ctx context.Context, req Request) (Result, error)
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(ctx context.Context, req Request) (Result, error)

func (f ClassifierFunc) Classify(ctx context.Context, req Request) (Result, error) {
	return f(ctx, req)
}
