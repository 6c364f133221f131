package client

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/pkg/errors"
)

func parseHTML(body []byte) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse page")
	}
	return doc, nil
}

// ExtractCSRFToken reads the anti-forgery token from the page's
// <meta name="csrf-token"> tag.
func ExtractCSRFToken(body []byte) (string, error) {
	doc, err := parseHTML(body)
	if err != nil {
		return "", err
	}
	if token := metaToken(doc); token != "" {
		return token, nil
	}
	return "", ErrCSRFTokenMissing
}

// extractFormToken prefers the authenticity_token hidden input of a form
// and falls back to the meta tag.
func extractFormToken(body []byte) (string, error) {
	doc, err := parseHTML(body)
	if err != nil {
		return "", err
	}
	token := strings.TrimSpace(doc.Find(`form input[name="authenticity_token"]`).First().AttrOr("value", ""))
	if token != "" {
		return token, nil
	}
	if token := metaToken(doc); token != "" {
		return token, nil
	}
	return "", ErrCSRFTokenMissing
}

func metaToken(doc *goquery.Document) string {
	return strings.TrimSpace(doc.Find(`meta[name="csrf-token"]`).First().AttrOr("content", ""))
}
