// Package blobstore persists published articles in content-addressed storage
// and lists them back by application tag.
package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base32"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"sovereign-journalist/internal/model"
)

const (
	// AppTag marks every pin written by this service; listing filters on it.
	AppTag = "sovereign-journalist"

	ListLimit     = 20
	maxTitleRunes = 200
	maxDocSize    = 2 << 20
)

// Store is the content-addressed backend. Pin returns the content identifier
// of the stored document; Fetch returns the document bytes exactly as pinned.
type Store interface {
	Pin(ctx context.Context, article model.IPFSArticle) (string, error)
	List(ctx context.Context) ([]model.PublishedArticle, error)
	Fetch(ctx context.Context, cid string) ([]byte, error)
	// GatewayURL is a public link to the raw document, or "" if there is none.
	GatewayURL(cid string) string
}

// PinMetadata is the searchable metadata attached to a pin.
type PinMetadata struct {
	Name      string            `json:"name"`
	KeyValues map[string]string `json:"keyvalues"`
}

func MetadataFor(article model.IPFSArticle) PinMetadata {
	kv := map[string]string{
		"app":         AppTag,
		"title":       truncateRunes(article.Article.Title, maxTitleRunes),
		"publishedAt": article.PublishedAt,
	}
	if article.Article.Confidence != nil {
		kv["confidenceScore"] = strconv.Itoa(*article.Article.Confidence)
	}
	return PinMetadata{Name: "sj-" + article.Verification.ProofHash, KeyValues: kv}
}

// projection builds the feed entry for one pin from its metadata.
func projection(cid string, kv map[string]string, pinnedAt string) model.PublishedArticle {
	title := kv["title"]
	if title == "" {
		title = "Untitled"
	}
	score, _ := strconv.Atoi(kv["confidenceScore"])
	published := kv["publishedAt"]
	if published == "" {
		published = pinnedAt
	}
	return model.PublishedArticle{
		CID:             cid,
		Title:           title,
		Subtitle:        "",
		ConfidenceScore: score,
		Tags:            []string{},
		PublishedAt:     published,
	}
}

var cidPattern = regexp.MustCompile(`^[A-Za-z0-9]{10,128}$`)

// ValidCID reports whether s looks like a content identifier. It guards the
// gateway and object key paths against traversal.
func ValidCID(s string) bool {
	return cidPattern.MatchString(s)
}

var cidEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// CID computes a CIDv1 (raw codec, sha2-256 multihash) in base32 multibase.
func CID(data []byte) string {
	sum := sha256.Sum256(data)
	buf := make([]byte, 0, 4+len(sum))
	buf = append(buf, 0x01, 0x55, 0x12, 0x20)
	buf = append(buf, sum[:]...)
	return "b" + strings.ToLower(cidEncoding.EncodeToString(buf))
}

// encodeDocument produces the bytes that get pinned.
func encodeDocument(article model.IPFSArticle) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(article); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
