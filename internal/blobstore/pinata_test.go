package blobstore

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"sovereign-journalist/internal/apperr"
	"sovereign-journalist/internal/model"
)

func newPinataServer(t *testing.T, mux *http.ServeMux) *Pinata {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return NewPinata(PinataConfig{APIKey: "key", SecretKey: "secret", APIURL: srv.URL, Gateway: srv.URL}, nil)
}

func TestPinata_Pin(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/pinning/pinJSONToIPFS", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "key", r.Header.Get("pinata_api_key"))
		require.Equal(t, "secret", r.Header.Get("pinata_secret_api_key"))

		var body struct {
			PinataContent  model.IPFSArticle `json:"pinataContent"`
			PinataMetadata PinMetadata       `json:"pinataMetadata"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "Harbor", body.PinataContent.Article.Title)
		require.Equal(t, "sj-0123456789abcdef", body.PinataMetadata.Name)
		require.Equal(t, AppTag, body.PinataMetadata.KeyValues["app"])
		require.Equal(t, "64", body.PinataMetadata.KeyValues["confidenceScore"])

		io.WriteString(w, `{"IpfsHash":"bafybeigdyrzt5sfp7udm7hu76uh7y26nf3efuylqabf3oclgtqy55fbzdi","PinSize":1}`)
	})
	p := newPinataServer(t, mux)

	cid, err := p.Pin(context.Background(), sampleArticle("Harbor"))
	require.NoError(t, err)
	require.Equal(t, "bafybeigdyrzt5sfp7udm7hu76uh7y26nf3efuylqabf3oclgtqy55fbzdi", cid)
}

func TestPinata_PinFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/pinning/pinJSONToIPFS", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad key", http.StatusUnauthorized)
	})
	p := newPinataServer(t, mux)

	_, err := p.Pin(context.Background(), sampleArticle("Harbor"))
	require.ErrorIs(t, err, apperr.ErrUpstream)
}

func TestPinata_List(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/data/pinList", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		require.Equal(t, "pinned", q.Get("status"))
		require.Equal(t, "20", q.Get("pageLimit"))
		require.JSONEq(t, `{"value":"sovereign-journalist","op":"eq"}`, q.Get("metadata[keyvalues][app]"))

		io.WriteString(w, `{"count":2,"rows":[
			{"ipfs_pin_hash":"bafkreiaaaaaaaaaa","date_pinned":"2026-01-02T00:00:00.000Z","metadata":{"keyvalues":{"title":"First","publishedAt":"2026-01-01T23:59:00Z","confidenceScore":"81"}}},
			{"ipfs_pin_hash":"bafkreibbbbbbbbbb","date_pinned":"2026-01-03T00:00:00.000Z","metadata":{"keyvalues":null}}
		]}`)
	})
	p := newPinataServer(t, mux)

	list, err := p.List(context.Background())
	require.NoError(t, err)
	require.Equal(t, []model.PublishedArticle{
		{CID: "bafkreiaaaaaaaaaa", Title: "First", Subtitle: "", ConfidenceScore: 81, Tags: []string{}, PublishedAt: "2026-01-01T23:59:00Z"},
		{CID: "bafkreibbbbbbbbbb", Title: "Untitled", Subtitle: "", ConfidenceScore: 0, Tags: []string{}, PublishedAt: "2026-01-03T00:00:00.000Z"},
	}, list)
}

func TestPinata_ListFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/data/pinList", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	p := newPinataServer(t, mux)

	_, err := p.List(context.Background())
	require.ErrorIs(t, err, apperr.ErrUpstream)
}

func TestPinata_Fetch(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/ipfs/", func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "bafkreimissing00") {
			http.NotFound(w, r)
			return
		}
		io.WriteString(w, `{"title":"legacy"}`)
	})
	p := newPinataServer(t, mux)

	data, err := p.Fetch(context.Background(), "bafkreipresent00")
	require.NoError(t, err)
	require.JSONEq(t, `{"title":"legacy"}`, string(data))

	_, err = p.Fetch(context.Background(), "bafkreimissing00")
	require.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = p.Fetch(context.Background(), "bad/../cid")
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestMetadataFor_TruncatesTitle(t *testing.T) {
	long := strings.Repeat("é", 250)
	meta := MetadataFor(sampleArticle(long))
	require.Equal(t, 200, len([]rune(meta.KeyValues["title"])))

	a := sampleArticle("x")
	a.Article.Confidence = nil
	_, ok := MetadataFor(a).KeyValues["confidenceScore"]
	require.False(t, ok)
}
