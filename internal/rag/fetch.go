package rag

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"session-rag/internal/helper"
	"session-rag/internal/models"
	"session-rag/internal/parser"
)

// documents fetched from a URL may not be larger than this
var maxFetchBytes int64 = 64 << 20

var ErrDocumentTooLarge = errors.New("document too large")

// AddURL downloads a document and indexes it. Known file types go through the
// file parsers, HTML pages are reduced to their text and anything else is
// indexed as plain text.
func (r *RAG) AddURL(ctx context.Context, token, rawURL string) (*models.IngestResult, error) {
	if err := checkToken(token); err != nil {
		return nil, err
	}
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid document url: %q", rawURL)
	}

	text, err := r.fetch(ctx, u)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("url", rawURL).Int("bytes", len(text)).Msg("Fetched document")

	return r.AddDocument(ctx, token, text, rawURL)
}

// fetch downloads u within the configured fetch timeout and returns its text.
func (r *RAG) fetch(ctx context.Context, u *url.URL) (string, error) {
	if r.cfg.FetchTimeoutSecs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(r.cfg.FetchTimeoutSecs)*time.Second)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch %s: %w", u, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to fetch %s: %s", u, resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes+1))
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", u, err)
	}
	if int64(len(data)) > maxFetchBytes {
		return "", fmt.Errorf("%w: %s exceeds %d bytes", ErrDocumentTooLarge, u, maxFetchBytes)
	}
	return r.readFetched(ctx, u, resp.Header.Get("Content-Type"), data)
}

func (r *RAG) readFetched(ctx context.Context, u *url.URL, contentType string, data []byte) (string, error) {
	if name := path.Base(u.Path); parser.Supported(name) {
		tmp, err := helper.WriteTempFile(bytes.NewReader(data), path.Ext(name))
		if err != nil {
			return "", err
		}
		defer os.Remove(tmp)
		return parser.ParseFile(tmp)
	}

	mediaType, _, _ := mime.ParseMediaType(contentType)
	if strings.Contains(mediaType, "html") {
		return parser.ParseHTML(ctx, bytes.NewReader(data))
	}
	return string(data), nil
}
