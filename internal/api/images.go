// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ManuGH/u7d/internal/cache"
	"github.com/ManuGH/u7d/internal/log"
	"github.com/go-chi/chi/v5"
)

const (
	// DefaultImageBase is the head-end host serving channel logos and covers.
	DefaultImageBase = "http://html5-static.svc.imagenio.telefonica.net/appclientv/nux/incoming/epg"
	imageUserAgent   = "MICA-IP-STB"
	maxImageBytes    = 8 << 20
)

// ImageProxy relays logos and programme covers from the head-end.
type ImageProxy struct {
	base  string
	http  *http.Client
	cache cache.Cache
	ttl   time.Duration
}

// ImageOption customises an ImageProxy.
type ImageOption func(*ImageProxy)

// WithImageCache keeps fetched images in c for ttl.
func WithImageCache(c cache.Cache, ttl time.Duration) ImageOption {
	return func(p *ImageProxy) {
		p.cache = c
		p.ttl = ttl
	}
}

// NewImageProxy returns a proxy for base; empty base means DefaultImageBase.
func NewImageProxy(base string, h *http.Client, opts ...ImageOption) *ImageProxy {
	if base == "" {
		base = DefaultImageBase
	}
	if h == nil {
		h = &http.Client{Timeout: 15 * time.Second}
	}
	p := &ImageProxy{base: strings.TrimRight(base, "/"), http: h}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Logo serves /Logos/{logo}.
func (p *ImageProxy) Logo(w http.ResponseWriter, r *http.Request) {
	logo := chi.URLParam(r, "logo")
	p.relay(w, r, p.base+"/channelLogo/"+url.PathEscape(logo), logo)
}

// Cover serves /Covers/{path}/{cover}.
func (p *ImageProxy) Cover(w http.ResponseWriter, r *http.Request) {
	dir, cover := chi.URLParam(r, "path"), chi.URLParam(r, "cover")
	target := fmt.Sprintf("%s/covers/programmeImages/portrait/290x429/%s/%s",
		p.base, url.PathEscape(dir), url.PathEscape(cover))
	p.relay(w, r, target, cover)
}

func (p *ImageProxy) relay(w http.ResponseWriter, r *http.Request, target, name string) {
	if p.cache != nil {
		if body, ok := p.cache.Get(r.Context(), target); ok {
			writeImage(w, name, body)
			return
		}
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, target, nil)
	if err != nil {
		writeStatus(w, http.StatusNotFound, target+" not found")
		return
	}
	req.Header.Set("User-Agent", imageUserAgent)

	resp, err := p.http.Do(req)
	if err != nil {
		logger := log.WithComponentFromContext(r.Context(), "api")
		logger.Debug().
			Err(err).
			Str(log.FieldEvent, "image.fetch_failed").
			Str(log.FieldURL, target).
			Msg("image fetch failed")
		writeStatus(w, http.StatusNotFound, target+" not found")
		return
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		writeStatus(w, http.StatusNotFound, target+" not found")
		return
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, io.LimitReader(resp.Body, maxImageBytes)); err != nil {
		writeStatus(w, http.StatusNotFound, target+" not found")
		return
	}
	if p.cache != nil {
		p.cache.Set(r.Context(), target, buf.Bytes(), p.ttl)
	}
	writeImage(w, name, buf.Bytes())
}

func writeImage(w http.ResponseWriter, name string, body []byte) {
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}
