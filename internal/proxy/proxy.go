// Package proxy forwards browser requests to third-party APIs so the
// browser never talks to them directly and never sees the API key.
package proxy

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"cyclecal/internal/metrics"

	"go.uber.org/zap"
)

const target = "proxy"

// maxBody bounds the request and response bodies the proxy copies.
const maxBody = 4 << 20

type Config struct {
	AllowedOrigins []string
	SecuredBases   []string
	APIKey         string
	APIKeyHeader   string
}

// Handler serves /api/proxy?apiUrl=<url>&params=<json object>. GET params
// are appended to the query of apiUrl; POST bodies are forwarded unchanged.
type Handler struct {
	cfg     Config
	secured []*url.URL
	client  *http.Client
	logger  *zap.Logger
}

func New(cfg Config, client *http.Client, logger *zap.Logger) *Handler {
	if cfg.APIKeyHeader == "" {
		cfg.APIKeyHeader = "X-API-Key"
	}
	h := &Handler{cfg: cfg, client: client, logger: logger}
	for _, raw := range cfg.SecuredBases {
		base, err := url.Parse(raw)
		if err != nil || base.Scheme == "" || base.Host == "" {
			logger.Warn("ignoring invalid secured base", zap.String("base", raw))
			continue
		}
		base.Path = strings.TrimSuffix(base.Path, "/")
		h.secured = append(h.secured, base)
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin != "" && !h.originAllowed(origin) {
		h.logger.Warn("proxy origin rejected", zap.String("origin", origin))
		writeError(w, http.StatusForbidden, "origin not allowed")
		return
	}
	if origin != "" {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Vary", "Origin")
	}

	switch r.Method {
	case http.MethodOptions:
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.WriteHeader(http.StatusNoContent)
		return
	case http.MethodGet, http.MethodPost:
	default:
		w.Header().Set("Allow", "GET, POST, OPTIONS")
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	upstreamURL, err := h.buildURL(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var body io.Reader
	if r.Method == http.MethodPost {
		body = io.LimitReader(r.Body, maxBody)
	}
	req, err := http.NewRequestWithContext(r.Context(), r.Method, upstreamURL, body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid upstream request")
		return
	}
	req.Header.Set("Accept", "application/json")
	if ct := r.Header.Get("Content-Type"); ct != "" && r.Method == http.MethodPost {
		req.Header.Set("Content-Type", ct)
	}
	if h.isSecured(req.URL) && h.cfg.APIKey != "" {
		req.Header.Set(h.cfg.APIKeyHeader, h.cfg.APIKey)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		metrics.UpstreamRequests.WithLabelValues(target, "error").Inc()
		h.logger.Error("proxy request failed", zap.String("url", redact(upstreamURL)), zap.Error(err))
		writeError(w, http.StatusBadGateway, "upstream request failed")
		return
	}
	defer resp.Body.Close()
	metrics.UpstreamRequests.WithLabelValues(target, "ok").Inc()

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, io.LimitReader(resp.Body, maxBody)); err != nil {
		h.logger.Warn("failed to copy proxy response", zap.Error(err))
	}
}

// buildURL validates apiUrl and merges the params object into its query.
func (h *Handler) buildURL(r *http.Request) (string, error) {
	raw := r.URL.Query().Get("apiUrl")
	if raw == "" {
		return "", fmt.Errorf("apiUrl is required")
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("apiUrl must be an absolute http(s) URL")
	}

	rawParams := r.URL.Query().Get("params")
	if rawParams == "" {
		return u.String(), nil
	}
	var params map[string]any
	if err := json.Unmarshal([]byte(rawParams), &params); err != nil {
		return "", fmt.Errorf("params must be a JSON object")
	}
	if r.Method == http.MethodGet {
		q := u.Query()
		for k, v := range params {
			q.Set(k, paramString(v))
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (h *Handler) originAllowed(origin string) bool {
	return slices.Contains(h.cfg.AllowedOrigins, "*") || slices.Contains(h.cfg.AllowedOrigins, origin)
}

// isSecured reports whether u lives under one of the secured bases: same
// scheme and host, and a path at or below the base path.
func (h *Handler) isSecured(u *url.URL) bool {
	for _, base := range h.secured {
		if !strings.EqualFold(u.Scheme, base.Scheme) || !strings.EqualFold(u.Host, base.Host) {
			continue
		}
		if base.Path == "" || u.Path == base.Path || strings.HasPrefix(u.Path, base.Path+"/") {
			return true
		}
	}
	return false
}

func paramString(v any) string {
	switch v := v.(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		b, _ := json.Marshal(v)
		return string(b)
	}
}

// redact drops the query, which may carry user input, from logged URLs.
func redact(raw string) string {
	if u, err := url.Parse(raw); err == nil {
		u.RawQuery = ""
		return u.String()
	}
	return raw
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"message": message, "success": false})
}
