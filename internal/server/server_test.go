/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/friendsincode/mimir_news/internal/config"
)

func TestSecurityHeaders(t *testing.T) {
	handler := securityHeadersMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", got)
	}
	if got := rec.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options = %q", got)
	}
	if got := rec.Header().Get("Strict-Transport-Security"); got != "" {
		t.Errorf("HSTS advertised on plain HTTP request: %q", got)
	}
}

func TestSecurityHeadersHSTSBehindProxy(t *testing.T) {
	handler := securityHeadersMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("Strict-Transport-Security"); got == "" {
		t.Error("HSTS missing for forwarded HTTPS request")
	}
}

func TestMediaPrefix(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.Config
		want string
	}{
		{
			name: "cdn base url wins",
			cfg: config.Config{
				S3PublicBaseURL: "https://cdn.example.com/",
				S3NewsBucket:    "news",
				S3Region:        "ap-northeast-1",
				S3AudioPath:     "audio-files",
			},
			want: "https://cdn.example.com/audio-files/",
		},
		{
			name: "direct bucket url",
			cfg: config.Config{
				S3NewsBucket: "news",
				S3Region:     "ap-northeast-1",
				S3AudioPath:  "/audio-files/",
			},
			want: "https://news.s3.ap-northeast-1.amazonaws.com/audio-files/",
		},
		{
			name: "empty audio path",
			cfg: config.Config{
				S3PublicBaseURL: "https://cdn.example.com",
			},
			want: "https://cdn.example.com/",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Server{cfg: &tt.cfg}
			if got := s.mediaPrefix(); got != tt.want {
				t.Errorf("mediaPrefix() = %q, want %q", got, tt.want)
			}
		})
	}
}
