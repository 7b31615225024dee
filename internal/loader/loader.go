/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/friendsincode/mimir_news/internal/models"
	"github.com/friendsincode/mimir_news/internal/telemetry"
)

var (
	// ErrNetwork indicates the fetch failed or returned a failure status.
	ErrNetwork = errors.New("audio fetch failed")

	// ErrDecode indicates the response body could not be materialized.
	ErrDecode = errors.New("audio materialization failed")
)

// Classify maps a loader error to its ErrorKind. Context cancellation is
// not a fault and maps to ErrorNone.
func Classify(err error) models.ErrorKind {
	switch {
	case err == nil:
		return models.ErrorNone
	case errors.Is(err, context.Canceled):
		return models.ErrorNone
	case errors.Is(err, ErrDecode):
		return models.ErrorDecodeFailure
	default:
		return models.ErrorNetworkFailure
	}
}

// Loader resolves media references, prefetching fully for constrained
// clients and passing through otherwise.
type Loader struct {
	client *http.Client
	cache  *BlobCache
	probe  Probe
	logger zerolog.Logger
}

// New creates a loader. A nil client uses http.DefaultClient; transport
// level failure signaling is relied on instead of explicit timeouts.
func New(client *http.Client, probe Probe, logger zerolog.Logger) *Loader {
	if client == nil {
		client = http.DefaultClient
	}
	return &Loader{
		client: client,
		cache:  NewBlobCache(),
		probe:  probe,
		logger: logger.With().Str("component", "loader").Logger(),
	}
}

// Cache exposes the session blob cache.
func (l *Loader) Cache() *BlobCache {
	return l.cache
}

// Resolve materializes mediaRef for the given client profile. Cancellation
// through ctx discards any pending fetch without mutating the cache.
func (l *Loader) Resolve(ctx context.Context, mediaRef string, profile Profile) (*Handle, error) {
	if handle, ok := l.cache.Get(mediaRef); ok {
		l.logger.Debug().Str("ref", mediaRef).Msg("blob cache hit")
		return handle, nil
	}

	if !l.probe.Constrained(profile) {
		return &Handle{Ref: mediaRef}, nil
	}

	handle, err := l.prefetch(ctx, mediaRef)
	if err != nil {
		return nil, err
	}

	if ctx.Err() != nil {
		// Superseded while the body was draining; the result is stale and
		// must not enter the cache.
		return nil, ctx.Err()
	}

	l.cache.Put(mediaRef, handle)
	telemetry.PrefetchBytes.Add(float64(len(handle.Data)))
	l.logger.Debug().Str("ref", mediaRef).Int("bytes", len(handle.Data)).Msg("prefetched audio")
	return handle, nil
}

func (l *Loader) prefetch(ctx context.Context, mediaRef string) (*Handle, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaRef, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: status %d", ErrNetwork, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	return &Handle{Ref: mediaRef, Data: data}, nil
}
