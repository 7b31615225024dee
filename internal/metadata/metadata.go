/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package metadata resolves per-item titles and durations from object
// storage HEAD metadata. Resolution never fails hard: every error path
// degrades to deterministic placeholder values so the playlist can always
// render.
package metadata

import (
	"context"
	"encoding/base64"
	"fmt"
	"regexp"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"github.com/friendsincode/mimir_news/internal/cache"
	"github.com/friendsincode/mimir_news/internal/telemetry"
)

// DefaultDurationSeconds is used when no duration can be resolved at all.
const DefaultDurationSeconds = 300.0

// Metadata keys set by the publishing pipeline on uploaded audio objects.
const (
	metaKeyDuration = "duration"
	metaKeyTitle    = "title"
)

// base64Pattern detects encoded titles. Strict character class only;
// anything outside it is treated as plain text.
var base64Pattern = regexp.MustCompile(`^[A-Za-z0-9+/]+=*$`)

// Head is the raw metadata returned by a single HEAD lookup.
type Head struct {
	DurationSeconds *float64
	Title           string
}

// Source fetches raw object metadata for a media reference.
type Source interface {
	FetchMetadata(ctx context.Context, ref string) (Head, error)
}

// Resolved is the display-ready metadata for a playlist item.
type Resolved struct {
	Title                string
	DisplayDuration      string
	ExactDurationSeconds *float64
}

// Resolver turns media references into display metadata, consulting the
// shared cache before the storage backend.
type Resolver struct {
	source Source
	cache  *cache.Cache
	logger zerolog.Logger
}

// NewResolver creates a metadata resolver. The cache may be nil.
func NewResolver(source Source, c *cache.Cache, logger zerolog.Logger) *Resolver {
	return &Resolver{
		source: source,
		cache:  c,
		logger: logger.With().Str("component", "metadata").Logger(),
	}
}

// Resolve fetches title and duration for a media reference. groupDate feeds
// the placeholder title when resolution fails. Resolve never returns an
// error; failures are logged and degrade to fallbacks.
func (r *Resolver) Resolve(ctx context.Context, ref string, groupDate time.Time) Resolved {
	if r.cache != nil {
		if cached, ok := r.cache.GetMetadata(ctx, ref); ok {
			telemetry.MetadataLookups.WithLabelValues("hit").Inc()
			return Resolved{
				Title:                cached.Title,
				DisplayDuration:      cached.DisplayDuration,
				ExactDurationSeconds: cached.ExactDurationSeconds,
			}
		}
	}

	head, err := r.source.FetchMetadata(ctx, ref)
	if err != nil {
		r.logger.Debug().Err(err).Str("ref", ref).Msg("metadata lookup failed, using fallback")
		telemetry.MetadataLookups.WithLabelValues("fallback").Inc()
		return Fallback(groupDate)
	}

	res := Resolved{
		Title:           DecodeTitle(head.Title, groupDate),
		DisplayDuration: FallbackDisplayDuration,
	}
	if head.DurationSeconds != nil {
		d := *head.DurationSeconds
		res.DisplayDuration = FormatDuration(d)
		res.ExactDurationSeconds = &d
	}

	telemetry.MetadataLookups.WithLabelValues("resolved").Inc()

	if r.cache != nil {
		_ = r.cache.SetMetadata(ctx, ref, &cache.CachedMetadata{
			Title:                res.Title,
			DisplayDuration:      res.DisplayDuration,
			ExactDurationSeconds: res.ExactDurationSeconds,
		})
	}

	return res
}

// FallbackDisplayDuration is shown when no duration is known yet.
const FallbackDisplayDuration = "0:00"

// Fallback returns the placeholder metadata for an item whose lookup failed.
func Fallback(groupDate time.Time) Resolved {
	return Resolved{
		Title:           FallbackTitle(groupDate),
		DisplayDuration: FallbackDisplayDuration,
	}
}

// FallbackTitle derives a deterministic placeholder title from the item date.
func FallbackTitle(groupDate time.Time) string {
	return fmt.Sprintf("News for %s", groupDate.Format("2006/01/02"))
}

// DecodeTitle interprets a raw title metadata value. Values matching the
// Base64 character class are decoded as UTF-8 text; plain values pass
// through; empty or undecodable values fall back to the date placeholder.
func DecodeTitle(raw string, groupDate time.Time) string {
	if raw == "" {
		return FallbackTitle(groupDate)
	}
	if !base64Pattern.MatchString(raw) {
		return raw
	}
	decoded, err := base64.StdEncoding.DecodeString(raw)
	if err != nil || !utf8.Valid(decoded) {
		return FallbackTitle(groupDate)
	}
	return string(decoded)
}

// FormatDuration renders seconds as an M:SS display string, truncating
// fractional seconds.
func FormatDuration(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	whole := int(seconds)
	return fmt.Sprintf("%d:%02d", whole/60, whole%60)
}

// ParseDurationMeta parses the duration metadata value into seconds.
func ParseDurationMeta(raw string) (float64, bool) {
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}

// S3Source resolves metadata via HeadObject against a bucket.
type S3Source struct {
	client *s3.Client
	bucket string
}

// NewS3Source creates a metadata source backed by an S3 bucket.
func NewS3Source(client *s3.Client, bucket string) *S3Source {
	return &S3Source{client: client, bucket: bucket}
}

// FetchMetadata issues a HeadObject request and extracts the duration and
// title user-metadata fields.
func (s *S3Source) FetchMetadata(ctx context.Context, ref string) (Head, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(ref),
	})
	if err != nil {
		return Head{}, fmt.Errorf("head object %s: %w", ref, err)
	}

	var head Head
	head.Title = out.Metadata[metaKeyTitle]
	if d, ok := ParseDurationMeta(out.Metadata[metaKeyDuration]); ok {
		head.DurationSeconds = &d
	}
	return head, nil
}

// ClientOptions configures the S3 client used for metadata and catalog
// access.
type ClientOptions struct {
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

// NewS3Client builds an S3 client from explicit options, falling back to the
// ambient AWS credential chain when no static keys are configured.
func NewS3Client(ctx context.Context, opts ClientOptions) (*s3.Client, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{}
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.UsePathStyle
	}), nil
}
