/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package catalog assembles the daily playlist: one primary news item per
// publication day counting back from the base date, interleaved with any
// registered explainer companions.
package catalog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/friendsincode/mimir_news/internal/events"
	"github.com/friendsincode/mimir_news/internal/metadata"
	"github.com/friendsincode/mimir_news/internal/models"
	"github.com/friendsincode/mimir_news/internal/playlist"
)

// Config controls catalog assembly.
type Config struct {
	// Days of news counting back from the base date, base date included.
	Days int
	// Location is the publishing timezone used for the boundary check.
	Location *time.Location
	// BoundaryHour is the local hour before which today's file is not yet
	// published and yesterday is the newest item.
	BoundaryHour int
	// PathPrefix is prepended to generated filenames to form media refs.
	PathPrefix string
}

// Service owns the in-memory composed playlist and its persistence.
type Service struct {
	db       *gorm.DB
	resolver *metadata.Resolver
	bus      *events.Bus
	logger   zerolog.Logger
	cfg      Config

	mu         sync.RWMutex
	primaries  []models.PlayableItem
	companions map[string]models.CompanionInfo
	composed   []models.PlayableItem
}

// NewService creates a catalog service. resolver may be nil, in which case
// items keep their placeholder metadata.
func NewService(db *gorm.DB, resolver *metadata.Resolver, bus *events.Bus, logger zerolog.Logger, cfg Config) *Service {
	if cfg.Days <= 0 {
		cfg.Days = 7
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Service{
		db:         db,
		resolver:   resolver,
		bus:        bus,
		logger:     logger.With().Str("component", "catalog").Logger(),
		cfg:        cfg,
		companions: make(map[string]models.CompanionInfo),
	}
}

// BaseDate returns the newest publication day visible at now. Before the
// boundary hour, today's file has not been uploaded yet and yesterday is
// the newest day.
func (s *Service) BaseDate(now time.Time) time.Time {
	local := now.In(s.cfg.Location)
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.cfg.Location)
	if local.Hour() < s.cfg.BoundaryHour {
		day = day.AddDate(0, 0, -1)
	}
	return day
}

// Filename derives the published audio filename for a day.
func Filename(day time.Time) string {
	return fmt.Sprintf("audio_%04d_%02d_%02d.mp3", day.Year(), int(day.Month()), day.Day())
}

// ItemID derives the playlist item id for a day.
func ItemID(day time.Time) string {
	return fmt.Sprintf("audio_%04d_%02d_%02d", day.Year(), int(day.Month()), day.Day())
}

// GroupDate formats a day as the item grouping key.
func GroupDate(day time.Time) string {
	return day.Format("2006_01_02")
}

// buildPrimaries generates the placeholder items for the visible window,
// newest first.
func (s *Service) buildPrimaries(now time.Time) []models.PlayableItem {
	base := s.BaseDate(now)
	items := make([]models.PlayableItem, 0, s.cfg.Days)
	for i := 0; i < s.cfg.Days; i++ {
		day := base.AddDate(0, 0, -i)
		items = append(items, models.PlayableItem{
			ID:              ItemID(day),
			GroupDate:       GroupDate(day),
			Title:           metadata.FallbackTitle(day),
			MediaRef:        s.cfg.PathPrefix + Filename(day),
			DisplayDuration: metadata.FallbackDisplayDuration,
			Kind:            models.KindPrimary,
		})
	}
	return items
}

// Refresh rebuilds the window of items, resolves metadata concurrently,
// reloads companion registrations, recomposes the playlist, and persists
// the result.
func (s *Service) Refresh(ctx context.Context, now time.Time) error {
	items := s.buildPrimaries(now)

	if s.resolver != nil {
		var wg sync.WaitGroup
		for i := range items {
			wg.Add(1)
			go func(it *models.PlayableItem) {
				defer wg.Done()
				day, err := time.ParseInLocation("2006_01_02", it.GroupDate, s.cfg.Location)
				if err != nil {
					day = now
				}
				res := s.resolver.Resolve(ctx, it.MediaRef, day)
				it.Title = res.Title
				it.DisplayDuration = res.DisplayDuration
				it.ExactDurationSeconds = res.ExactDurationSeconds
			}(&items[i])
		}
		wg.Wait()
	}

	companions, err := s.loadCompanions(ctx, items)
	if err != nil {
		return fmt.Errorf("load companions: %w", err)
	}

	s.mu.Lock()
	s.primaries = items
	s.companions = companions
	s.composed = playlist.Compose(items, companions)
	count := len(s.composed)
	s.mu.Unlock()

	if err := s.persist(ctx, items); err != nil {
		s.logger.Warn().Err(err).Msg("failed to persist catalog items")
	}

	s.logger.Info().Int("items", count).Msg("catalog refreshed")
	s.bus.Publish(events.EventCatalogRefreshed, events.Payload{
		"items":     count,
		"head_id":   playlist.HeadID(items),
		"base_date": GroupDate(s.BaseDate(now)),
	})
	return nil
}

func (s *Service) loadCompanions(ctx context.Context, primaries []models.PlayableItem) (map[string]models.CompanionInfo, error) {
	if s.db == nil {
		return map[string]models.CompanionInfo{}, nil
	}
	ids := make([]string, len(primaries))
	for i, p := range primaries {
		ids[i] = p.ID
	}

	var rows []models.CompanionAudio
	if err := s.db.WithContext(ctx).Where("parent_id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}

	companions := make(map[string]models.CompanionInfo, len(rows))
	for _, row := range rows {
		companions[row.ParentID] = models.CompanionInfo{
			ParentID:             row.ParentID,
			Title:                row.Title,
			MediaRef:             row.MediaRef,
			DisplayDuration:      row.DisplayDuration,
			ExactDurationSeconds: row.ExactDurationSeconds,
		}
	}
	return companions, nil
}

func (s *Service) persist(ctx context.Context, items []models.PlayableItem) error {
	if s.db == nil {
		return nil
	}
	rows := make([]models.CatalogItem, len(items))
	for i, it := range items {
		rows[i] = models.CatalogItem{
			ID:                   it.ID,
			GroupDate:            it.GroupDate,
			Title:                it.Title,
			MediaRef:             it.MediaRef,
			DisplayDuration:      it.DisplayDuration,
			ExactDurationSeconds: it.ExactDurationSeconds,
		}
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(&rows).Error
}

// RegisterCompanion stores an explainer registration and recomposes the
// playlist so the companion appears right after its primary.
func (s *Service) RegisterCompanion(ctx context.Context, info models.CompanionInfo) error {
	if info.ParentID == "" || info.MediaRef == "" {
		return fmt.Errorf("companion requires parent_id and media_ref")
	}

	if s.db != nil {
		row := models.CompanionAudio{
			ParentID:             info.ParentID,
			Title:                info.Title,
			MediaRef:             info.MediaRef,
			DisplayDuration:      info.DisplayDuration,
			ExactDurationSeconds: info.ExactDurationSeconds,
		}
		if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "parent_id"}},
			UpdateAll: true,
		}).Create(&row).Error; err != nil {
			return fmt.Errorf("persist companion: %w", err)
		}
	}

	s.mu.Lock()
	s.companions[info.ParentID] = info
	s.composed = playlist.Compose(s.primaries, s.companions)
	s.mu.Unlock()

	s.bus.Publish(events.EventCompanionResolved, events.Payload{
		"parent_id": info.ParentID,
		"item_id":   models.CompanionID(info.ParentID),
	})
	return nil
}

// Playlist returns a copy of the composed playlist.
func (s *Service) Playlist() []models.PlayableItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.PlayableItem(nil), s.composed...)
}

// HeadID returns the id of the newest primary item, or empty before the
// first refresh.
func (s *Service) HeadID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return playlist.HeadID(s.primaries)
}

// RecordPlay appends a play-history row.
func (s *Service) RecordPlay(ctx context.Context, sessionID, itemID string, kind models.ItemKind, completed bool) error {
	if s.db == nil {
		return nil
	}
	row := models.PlayHistory{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		ItemID:    itemID,
		Kind:      kind,
		Completed: completed,
		PlayedAt:  time.Now().UTC(),
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

// Start runs the refresh loop and records completed plays observed on the
// bus, until ctx is cancelled.
func (s *Service) Start(ctx context.Context) error {
	if err := s.Refresh(ctx, time.Now()); err != nil {
		s.logger.Error().Err(err).Msg("initial catalog refresh failed")
	}

	ended := s.bus.Subscribe(events.EventPlaybackEnded)
	defer s.bus.Unsubscribe(events.EventPlaybackEnded, ended)

	ticker := time.NewTicker(15 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("catalog service stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := s.Refresh(ctx, time.Now()); err != nil {
				s.logger.Error().Err(err).Msg("catalog refresh failed")
			}
		case payload := <-ended:
			itemID, _ := payload["item_id"].(string)
			kindStr, _ := payload["kind"].(string)
			completed, _ := payload["completed"].(bool)
			sessionID, _ := payload["session_id"].(string)
			if itemID == "" {
				continue
			}
			if sessionID == "" {
				sessionID = uuid.NewString()
			}
			if err := s.RecordPlay(ctx, sessionID, itemID, models.ItemKind(kindStr), completed); err != nil {
				s.logger.Warn().Err(err).Str("item", itemID).Msg("failed to record play")
			}
		}
	}
}
