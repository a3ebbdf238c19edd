// Package stats persists per-post embed counters.
//
// Recording is fire-and-forget: requests enqueue events onto a buffered
// channel and a single worker applies them, so a slow or broken database
// never blocks serving an embed.
package stats

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"vxsky/internal/logging"
)

// PostStat aggregates activity for a single post.
type PostStat struct {
	URI        string    `gorm:"primaryKey" json:"uri"`
	EmbedViews int64     `json:"embed_views"`
	Renders    int64     `json:"renders"`
	LastSeenAt time.Time `json:"last_seen_at"`
}

// Totals is the aggregate view served by the stats endpoint.
type Totals struct {
	Posts      int64 `json:"posts"`
	EmbedViews int64 `json:"embed_views"`
	Renders    int64 `json:"renders"`
}

type eventKind int

const (
	eventEmbedView eventKind = iota
	eventRender
)

type event struct {
	kind eventKind
	uri  string
}

// Store records and reports post stats.
type Store struct {
	db     *gorm.DB
	events chan event
	done   chan struct{}
}

// Open connects to the stats database: Postgres when databaseURL is set,
// otherwise a local SQLite file at dbPath.
func Open(databaseURL, dbPath string) (*Store, error) {
	var dialector gorm.Dialector
	if databaseURL != "" {
		dialector = postgres.Open(databaseURL)
	} else {
		dialector = sqlite.Open(dbPath)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("stats: opening database: %w", err)
	}

	return newStore(db)
}

// OpenInMemory opens a throwaway SQLite store, used in tests.
func OpenInMemory() (*Store, error) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	return newStore(db)
}

func newStore(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&PostStat{}); err != nil {
		return nil, fmt.Errorf("stats: migration: %w", err)
	}

	s := &Store{
		db:     db,
		events: make(chan event, 256),
		done:   make(chan struct{}),
	}
	go s.worker()
	return s, nil
}

// RecordEmbedView notes that an embed page was served for the post. Never
// blocks; events are dropped if the queue is full.
func (s *Store) RecordEmbedView(uri string) {
	s.enqueue(event{kind: eventEmbedView, uri: uri})
}

// RecordRender notes that a combined thumbnail was rendered for the post.
func (s *Store) RecordRender(uri string) {
	s.enqueue(event{kind: eventRender, uri: uri})
}

func (s *Store) enqueue(e event) {
	select {
	case s.events <- e:
	default:
		logging.L().Warn("stats queue full, dropping event", zap.String("uri", e.uri))
	}
}

func (s *Store) worker() {
	defer close(s.done)
	for e := range s.events {
		if err := s.apply(e); err != nil {
			logging.L().Warn("failed to record stat",
				zap.String("uri", e.uri),
				zap.Error(err),
			)
		}
	}
}

// apply runs on the single worker goroutine, so the update-then-create
// pattern is race free.
func (s *Store) apply(e event) error {
	column := "embed_views"
	if e.kind == eventRender {
		column = "renders"
	}
	now := time.Now().UTC()

	res := s.db.Model(&PostStat{}).
		Where("uri = ?", e.uri).
		Updates(map[string]interface{}{
			column:         gorm.Expr(column+" + 1"),
			"last_seen_at": now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}

	stat := PostStat{URI: e.uri, LastSeenAt: now}
	if e.kind == eventRender {
		stat.Renders = 1
	} else {
		stat.EmbedViews = 1
	}
	return s.db.Create(&stat).Error
}

// Totals returns the aggregate counters.
func (s *Store) Totals(ctx context.Context) (*Totals, error) {
	var totals Totals
	err := s.db.WithContext(ctx).Model(&PostStat{}).
		Select("COUNT(*) AS posts, COALESCE(SUM(embed_views), 0) AS embed_views, COALESCE(SUM(renders), 0) AS renders").
		Scan(&totals).Error
	if err != nil {
		return nil, err
	}
	return &totals, nil
}

// Top returns the most-embedded posts, busiest first.
func (s *Store) Top(ctx context.Context, limit int) ([]PostStat, error) {
	var posts []PostStat
	err := s.db.WithContext(ctx).
		Order("embed_views DESC").
		Limit(limit).
		Find(&posts).Error
	return posts, err
}

// Ping reports whether the underlying database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close drains pending events and shuts the worker down.
func (s *Store) Close() error {
	close(s.events)
	select {
	case <-s.done:
		return nil
	case <-time.After(5 * time.Second):
		return errors.New("stats: timed out draining events")
	}
}
