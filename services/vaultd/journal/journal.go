package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"pegvault/core/events"
	"pegvault/core/types"
	"pegvault/observability"
)

// DefaultListLimit caps List when the query does not set a limit.
const DefaultListLimit = 100

var errNilDB = errors.New("journal: database not configured")

// Entry is one committed engine event.
type Entry struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Type       string    `gorm:"size:64;index"`
	Account    string    `gorm:"size:128;index"`
	Asset      string    `gorm:"size:128;index"`
	Attributes string    `gorm:"type:text"`
	CreatedAt  time.Time `gorm:"index"`
}

// TableName pins the table name independent of gorm's pluralisation.
func (Entry) TableName() string { return "vault_events" }

// Open connects to the journal database.
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("journal: unsupported driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("journal: open: %w", err)
	}
	return db, nil
}

// AutoMigrate creates the journal table.
func AutoMigrate(db *gorm.DB) error {
	if db == nil {
		return errNilDB
	}
	return db.AutoMigrate(&Entry{})
}

type typedEvent interface {
	Event() *types.Event
}

type journalMetrics interface {
	RecordJournaled(eventType string)
	RecordFailure(eventType string)
}

// Journal persists events handed to it by the engine. It satisfies
// events.Emitter and never blocks the engine on a write failure.
type Journal struct {
	db      *gorm.DB
	logger  *slog.Logger
	metrics journalMetrics
	timeout time.Duration
	now     func() time.Time
}

var _ events.Emitter = (*Journal)(nil)

// New builds a journal on db.
func New(db *gorm.DB, logger *slog.Logger) (*Journal, error) {
	if db == nil {
		return nil, errNilDB
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Journal{
		db:      db,
		logger:  logger,
		metrics: observability.Events(),
		timeout: 5 * time.Second,
		now:     time.Now,
	}, nil
}

// SetClock overrides the timestamp source.
func (j *Journal) SetClock(now func() time.Time) {
	if j == nil || now == nil {
		return
	}
	j.now = now
}

// Emit implements events.Emitter.
func (j *Journal) Emit(ev events.Event) {
	if j == nil || ev == nil {
		return
	}
	entry, err := j.entryFor(ev)
	if err == nil {
		ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
		err = j.db.WithContext(ctx).Create(entry).Error
		cancel()
	}
	if err != nil {
		j.metrics.RecordFailure(ev.EventType())
		j.logger.Error("journal write failed", slog.String("type", ev.EventType()), slog.Any("error", err))
		return
	}
	j.metrics.RecordJournaled(ev.EventType())
}

func (j *Journal) entryFor(ev events.Event) (*Entry, error) {
	attrs := map[string]string{}
	if typed, ok := ev.(typedEvent); ok {
		if payload := typed.Event(); payload != nil && payload.Attributes != nil {
			attrs = payload.Attributes
		}
	}
	encoded, err := json.Marshal(attrs)
	if err != nil {
		return nil, fmt.Errorf("encode attributes: %w", err)
	}
	return &Entry{
		ID:         uuid.New(),
		Type:       ev.EventType(),
		Account:    accountOf(attrs),
		Asset:      attrs["asset"],
		Attributes: string(encoded),
		CreatedAt:  j.now().UTC(),
	}, nil
}

// accountOf picks the position owner the event is about.
func accountOf(attrs map[string]string) string {
	for _, key := range []string{"user", "onBehalfOf", "from"} {
		if v := attrs[key]; v != "" {
			return v
		}
	}
	return ""
}

// Query filters List.
type Query struct {
	Account string
	Type    string
	Limit   int
}

// List returns matching entries, newest first.
func (j *Journal) List(ctx context.Context, q Query) ([]Entry, error) {
	if j == nil {
		return nil, errNilDB
	}
	limit := q.Limit
	if limit <= 0 || limit > DefaultListLimit {
		limit = DefaultListLimit
	}
	tx := j.db.WithContext(ctx).Model(&Entry{})
	if account := strings.TrimSpace(q.Account); account != "" {
		tx = tx.Where("account = ?", account)
	}
	if typ := strings.TrimSpace(q.Type); typ != "" {
		tx = tx.Where("type = ?", typ)
	}
	var entries []Entry
	if err := tx.Order("created_at DESC").Limit(limit).Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("journal: list: %w", err)
	}
	return entries, nil
}

// Decode returns the stored attributes.
func (e Entry) Decode() (map[string]string, error) {
	out := map[string]string{}
	if e.Attributes == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(e.Attributes), &out); err != nil {
		return nil, err
	}
	return out, nil
}
