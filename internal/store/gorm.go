package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"

	"wintrust/internal/models"
)

// End times are stored as unix microseconds so range filters compare
// numerically on every dialect.
type raffleRecord struct {
	ID              string    `gorm:"primaryKey;size:64"`
	Name            string    `gorm:"not null"`
	Prize           string    `gorm:"not null"`
	Description     string    `gorm:"type:text"`
	PricePerNumber  float64   `gorm:"not null"`
	EndsAtMicros    int64     `gorm:"not null;index"`
	TotalNumbers    int       `gorm:"not null"`
	WinnerNumber    *int
	WinnerNullifier *string
	CreatedAt       time.Time
}

func (raffleRecord) TableName() string { return "raffles" }

// Unique indexes back the in-transaction checks if two writers ever race.
type participationRecord struct {
	ID        uint      `gorm:"primaryKey"`
	RaffleID  string    `gorm:"size:64;not null;uniqueIndex:ux_raffle_number,priority:1;uniqueIndex:ux_raffle_nullifier,priority:1"`
	Number    int       `gorm:"not null;uniqueIndex:ux_raffle_number,priority:2"`
	Nullifier string    `gorm:"size:255;not null;uniqueIndex:ux_raffle_nullifier,priority:2"`
	CreatedAt time.Time `gorm:"not null"`
}

func (participationRecord) TableName() string { return "participations" }

// OpenSQLite opens a SQLite database at path, or a private in-memory
// database when path is empty.
func OpenSQLite(path string) (*gorm.DB, error) {
	dsn := ":memory:"
	if path != "" {
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	}
	db, err := gorm.Open(sqlite.Open(dsn), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// A single connection serializes writers and keeps :memory: alive.
	sqlDB.SetMaxOpenConns(1)
	return withTracing(db)
}

// OpenPostgres opens a PostgreSQL database from a DSN or URL.
func OpenPostgres(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return withTracing(db)
}

func gormConfig() *gorm.Config {
	return &gorm.Config{
		Logger:         gormlogger.Discard,
		TranslateError: true,
	}
}

func withTracing(db *gorm.DB) (*gorm.DB, error) {
	if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
		return nil, fmt.Errorf("gorm tracing plugin: %w", err)
	}
	return db, nil
}

// GormStore persists raffles through gorm. Writers on the same raffle are
// serialized in-process and, on Postgres, by a row lock on the raffle.
type GormStore struct {
	db    *gorm.DB
	locks *keyedMutex
}

// NewGormStore migrates the schema and returns a store backed by db.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&raffleRecord{}, &participationRecord{}); err != nil {
		return nil, fmt.Errorf("migrate raffle schema: %w", err)
	}
	return &GormStore{db: db, locks: newKeyedMutex()}, nil
}

func (s *GormStore) Create(ctx context.Context, raffle *models.Raffle) error {
	if err := validateNew(raffle); err != nil {
		return err
	}
	rec := raffleRecord{
		ID:             raffle.ID,
		Name:           raffle.Name,
		Prize:          raffle.Prize,
		Description:    raffle.Description,
		PricePerNumber: raffle.PricePerNumber,
		EndsAtMicros:   raffle.EndsAt.UnixMicro(),
		TotalNumbers:   raffle.TotalNumbers,
		CreatedAt:      raffle.CreatedAt.UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("create raffle: %w", err)
	}
	return nil
}

func (s *GormStore) Get(ctx context.Context, id string) (*models.Raffle, error) {
	db := s.db.WithContext(ctx)
	var rec raffleRecord
	if err := db.First(&rec, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get raffle: %w", err)
	}
	raffles, err := loadSold(db, []raffleRecord{rec})
	if err != nil {
		return nil, err
	}
	return raffles[0], nil
}

func (s *GormStore) ListActive(ctx context.Context, now time.Time) ([]*models.Raffle, error) {
	db := s.db.WithContext(ctx)
	var recs []raffleRecord
	if err := db.Where("ends_at_micros >= ?", now.UnixMicro()).Order("ends_at_micros, id").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("list active raffles: %w", err)
	}
	return loadSold(db, recs)
}

func (s *GormStore) ListAwaitingDraw(ctx context.Context, now time.Time) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).
		Model(&raffleRecord{}).
		Where("ends_at_micros < ? AND winner_number IS NULL", now.UnixMicro()).
		Where("EXISTS (SELECT 1 FROM participations p WHERE p.raffle_id = raffles.id)").
		Order("id").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("list raffles awaiting draw: %w", err)
	}
	return ids, nil
}

func (s *GormStore) Participations(ctx context.Context, raffleID string) ([]models.Participation, error) {
	db := s.db.WithContext(ctx)
	if err := db.Select("id").First(&raffleRecord{}, "id = ?", raffleID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get raffle: %w", err)
	}
	var recs []participationRecord
	if err := db.Where("raffle_id = ?", raffleID).Order("id").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("list participations: %w", err)
	}
	out := make([]models.Participation, 0, len(recs))
	for _, p := range recs {
		out = append(out, toParticipation(p))
	}
	return out, nil
}

func (s *GormStore) RecordParticipation(ctx context.Context, raffleID, nullifier string, number int, at time.Time) (*models.Participation, error) {
	var p *models.Participation
	err := s.Update(ctx, raffleID, func(tx Tx) error {
		var err error
		p, err = tx.RecordParticipation(nullifier, number, at)
		return err
	})
	return p, err
}

func (s *GormStore) SetWinner(ctx context.Context, raffleID string, number int, nullifier string) error {
	return s.Update(ctx, raffleID, func(tx Tx) error {
		return tx.SetWinner(number, nullifier)
	})
}

// Update runs fn inside a database transaction holding the raffle's lock.
func (s *GormStore) Update(ctx context.Context, raffleID string, fn func(tx Tx) error) error {
	unlock := s.locks.Lock(raffleID)
	defer unlock()

	return s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		q := db
		if db.Dialector.Name() == "postgres" {
			q = q.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		var rec raffleRecord
		if err := q.First(&rec, "id = ?", raffleID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("lock raffle: %w", err)
		}
		var parts []participationRecord
		if err := db.Where("raffle_id = ?", raffleID).Order("id").Find(&parts).Error; err != nil {
			return fmt.Errorf("load participations: %w", err)
		}
		tx := &gormTx{
			db:      db,
			raffle:  toRaffle(rec, parts),
			owners:  make(map[int]models.Participation, len(parts)),
			holders: make(map[string]struct{}, len(parts)),
		}
		for _, p := range parts {
			tx.owners[p.Number] = toParticipation(p)
			tx.holders[p.Nullifier] = struct{}{}
		}
		return fn(tx)
	})
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

const participationSavepoint = "record_participation"

// gormTx writes straight into the enclosing database transaction.
type gormTx struct {
	db      *gorm.DB
	raffle  *models.Raffle
	owners  map[int]models.Participation
	holders map[string]struct{}
}

func (t *gormTx) Raffle() *models.Raffle {
	return t.raffle
}

func (t *gormTx) Participation(number int) (*models.Participation, error) {
	p, ok := t.owners[number]
	if !ok {
		return nil, ErrParticipationNotFound
	}
	return &p, nil
}

func (t *gormTx) RecordParticipation(nullifier string, number int, at time.Time) (*models.Participation, error) {
	_, holds := t.holders[nullifier]
	if err := checkSale(t.raffle, nullifier, number, holds); err != nil {
		return nil, err
	}
	rec := participationRecord{
		RaffleID:  t.raffle.ID,
		Number:    number,
		Nullifier: nullifier,
		CreatedAt: at.UTC(),
	}
	if err := t.db.SavePoint(participationSavepoint).Error; err != nil {
		return nil, fmt.Errorf("record participation: %w", err)
	}
	if err := t.db.Create(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, t.duplicateCause(nullifier)
		}
		return nil, fmt.Errorf("record participation: %w", err)
	}
	p := toParticipation(rec)
	t.owners[number] = p
	t.holders[nullifier] = struct{}{}
	t.raffle.SoldNumbers = append(t.raffle.SoldNumbers, number)
	return &p, nil
}

// duplicateCause tells which unique index rejected an insert. Rows written
// by another process after Update loaded the raffle are only visible here.
func (t *gormTx) duplicateCause(nullifier string) error {
	if err := t.db.RollbackTo(participationSavepoint).Error; err != nil {
		return fmt.Errorf("record participation: %w", err)
	}
	var held int64
	err := t.db.Model(&participationRecord{}).
		Where("raffle_id = ? AND nullifier = ?", t.raffle.ID, nullifier).
		Count(&held).Error
	if err != nil {
		return fmt.Errorf("record participation: %w", err)
	}
	if held > 0 {
		return ErrAlreadyParticipating
	}
	return ErrNumberTaken
}

func (t *gormTx) SetWinner(number int, nullifier string) error {
	owner, _ := t.Participation(number)
	if err := checkWinner(t.raffle, owner, nullifier); err != nil {
		return err
	}
	res := t.db.Model(&raffleRecord{}).
		Where("id = ? AND winner_number IS NULL", t.raffle.ID).
		Updates(map[string]any{
			"winner_number":    number,
			"winner_nullifier": nullifier,
		})
	if res.Error != nil {
		return fmt.Errorf("set winner: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrWinnerAlreadySet
	}
	t.raffle.Winner = &models.Winner{Number: number, Nullifier: nullifier}
	return nil
}

// loadSold attaches sold numbers to each raffle with a single query.
func loadSold(db *gorm.DB, recs []raffleRecord) ([]*models.Raffle, error) {
	if len(recs) == 0 {
		return []*models.Raffle{}, nil
	}
	ids := make([]string, len(recs))
	for i, r := range recs {
		ids[i] = r.ID
	}
	var parts []participationRecord
	if err := db.Where("raffle_id IN ?", ids).Order("id").Find(&parts).Error; err != nil {
		return nil, fmt.Errorf("load sold numbers: %w", err)
	}
	byRaffle := make(map[string][]participationRecord, len(recs))
	for _, p := range parts {
		byRaffle[p.RaffleID] = append(byRaffle[p.RaffleID], p)
	}
	out := make([]*models.Raffle, len(recs))
	for i, r := range recs {
		out[i] = toRaffle(r, byRaffle[r.ID])
	}
	return out, nil
}

func toRaffle(rec raffleRecord, parts []participationRecord) *models.Raffle {
	r := &models.Raffle{
		ID:             rec.ID,
		Name:           rec.Name,
		Prize:          rec.Prize,
		Description:    rec.Description,
		PricePerNumber: rec.PricePerNumber,
		EndsAt:         time.UnixMicro(rec.EndsAtMicros).UTC(),
		TotalNumbers:   rec.TotalNumbers,
		SoldNumbers:    make([]int, 0, len(parts)),
		CreatedAt:      rec.CreatedAt.UTC(),
	}
	for _, p := range parts {
		r.SoldNumbers = append(r.SoldNumbers, p.Number)
	}
	if rec.WinnerNumber != nil && rec.WinnerNullifier != nil {
		r.Winner = &models.Winner{Number: *rec.WinnerNumber, Nullifier: *rec.WinnerNullifier}
	}
	return r
}

func toParticipation(rec participationRecord) models.Participation {
	return models.Participation{
		RaffleID:  rec.RaffleID,
		Nullifier: rec.Nullifier,
		Number:    rec.Number,
		CreatedAt: rec.CreatedAt.UTC(),
	}
}
