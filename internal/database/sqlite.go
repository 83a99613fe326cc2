package database

import (
	"context"
	"fmt"
	"sync"

	"github.com/npezzotti/go-relay/internal/types"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SqliteMessageStore persists messages in an embedded sqlite database through gorm.
type SqliteMessageStore struct {
	db *gorm.DB
	// writeLock makes every mutation a single-writer critical section.
	writeLock sync.Mutex
}

// NewSqliteMessageStore opens (or creates) the database at path and migrates
// the messages table. ":memory:" gives a private in-memory database.
func NewSqliteMessageStore(path string) (*SqliteMessageStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("sqlite handle: %w", err)
	}
	// sqlite allows a single writer; one connection also keeps ":memory:"
	// databases from being opened once per pooled connection.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&Message{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}

	return &SqliteMessageStore{db: db}, nil
}

func (s *SqliteMessageStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return storageErr("ping", err)
	}
	return storageErr("ping", sqlDB.PingContext(ctx))
}

func (s *SqliteMessageStore) Append(ctx context.Context, msg types.Message) (types.Message, error) {
	s.writeLock.Lock()
	defer s.writeLock.Unlock()

	row := fromType(stamp(msg))
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return types.Message{}, storageErr("append", err)
	}

	return row.toType(), nil
}

func (s *SqliteMessageStore) List(ctx context.Context, room string) ([]types.Message, error) {
	var rows []Message
	err := s.db.WithContext(ctx).
		Where("room = ?", room).
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, storageErr("list", err)
	}

	msgs := make([]types.Message, 0, len(rows))
	for _, row := range rows {
		msgs = append(msgs, row.toType())
	}
	return msgs, nil
}

func (s *SqliteMessageStore) DeleteByID(ctx context.Context, id int64, room string) ([]string, error) {
	s.writeLock.Lock()
	defer s.writeLock.Unlock()

	var affected []string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Model(&Message{}).Where("id = ?", id)
		if room != "" {
			q = q.Where("room = ?", room)
		}

		var rows []Message
		if err := q.Find(&rows).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}

		if err := tx.Delete(&Message{}, id).Error; err != nil {
			return err
		}

		for _, row := range rows {
			affected = append(affected, row.Room)
		}
		return nil
	})
	if err != nil {
		return nil, storageErr("delete message", err)
	}

	return affected, nil
}

func (s *SqliteMessageStore) ClearRoom(ctx context.Context, room string) error {
	s.writeLock.Lock()
	defer s.writeLock.Unlock()

	err := s.db.WithContext(ctx).Where("room = ?", room).Delete(&Message{}).Error
	return storageErr("clear room", err)
}

func (s *SqliteMessageStore) ClearAll(ctx context.Context) error {
	s.writeLock.Lock()
	defer s.writeLock.Unlock()

	err := s.db.WithContext(ctx).
		Session(&gorm.Session{AllowGlobalUpdate: true}).
		Delete(&Message{}).Error
	return storageErr("clear all", err)
}

func (s *SqliteMessageStore) ListRooms(ctx context.Context) ([]string, error) {
	rooms := make([]string, 0)
	err := s.db.WithContext(ctx).
		Model(&Message{}).
		Distinct("room").
		Order("room ASC").
		Pluck("room", &rooms).Error
	if err != nil {
		return nil, storageErr("list rooms", err)
	}

	return rooms, nil
}

func (s *SqliteMessageStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return storageErr("close", err)
	}
	return storageErr("close", sqlDB.Close())
}
