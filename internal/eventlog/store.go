// Package eventlog хранит журнал уведомлений в файле bbolt. Записи
// добавляются по порядку, самые старые удаляются после MaxEntries.
package eventlog

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"
	"time"

	"go.etcd.io/bbolt"

	"filewatch/internal/eventsink"
)

const (
	EntriesBucket = "entries"

	DefaultMaxEntries = 10000
)

type Config struct {
	Path       string
	FileMode   os.FileMode
	Options    *bbolt.Options
	Serializer Serializer
	// MaxEntries ограничивает размер журнала, 0 - DefaultMaxEntries
	MaxEntries int
	// ReadOnly открывает существующий журнал только на чтение,
	// параллельно с процессом, который в него пишет
	ReadOnly bool
}

// Store реализует eventsink.Sink. Файл bbolt открывается только на время
// записи или чтения, поэтому журнал работающего сервиса можно читать
// из другого процесса.
type Store struct {
	path       string
	fileMode   os.FileMode
	options    bbolt.Options
	serializer Serializer
	maxEntries int
	readOnly   bool

	mu     sync.Mutex
	closed bool
}

var _ eventsink.Sink = (*Store)(nil)

func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, ErrEmptyPath
	}
	if cfg.Serializer == nil {
		cfg.Serializer = &JSONSerializer{}
	}
	if cfg.FileMode == 0 {
		cfg.FileMode = 0600
	}
	if cfg.Options == nil {
		cfg.Options = &bbolt.Options{Timeout: time.Second}
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}

	s := &Store{
		path:       cfg.Path,
		fileMode:   cfg.FileMode,
		options:    *cfg.Options,
		serializer: cfg.Serializer,
		maxEntries: cfg.MaxEntries,
		readOnly:   cfg.ReadOnly,
	}
	s.options.ReadOnly = cfg.ReadOnly

	if cfg.ReadOnly {
		err := s.view(func(tx *bbolt.Tx) error {
			if tx.Bucket([]byte(EntriesBucket)) == nil {
				return ErrBucketNotFound
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	}

	err := s.update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(EntriesBucket))
		if err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize event log: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	s.closed = true
	return nil
}

// Write добавляет запись в журнал
func (s *Store) Write(e eventsink.Entry) error {
	if s.readOnly {
		return ErrReadOnly
	}

	data, err := s.serializer.Serialize(e)
	if err != nil {
		return fmt.Errorf("failed to encode entry: %w", err)
	}

	return s.update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(EntriesBucket))
		if bucket == nil {
			return ErrBucketNotFound
		}

		seq, err := bucket.NextSequence()
		if err != nil {
			return err
		}
		if err := bucket.Put(itob(seq), data); err != nil {
			return err
		}

		return trim(bucket, seq, s.maxEntries)
	})
}

// Entries возвращает записи, начиная с самой старой
func (s *Store) Entries() ([]eventsink.Entry, error) {
	var entries []eventsink.Entry

	err := s.view(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(EntriesBucket))
		if bucket == nil {
			return ErrBucketNotFound
		}

		return bucket.ForEach(func(k, v []byte) error {
			var e eventsink.Entry
			if err := s.serializer.Deserialize(v, &e); err != nil {
				return fmt.Errorf("failed to decode entry %d: %w", binary.BigEndian.Uint64(k), err)
			}
			entries = append(entries, e)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Store) update(fn func(tx *bbolt.Tx) error) error {
	return s.withDB(func(db *bbolt.DB) error { return db.Update(fn) })
}

func (s *Store) view(fn func(tx *bbolt.Tx) error) error {
	return s.withDB(func(db *bbolt.DB) error { return db.View(fn) })
}

// withDB открывает файл на время выполнения fn
func (s *Store) withDB(fn func(db *bbolt.DB) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	options := s.options
	db, err := bbolt.Open(s.path, s.fileMode, &options)
	if err != nil {
		return fmt.Errorf("failed to open event log %s: %w", s.path, err)
	}

	if err := fn(db); err != nil {
		db.Close()
		return err
	}
	return db.Close()
}

// trim удаляет самые старые записи, оставляя не больше max.
// Ключи - последовательные номера, newest - последний записанный.
func trim(bucket *bbolt.Bucket, newest uint64, max int) error {
	if newest <= uint64(max) {
		return nil
	}
	oldestKept := newest - uint64(max) + 1

	var stale [][]byte
	c := bucket.Cursor()
	for k, _ := c.First(); k != nil && binary.BigEndian.Uint64(k) < oldestKept; k, _ = c.Next() {
		stale = append(stale, append([]byte(nil), k...))
	}

	for _, k := range stale {
		if err := bucket.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}
