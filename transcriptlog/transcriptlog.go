// Package transcriptlog persists finalized transcripts: an append-only
// timestamped text file plus a local history store backing the transcript
// window.
package transcriptlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"
)

const (
	timeLayout = "2006-01-02 15:04:05"
	keyPrefix  = "t:"
)

// Record is one finalized transcript. Immutable once appended.
type Record struct {
	ID   string    `json:"id"`
	Time time.Time `json:"ts"`
	Text string    `json:"text"`
}

// Log is the single-writer transcript sink. The session controller is the
// only writer by construction; reads (Recent) may come from the UI.
type Log struct {
	mu   sync.Mutex
	file *os.File
	db   *badger.DB
	seq  uint64
}

// Open creates or opens the text log and the history store.
func Open(filePath, historyDir string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}

	f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("open transcript log: %w", err)
	}

	opts := badger.DefaultOptions(historyDir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("open history store: %w", err)
	}

	l := &Log{file: f, db: db}
	if err := l.loadSeq(); err != nil {
		_ = f.Close()
		_ = db.Close()
		return nil, err
	}
	return l, nil
}

// Append writes the record to the text file and the history store. Arrival
// order is persistence order.
func (l *Log) Append(rec Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	line := fmt.Sprintf("[%s] %s\n", rec.Time.Format(timeLayout), rec.Text)
	if _, err := l.file.WriteString(line); err != nil {
		return fmt.Errorf("append transcript: %w", err)
	}

	val, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	l.seq++
	key := seqKey(l.seq)
	if err := l.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, val)
	}); err != nil {
		return fmt.Errorf("store record: %w", err)
	}
	return nil
}

// Recent returns up to n records, newest first.
func (l *Log) Recent(n int) ([]Record, error) {
	var out []Record
	err := l.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration needs a seek past the last possible key.
		for it.Seek([]byte(keyPrefix + "\xff")); it.Valid() && len(out) < n; it.Next() {
			var rec Record
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	return out, nil
}

// Close flushes and closes both sinks.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	ferr := l.file.Close()
	derr := l.db.Close()
	if ferr != nil {
		return ferr
	}
	return derr
}

// loadSeq finds the highest sequence already in the store.
func (l *Log) loadSeq() error {
	return l.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		it.Seek([]byte(keyPrefix + "\xff"))
		if !it.Valid() {
			return nil
		}
		var seq uint64
		if _, err := fmt.Sscanf(string(it.Item().Key()), keyPrefix+"%016d", &seq); err != nil {
			return fmt.Errorf("parse history key: %w", err)
		}
		l.seq = seq
		return nil
	})
}

func seqKey(seq uint64) []byte {
	return []byte(fmt.Sprintf(keyPrefix+"%016d", seq))
}
