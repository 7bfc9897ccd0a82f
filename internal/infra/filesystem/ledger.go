package filesystem

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/jinford/ai-json-generator/internal/core/batch"
)

// LedgerFileName はバッチ出力先に置く台帳ファイル名
const LedgerFileName = "ledger.json"

// ledgerDocument は台帳ファイルの形式
type ledgerDocument struct {
	Rows []batch.Entry `json:"rows"`
}

// Ledger はJSONファイルに行の結果を保存する台帳。
// 書き込みは直列化し、一時ファイルからの rename で置き換える
type Ledger struct {
	path string

	mu      sync.Mutex
	entries map[int]batch.Entry
	loaded  bool
}

// NewLedger は path を台帳ファイルとする Ledger を作成する
func NewLedger(path string) *Ledger {
	return &Ledger{path: path, entries: map[int]batch.Entry{}}
}

// Path は台帳ファイルのパスを返す
func (l *Ledger) Path() string {
	return l.path
}

// Load はファイルから記録を読み込む。ファイルがなければ空
func (l *Ledger) Load(_ context.Context) (map[int]batch.Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.loadLocked(); err != nil {
		return nil, err
	}
	out := make(map[int]batch.Entry, len(l.entries))
	for k, v := range l.entries {
		out[k] = v
	}
	return out, nil
}

// Record は1行分の結果を記録し、台帳ファイル全体を書き直す
func (l *Ledger) Record(_ context.Context, entry batch.Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.loadLocked(); err != nil {
		return err
	}
	l.entries[entry.Row] = entry
	return l.writeLocked()
}

func (l *Ledger) loadLocked() error {
	if l.loaded {
		return nil
	}
	data, err := os.ReadFile(l.path)
	if errors.Is(err, os.ErrNotExist) {
		l.loaded = true
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read ledger %s: %w", l.path, err)
	}

	var doc ledgerDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse ledger %s: %w", l.path, err)
	}
	for _, e := range doc.Rows {
		l.entries[e.Row] = e
	}
	l.loaded = true
	return nil
}

func (l *Ledger) writeLocked() error {
	doc := ledgerDocument{Rows: make([]batch.Entry, 0, len(l.entries))}
	for _, e := range l.entries {
		doc.Rows = append(doc.Rows, e)
	}
	sort.Slice(doc.Rows, func(i, j int) bool { return doc.Rows[i].Row < doc.Rows[j].Row })

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode ledger: %w", err)
	}

	dir := filepath.Dir(l.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create ledger directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".ledger-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp ledger: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp ledger: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp ledger: %w", err)
	}
	if err := os.Rename(tmpPath, l.path); err != nil {
		return fmt.Errorf("failed to replace ledger: %w", err)
	}
	return nil
}

var _ batch.Ledger = (*Ledger)(nil)
