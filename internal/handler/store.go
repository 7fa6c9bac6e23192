package handler

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"billsync/internal/ingest"
	"billsync/internal/model"
)

// Batch is one uploaded spreadsheet staged for dry runs and execution.
type Batch struct {
	ID        string
	FileName  string
	Rows      []model.Row
	Mapping   ingest.Mapping
	Settings  model.Settings
	Files     map[string][]byte
	CreatedAt time.Time
}

// BatchStore holds staged batches in memory. Files replaces the map on
// every write, so a Batch handed out by Get is a stable snapshot.
type BatchStore struct {
	mu      sync.Mutex
	batches map[string]*Batch
}

func NewBatchStore() *BatchStore {
	return &BatchStore{batches: make(map[string]*Batch)}
}

func (s *BatchStore) Create(fileName string, rows []model.Row, mapping ingest.Mapping, settings model.Settings) Batch {
	batch := &Batch{
		ID:        uuid.NewString(),
		FileName:  fileName,
		Rows:      rows,
		Mapping:   mapping,
		Settings:  settings,
		Files:     make(map[string][]byte),
		CreatedAt: time.Now(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches[batch.ID] = batch
	return *batch
}

func (s *BatchStore) Get(id string) (Batch, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch, ok := s.batches[id]
	if !ok {
		return Batch{}, false
	}
	return *batch, true
}

// AddFiles merges uploads into the batch, returning the new file count.
func (s *BatchStore) AddFiles(id string, files map[string][]byte) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch, ok := s.batches[id]
	if !ok {
		return 0, false
	}

	merged := make(map[string][]byte, len(batch.Files)+len(files))
	for name, data := range batch.Files {
		merged[name] = data
	}
	for name, data := range files {
		merged[name] = data
	}
	batch.Files = merged
	return len(merged), true
}
