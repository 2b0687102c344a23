package execution

import (
	"github.com/kirillm/trade-guard/internal/domain"
)

// store in-memory таблица исполнений с индексом идемпотентности.
// Не потокобезопасна: защищается мьютексом Manager.
type store struct {
	records map[string]*domain.Execution
	order   []string
	byKey   map[string]string
}

func newStore() *store {
	return &store{
		records: make(map[string]*domain.Execution),
		byKey:   make(map[string]string),
	}
}

func (s *store) insert(rec *domain.Execution) {
	s.records[rec.ID] = rec
	s.order = append(s.order, rec.ID)
	s.byKey[rec.IdempotencyKey] = rec.ID
}

func (s *store) get(id string) (*domain.Execution, bool) {
	rec, ok := s.records[id]
	return rec, ok
}

func (s *store) getByKey(key string) (*domain.Execution, bool) {
	id, ok := s.byKey[key]
	if !ok {
		return nil, false
	}
	return s.get(id)
}

// list возвращает записи в порядке создания
func (s *store) list(match func(*domain.Execution) bool) []*domain.Execution {
	var out []*domain.Execution
	for _, id := range s.order {
		rec := s.records[id]
		if match(rec) {
			out = append(out, rec)
		}
	}
	return out
}

func (s *store) len() int {
	return len(s.records)
}
