// Package masterdata resolves client, provider and payer codes to master
// record ids and imports master records from a workbook.
package masterdata

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/wegpiraten/billing-cli/internal/model"
)

// ErrNotFound is returned when no record has the given code.
var ErrNotFound = errors.New("master record not found")

// Resolver maps a display code to the id of a master record.
type Resolver interface {
	Resolve(ctx context.Context, kind model.MasterKind, code string) (string, error)
	// Attributes returns the attributes of the record with the given id.
	Attributes(ctx context.Context, id string) (map[string]string, error)
}

// NormalizeCode makes codes comparable: NFKC, case folded, inner whitespace
// collapsed to one space.
func NormalizeCode(code string) string {
	// Casers carry state, so each call gets its own chain.
	t := transform.Chain(norm.NFKC, cases.Fold())
	s, _, err := transform.String(t, code)
	if err != nil {
		s = strings.ToLower(norm.NFKC.String(code))
	}
	return strings.Join(strings.Fields(s), " ")
}

// MemResolver is an in-memory Resolver.
type MemResolver struct {
	mu    sync.RWMutex
	byID  map[model.MasterKind]map[string]string
	attrs map[string]map[string]string
}

// NewMemResolver builds a resolver from records; the record id is returned
// for its normalized display code.
func NewMemResolver(records ...model.MasterRecord) *MemResolver {
	r := &MemResolver{
		byID:  make(map[model.MasterKind]map[string]string),
		attrs: make(map[string]map[string]string),
	}
	for _, rec := range records {
		r.Add(rec)
	}
	return r
}

// Add registers a record. A missing id is derived from kind and code.
func (r *MemResolver) Add(rec model.MasterRecord) {
	key := NormalizeCode(rec.DisplayCode)
	if rec.ID == "" {
		rec.ID = model.MasterID(rec.Kind, key)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.byID[rec.Kind] == nil {
		r.byID[rec.Kind] = make(map[string]string)
	}
	r.byID[rec.Kind][key] = rec.ID
	r.attrs[rec.ID] = rec.Attributes
}

// Resolve implements Resolver.
func (r *MemResolver) Resolve(_ context.Context, kind model.MasterKind, code string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if id, ok := r.byID[kind][NormalizeCode(code)]; ok {
		return id, nil
	}
	return "", ErrNotFound
}

// Attributes implements Resolver.
func (r *MemResolver) Attributes(_ context.Context, id string) (map[string]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	attrs, ok := r.attrs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return attrs, nil
}

// Lookup is the store capability StoreResolver needs.
type Lookup interface {
	ResolveMaster(ctx context.Context, kind model.MasterKind, codeKey string) (id string, found bool, err error)
	GetMasterRecord(ctx context.Context, id string) (*model.MasterRecord, error)
}

// StoreResolver resolves against the consolidation store and caches hits
// and misses for its own lifetime; use one instance per ingestion run.
type StoreResolver struct {
	lookup Lookup

	mu    sync.Mutex
	cache map[string]string // kind:key -> id ("" = not found)
	attrs map[string]map[string]string
}

// NewStoreResolver creates a StoreResolver.
func NewStoreResolver(lookup Lookup) *StoreResolver {
	return &StoreResolver{
		lookup: lookup,
		cache:  make(map[string]string),
		attrs:  make(map[string]map[string]string),
	}
}

// Attributes implements Resolver. Records are read once per id.
func (r *StoreResolver) Attributes(ctx context.Context, id string) (map[string]string, error) {
	r.mu.Lock()
	attrs, hit := r.attrs[id]
	r.mu.Unlock()
	if hit {
		return attrs, nil
	}

	rec, err := r.lookup.GetMasterRecord(ctx, id)
	if err != nil {
		return nil, eris.Wrapf(err, "masterdata: record %s", id)
	}

	r.mu.Lock()
	r.attrs[id] = rec.Attributes
	r.mu.Unlock()
	return rec.Attributes, nil
}

// Resolve implements Resolver.
func (r *StoreResolver) Resolve(ctx context.Context, kind model.MasterKind, code string) (string, error) {
	key := NormalizeCode(code)
	if key == "" {
		return "", ErrNotFound
	}
	ck := string(kind) + ":" + key

	r.mu.Lock()
	id, hit := r.cache[ck]
	r.mu.Unlock()
	if hit {
		if id == "" {
			return "", ErrNotFound
		}
		return id, nil
	}

	id, found, err := r.lookup.ResolveMaster(ctx, kind, key)
	if err != nil {
		return "", eris.Wrapf(err, "masterdata: resolve %s %q", kind, code)
	}
	if !found {
		id = ""
	}

	r.mu.Lock()
	r.cache[ck] = id
	r.mu.Unlock()

	if id == "" {
		return "", ErrNotFound
	}
	return id, nil
}
