package wikifolio

import (
	"context"
	"math"
	"reflect"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Checker-Finance/wikifolio-adapter/internal/metrics"
	"github.com/Checker-Finance/wikifolio-adapter/internal/parse"
)

// fetchTimeout bounds a shared load once its callers have gone away.
const fetchTimeout = 2 * time.Minute

// entity is the state shared by every lazily loaded entity: the set of
// source tags already merged in and the in-flight loads.
type entity struct {
	kind string

	mu      sync.RWMutex
	sources map[string]struct{}

	flights singleflight.Group
}

func (e *entity) init(kind string) {
	e.kind = kind
	e.sources = make(map[string]struct{})
}

// HasSource reports whether tag has been loaded.
func (e *entity) HasSource(tag string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.sources[tag]
	return ok
}

// Sources lists the loaded source tags.
func (e *entity) Sources() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, 0, len(e.sources))
	for tag := range e.sources {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

// load runs fetch unless tag is already loaded or refresh is set. Concurrent
// loads of the same tag share one call, and a caller giving up does not
// cancel it for the others. fetch is responsible for merging
// through the entity's merge method, which records the tag.
func (e *entity) load(ctx context.Context, tag string, refresh bool, fetch func(ctx context.Context) error) error {
	if !refresh && e.HasSource(tag) {
		metrics.IncEntityFetch(e.kind, tag, "hit")
		return nil
	}
	key := tag
	if refresh {
		key += "#refresh"
	}
	ch := e.flights.DoChan(key, func() (any, error) {
		if !refresh && e.HasSource(tag) {
			return nil, nil
		}
		// The fetch is shared, so it must outlive the caller that started it.
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fetchTimeout)
		defer cancel()
		if err := fetch(fctx); err != nil {
			metrics.IncEntityFetch(e.kind, tag, "error")
			return nil, err
		}
		metrics.IncEntityFetch(e.kind, tag, "miss")
		return nil, nil
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// markLocked records tag. Caller holds e.mu.
func (e *entity) markLocked(tag string) {
	if tag != "" {
		e.sources[tag] = struct{}{}
	}
}

var timeType = reflect.TypeOf(time.Time{})

// apply copies every field of src into dst that carries a real
// value. dst and src must be pointers to the same struct type whose fields
// are pointers, slices or maps. A nil pointer, an empty or placeholder
// string, NaN, a zero time and an empty slice never overwrite dst.
func apply(dst, src any) {
	dv := reflect.ValueOf(dst).Elem()
	sv := reflect.ValueOf(src).Elem()
	for i := 0; i < sv.NumField(); i++ {
		if !dv.Type().Field(i).IsExported() {
			continue
		}
		f := sv.Field(i)
		if meaningless(f) {
			continue
		}
		dv.Field(i).Set(f)
	}
}

func meaningless(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Pointer:
		if v.IsNil() {
			return true
		}
		return meaningless(v.Elem())
	case reflect.Slice, reflect.Map:
		return v.Len() == 0
	case reflect.String:
		return parse.IsEmpty(v.String())
	case reflect.Float32, reflect.Float64:
		return math.IsNaN(v.Float())
	case reflect.Struct:
		if v.Type() == timeType {
			return v.Interface().(time.Time).IsZero()
		}
	case reflect.Interface:
		return v.IsNil()
	}
	return false
}
