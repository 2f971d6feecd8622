// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2025 Pierre Jay

// Package library persists themes and palettes in a bbolt database.
package library

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.etcd.io/bbolt"

	"lighting-engine/internal/theme"
)

var (
	themesBucket = []byte("themes")
	stateBucket  = []byte("state")

	activeKey     = []byte("active")
	previousKey   = []byte("previous")
	brightnessKey = []byte("brightness")
)

// ErrNotFound is returned for unknown theme ids
var ErrNotFound = errors.New("theme not found")

// Filter narrows List results
type Filter struct {
	Query         string // case-insensitive match on name and tags
	Category      string
	FavoritesOnly bool
}

// Library is the persistent theme store
type Library struct {
	db  *bbolt.DB
	now func() time.Time
}

// Open opens or creates the database at path
func Open(path string) (*Library, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open library: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{themesBucket, stateBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &Library{db: db, now: time.Now}, nil
}

// Close closes the database
func (l *Library) Close() error {
	return l.db.Close()
}

// Save stores a theme or palette, assigning an id and creation time when
// missing. An existing entry with the same id is replaced.
func (l *Library) Save(p *theme.Palette) (*theme.Palette, error) {
	saved := *p
	saved.EnsureIdentity(l.now())
	if saved.Source == "" {
		saved.Source = theme.SourceManual
	}

	data, err := theme.Encode(&saved)
	if err != nil {
		return nil, err
	}

	err = l.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(themesBucket).Put([]byte(saved.ID), data)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to save theme: %w", err)
	}
	return &saved, nil
}

// Get returns a theme by id
func (l *Library) Get(id string) (*theme.Palette, error) {
	var p *theme.Palette
	err := l.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(themesBucket).Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		var err error
		p, err = decode(data)
		return err
	})
	return p, err
}

// List returns matching themes, favorites first then newest first
func (l *Library) List(f Filter) ([]*theme.Palette, error) {
	query := strings.ToLower(strings.TrimSpace(f.Query))

	var out []*theme.Palette
	err := l.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(themesBucket).ForEach(func(k, v []byte) error {
			p, err := decode(v)
			if err != nil {
				return fmt.Errorf("theme %s: %w", k, err)
			}
			if f.FavoritesOnly && !p.IsFavorite {
				return nil
			}
			if f.Category != "" && p.Category != f.Category {
				return nil
			}
			if query != "" && !matches(p, query) {
				return nil
			}
			out = append(out, p)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].IsFavorite != out[j].IsFavorite {
			return out[i].IsFavorite
		}
		return out[i].CreatedAt > out[j].CreatedAt
	})
	return out, nil
}

func matches(p *theme.Palette, query string) bool {
	if strings.Contains(strings.ToLower(p.Name), query) {
		return true
	}
	for _, tag := range p.Tags {
		if strings.Contains(strings.ToLower(tag), query) {
			return true
		}
	}
	return false
}

// Delete removes a theme
func (l *Library) Delete(id string) error {
	return l.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(themesBucket)
		if b.Get([]byte(id)) == nil {
			return ErrNotFound
		}
		return b.Delete([]byte(id))
	})
}

// Rename changes a theme name
func (l *Library) Rename(id, name string) (*theme.Palette, error) {
	return l.update(id, func(p *theme.Palette) { p.Name = name })
}

// ToggleFavorite flips the favorite flag
func (l *Library) ToggleFavorite(id string) (*theme.Palette, error) {
	return l.update(id, func(p *theme.Palette) { p.IsFavorite = !p.IsFavorite })
}

// SetCategory assigns a category ("" clears it)
func (l *Library) SetCategory(id, category string) (*theme.Palette, error) {
	return l.update(id, func(p *theme.Palette) { p.Category = category })
}

// Categories returns the sorted distinct categories in use
func (l *Library) Categories() ([]string, error) {
	all, err := l.List(Filter{})
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	for _, p := range all {
		if p.Category != "" {
			seen[p.Category] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return out, nil
}

func (l *Library) update(id string, fn func(p *theme.Palette)) (*theme.Palette, error) {
	var p *theme.Palette
	err := l.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(themesBucket)
		data := b.Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		var err error
		if p, err = decode(data); err != nil {
			return err
		}
		fn(p)
		if data, err = theme.Encode(p); err != nil {
			return err
		}
		return b.Put([]byte(id), data)
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// SetActive records the theme currently shown; the previous active theme
// is kept for Previous when remember is true
func (l *Library) SetActive(p *theme.Palette, remember bool) error {
	data, err := theme.Encode(p)
	if err != nil {
		return err
	}
	return l.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(stateBucket)
		if remember {
			if cur := b.Get(activeKey); cur != nil {
				if err := b.Put(previousKey, append([]byte(nil), cur...)); err != nil {
					return err
				}
			}
		}
		return b.Put(activeKey, data)
	})
}

// Active returns the last active theme
func (l *Library) Active() (*theme.Palette, error) {
	return l.getState(activeKey)
}

// Previous returns the theme remembered by SetActive
func (l *Library) Previous() (*theme.Palette, error) {
	return l.getState(previousKey)
}

// ClearPrevious forgets the remembered theme
func (l *Library) ClearPrevious() error {
	return l.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(stateBucket).Delete(previousKey)
	})
}

func (l *Library) getState(key []byte) (*theme.Palette, error) {
	var p *theme.Palette
	err := l.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(stateBucket).Get(key)
		if data == nil {
			return ErrNotFound
		}
		var err error
		p, err = decode(data)
		return err
	})
	return p, err
}

// SetBrightness persists the master brightness
func (l *Library) SetBrightness(v float64) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return l.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(stateBucket).Put(brightnessKey, data)
	})
}

// Brightness returns the persisted master brightness; ok is false when
// nothing was stored
func (l *Library) Brightness() (v float64, ok bool, err error) {
	err = l.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(stateBucket).Get(brightnessKey)
		if data == nil {
			return nil
		}
		ok = true
		return json.Unmarshal(data, &v)
	})
	return v, ok, err
}

// decode parses a stored value; the result does not alias bbolt memory
func decode(data []byte) (*theme.Palette, error) {
	var p theme.Palette
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return &p, nil
}
