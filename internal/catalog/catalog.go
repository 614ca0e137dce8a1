package catalog

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/rezaab69/rathole-management/internal/store"
)

// Catalog mirrors the durable service records in memory. Mutations write to
// the store first and touch the mirror only after the write succeeds, so the
// mirror is never ahead of disk.
type Catalog struct {
	store store.Store

	mu   sync.RWMutex
	defs map[string]Definition
}

func New(st store.Store) *Catalog {
	return &Catalog{store: st, defs: make(map[string]Definition)}
}

// Load replaces the mirror with the durable records. Rows still marked
// running are normalized to stopped: process registrations do not survive a
// supervisor restart, so a fresh lifetime begins with nothing running.
func (c *Catalog) Load(ctx context.Context) error {
	recs, err := c.store.ListServices(ctx)
	if err != nil {
		return &PersistenceError{Op: "load", Err: err}
	}
	defs := make(map[string]Definition, len(recs))
	for _, r := range recs {
		d := fromRecord(r)
		if d.Status == StatusRunning {
			d.Status = StatusStopped
			r.Status = string(StatusStopped)
			if uerr := c.store.UpdateService(ctx, r); uerr != nil {
				slog.Warn("could not persist status normalization", "service", d.Name, "err", uerr)
			}
		}
		defs[d.Name] = d
	}
	c.mu.Lock()
	c.defs = defs
	c.mu.Unlock()
	return nil
}

// Add validates def, fills in a generated token when none is given, and
// stores it. New services always start stopped with no rendered config. The
// stored definition is returned so callers see the generated token.
func (c *Catalog) Add(ctx context.Context, def Definition) (Definition, error) {
	if err := validate(def); err != nil {
		return Definition{}, err
	}
	if def.Token == "" {
		tok, err := GenerateToken()
		if err != nil {
			return Definition{}, err
		}
		def.Token = tok
	}
	def.Status = StatusStopped
	def.ConfigPath = ""

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.defs[def.Name]; ok {
		return Definition{}, ErrAlreadyExists
	}
	if err := c.store.CreateService(ctx, toRecord(def)); err != nil {
		if errors.Is(err, store.ErrServiceExists) {
			return Definition{}, ErrAlreadyExists
		}
		return Definition{}, &PersistenceError{Op: "add", Err: err}
	}
	c.defs[def.Name] = def
	return def, nil
}

// Remove deletes the named service from the store and the mirror.
func (c *Catalog) Remove(ctx context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.defs[name]; !ok {
		return ErrNotFound
	}
	if err := c.store.DeleteService(ctx, name); err != nil {
		if !errors.Is(err, store.ErrServiceNotFound) {
			return &PersistenceError{Op: "remove", Err: err}
		}
		// The durable row is already gone; dropping the mirror entry below
		// restores agreement.
		slog.Warn("service missing from store on remove", "service", name)
	}
	delete(c.defs, name)
	return nil
}

// Update applies the non-nil fields to the named service. Name and kind are
// immutable; address fields are checked against the kind so an update cannot
// turn a definition invalid.
func (c *Catalog) Update(ctx context.Context, name string, f UpdateFields) (Definition, error) {
	if f.empty() {
		return Definition{}, ErrNoOpUpdate
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	cur, ok := c.defs[name]
	if !ok {
		return Definition{}, ErrNotFound
	}
	next := cur
	if f.Token != nil {
		if *f.Token == "" {
			return Definition{}, &ValidationError{Field: "token", Reason: "must not be empty"}
		}
		next.Token = *f.Token
	}
	if f.ServerBindAddr != nil {
		if cur.Kind != KindServer {
			return Definition{}, &ValidationError{Field: "server_bind_addr", Reason: "only applies to server services"}
		}
		if *f.ServerBindAddr == "" {
			return Definition{}, &ValidationError{Field: "server_bind_addr", Reason: "is required for server services"}
		}
		next.ServerBindAddr = *f.ServerBindAddr
	}
	if f.ClientLocalAddr != nil {
		if cur.Kind != KindClient {
			return Definition{}, &ValidationError{Field: "client_local_addr", Reason: "only applies to client services"}
		}
		if *f.ClientLocalAddr == "" {
			return Definition{}, &ValidationError{Field: "client_local_addr", Reason: "is required for client services"}
		}
		next.ClientLocalAddr = *f.ClientLocalAddr
	}
	if f.ClientRemoteAddr != nil {
		if cur.Kind != KindClient {
			return Definition{}, &ValidationError{Field: "client_remote_addr", Reason: "only applies to client services"}
		}
		if *f.ClientRemoteAddr == "" {
			return Definition{}, &ValidationError{Field: "client_remote_addr", Reason: "is required for client services"}
		}
		next.ClientRemoteAddr = *f.ClientRemoteAddr
	}
	if f.Status != nil {
		if !validStatus(*f.Status) {
			return Definition{}, &ValidationError{Field: "status", Reason: "must be stopped, running or error"}
		}
		next.Status = *f.Status
	}
	if f.ConfigPath != nil {
		next.ConfigPath = *f.ConfigPath
	}
	if err := c.store.UpdateService(ctx, toRecord(next)); err != nil {
		if errors.Is(err, store.ErrServiceNotFound) {
			return Definition{}, ErrNotFound
		}
		return Definition{}, &PersistenceError{Op: "update", Err: err}
	}
	c.defs[name] = next
	return next, nil
}

// Get returns a copy of the named definition.
func (c *Catalog) Get(name string) (Definition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.defs[name]
	return d, ok
}

// All returns copies of every definition, sorted by name.
func (c *Catalog) All() []Definition {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Definition, 0, len(c.defs))
	for _, d := range c.defs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ByKind returns copies of the definitions of one kind, sorted by name.
func (c *Catalog) ByKind(kind Kind) []Definition {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Definition, 0, len(c.defs))
	for _, d := range c.defs {
		if d.Kind == kind {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len reports the number of catalogued services.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.defs)
}
