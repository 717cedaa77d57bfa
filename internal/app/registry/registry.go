// Package registry owns the resource table, the sessions attached to each resource
// and the transaction ids those sessions wait on.
//
// A Registry is owned by the dispatcher goroutine; none of its methods lock.
package registry

import (
	"fmt"

	"github.com/ghalamif/sensorhub/internal/app/txn"
	"github.com/ghalamif/sensorhub/internal/domain"
	"github.com/ghalamif/sensorhub/internal/errs"
)

// Quiescer reverses a session's arbitration contribution and releases its
// composite event before the session is unlinked.
type Quiescer interface {
	Quiesce(s *domain.Session)
}

type Registry struct {
	resources []*domain.Resource
	byName    map[string]*domain.Resource
	byID      map[uint8]*domain.Resource

	sessions map[uint32]*domain.Session
	byConn   map[domain.ConnID]*domain.Session
	lastID   uint32

	txns *txn.Correlator
}

// New builds the resource table. Names must be unique; ids must be unique among
// real resources. Pseudo resources are reachable by name only.
func New(descs []domain.ResourceDescriptor) (*Registry, error) {
	r := &Registry{
		byName:   make(map[string]*domain.Resource, len(descs)),
		byID:     make(map[uint8]*domain.Resource, len(descs)),
		sessions: make(map[uint32]*domain.Session),
		byConn:   make(map[domain.ConnID]*domain.Session),
		txns:     txn.New(),
	}
	for _, d := range descs {
		if d.Name == "" || len(d.Name) > domain.MaxResourceNameLen {
			return nil, fmt.Errorf("resource %d: invalid name %q", d.ID, d.Name)
		}
		if _, dup := r.byName[d.Name]; dup {
			return nil, fmt.Errorf("resource %q listed twice", d.Name)
		}
		res := domain.NewResource(d)
		r.resources = append(r.resources, res)
		r.byName[d.Name] = res
		if d.Pseudo {
			continue
		}
		if _, dup := r.byID[d.ID]; dup {
			return nil, fmt.Errorf("resource id %d listed twice", d.ID)
		}
		r.byID[d.ID] = res
	}
	return r, nil
}

// Resources returns the table in declaration order.
func (r *Registry) Resources() []*domain.Resource { return r.resources }

func (r *Registry) ResourceByName(name string) (*domain.Resource, error) {
	res, ok := r.byName[name]
	if !ok {
		return nil, errs.Wrap(errs.ErrResourceNotFound, "registry", "ResourceByName", name)
	}
	return res, nil
}

func (r *Registry) ResourceByID(id uint8) (*domain.Resource, error) {
	res, ok := r.byID[id]
	if !ok {
		return nil, errs.Wrap(errs.ErrResourceNotFound, "registry", "ResourceByID", fmt.Sprintf("id %d", id))
	}
	return res, nil
}

// CreateSession attaches a provisional session to the named resource. It stays
// unbound until BindControlConnection.
func (r *Registry) CreateSession(resource string, data domain.ConnID) (*domain.Session, error) {
	res, err := r.ResourceByName(resource)
	if err != nil {
		return nil, err
	}
	s := domain.NewSession(r.nextSessionID(), res, data)
	res.Sessions = append(res.Sessions, s)
	r.sessions[s.ID] = s
	if data != 0 {
		r.byConn[data] = s
	}
	return s, nil
}

// nextSessionID keeps a monotonic counter and probes past ids still live after wrap.
func (r *Registry) nextSessionID() uint32 {
	for {
		r.lastID++
		if r.lastID == 0 {
			continue
		}
		if _, live := r.sessions[r.lastID]; !live {
			return r.lastID
		}
	}
}

func (r *Registry) BindControlConnection(id uint32, conn domain.ConnID) (*domain.Session, error) {
	s, ok := r.sessions[id]
	if !ok {
		return nil, errs.Wrap(errs.ErrSessionNotFound, "registry", "BindControlConnection", fmt.Sprintf("session %d", id))
	}
	if s.Bound() {
		return nil, errs.Wrap(errs.ErrInvalidArgument, "registry", "BindControlConnection", fmt.Sprintf("session %d already bound", id))
	}
	s.ControlConn = conn
	r.byConn[conn] = s
	return s, nil
}

// RemoveSession quiesces s, releases its transactions and unlinks it.
// It reports false when s was already removed.
func (r *Registry) RemoveSession(s *domain.Session, q Quiescer) bool {
	if cur, ok := r.sessions[s.ID]; !ok || cur != s {
		return false
	}
	if q != nil {
		q.Quiesce(s)
	}
	r.txns.ReleaseSession(s.ID)
	for id := range s.Txns {
		delete(s.Txns, id)
	}

	res := s.Resource
	for i, o := range res.Sessions {
		if o == s {
			res.Sessions = append(res.Sessions[:i], res.Sessions[i+1:]...)
			break
		}
	}
	delete(r.sessions, s.ID)
	if s.DataConn != 0 {
		delete(r.byConn, s.DataConn)
	}
	if s.ControlConn != 0 {
		delete(r.byConn, s.ControlConn)
	}
	return true
}

func (r *Registry) FindBySessionID(id uint32) (*domain.Session, error) {
	s, ok := r.sessions[id]
	if !ok {
		return nil, errs.Wrap(errs.ErrSessionNotFound, "registry", "FindBySessionID", fmt.Sprintf("session %d", id))
	}
	return s, nil
}

// FindByTransactionID returns the session waiting on tx and what it waits for.
func (r *Registry) FindByTransactionID(tx uint8) (*domain.Session, *txn.Pending, error) {
	p, ok := r.txns.Resolve(tx)
	if !ok {
		return nil, nil, errs.Wrap(errs.ErrSessionNotFound, "registry", "FindByTransactionID", fmt.Sprintf("tx %d", tx))
	}
	s, ok := r.sessions[p.SessionID]
	if !ok {
		r.txns.Release(tx)
		return nil, nil, errs.Wrap(errs.ErrSessionNotFound, "registry", "FindByTransactionID", fmt.Sprintf("tx %d owner gone", tx))
	}
	return s, p, nil
}

// FindByConnection matches either the data or the control connection.
func (r *Registry) FindByConnection(conn domain.ConnID) (*domain.Session, error) {
	s, ok := r.byConn[conn]
	if !ok {
		return nil, errs.Wrap(errs.ErrSessionNotFound, "registry", "FindByConnection", fmt.Sprintf("conn %d", conn))
	}
	return s, nil
}

// BeginTransaction allocates a transaction id for s and records it on the session.
func (r *Registry) BeginTransaction(s *domain.Session, kind domain.PendingKind, remaining int) (uint8, error) {
	id, err := r.txns.Allocate(s.ID, kind, remaining)
	if err != nil {
		return txn.None, err
	}
	s.Txns[id] = kind
	return id, nil
}

// EndTransaction releases tx and clears it from its owner.
func (r *Registry) EndTransaction(tx uint8) {
	if p, ok := r.txns.Resolve(tx); ok {
		if s, ok := r.sessions[p.SessionID]; ok {
			delete(s.Txns, tx)
		}
	}
	r.txns.Release(tx)
}

// Sessions returns the number of live sessions.
func (r *Registry) Sessions() int { return len(r.sessions) }

// LiveTransactions returns the number of outstanding firmware requests.
func (r *Registry) LiveTransactions() int { return r.txns.Len() }

// Each calls fn for every session in resource order, then registry order within a resource.
func (r *Registry) Each(fn func(*domain.Session)) {
	for _, res := range r.resources {
		for _, s := range append([]*domain.Session(nil), res.Sessions...) {
			fn(s)
		}
	}
}
