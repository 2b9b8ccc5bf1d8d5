package application

import (
	"context"
	"errors"
	"sort"
	"sync"

	"go.uber.org/zap"

	alerts "hydroponics-cloud/internal/alerts/domain"
	"hydroponics-cloud/internal/eventing"
	masterdataevents "hydroponics-cloud/internal/masterdata/application/events"
	masterdata "hydroponics-cloud/internal/masterdata/domain"
	"hydroponics-cloud/internal/observability/metrics"
)

// GroupSource lists every known group.
type GroupSource interface {
	ListAllGroups(ctx context.Context) ([]masterdata.Group, error)
}

// GroupRef identifies a monitored group.
type GroupRef struct {
	UserID  string `json:"userId"`
	GroupID string `json:"groupId"`
}

// Manager owns one session per watched group.
type Manager struct {
	deps     Dependencies
	groups   GroupSource
	logger   *zap.Logger
	watchAll bool

	mu       sync.Mutex
	ctx      context.Context
	sessions map[GroupRef]*Session
	unsubs   []eventing.Unsubscribe
	closed   bool
}

// ManagerOption customizes the manager.
type ManagerOption func(*Manager)

// WithWatchAll makes Start watch every known group and every group created later.
func WithWatchAll(enabled bool) ManagerOption {
	return func(m *Manager) {
		m.watchAll = enabled
	}
}

// NewManager constructs a session manager.
func NewManager(deps Dependencies, groups GroupSource, opts ...ManagerOption) (*Manager, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if groups == nil {
		return nil, errors.New("alerts: nil group source")
	}
	deps = deps.withDefaults()
	manager := &Manager{
		deps:     deps,
		groups:   groups,
		logger:   deps.Logger,
		ctx:      context.Background(),
		sessions: make(map[GroupRef]*Session),
	}
	for _, opt := range opts {
		opt(manager)
	}
	return manager, nil
}

// Start binds sessions to ctx and, with watch-all enabled, watches every known group.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	m.ctx = ctx
	m.mu.Unlock()
	if !m.watchAll {
		return nil
	}

	unsubscribe := eventing.SubscribeTyped(m.deps.Bus, func(_ context.Context, e masterdataevents.GroupCreated) error {
		if err := m.Watch(e.UserID, e.GroupID); err != nil {
			m.logger.Warn("watch new group failed",
				zap.String("user_id", e.UserID), zap.String("group_id", e.GroupID), zap.Error(err))
		}
		return nil
	})
	m.mu.Lock()
	m.unsubs = append(m.unsubs, unsubscribe)
	m.mu.Unlock()

	groups, err := m.groups.ListAllGroups(ctx)
	if err != nil {
		return err
	}
	for _, group := range groups {
		if err := m.Watch(group.UserID, group.GroupID); err != nil {
			return err
		}
	}
	m.logger.Info("alert sessions started", zap.Int("groups", len(groups)))
	return nil
}

// Watch starts monitoring a group. Watching an already watched group is a no-op.
func (m *Manager) Watch(userID, groupID string) error {
	ref := GroupRef{UserID: userID, GroupID: groupID}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errors.New("alerts: manager shut down")
	}
	if _, ok := m.sessions[ref]; ok {
		return nil
	}
	session, err := NewSession(userID, groupID, m.deps)
	if err != nil {
		return err
	}
	session.Start(m.ctx)
	m.sessions[ref] = session
	metrics.AddActiveSessions(1)
	m.logger.Debug("group watched", zap.String("user_id", userID), zap.String("group_id", groupID))
	return nil
}

// Unwatch tears down the session of a group.
func (m *Manager) Unwatch(userID, groupID string) error {
	ref := GroupRef{UserID: userID, GroupID: groupID}
	m.mu.Lock()
	session, ok := m.sessions[ref]
	delete(m.sessions, ref)
	m.mu.Unlock()
	if !ok {
		return alerts.ErrNotWatched
	}
	session.Stop()
	metrics.AddActiveSessions(-1)
	m.logger.Debug("group unwatched", zap.String("user_id", userID), zap.String("group_id", groupID))
	return nil
}

// Switch moves a user's monitoring from one group to another.
func (m *Manager) Switch(userID, fromGroupID, toGroupID string) error {
	if fromGroupID == toGroupID {
		return m.Watch(userID, toGroupID)
	}
	if fromGroupID != "" {
		if err := m.Unwatch(userID, fromGroupID); err != nil && !errors.Is(err, alerts.ErrNotWatched) {
			return err
		}
	}
	return m.Watch(userID, toGroupID)
}

// Watching reports whether a group has a running session.
func (m *Manager) Watching(userID, groupID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[GroupRef{UserID: userID, GroupID: groupID}]
	return ok
}

// Watched returns the monitored groups ordered by user and group.
func (m *Manager) Watched() []GroupRef {
	m.mu.Lock()
	refs := make([]GroupRef, 0, len(m.sessions))
	for ref := range m.sessions {
		refs = append(refs, ref)
	}
	m.mu.Unlock()
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].UserID != refs[j].UserID {
			return refs[i].UserID < refs[j].UserID
		}
		return refs[i].GroupID < refs[j].GroupID
	})
	return refs
}

// ActiveAlerts returns the alerts of a watched group.
func (m *Manager) ActiveAlerts(ctx context.Context, userID, groupID string) ([]alerts.ActiveAlert, error) {
	if userID == "" || groupID == "" {
		return nil, alerts.ErrMissingIdentifiers
	}
	m.mu.Lock()
	session, ok := m.sessions[GroupRef{UserID: userID, GroupID: groupID}]
	m.mu.Unlock()
	if !ok {
		return nil, alerts.ErrNotWatched
	}
	return session.ActiveAlerts(ctx)
}

// Shutdown stops every session. The manager cannot be restarted.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.closed = true
	unsubs := m.unsubs
	m.unsubs = nil
	sessions := m.sessions
	m.sessions = make(map[GroupRef]*Session)
	m.mu.Unlock()

	for _, unsubscribe := range unsubs {
		unsubscribe()
	}
	for _, session := range sessions {
		session.Stop()
		metrics.AddActiveSessions(-1)
	}
	m.logger.Info("alert sessions stopped", zap.Int("groups", len(sessions)))
}
