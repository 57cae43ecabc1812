package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore is an in-process PageStore used by tests and local CLI runs.
// Values are copied on the way in and out so callers cannot alias state.
type MemoryStore struct {
	mu           sync.Mutex
	pages        map[string]*Page
	images       map[int64]*ImageRecord
	jobs         map[string]*RestyleJob
	entitlements map[string]*Entitlement
	apiKeys      map[string]string
	nextImageID  int64
}

var _ PageStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		pages:        make(map[string]*Page),
		images:       make(map[int64]*ImageRecord),
		jobs:         make(map[string]*RestyleJob),
		entitlements: make(map[string]*Entitlement),
		apiKeys:      make(map[string]string),
	}
}

func copyRef(r *ImageRef) *ImageRef {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}

func copyPage(p *Page) *Page {
	c := *p
	c.Sections = make([]Section, len(p.Sections))
	for i, s := range p.Sections {
		s.PageID = p.ID
		s.Desktop = copyRef(s.Desktop)
		s.Mobile = copyRef(s.Mobile)
		c.Sections[i] = s
	}
	sort.SliceStable(c.Sections, func(i, j int) bool {
		return c.Sections[i].Order < c.Sections[j].Order
	})
	return &c
}

func (m *MemoryStore) GetPage(_ context.Context, pageID string) (*Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pages[pageID]
	if !ok {
		return nil, nil
	}
	return copyPage(p), nil
}

func (m *MemoryStore) PutPage(_ context.Context, page *Page) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pages[page.ID] = copyPage(page)
	return nil
}

func (m *MemoryStore) NextImageID(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextImageID++
	return m.nextImageID, nil
}

func (m *MemoryStore) CreateImageAndRelink(_ context.Context, rec *ImageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.images[rec.ID]; exists {
		return fmt.Errorf("image %d already exists", rec.ID)
	}
	p, ok := m.pages[rec.PageID]
	if !ok {
		return fmt.Errorf("relink image %d: page %s: %w", rec.ID, rec.PageID, ErrSectionNotFound)
	}
	for i := range p.Sections {
		sec := &p.Sections[i]
		if sec.ID != rec.SectionID {
			continue
		}
		ref := rec.Ref()
		switch rec.Viewport {
		case ViewportDesktop:
			sec.Desktop = &ref
		case ViewportMobile:
			sec.Mobile = &ref
		default:
			return fmt.Errorf("unknown viewport %q", rec.Viewport)
		}
		c := *rec
		m.images[rec.ID] = &c
		return nil
	}
	return fmt.Errorf("relink image %d: section %s: %w", rec.ID, rec.SectionID, ErrSectionNotFound)
}

// Image returns a stored image record, for tests and local inspection.
func (m *MemoryStore) Image(id int64) (*ImageRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.images[id]
	if !ok {
		return nil, false
	}
	c := *rec
	return &c, true
}

func (m *MemoryStore) PutRestyleJob(_ context.Context, job *RestyleJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *job
	c.Outcomes = append([]JobOutcome(nil), job.Outcomes...)
	m.jobs[job.ID] = &c
	return nil
}

func (m *MemoryStore) GetRestyleJob(_ context.Context, jobID string) (*RestyleJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return nil, nil
	}
	c := *j
	c.Outcomes = append([]JobOutcome(nil), j.Outcomes...)
	return &c, nil
}

func entitlementKey(userID, feature string) string { return userID + "#" + feature }

func (m *MemoryStore) GetEntitlement(_ context.Context, userID, feature string) (*Entitlement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entitlements[entitlementKey(userID, feature)]
	if !ok {
		return nil, nil
	}
	c := *e
	return &c, nil
}

func (m *MemoryStore) PutEntitlement(_ context.Context, ent *Entitlement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *ent
	m.entitlements[entitlementKey(ent.UserID, ent.Feature)] = &c
	return nil
}

func (m *MemoryStore) ConsumeQuota(_ context.Context, userID, feature string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entitlements[entitlementKey(userID, feature)]
	if !ok || !e.Active || e.Remaining < 1 {
		return 0, ErrQuotaExhausted
	}
	e.Remaining--
	return e.Remaining, nil
}

func (m *MemoryStore) GetAPIKey(_ context.Context, userID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.apiKeys[userID], nil
}

func (m *MemoryStore) PutAPIKey(_ context.Context, userID, apiKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.apiKeys[userID] = apiKey
	return nil
}
