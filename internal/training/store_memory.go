package training

import (
	"context"
	"fmt"
	"sync"
)

// memoryStore is a mutex-guarded Store for tests and offline development.
type memoryStore struct {
	mu           sync.RWMutex
	trainings    map[string]Training
	enrollments  map[string]Enrollment
	progress     map[string]map[string]ModuleProgress // enrollmentID -> moduleID
	finalStates  map[string]FinalQuizState
	attempts     []Attempt
	certificates map[string]Certificate // enrollmentID -> certificate
	xp           map[string]int
}

func NewInMemoryStore() Store {
	return &memoryStore{
		trainings:    map[string]Training{},
		enrollments:  map[string]Enrollment{},
		progress:     map[string]map[string]ModuleProgress{},
		finalStates:  map[string]FinalQuizState{},
		certificates: map[string]Certificate{},
		xp:           map[string]int{},
	}
}

func (m *memoryStore) PutTraining(_ context.Context, t Training) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trainings[t.ID] = t
	return nil
}

func (m *memoryStore) GetTraining(_ context.Context, id string) (Training, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.trainings[id]
	if !ok {
		return Training{}, fmt.Errorf("%w: training %s", ErrNotFound, id)
	}
	return t, nil
}

func (m *memoryStore) GetTrainingByModule(_ context.Context, moduleID string) (Training, Module, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, t := range m.trainings {
		if mod, ok := moduleByID(t, moduleID); ok {
			return t, mod, nil
		}
	}
	return Training{}, Module{}, fmt.Errorf("%w: module %s", ErrNotFound, moduleID)
}

func (m *memoryStore) SetTrainingStatus(_ context.Context, id string, status TrainingStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trainings[id]
	if !ok {
		return fmt.Errorf("%w: training %s", ErrNotFound, id)
	}
	t.Status = status
	m.trainings[id] = t
	return nil
}

func (m *memoryStore) CreateEnrollment(_ context.Context, e Enrollment) (Enrollment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, x := range m.enrollments {
		if x.TrainingID == e.TrainingID && x.UserID == e.UserID {
			return x, nil // one enrollment per (user, training)
		}
	}
	m.enrollments[e.ID] = e
	return e, nil
}

func (m *memoryStore) GetEnrollment(_ context.Context, id string) (Enrollment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.enrollments[id]
	if !ok {
		return Enrollment{}, fmt.Errorf("%w: enrollment %s", ErrNotFound, id)
	}
	return e, nil
}

func (m *memoryStore) FindEnrollment(_ context.Context, trainingID, userID string) (Enrollment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.enrollments {
		if e.TrainingID == trainingID && e.UserID == userID {
			return e, nil
		}
	}
	return Enrollment{}, fmt.Errorf("%w: enrollment for training %s", ErrNotFound, trainingID)
}

func (m *memoryStore) UpdateEnrollment(_ context.Context, e Enrollment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.enrollments[e.ID]; !ok {
		return fmt.Errorf("%w: enrollment %s", ErrNotFound, e.ID)
	}
	m.enrollments[e.ID] = e
	return nil
}

func (m *memoryStore) ModuleProgressFor(_ context.Context, enrollmentID string) (map[string]ModuleProgress, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]ModuleProgress, len(m.progress[enrollmentID]))
	for k, v := range m.progress[enrollmentID] {
		out[k] = v
	}
	return out, nil
}

func (m *memoryStore) UpsertModuleProgress(_ context.Context, mp ModuleProgress) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upsertProgressLocked(mp)
	return nil
}

func (m *memoryStore) upsertProgressLocked(mp ModuleProgress) {
	if m.progress[mp.EnrollmentID] == nil {
		m.progress[mp.EnrollmentID] = map[string]ModuleProgress{}
	}
	m.progress[mp.EnrollmentID][mp.ModuleID] = mp
}

func (m *memoryStore) FinalQuizStateFor(_ context.Context, enrollmentID string) (FinalQuizState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.finalStates[enrollmentID]
	if !ok {
		return FinalQuizState{EnrollmentID: enrollmentID}, nil
	}
	return st, nil
}

func (m *memoryStore) RecordAttempt(_ context.Context, w AttemptWrite) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = append(m.attempts, w.Attempt)
	if w.FinalState != nil {
		m.finalStates[w.FinalState.EnrollmentID] = *w.FinalState
	}
	if w.Progress != nil {
		m.upsertProgressLocked(*w.Progress)
	}
	if w.Enrollment != nil {
		m.enrollments[w.Enrollment.ID] = *w.Enrollment
	}
	if w.XPUserID != "" {
		m.xp[w.XPUserID] += w.XPDelta
	}
	return nil
}

func (m *memoryStore) ListAttempts(_ context.Context, enrollmentID string) ([]Attempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Attempt
	for _, a := range m.attempts {
		if a.EnrollmentID == enrollmentID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memoryStore) IssueCertificate(_ context.Context, c Certificate) (Certificate, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.certificates[c.EnrollmentID]; ok {
		return existing, false, nil
	}
	m.certificates[c.EnrollmentID] = c
	return c, true, nil
}

func (m *memoryStore) CertificateFor(_ context.Context, enrollmentID string) (*Certificate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.certificates[enrollmentID]
	if !ok {
		return nil, nil
	}
	out := c
	return &out, nil
}

func (m *memoryStore) ResetEnrollment(_ context.Context, enrollmentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.enrollments[enrollmentID]
	if !ok {
		return fmt.Errorf("%w: enrollment %s", ErrNotFound, enrollmentID)
	}
	delete(m.progress, enrollmentID)
	delete(m.finalStates, enrollmentID)
	delete(m.certificates, enrollmentID)
	e.Status = EnrollmentPending
	e.CurrentModuleOrder = 0
	e.CompletedAt = 0
	m.enrollments[enrollmentID] = e
	return nil
}

func (m *memoryStore) ApplyModuleCompletion(_ context.Context, w CompletionWrite) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.enrollments[w.Enrollment.ID]; !ok {
		return fmt.Errorf("%w: enrollment %s", ErrNotFound, w.Enrollment.ID)
	}
	m.upsertProgressLocked(w.Progress)
	m.enrollments[w.Enrollment.ID] = w.Enrollment
	if w.XPUserID != "" {
		m.xp[w.XPUserID] += w.XPDelta
	}
	return nil
}
