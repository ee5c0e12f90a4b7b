package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"jwt-session-auth/internal/security"
	"jwt-session-auth/internal/session/domain"
)

type memSessionRepo struct {
	mu   sync.Mutex
	byID map[string]*domain.Session
}

func newMemSessionRepo() *memSessionRepo {
	return &memSessionRepo{byID: make(map[string]*domain.Session)}
}

func (r *memSessionRepo) Create(ctx context.Context, s *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.byID {
		if existing.CompositeToken == s.CompositeToken {
			return errors.New("duplicate composite token")
		}
	}
	s2 := *s
	r.byID[s.ID] = &s2
	return nil
}

func (r *memSessionRepo) GetByCompositeToken(ctx context.Context, token string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.byID {
		if s.CompositeToken == token {
			s2 := *s
			return &s2, nil
		}
	}
	return nil, nil
}

func (r *memSessionRepo) UpsertByUserAndDevice(ctx context.Context, s *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, existing := range r.byID {
		if existing.UserID == s.UserID && existing.DeviceID == s.DeviceID {
			s2 := *s
			s2.ID = id
			r.byID[id] = &s2
			s.ID = id
			return nil
		}
	}
	s2 := *s
	r.byID[s.ID] = &s2
	return nil
}

func (r *memSessionRepo) Invalidate(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.byID[id]; ok {
		s.Valid = false
		s.UpdatedAt = time.Now().UTC()
	}
	return nil
}

func (r *memSessionRepo) Supersede(ctx context.Context, oldID string, replacement *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.byID[oldID]; ok {
		s.Valid = false
		s.UpdatedAt = time.Now().UTC()
	}
	s2 := *replacement
	r.byID[replacement.ID] = &s2
	return nil
}

func (r *memSessionRepo) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.byID[id]; ok {
		s.LastUsedAt = &at
	}
	return nil
}

func (r *memSessionRepo) DeleteInvalidBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, s := range r.byID {
		if !s.Valid && s.UpdatedAt.Before(cutoff) {
			delete(r.byID, id)
			n++
		}
	}
	return n, nil
}

func (r *memSessionRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

// fakeTokenService mints sequential opaque bearer strings and records
// invalidated ones.
type fakeTokenService struct {
	mu          sync.Mutex
	counter     int
	invalidated map[string]bool
}

func newFakeTokenService() *fakeTokenService {
	return &fakeTokenService{invalidated: make(map[string]bool)}
}

func (f *fakeTokenService) Issue(ctx context.Context, userID string) (string, string, time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counter++
	tok := fmt.Sprintf("bearer-%s-%d", userID, f.counter)
	return tok, fmt.Sprintf("jti-%d", f.counter), time.Now().Add(time.Hour), nil
}

func (f *fakeTokenService) Invalidate(ctx context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated[token] = true
	return nil
}

func (f *fakeTokenService) wasInvalidated(token string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.invalidated[token]
}

func newTestManager(t *testing.T) (*Manager, *memSessionRepo, *fakeTokenService) {
	t.Helper()
	repo := newMemSessionRepo()
	tokens := newFakeTokenService()
	m := NewManager(repo, tokens, security.NewKeyPairGenerator(2048))
	return m, repo, tokens
}

func TestIssue_NonceUniqueAcrossIssuances(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		res, err := m.Issue(ctx, IssueParams{UserID: "u1", Policy: AlwaysInsert})
		if err != nil {
			t.Fatalf("Issue: %v", err)
		}
		nonce, _, err := domain.SplitCompositeToken(res.CompositeToken)
		if err != nil {
			t.Fatalf("SplitCompositeToken: %v", err)
		}
		if seen[nonce] {
			t.Fatalf("nonce %q repeated", nonce)
		}
		seen[nonce] = true
	}
}

func TestIssue_AlwaysInsertKeepsExistingRows(t *testing.T) {
	m, repo, _ := newTestManager(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := m.Issue(ctx, IssueParams{UserID: "u1", DeviceID: "d1", Policy: AlwaysInsert}); err != nil {
			t.Fatalf("Issue: %v", err)
		}
	}
	if got := repo.count(); got != 3 {
		t.Errorf("rows = %d, want 3", got)
	}
}

func TestIssue_UpsertReplacesDeviceRow(t *testing.T) {
	m, repo, _ := newTestManager(t)
	ctx := context.Background()

	first, err := m.Issue(ctx, IssueParams{UserID: "u1", DeviceID: "d1", Policy: UpsertByDevice})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	second, err := m.Issue(ctx, IssueParams{UserID: "u1", DeviceID: "d1", Policy: UpsertByDevice})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if got := repo.count(); got != 1 {
		t.Errorf("rows = %d, want 1", got)
	}

	// The first composite token no longer matches any row.
	if _, err := m.Lookup(ctx, first.CompositeToken); !errors.Is(err, ErrInvalidSession) {
		t.Errorf("old token lookup: got %v, want ErrInvalidSession", err)
	}
	if _, err := m.Lookup(ctx, second.CompositeToken); err != nil {
		t.Errorf("new token lookup: %v", err)
	}
}

func TestIssue_GeneratesDeviceIDWhenEmpty(t *testing.T) {
	m, _, _ := newTestManager(t)
	res, err := m.Issue(context.Background(), IssueParams{UserID: "u1", Policy: AlwaysInsert})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if res.Session.DeviceID == "" {
		t.Error("DeviceID is empty")
	}
}

func TestIssue_KeyGenFailureLeavesNoSession(t *testing.T) {
	repo := newMemSessionRepo()
	m := NewManager(repo, newFakeTokenService(), failingKeyGen{})

	_, err := m.Issue(context.Background(), IssueParams{UserID: "u1", Policy: AlwaysInsert})
	if !errors.Is(err, security.ErrKeyGenFailed) {
		t.Fatalf("Issue: got %v, want ErrKeyGenFailed", err)
	}
	if got := repo.count(); got != 0 {
		t.Errorf("rows = %d, want 0", got)
	}
}

type failingKeyGen struct{}

func (failingKeyGen) Generate() (*security.KeyPair, error) {
	return nil, security.ErrKeyGenFailed
}

func TestRefresh_SupersedesOldSession(t *testing.T) {
	m, repo, tokens := newTestManager(t)
	ctx := context.Background()

	issued, err := m.Issue(ctx, IssueParams{UserID: "u1", DeviceID: "d1", Policy: AlwaysInsert})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	refreshed, err := m.Refresh(ctx, issued.CompositeToken, "10.0.0.1", "test-agent")
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if refreshed.CompositeToken == issued.CompositeToken {
		t.Error("refresh returned the same composite token")
	}
	if refreshed.Session.ID == issued.Session.ID {
		t.Error("refresh mutated the old row instead of superseding it")
	}
	if refreshed.Session.DeviceID != "d1" {
		t.Errorf("DeviceID = %q, want d1", refreshed.Session.DeviceID)
	}
	if refreshed.PublicKeyPEM == issued.PublicKeyPEM {
		t.Error("refresh reused the old key pair")
	}
	if got := repo.count(); got != 2 {
		t.Errorf("rows = %d, want 2 (old invalid + new)", got)
	}

	_, oldBearer, _ := domain.SplitCompositeToken(issued.CompositeToken)
	if !tokens.wasInvalidated(oldBearer) {
		t.Error("old bearer token was not invalidated")
	}

	// The original token fails from now on; the new one works.
	if _, err := m.Lookup(ctx, issued.CompositeToken); !errors.Is(err, ErrInvalidSession) {
		t.Errorf("old token lookup: got %v, want ErrInvalidSession", err)
	}
	if _, err := m.Lookup(ctx, refreshed.CompositeToken); err != nil {
		t.Errorf("new token lookup: %v", err)
	}
}

func TestRefresh_SecondRefreshWithOriginalTokenFails(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	issued, err := m.Issue(ctx, IssueParams{UserID: "u1", Policy: AlwaysInsert})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := m.Refresh(ctx, issued.CompositeToken, "", ""); err != nil {
		t.Fatalf("first Refresh: %v", err)
	}
	if _, err := m.Refresh(ctx, issued.CompositeToken, "", ""); !errors.Is(err, ErrInvalidSession) {
		t.Errorf("second Refresh with original token: got %v, want ErrInvalidSession", err)
	}
}

func TestRefresh_UnknownTokenFails(t *testing.T) {
	m, _, _ := newTestManager(t)
	if _, err := m.Refresh(context.Background(), "nonce:unknown", "", ""); !errors.Is(err, ErrInvalidSession) {
		t.Errorf("Refresh unknown token: got %v, want ErrInvalidSession", err)
	}
}

func TestInvalidate(t *testing.T) {
	m, _, tokens := newTestManager(t)
	ctx := context.Background()

	issued, err := m.Issue(ctx, IssueParams{UserID: "u1", Policy: AlwaysInsert})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if err := m.Invalidate(ctx, issued.CompositeToken); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if _, err := m.Lookup(ctx, issued.CompositeToken); !errors.Is(err, ErrInvalidSession) {
		t.Errorf("lookup after invalidate: got %v, want ErrInvalidSession", err)
	}
	_, bearer, _ := domain.SplitCompositeToken(issued.CompositeToken)
	if !tokens.wasInvalidated(bearer) {
		t.Error("bearer token was not invalidated")
	}

	// Idempotent on an already-invalid session.
	if err := m.Invalidate(ctx, issued.CompositeToken); err != nil {
		t.Errorf("second Invalidate: %v", err)
	}

	// A token matching nothing at all is reported.
	if err := m.Invalidate(ctx, "nonce:missing"); !errors.Is(err, ErrInvalidSession) {
		t.Errorf("Invalidate unknown token: got %v, want ErrInvalidSession", err)
	}
}

func TestTwoDevices_IndependentSessions(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	a, err := m.Issue(ctx, IssueParams{UserID: "u1", DeviceID: "phone", Policy: UpsertByDevice})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	b, err := m.Issue(ctx, IssueParams{UserID: "u1", DeviceID: "laptop", Policy: UpsertByDevice})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if err := m.Invalidate(ctx, a.CompositeToken); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if _, err := m.Lookup(ctx, b.CompositeToken); err != nil {
		t.Errorf("other device session affected: %v", err)
	}
}

func TestVerifySignature(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	issued, err := m.Issue(ctx, IssueParams{UserID: "u1", Policy: AlwaysInsert})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	other, err := m.Issue(ctx, IssueParams{UserID: "u2", Policy: AlwaysInsert})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	data := "signed payload"
	sig, err := security.SignSHA512(issued.Session.PrivateKeyPEM, []byte(data))
	if err != nil {
		t.Fatalf("SignSHA512: %v", err)
	}
	sigB64 := base64.StdEncoding.EncodeToString(sig)

	if err := m.VerifySignature(ctx, issued.CompositeToken, data, sigB64); err != nil {
		t.Errorf("VerifySignature with own key: %v", err)
	}
	if err := m.VerifySignature(ctx, other.CompositeToken, data, sigB64); !errors.Is(err, security.ErrSignatureMismatch) {
		t.Errorf("VerifySignature with other session's key: got %v, want ErrSignatureMismatch", err)
	}
	if err := m.VerifySignature(ctx, issued.CompositeToken, data, "!!not-base64!!"); !errors.Is(err, security.ErrSignatureMismatch) {
		t.Errorf("VerifySignature with bad base64: got %v, want ErrSignatureMismatch", err)
	}
	if err := m.VerifySignature(ctx, "nonce:unknown", data, sigB64); !errors.Is(err, ErrInvalidSession) {
		t.Errorf("VerifySignature with unknown token: got %v, want ErrInvalidSession", err)
	}
}

func TestPruneInvalid(t *testing.T) {
	m, repo, _ := newTestManager(t)
	ctx := context.Background()

	issued, err := m.Issue(ctx, IssueParams{UserID: "u1", Policy: AlwaysInsert})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := m.Issue(ctx, IssueParams{UserID: "u1", Policy: AlwaysInsert}); err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if err := m.Invalidate(ctx, issued.CompositeToken); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}

	// Retention of zero prunes everything already invalid.
	time.Sleep(time.Millisecond)
	n, err := m.PruneInvalid(ctx, 0)
	if err != nil {
		t.Fatalf("PruneInvalid: %v", err)
	}
	if n != 1 {
		t.Errorf("pruned = %d, want 1", n)
	}
	if got := repo.count(); got != 1 {
		t.Errorf("rows = %d, want 1", got)
	}
}

// supersedeFailRepo fails the replacement insert while leaving reads intact.
type supersedeFailRepo struct {
	*memSessionRepo
}

func (r *supersedeFailRepo) Supersede(ctx context.Context, oldID string, replacement *domain.Session) error {
	return errors.New("insert failed")
}

func TestRefresh_SupersedeFailureKeepsSessionUsable(t *testing.T) {
	repo := newMemSessionRepo()
	tokens := newFakeTokenService()
	m := NewManager(&supersedeFailRepo{repo}, tokens, security.NewKeyPairGenerator(2048))
	ctx := context.Background()

	issued, err := m.Issue(ctx, IssueParams{UserID: "u1", DeviceID: "d1", Policy: AlwaysInsert})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if _, err := m.Refresh(ctx, issued.CompositeToken, "", ""); err == nil {
		t.Fatal("Refresh should fail when the replacement row cannot be written")
	}

	// The failed refresh leaves the session fully usable: the row is still
	// valid and the bearer token was not blocklisted.
	_, oldBearer, err := domain.SplitCompositeToken(issued.CompositeToken)
	if err != nil {
		t.Fatalf("SplitCompositeToken: %v", err)
	}
	if tokens.wasInvalidated(oldBearer) {
		t.Error("old bearer was invalidated even though the refresh failed")
	}
	if _, err := m.Lookup(ctx, issued.CompositeToken); err != nil {
		t.Errorf("old session unusable after failed refresh: %v", err)
	}
}
