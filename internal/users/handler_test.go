package users

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ciec-now/ciecnow/internal/access"
	"github.com/ciec-now/ciecnow/internal/shared"
)

type mockRepository struct {
	profiles map[int64]ProfileRecord
}

func ptr[T any](v T) *T { return &v }

func newMockRepository() *mockRepository {
	return &mockRepository{profiles: map[int64]ProfileRecord{
		1: {ID: 1, Email: "ana@ciec.local", FullName: ptr("Ana"), RoleID: ptr(int64(2)), RoleName: ptr("Secretary"), IsApproved: ptr(true)},
		2: {ID: 2, Email: "luis@ciec.local"},
	}}
}

func (m *mockRepository) GetProfile(ctx context.Context, id int64) (ProfileRecord, error) {
	rec, ok := m.profiles[id]
	if !ok {
		return ProfileRecord{}, ErrNotFound
	}
	return rec, nil
}

func (m *mockRepository) ListProfiles(ctx context.Context) ([]ProfileRecord, error) {
	return []ProfileRecord{m.profiles[1], m.profiles[2]}, nil
}

func (m *mockRepository) SetApproval(ctx context.Context, id int64, approved bool) error {
	rec, ok := m.profiles[id]
	if !ok {
		return ErrNotFound
	}
	rec.IsApproved = &approved
	m.profiles[id] = rec
	return nil
}

func (m *mockRepository) AssignRole(ctx context.Context, id, roleID int64) error {
	rec, ok := m.profiles[id]
	if !ok {
		return ErrNotFound
	}
	rec.RoleID = &roleID
	m.profiles[id] = rec
	return nil
}

func (m *mockRepository) DeleteProfile(ctx context.Context, id int64) error {
	if _, ok := m.profiles[id]; !ok {
		return ErrNotFound
	}
	delete(m.profiles, id)
	return nil
}

type recordingListener struct{ ids []int64 }

func (l *recordingListener) ProfileChanged(ctx context.Context, userID int64) {
	l.ids = append(l.ids, userID)
}

func TestToProfileHandlesNulls(t *testing.T) {
	p := ProfileRecord{ID: 2, Email: "luis@ciec.local"}.ToProfile()
	assert.Equal(t, Profile{ID: 2, Email: "luis@ciec.local"}, p)
	assert.False(t, p.IsApproved)
	assert.Zero(t, p.Actor().RoleID)
}

func TestAssignRoleRejectsNonPositive(t *testing.T) {
	svc := NewService(newMockRepository())
	assert.ErrorIs(t, svc.AssignRole(context.Background(), 1, 0), ErrInvalidRole)
}

type recordingAuditor struct {
	logs []shared.AuditLog
}

func (a *recordingAuditor) Record(_ context.Context, log shared.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

func newRouter(repo *mockRepository, listener ChangeListener, perms ...access.Capability) http.Handler {
	return newAuditedRouter(repo, listener, nil, perms...)
}

func newAuditedRouter(repo *mockRepository, listener ChangeListener, audit shared.Auditor, perms ...access.Capability) http.Handler {
	h := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), NewService(repo), access.Middleware{}, listener, audit)
	e := access.NewEvaluator(access.Actor{UserID: 99, RoleID: 5}, access.NewPermissionSet(perms...))
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx := shared.ContextWithActor(access.WithEvaluator(req.Context(), e), 99)
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	})
	r.Route("/users", h.MountRoutes)
	return r
}

func TestListRequiresReadUsers(t *testing.T) {
	rr := httptest.NewRecorder()
	newRouter(newMockRepository(), nil).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/users/", nil))
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = httptest.NewRecorder()
	newRouter(newMockRepository(), nil, access.Capability{Action: access.ActionRead, Subject: access.SubjectUsers}).
		ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/users/", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"full_name":"Ana"`)
}

func TestApproveNotifiesListener(t *testing.T) {
	repo := newMockRepository()
	listener := &recordingListener{}
	audit := &recordingAuditor{}
	router := newAuditedRouter(repo, listener, audit, access.Capability{Action: access.ActionManage, Subject: access.SubjectUsers})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPut, "/users/2/approval", strings.NewReader(`{"approved":true}`)))

	require.Equal(t, http.StatusNoContent, rr.Code)
	assert.True(t, *repo.profiles[2].IsApproved)
	assert.Equal(t, []int64{2}, listener.ids)
	require.Len(t, audit.logs, 1)
	assert.Equal(t, shared.AuditProfileApproval, audit.logs[0].Action)
	assert.Equal(t, int64(99), audit.logs[0].ActorID)
	assert.Equal(t, "2", audit.logs[0].EntityID)
}

func TestListPaginates(t *testing.T) {
	router := newRouter(newMockRepository(), nil, access.Capability{Action: access.ActionManage, Subject: access.SubjectUsers})
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/users/?page=2&per_page=1", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"page":2`)
	assert.Contains(t, rr.Body.String(), `"total":2`)
	assert.NotContains(t, rr.Body.String(), `"full_name":"Ana"`)
}

func TestListClampsHugePage(t *testing.T) {
	router := newRouter(newMockRepository(), nil, access.Capability{Action: access.ActionManage, Subject: access.SubjectUsers})
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/users/?page=100000000000000001&per_page=100", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"page":1`)
	assert.Contains(t, rr.Body.String(), `"full_name":"Ana"`)
}

func TestApprovalRequiresFlag(t *testing.T) {
	router := newRouter(newMockRepository(), nil, access.Capability{Action: access.ActionManage, Subject: access.SubjectUsers})
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPut, "/users/2/approval", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestAssignRoleUnknownProfile(t *testing.T) {
	router := newRouter(newMockRepository(), nil, access.Capability{Action: access.ActionManage, Subject: access.SubjectUsers})
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPut, "/users/77/role", strings.NewReader(`{"role_id":3}`)))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestDeleteWithDeleteUsers(t *testing.T) {
	repo := newMockRepository()
	router := newRouter(repo, nil, access.Capability{Action: access.ActionDelete, Subject: access.SubjectUsers})
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/users/1", nil))
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.NotContains(t, repo.profiles, int64(1))
}
