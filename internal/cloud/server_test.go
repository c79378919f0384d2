package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tillpos/internal/domain"
	"github.com/roach88/tillpos/internal/store"
	"github.com/roach88/tillpos/internal/syncer"
	"github.com/roach88/tillpos/internal/syncwire"
	"github.com/roach88/tillpos/internal/till"
)

const testAdminKey = "admin-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

type testServer struct {
	*httptest.Server
	ledger  *Ledger
	tenants *Tenants
	issuer  *TokenIssuer
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ledger := newTestLedger(t)
	tenants := NewTenants(ledger.DB())
	issuer := NewTokenIssuer("jwt-secret", time.Hour)
	srv := httptest.NewServer(NewServer(ledger, tenants, issuer, WithAdminKey(testAdminKey)).Handler())
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, ledger: ledger, tenants: tenants, issuer: issuer}
}

func (s *testServer) do(t *testing.T, method, path string, body any, header map[string]string) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, s.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := s.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out bytes.Buffer
	_, err = out.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, out.Bytes()
}

func (s *testServer) createTenant(t *testing.T, id string) string {
	t.Helper()
	resp, body := s.do(t, http.MethodPost, "/api/v1/admin/tenants",
		createTenantRequest{ID: id, Name: "Cafe " + id}, map[string]string{adminKeyHeader: testAdminKey})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var created createTenantResponse
	require.NoError(t, json.Unmarshal(body, &created))
	assert.Equal(t, id, created.Tenant.ID)
	require.NotEmpty(t, created.APIKey)
	return created.APIKey
}

func TestServer_Health(t *testing.T) {
	s := newTestServer(t)
	resp, body := s.do(t, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))
}

func TestServer_AdminRequiresKey(t *testing.T) {
	s := newTestServer(t)

	resp, _ := s.do(t, http.MethodPost, "/api/v1/admin/tenants", createTenantRequest{ID: "a", Name: "A"}, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = s.do(t, http.MethodPost, "/api/v1/admin/tenants", createTenantRequest{ID: "a", Name: "A"},
		map[string]string{adminKeyHeader: "nope"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServer_CreateTenantTwice(t *testing.T) {
	s := newTestServer(t)
	s.createTenant(t, "tenant-a")

	resp, _ := s.do(t, http.MethodPost, "/api/v1/admin/tenants",
		createTenantRequest{ID: "tenant-a", Name: "again"}, map[string]string{adminKeyHeader: testAdminKey})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestServer_Token(t *testing.T) {
	s := newTestServer(t)
	key := s.createTenant(t, "tenant-a")

	resp, body := s.do(t, http.MethodPost, syncwire.TokenPath, syncwire.TokenRequest{TenantID: "tenant-a", APIKey: key}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var tok syncwire.TokenResponse
	require.NoError(t, json.Unmarshal(body, &tok))
	tenant, err := s.issuer.Verify(tok.Token)
	require.NoError(t, err)
	assert.Equal(t, "tenant-a", tenant)

	tests := []struct {
		name string
		req  syncwire.TokenRequest
	}{
		{"wrong key", syncwire.TokenRequest{TenantID: "tenant-a", APIKey: "tk_wrong"}},
		{"unknown tenant", syncwire.TokenRequest{TenantID: "tenant-x", APIKey: key}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := s.do(t, http.MethodPost, syncwire.TokenPath, tt.req, nil)
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
			var pr syncwire.PushResponse
			require.NoError(t, json.Unmarshal(body, &pr))
			require.NotNil(t, pr.Error)
			assert.Equal(t, syncwire.CodeUnauthorized, pr.Error.Code)
		})
	}

	resp, _ = s.do(t, http.MethodPost, syncwire.TokenPath, map[string]string{"tenantId": "tenant-a"}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_PushRequiresBearer(t *testing.T) {
	s := newTestServer(t)
	req := syncwire.PushRequest{Items: []syncwire.Item{encodeItem(t, "e-1", domain.ActionCreate, sale("sale-1", 5000))}}

	resp, _ := s.do(t, http.MethodPost, syncwire.PushPath, req, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = s.do(t, http.MethodPost, syncwire.PushPath, req, map[string]string{"Authorization": "Bearer garbage"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	other := NewTokenIssuer("other-secret", time.Hour)
	forged, _, err := other.Issue("tenant-a")
	require.NoError(t, err)
	resp, _ = s.do(t, http.MethodPost, syncwire.PushPath, req, map[string]string{"Authorization": "Bearer " + forged})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	assert.Zero(t, count(t, s.ledger.DB(), &RemoteSale{}))
}

func TestServer_PushErrors(t *testing.T) {
	s := newTestServer(t)
	tokA, _, err := s.issuer.Issue("tenant-a")
	require.NoError(t, err)
	tokB, _, err := s.issuer.Issue("tenant-b")
	require.NoError(t, err)
	auth := func(tok string) map[string]string { return map[string]string{"Authorization": "Bearer " + tok} }

	resp, body := s.do(t, http.MethodPost, syncwire.PushPath, syncwire.PushRequest{}, auth(tokA))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, string(body))

	first := syncwire.PushRequest{Items: []syncwire.Item{encodeItem(t, "e-1", domain.ActionCreate, sale("sale-1", 5000))}}
	resp, _ = s.do(t, http.MethodPost, syncwire.PushPath, first, auth(tokA))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	steal := syncwire.PushRequest{Items: []syncwire.Item{encodeItem(t, "e-2", domain.ActionUpdate, sale("sale-1", 1))}}
	resp, body = s.do(t, http.MethodPost, syncwire.PushPath, steal, auth(tokB))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	var pr syncwire.PushResponse
	require.NoError(t, json.Unmarshal(body, &pr))
	assert.False(t, pr.Success)
	require.NotNil(t, pr.Error)
	assert.Equal(t, syncwire.CodeTenantMismatch, pr.Error.Code)
}

func TestServer_Summary(t *testing.T) {
	s := newTestServer(t)
	s.createTenant(t, "tenant-a")

	_, err := s.ledger.ApplyBatch(context.Background(), "tenant-a", []syncwire.Item{
		encodeItem(t, "e-1", domain.ActionCreate, sale("sale-1", 5000)),
	})
	require.NoError(t, err)

	resp, body := s.do(t, http.MethodGet, "/api/v1/admin/tenants/tenant-a/summary", nil, map[string]string{adminKeyHeader: testAdminKey})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var sum Summary
	require.NoError(t, json.Unmarshal(body, &sum))
	assert.Equal(t, int64(1), sum.Sales)
	assert.Equal(t, int64(5000), sum.SalesTotal)

	resp, _ = s.do(t, http.MethodGet, "/api/v1/admin/tenants/nobody/summary", nil, map[string]string{adminKeyHeader: testAdminKey})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// TestTillToCloud drives a full settlement on a till, pushes its outbox
// through the HTTP pusher, then replays the same batch as if the response
// had been lost.
func TestTillToCloud(t *testing.T) {
	s := newTestServer(t)
	key := s.createTenant(t, "tenant-a")
	ctx := context.Background()

	st, err := store.Open(filepath.Join(t.TempDir(), "till.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.ApplySeed(ctx, store.Seed{
		Tables:   []store.SeedTable{{ID: "t-1", HallID: "main", Name: "Table 1"}},
		Products: []domain.Product{{ID: "p-plov", Name: "Plov", Price: 10000, Unit: domain.UnitPiece}},
	}))

	svc := till.New(st, till.WithIDGenerator(domain.NewFixedGenerator("till")))
	shift, err := svc.OpenShift(ctx, "till-1", "u-1", 0)
	require.NoError(t, err)
	sess := till.Session{TillID: "till-1", CashierID: "u-1", ShiftID: shift.ID}

	_, err = svc.AddItem(ctx, sess, "t-1", "p-plov", decimal.NewFromInt(2))
	require.NoError(t, err)
	_, err = svc.Settle(ctx, sess, "t-1", till.SettleRequest{
		Tenders: []domain.Tender{{Instrument: domain.InstrumentCash, Amount: 20000}},
	})
	require.NoError(t, err)

	entries, err := st.SyncLog(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	pusher := syncer.NewHTTPPusherWithKey(s.URL, "tenant-a", key, 5*time.Second)
	eng := syncer.New(st, pusher)
	sent, err := eng.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, sent)

	resp, err := pusher.Push(ctx, syncwire.NewRequest(entries))
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, 3, resp.ProcessedCount)

	db := s.ledger.DB()
	assert.Equal(t, int64(1), count(t, db, &RemoteSale{}))
	assert.Equal(t, int64(1), count(t, db, &RemoteShift{}))
	assert.Equal(t, int64(3), count(t, db, &SyncAuditLog{}))

	var remote RemoteShift
	require.NoError(t, db.First(&remote, "id = ?", shift.ID).Error)
	assert.Equal(t, "tenant-a", remote.TenantID)
	assert.Equal(t, int64(20000), remote.TotalCash)
	assert.Equal(t, int64(1), remote.SettlementCount)
}
