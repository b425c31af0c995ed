package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/intake/pkg/api"
	"github.com/Mindburn-Labs/intake/pkg/approval"
	"github.com/Mindburn-Labs/intake/pkg/canonicalize"
	"github.com/Mindburn-Labs/intake/pkg/contracts"
	"github.com/Mindburn-Labs/intake/pkg/observability"
	"github.com/Mindburn-Labs/intake/pkg/submission/submissiontest"
)

var secret = []byte("test-secret")

type testServer struct {
	*submissiontest.Fixture
	url string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	f := submissiontest.New(t)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	srv := api.NewServer(ctx, f.Manager, approval.NewManager(f.Manager),
		api.WithActorSecret(secret),
		api.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testServer{Fixture: f, url: ts.URL}
}

type response struct {
	status int
	header http.Header
	body   map[string]any
}

func (s *testServer) call(t *testing.T, method, path string, body any, headers ...string) response {
	t.Helper()
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, s.url+path, rd)
	require.NoError(t, err)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := response{status: resp.StatusCode, header: resp.Header}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out.body), string(raw))
	}
	return out
}

func (s *testServer) create(t *testing.T, definitionID string, fields map[string]any) (id, token string) {
	t.Helper()
	resp := s.call(t, http.MethodPost, "/v1/submissions", map[string]any{"definitionId": definitionID, "fields": fields})
	require.Equal(t, http.StatusCreated, resp.status, resp.body)
	return resp.body["submissionId"].(string), resp.body["versionToken"].(string)
}

func TestHTTP_Lifecycle(t *testing.T) {
	s := newTestServer(t)
	actorToken, err := api.IssueActorToken(secret, submissiontest.Human, time.Hour)
	require.NoError(t, err)

	created := s.call(t, http.MethodPost, "/v1/submissions",
		map[string]any{"definitionId": "contact"}, api.ActorTokenHeader, actorToken)
	require.Equal(t, http.StatusCreated, created.status)
	assert.Equal(t, "draft", created.body["state"])
	assert.Len(t, created.body, 3, "mutations return only the envelope")
	id := created.body["submissionId"].(string)
	token := created.body["versionToken"].(string)

	written := s.call(t, http.MethodPatch, "/v1/submissions/"+id+"/fields",
		map[string]any{"fields": map[string]any{"name": "Ada"}},
		api.ResumeTokenHeader, token, api.ActorTokenHeader, actorToken)
	require.Equal(t, http.StatusOK, written.status, written.body)
	assert.Equal(t, "in_progress", written.body["state"])
	assert.NotEqual(t, token, written.body["versionToken"])
	token = written.body["versionToken"].(string)

	submitted := s.call(t, http.MethodPost, "/v1/submissions/"+id+"/submit", map[string]any{"token": token})
	require.Equal(t, http.StatusOK, submitted.status, submitted.body)
	assert.Equal(t, "submitted", submitted.body["state"])
	token = submitted.body["versionToken"].(string)

	got := s.call(t, http.MethodGet, "/v1/submissions/"+id, nil)
	require.Equal(t, http.StatusOK, got.status)
	assert.Equal(t, "submitted", got.body["state"])
	assert.Equal(t, token, got.body["versionToken"], "reads do not rotate the token")
	attribution := got.body["fieldAttribution"].(map[string]any)
	assert.Equal(t, map[string]any{"kind": "human", "id": "user-7", "name": "Ada"}, attribution["name"])

	resumed := s.call(t, http.MethodGet, "/v1/resume/"+token, nil)
	require.Equal(t, http.StatusOK, resumed.status)
	assert.Equal(t, id, resumed.body["id"])
	assert.NotEmpty(t, created.header.Get(api.RequestIDHeader))
}

func TestHTTP_ReviewFlow(t *testing.T) {
	s := newTestServer(t)
	fields := map[string]any{"name": "Ada Lovelace", "tax_id": "123456789"}

	id, token := s.create(t, "kyc", fields)
	resp := s.call(t, http.MethodPost, "/v1/submissions/"+id+"/submit", nil, api.ResumeTokenHeader, token)
	require.Equal(t, http.StatusOK, resp.status, resp.body)
	assert.Equal(t, "needs_review", resp.body["state"])
	token = resp.body["versionToken"].(string)

	resp = s.call(t, http.MethodPost, "/v1/submissions/"+id+"/reject", map[string]any{"token": token})
	require.Equal(t, http.StatusUnprocessableEntity, resp.status)
	assert.Equal(t, "missing", resp.body["errorType"])

	resp = s.call(t, http.MethodPost, "/v1/submissions/"+id+"/request-changes", map[string]any{
		"token":         token,
		"fieldComments": []map[string]any{{"fieldPath": "tax_id", "comment": "use the new number"}},
	})
	require.Equal(t, http.StatusOK, resp.status, resp.body)
	assert.Equal(t, "draft", resp.body["state"])

	id, token = s.create(t, "kyc", fields)
	resp = s.call(t, http.MethodPost, "/v1/submissions/"+id+"/submit", nil, api.ResumeTokenHeader, token)
	require.Equal(t, http.StatusOK, resp.status)
	resp = s.call(t, http.MethodPost, "/v1/submissions/"+id+"/approve",
		map[string]any{"comment": "looks right"}, api.ResumeTokenHeader, resp.body["versionToken"].(string))
	require.Equal(t, http.StatusOK, resp.status, resp.body)
	assert.Equal(t, "approved", resp.body["state"])

	sub, err := s.Manager.Get(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, sub.ReviewDecisions, 1)
	assert.Equal(t, api.Anonymous, sub.ReviewDecisions[0].Actor)
}

func TestHTTP_StaleTokenIsConflict(t *testing.T) {
	s := newTestServer(t)
	id, token := s.create(t, "contact", nil)

	first := s.call(t, http.MethodPatch, "/v1/submissions/"+id+"/fields",
		map[string]any{"token": token, "fields": map[string]any{"name": "Ada"}})
	require.Equal(t, http.StatusOK, first.status)

	second := s.call(t, http.MethodPatch, "/v1/submissions/"+id+"/fields",
		map[string]any{"token": token, "fields": map[string]any{"name": "Grace"}})
	assert.Equal(t, http.StatusConflict, second.status)
	assert.Equal(t, "conflict", second.body["errorType"])
	assert.Equal(t, true, second.body["retryable"])
	assert.Equal(t, "application/problem+json", second.header.Get("Content-Type"))
}

// TestHTTP_ErrorEnvelopes pins the wire shape of every error type. Values
// that change per run are dropped before comparison.
func TestHTTP_ErrorEnvelopes(t *testing.T) {
	cases := []struct {
		name   string
		status int
		run    func(t *testing.T, s *testServer) response
	}{
		{"missing_token", http.StatusUnprocessableEntity, func(t *testing.T, s *testServer) response {
			id, _ := s.create(t, "contact", nil)
			return s.call(t, http.MethodPatch, "/v1/submissions/"+id+"/fields",
				map[string]any{"fields": map[string]any{"name": "Ada"}})
		}},
		{"stale_token", http.StatusConflict, func(t *testing.T, s *testServer) response {
			id, _ := s.create(t, "contact", nil)
			return s.call(t, http.MethodPatch, "/v1/submissions/"+id+"/fields",
				map[string]any{"token": "rt_stale", "fields": map[string]any{"name": "Ada"}})
		}},
		{"needs_approval", http.StatusLocked, func(t *testing.T, s *testServer) response {
			sub := s.Submitted(t, "kyc")
			return s.call(t, http.MethodPatch, "/v1/submissions/"+sub.ID+"/fields",
				map[string]any{"token": sub.VersionToken, "fields": map[string]any{"name": "Ada"}})
		}},
		{"unknown_definition", http.StatusUnprocessableEntity, func(t *testing.T, s *testServer) response {
			return s.call(t, http.MethodPost, "/v1/submissions", map[string]any{"definitionId": "nope"})
		}},
		{"cancelled", http.StatusGone, func(t *testing.T, s *testServer) response {
			id, token := s.create(t, "contact", nil)
			resp := s.call(t, http.MethodPost, "/v1/submissions/"+id+"/cancel", map[string]any{"token": token})
			require.Equal(t, http.StatusOK, resp.status)
			return s.call(t, http.MethodPost, "/v1/submissions/"+id+"/submit",
				map[string]any{"token": resp.body["versionToken"]})
		}},
		{"expired", http.StatusGone, func(t *testing.T, s *testServer) response {
			_, token := s.create(t, "contact", nil)
			s.Clock.Advance(2 * time.Hour)
			return s.call(t, http.MethodGet, "/v1/resume/"+token, nil)
		}},
		{"not_found", http.StatusNotFound, func(t *testing.T, s *testServer) response {
			return s.call(t, http.MethodGet, "/v1/submissions/nope", nil)
		}},
	}

	g := goldie.New(t, goldie.WithFixtureDir("testdata/golden"), goldie.WithNameSuffix(".golden"))
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestServer(t)
			resp := tc.run(t, s)
			require.Equal(t, tc.status, resp.status, resp.body)

			for _, k := range []string{"submissionId", "instance", "trace_id"} {
				delete(resp.body, k)
			}
			canonical, err := canonicalize.JCS(resp.body)
			require.NoError(t, err)
			g.Assert(t, tc.name, canonical)
		})
	}
}

func TestHTTP_ActorToken(t *testing.T) {
	s := newTestServer(t)

	resp := s.call(t, http.MethodPost, "/v1/submissions",
		map[string]any{"definitionId": "contact"}, api.ActorTokenHeader, "not-a-jwt")
	assert.Equal(t, http.StatusUnauthorized, resp.status)

	forged, err := api.IssueActorToken([]byte("other-secret"), submissiontest.Human, time.Hour)
	require.NoError(t, err)
	resp = s.call(t, http.MethodPost, "/v1/submissions",
		map[string]any{"definitionId": "contact"}, api.ActorTokenHeader, forged)
	assert.Equal(t, http.StatusUnauthorized, resp.status)
	assert.Zero(t, s.Store.Len())

	id, _ := s.create(t, "contact", nil)
	sub, err := s.Manager.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, api.Anonymous, sub.CreatedBy)
}

func TestActorTokenRoundTrip(t *testing.T) {
	tok, err := api.IssueActorToken(secret, submissiontest.Reviewer, time.Minute)
	require.NoError(t, err)

	actor, err := api.ParseActorToken(secret, tok)
	require.NoError(t, err)
	assert.Equal(t, submissiontest.Reviewer, actor)

	_, err = api.ParseActorToken(nil, tok)
	assert.Error(t, err, "no secret means no token is trusted")

	_, err = api.IssueActorToken(secret, contracts.Actor{Kind: "robot", ID: "r"}, time.Minute)
	assert.Error(t, err)

	expired, err := api.IssueActorToken(secret, submissiontest.Reviewer, -time.Minute)
	require.NoError(t, err)
	_, err = api.ParseActorToken(secret, expired)
	assert.Error(t, err)
}

func TestHTTP_IdempotentCreate(t *testing.T) {
	s := newTestServer(t)
	body := map[string]any{"definitionId": "contact"}

	first := s.call(t, http.MethodPost, "/v1/submissions", body, api.IdempotencyKeyHeader, "k-1")
	require.Equal(t, http.StatusCreated, first.status)
	second := s.call(t, http.MethodPost, "/v1/submissions", body, api.IdempotencyKeyHeader, "k-1")
	require.Equal(t, http.StatusCreated, second.status)

	assert.Equal(t, first.body, second.body)
	assert.Equal(t, "true", second.header.Get("Idempotent-Replayed"))
	assert.Equal(t, 1, s.Store.Len())

	third := s.call(t, http.MethodPost, "/v1/submissions", body, api.IdempotencyKeyHeader, "k-2")
	require.Equal(t, http.StatusCreated, third.status)
	assert.NotEqual(t, first.body["submissionId"], third.body["submissionId"])
	assert.Equal(t, 2, s.Store.Len())
}

func TestHTTP_IdempotencyKeyReusedWithOtherBody(t *testing.T) {
	s := newTestServer(t)

	first := s.call(t, http.MethodPost, "/v1/submissions",
		map[string]any{"definitionId": "contact", "fields": map[string]any{"name": "Alice"}},
		api.IdempotencyKeyHeader, "k-1")
	require.Equal(t, http.StatusCreated, first.status, first.body)

	second := s.call(t, http.MethodPost, "/v1/submissions",
		map[string]any{"definitionId": "profile", "fields": map[string]any{"name": "Bob"}},
		api.IdempotencyKeyHeader, "k-1")
	require.Equal(t, http.StatusUnprocessableEntity, second.status, second.body)
	assert.Empty(t, second.header.Get("Idempotent-Replayed"))
	assert.NotContains(t, second.body, "versionToken")
	assert.NotContains(t, second.body, "submissionId")
	assert.Equal(t, 1, s.Store.Len())
}

func TestHTTP_ExpiredGetDisclosesNoData(t *testing.T) {
	s := newTestServer(t)
	id, _ := s.create(t, "contact", map[string]any{"name": "Ada"})
	s.Clock.Advance(2 * time.Hour)

	resp := s.call(t, http.MethodGet, "/v1/submissions/"+id, nil)
	require.Equal(t, http.StatusOK, resp.status, resp.body)
	assert.Equal(t, "expired", resp.body["state"])
	assert.Empty(t, resp.body["fields"])
	assert.Empty(t, resp.body["versionToken"])
}

func TestHTTP_BadRequests(t *testing.T) {
	s := newTestServer(t)

	resp := s.call(t, http.MethodPost, "/v1/submissions", "{not json")
	assert.Equal(t, http.StatusBadRequest, resp.status)

	resp = s.call(t, http.MethodDelete, "/v1/submissions/x/submit", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.status)

	resp = s.call(t, http.MethodGet, "/v2/anything", nil)
	assert.Equal(t, http.StatusNotFound, resp.status)

	resp = s.call(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.status)
	assert.Equal(t, "ok", resp.body["status"])
}

func TestHealth_ReportsSLOs(t *testing.T) {
	f := submissiontest.New(t)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	provider, err := observability.New(ctx, nil)
	require.NoError(t, err)

	srv := api.NewServer(ctx, f.Manager, approval.NewManager(f.Manager), api.WithTracker(provider))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	s := &testServer{Fixture: f, url: ts.URL}

	res := s.call(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, res.status)
	assert.Equal(t, "ok", res.body["status"])
	slo, ok := res.body["slo"].([]any)
	require.True(t, ok)
	assert.Len(t, slo, len(observability.DefaultSLOTargets))

	plain := newTestServer(t)
	res = plain.call(t, http.MethodGet, "/health", nil)
	assert.Equal(t, "ok", res.body["status"])
	assert.NotContains(t, res.body, "slo")
}
