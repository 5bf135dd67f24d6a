package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-request-workflow/internal/auth"
	"github.com/pesio-ai/be-request-workflow/internal/client"
	"github.com/pesio-ai/be-request-workflow/internal/platform/logger"
	"github.com/pesio-ai/be-request-workflow/internal/repository"
	"github.com/pesio-ai/be-request-workflow/internal/repository/memstore"
	"github.com/pesio-ai/be-request-workflow/internal/service"
)

type testEnv struct {
	store     *memstore.Store
	svc       Services
	tokens    *auth.TokenManager
	handler   http.Handler
	users     map[string]*repository.User
	bearer    map[string]string
	passwords map[string]string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	log := logger.Nop()
	store := memstore.New()

	resolver := service.NewBindingsResolver(store, "general_approver", log)
	registry := service.NewIdentityRegistry(store, store, resolver, log)
	router := client.NewDepartmentRouter(time.Minute, zerolog.Nop())
	tokens := auth.NewTokenManager("handler-test-secret", "request-workflow", time.Hour)

	env := &testEnv{
		store:     store,
		tokens:    tokens,
		users:     map[string]*repository.User{},
		bearer:    map[string]string{},
		passwords: map[string]string{},
	}

	seed := []service.NewUser{
		{Username: "admin", Email: "admin@example.com", Password: "admin123", Role: repository.RoleAdmin, Department: "Admin"},
		{Username: "general_approver", Email: "ga@example.com", Password: "approver123", Role: repository.RoleApprover, Department: "General"},
		{Username: "it_approver", Email: "it@example.com", Password: "approver123", Role: repository.RoleApprover, Department: "IT"},
		{Username: "alice", Email: "alice@example.com", Password: "alice123", Role: repository.RoleUser, Department: "Sales"},
	}
	for _, in := range seed {
		u, err := registry.ProvisionUser(ctx, in)
		require.NoError(t, err)
		env.users[u.Username] = u
		env.passwords[u.Username] = in.Password

		token, _, err := tokens.Issue(u)
		require.NoError(t, err)
		env.bearer[u.Username] = token
	}
	_, err := registry.ProvisionDepartmentApprover(ctx, "IT", env.users["it_approver"].ID)
	require.NoError(t, err)

	env.svc = Services{
		Workflow:  service.NewWorkflowEngine(store, store, store, store, resolver, log, service.WithSuggester(router)),
		Flow:      service.NewFlowProjection(store, store, store, store, resolver, log),
		Documents: service.NewDocumentEngine(store, store, resolver, nil, log),
		Identity:  registry,
		Analytics: service.NewAnalytics(store, store, log),
		Advisor:   router,
		Tokens:    tokens,
	}
	env.handler = NewHTTPHandler(env.svc, log).Routes(5 * time.Second)
	return env
}

// call performs a request as username ("" for anonymous) and decodes the JSON body.
func (e *testEnv) call(t *testing.T, method, path, username string, body interface{}) (int, map[string]interface{}) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if username != "" {
		req.Header.Set("Authorization", "Bearer "+e.bearer[username])
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)

	out := map[string]interface{}{}
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec.Code, out
}

func errorCode(body map[string]interface{}) string {
	e, _ := body["error"].(map[string]interface{})
	code, _ := e["code"].(string)
	return code
}
