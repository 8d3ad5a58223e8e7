package lead

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/digitalforce/flexi/backend/internal/identity"
	"github.com/digitalforce/flexi/backend/internal/model/chat"
	"github.com/digitalforce/flexi/backend/internal/model/lead"
)

func setupRouter() (*chi.Mux, *lead.MemoryStore, clockwork.FakeClock) {
	store := lead.NewMemoryStore()
	clock := clockwork.NewFakeClockAt(time.Date(2025, 3, 14, 10, 30, 0, 0, time.UTC))
	handler := New(store, clock, nil)

	r := chi.NewRouter()
	handler.RegisterPublicRoutes(r)
	r.Group(func(g chi.Router) {
		g.Use(identity.Middleware)
		handler.RegisterRoutes(g)
	})
	return r, store, clock
}

func post(r http.Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/leads", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func TestCreateLead(t *testing.T) {
	r, store, clock := setupRouter()

	resp := post(r, `{"name":"  Maria Rossi ","email":"Maria.Rossi@Example.IT"}`)
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.Code, resp.Body.String())
	}

	var body leadResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	require.Equal(t, "Maria Rossi", body.Lead.Name)
	require.Equal(t, "maria.rossi@example.it", body.Lead.Email)
	require.NotEmpty(t, body.Lead.SessionID)
	require.True(t, clock.Now().Equal(body.Lead.CapturedAt))
	require.Equal(t, chat.SenderBot, body.Greeting.Sender)
	require.True(t, strings.HasPrefix(body.Greeting.Text, "Ciao Maria Rossi! Sono Flexi"))

	leads, err := store.ListLeads(t.Context(), 10)
	require.NoError(t, err)
	require.Len(t, leads, 1)
}

func TestCreateLeadValidation(t *testing.T) {
	r, _, _ := setupRouter()

	tests := []struct {
		body string
		want string
	}{
		{body: `{"name":"M","email":"m@example.it"}`, want: invalidNameMessage},
		{body: `{"name":"R2D2","email":"r2@example.it"}`, want: invalidNameMessage},
		{body: `{"name":"Maria","email":"maria"}`, want: invalidEmailMessage},
		{body: `{"name":"Maria","email":"maria@example"}`, want: invalidEmailMessage},
		{body: `not json`, want: "invalid request body"},
	}

	for _, tt := range tests {
		resp := post(r, tt.body)
		if resp.Code != http.StatusBadRequest {
			t.Fatalf("body %s: expected 400, got %d", tt.body, resp.Code)
		}
		var body map[string]string
		require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
		require.Equal(t, tt.want, body["error"])
	}
}

func TestSuggestions(t *testing.T) {
	r, _, _ := setupRouter()

	req := httptest.NewRequest(http.MethodGet, "/suggestions", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	var body struct {
		Questions []string `json:"questions"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	require.Len(t, body.Questions, 5)
}
