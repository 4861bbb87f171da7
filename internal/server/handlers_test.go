package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/hyperjump/bulksearch/internal/config"
	"github.com/hyperjump/bulksearch/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const wwwFixture = `{
  "propertyId": "prp_1",
  "propertyVersion": 3,
  "propertyName": "www.example.com",
  "rules": {
    "name": "default",
    "behaviors": [
      {"name": "origin", "options": {"hostname": "origin.example.com"}},
      {"name": "caching", "options": {"behavior": "MAX_AGE", "ttl": "1d"}}
    ],
    "children": [
      {"name": "api", "behaviors": [{"name": "origin", "options": {"hostname": "api-origin.example.com"}}]}
    ]
  }
}`

const includeFixture = `{
  "includeId": "inc_9",
  "includeVersion": 2,
  "includeName": "shared-origins",
  "rules": {"name": "default", "behaviors": [{"name": "origin", "options": {"hostname": "shared.example.com"}}]}
}`

func newTestServer(t *testing.T, completeAfter int, opts ...ServerOption) (*Server, *Catalog) {
	t.Helper()
	cat := NewCatalog()
	for name, body := range map[string]string{"www.json": wwwFixture, "inc.json": includeFixture} {
		e, err := ParseFixture(name, []byte(body))
		require.NoError(t, err)
		cat.Put(e)
	}
	return NewServer(cat, &config.ServerConfig{CompleteAfter: completeAfter}, zap.NewNop(), opts...), cat
}

func submit(t *testing.T, h http.Handler, match string) *httptest.ResponseRecorder {
	t.Helper()
	body, _ := json.Marshal(models.SearchRequest{BulkSearchQuery: models.SearchQuery{Syntax: models.SyntaxJSONPath, Match: match}})
	r := httptest.NewRequest(http.MethodPost, searchPath, bytes.NewReader(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

type acceptedBody struct {
	BulkSearchID   int    `json:"bulkSearchId"`
	BulkSearchLink string `json:"bulkSearchLink"`
}

func get(h http.Handler, path string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodGet, path, nil)
	r.Header.Set("PAPI-Use-Prefixes", "false")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestSearchLifecycle(t *testing.T) {
	srv, _ := newTestServer(t, 2)
	h := srv.Handler()

	w := submit(t, h, "$..behaviors[?(@.name == 'origin')].options.hostname")
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	var accepted acceptedBody
	require.NoError(t, json.NewDecoder(w.Body).Decode(&accepted))
	link := accepted.BulkSearchLink
	require.NotEmpty(t, link)
	assert.Equal(t, 1, accepted.BulkSearchID)

	var st statusBody
	w = get(h, link)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.NewDecoder(w.Body).Decode(&st))
	assert.Equal(t, "IN_PROGRESS", st.SearchTargetStatus)
	assert.Equal(t, 1, st.BulkSearchID)
	assert.Empty(t, st.Results)

	w = get(h, link)
	require.NoError(t, json.NewDecoder(w.Body).Decode(&st))
	assert.Equal(t, "COMPLETE", st.SearchTargetStatus)
	require.Len(t, st.Results, 2)

	prop := st.Results[0]
	assert.Equal(t, "prp_1", prop.PropertyID)
	assert.Equal(t, 3, prop.PropertyVersion)
	assert.Equal(t, "www.example.com", prop.PropertyName)
	assert.Equal(t, []string{
		"/rules/behaviors/0/options/hostname",
		"/rules/children/0/behaviors/0/options/hostname",
	}, prop.MatchLocations)

	inc := st.Results[1]
	assert.Equal(t, "inc_9", inc.IncludeID)
	assert.Equal(t, []string{"/rules/behaviors/0/options/hostname"}, inc.MatchLocations)

	// A completed job is dropped once its results were returned.
	assert.Equal(t, http.StatusNotFound, get(h, link).Code)
}

func TestSubmit_IDsIncrement(t *testing.T) {
	srv, _ := newTestServer(t, 1)
	h := srv.Handler()

	var first, second acceptedBody
	require.NoError(t, json.NewDecoder(submit(t, h, "$..behaviors").Body).Decode(&first))
	require.NoError(t, json.NewDecoder(submit(t, h, "$..behaviors").Body).Decode(&second))
	assert.Equal(t, first.BulkSearchID+1, second.BulkSearchID)
	assert.NotEqual(t, first.BulkSearchLink, second.BulkSearchLink)
}

func TestSubmit_NoMatches(t *testing.T) {
	srv, _ := newTestServer(t, 1)
	h := srv.Handler()

	w := submit(t, h, "$..behaviors[?(@.name == 'gzipResponse')]")
	require.Equal(t, http.StatusAccepted, w.Code)
	var accepted acceptedBody
	require.NoError(t, json.NewDecoder(w.Body).Decode(&accepted))

	var st statusBody
	require.NoError(t, json.NewDecoder(get(h, accepted.BulkSearchLink).Body).Decode(&st))
	assert.Equal(t, "COMPLETE", st.SearchTargetStatus)
	assert.Empty(t, st.Results)
}

func TestSubmit_BadRequests(t *testing.T) {
	srv, _ := newTestServer(t, 1)
	h := srv.Handler()

	for name, body := range map[string]string{
		"not json":    `{`,
		"empty match": `{"bulkSearchQuery": {"syntax": "JSONPATH", "match": ""}}`,
		"bad path":    `{"bulkSearchQuery": {"syntax": "JSONPATH", "match": "$..[?(@.name =="}}`,
	} {
		t.Run(name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, searchPath, bytes.NewReader([]byte(body)))
			w := httptest.NewRecorder()
			h.ServeHTTP(w, r)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestStatus_UnknownJob(t *testing.T) {
	srv, _ := newTestServer(t, 1)
	w := get(srv.Handler(), searchPath+"/does-not-exist")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRules(t *testing.T) {
	srv, _ := newTestServer(t, 1)
	h := srv.Handler()

	w := get(h, "/papi/v1/properties/prp_1/versions/3/rules")
	require.Equal(t, http.StatusOK, w.Code)
	var doc map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&doc))
	assert.Equal(t, "www.example.com", doc["propertyName"])

	assert.Equal(t, http.StatusOK, get(h, "/papi/v1/includes/inc_9/versions/2/rules").Code)
	assert.Equal(t, http.StatusNotFound, get(h, "/papi/v1/properties/prp_1/versions/4/rules").Code)
	assert.Equal(t, http.StatusNotFound, get(h, "/papi/v1/properties/inc_9/versions/2/rules").Code)
	assert.Equal(t, http.StatusBadRequest, get(h, "/papi/v1/properties/prp_1/versions/latest/rules").Code)
}

func TestAccountKeyRequired(t *testing.T) {
	srv, _ := newTestServer(t, 1, WithAccountKey("1-ABC"))
	h := srv.Handler()

	assert.Equal(t, http.StatusForbidden, get(h, "/papi/v1/properties/prp_1/versions/3/rules").Code)
	assert.Equal(t, http.StatusOK, get(h, "/papi/v1/properties/prp_1/versions/3/rules?accountSwitchKey=1-ABC").Code)
	assert.Equal(t, http.StatusOK, get(h, "/health").Code)
}

func TestCatalog_LoadDirAndRemove(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "www.json"), []byte(wwwFixture), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "prp_7_v12.json"), []byte(`{"name": "default", "behaviors": []}`), 0o644))

	cat := NewCatalog()
	n, err := cat.LoadDir(dir)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	bare, ok := cat.Get(models.EntityRef{Kind: models.KindProperty, ID: "prp_7", Version: 12})
	require.True(t, ok)
	assert.Equal(t, "prp_7", bare.Name)
	assert.Contains(t, bare.Document, "rules")

	assert.True(t, cat.RemoveFile(filepath.Join(dir, "prp_7_v12.json")))
	assert.False(t, cat.RemoveFile(filepath.Join(dir, "prp_7_v12.json")))
	assert.Equal(t, 1, cat.Len())
}

func TestParseFixture_Errors(t *testing.T) {
	for name, body := range map[string]string{
		"array.json":     `[]`,
		"broken.json":    `{`,
		"anonymous.json": `{"rules": {}}`,
		"prp_1_v0.json":  `{"rules": {}}`,
		"noversion.json": `{"propertyId": "prp_1", "rules": {}}`,
	} {
		_, err := ParseFixture(name, []byte(body))
		assert.Error(t, err, name)
	}
}

func TestSortLocations(t *testing.T) {
	locs := []string{"/rules/children/10/name", "/rules/children/2/name", "/rules/behaviors/0", "/rules"}
	sortLocations(locs)
	assert.Equal(t, []string{"/rules", "/rules/behaviors/0", "/rules/children/2/name", "/rules/children/10/name"}, locs)
}
