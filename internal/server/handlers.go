package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hyperjump/bulksearch/internal/models"
	"github.com/ohler55/ojg/jp"
	"go.uber.org/zap"
)

const searchPath = "/papi/v1/bulk/rules-search-requests"

type job struct {
	id      int
	key     string
	query   models.SearchQuery
	polls   int
	results []searchResult
}

type searchResult struct {
	PropertyID      string   `json:"propertyId,omitempty"`
	PropertyVersion int      `json:"propertyVersion,omitempty"`
	PropertyName    string   `json:"propertyName,omitempty"`
	IncludeID       string   `json:"includeId,omitempty"`
	IncludeVersion  int      `json:"includeVersion,omitempty"`
	IncludeName     string   `json:"includeName,omitempty"`
	MatchLocations  []string `json:"matchLocations"`
}

type statusBody struct {
	BulkSearchID       int                `json:"bulkSearchId"`
	SearchTargetStatus string             `json:"searchTargetStatus"`
	BulkSearchQuery    models.SearchQuery `json:"bulkSearchQuery"`
	Results            []searchResult     `json:"results,omitempty"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req models.SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	q := req.BulkSearchQuery
	if err := q.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	x, err := jp.ParseString(q.Match)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid JSONPath: "+err.Error())
		return
	}

	j := &job{key: uuid.New().String(), query: q, results: s.search(x)}
	s.mu.Lock()
	s.lastID++
	j.id = s.lastID
	s.jobs[j.key] = j
	s.mu.Unlock()
	s.logger.Debug("search request", zap.Int("job", j.id), zap.String("match", q.Match), zap.Int("matches", len(j.results)))

	s.respondJSON(w, http.StatusAccepted, map[string]any{
		"bulkSearchId":   j.id,
		"bulkSearchLink": searchPath + "/" + j.key,
	})
}

// search evaluates x against every catalog entry. Results are computed at
// submission so later fixture changes do not alter a running job.
func (s *Server) search(x jp.Expr) []searchResult {
	var out []searchResult
	for _, e := range s.catalog.Snapshot() {
		locs := matchLocations(x, e.Document)
		if len(locs) == 0 {
			continue
		}
		res := searchResult{MatchLocations: locs}
		if e.Ref.Kind == models.KindInclude {
			res.IncludeID, res.IncludeVersion, res.IncludeName = e.Ref.ID, e.Ref.Version, e.Name
		} else {
			res.PropertyID, res.PropertyVersion, res.PropertyName = e.Ref.ID, e.Ref.Version, e.Name
		}
		out = append(out, res)
	}
	return out
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	j, ok := s.jobs[id]
	if ok {
		j.polls++
	}
	var body statusBody
	if ok {
		body = statusBody{BulkSearchID: j.id, BulkSearchQuery: j.query, SearchTargetStatus: "IN_PROGRESS"}
		if j.polls >= s.config.CompleteAfter {
			body.SearchTargetStatus = "COMPLETE"
			body.Results = j.results
			// Completed jobs are served once.
			delete(s.jobs, id)
		}
	}
	s.mu.Unlock()

	if !ok {
		s.respondError(w, http.StatusNotFound, "search request not found")
		return
	}
	s.respondJSON(w, http.StatusOK, body)
}

func (s *Server) handleRules(kind models.EntityKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		version, err := strconv.Atoi(chi.URLParam(r, "version"))
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "version must be a number")
			return
		}
		ref := models.EntityRef{Kind: kind, ID: chi.URLParam(r, "id"), Version: version}
		e, ok := s.catalog.Get(ref)
		if !ok {
			s.respondError(w, http.StatusNotFound, ref.String()+" not found")
			return
		}
		if !strings.EqualFold(r.Header.Get("PAPI-Use-Prefixes"), "false") {
			s.logger.Debug("rules requested without PAPI-Use-Prefixes: false", zap.Stringer("entity", ref))
		}
		s.respondJSON(w, http.StatusOK, e.Document)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]any{"status": "ok", "entities": s.catalog.Len()})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
