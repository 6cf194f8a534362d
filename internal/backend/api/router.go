// Package api is the backend's read-only paginated HTTP surface (§6),
// served with chi for routing and chi/cors for the presentation layer's
// cross-origin access.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/relay-ci/revpipe/internal/backend"
)

// NewRouter builds the chi router serving every endpoint of §6's read-only
// surface. store is the backend.Store the handlers query.
func NewRouter(store backend.Store) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{http.MethodGet},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		MaxAge:           300,
	}))

	r.Route("/v1", func(r chi.Router) {
		r.Get("/repository/", listRepositories(store))
		r.Get("/diff/", listDiffs(store))
		r.Get("/diff/{id}/", getDiff(store))
		r.Get("/diff/{id}/issues/", listDiffIssues(store))
		r.Get("/revision/{id}/", getRevision(store))
		r.Get("/revision/{id}/diffs/", listRevisionDiffs(store))
		r.Get("/check/{repository}/{analyzer}/{check}/", checkIssues(store))
		r.Get("/check/stats/", checkStats(store))
		r.Get("/check/history/", checkHistory(store))
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func parseID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil
}

func pagination(r *http.Request) (limit, offset int) {
	limit = 50
	offset = 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

func listRepositories(store backend.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		repos, err := store.ListRepositories(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, repos)
	}
}

func listDiffs(store backend.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, offset := pagination(r)
		page, err := store.ListDiffs(r.Context(), backend.DiffFilter{
			Search:     r.URL.Query().Get("search"),
			Repository: r.URL.Query().Get("repository"),
			Issues:     r.URL.Query().Get("issues"),
			Limit:      limit,
			Offset:     offset,
		})
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, page)
	}
}

// diffResponse augments domain.Diff with issues_url, per §6's contract
// that GET /v1/diff/{id}/ "includes issues_url".
type diffResponse struct {
	ID           int64     `json:"id"`
	RevisionID   int64     `json:"revision_id"`
	CommitHash   string    `json:"commit_hash"`
	ReviewTaskID string    `json:"review_task_id"`
	BaseRevision string    `json:"base_revision"`
	Repository   string    `json:"repository"`
	CreatedAt    time.Time `json:"created_at"`
	IssuesURL    string    `json:"issues_url"`
}

func getDiff(store backend.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseID(r)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid diff id")
			return
		}
		d, err := store.GetDiff(r.Context(), id)
		if err == backend.ErrNotFound {
			writeError(w, http.StatusNotFound, "diff not found")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, diffResponse{
			ID: d.ID, RevisionID: d.RevisionID, CommitHash: d.CommitHash,
			ReviewTaskID: d.ReviewTaskID, BaseRevision: d.BaseRevision,
			Repository: d.Repository, CreatedAt: d.CreatedAt,
			IssuesURL: "/v1/diff/" + chi.URLParam(r, "id") + "/issues/",
		})
	}
}

func listDiffIssues(store backend.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseID(r)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid diff id")
			return
		}
		limit, offset := pagination(r)
		page, err := store.ListIssuesForDiff(r.Context(), id, limit, offset)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, page)
	}
}

func getRevision(store backend.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseID(r)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid revision id")
			return
		}
		rev, err := store.GetRevision(r.Context(), id)
		if err == backend.ErrNotFound {
			writeError(w, http.StatusNotFound, "revision not found")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, rev)
	}
}

func listRevisionDiffs(store backend.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseID(r)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid revision id")
			return
		}
		diffs, err := store.ListDiffsForRevision(r.Context(), id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, diffs)
	}
}

func checkIssues(store backend.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		repository := chi.URLParam(r, "repository")
		analyzer := chi.URLParam(r, "analyzer")
		check := chi.URLParam(r, "check")
		publishableOnly := r.URL.Query().Get("publishable") == "true"

		issues, err := store.CheckIssues(r.Context(), repository, analyzer, check, publishableOnly)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, issues)
	}
}

func checkStats(store backend.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		since := parseSince(r)
		stats, err := store.CheckStats(r.Context(), since)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

func checkHistory(store backend.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		since := parseSince(r)
		history, err := store.CheckHistory(r.Context(),
			r.URL.Query().Get("repository"),
			r.URL.Query().Get("analyzer"),
			r.URL.Query().Get("check"),
			since,
		)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, history)
	}
}

func parseSince(r *http.Request) time.Time {
	v := r.URL.Query().Get("since")
	if v == "" {
		return time.Time{}
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return time.Time{}
	}
	return t
}
