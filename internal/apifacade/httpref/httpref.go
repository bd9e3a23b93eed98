// Package httpref is a thin, optional reference wrapper demonstrating that
// APIFacade is callable from a standard web framework. It is not the
// in-scope HTTP surface — request validation, session/token issuance, and
// the rest of the API live entirely outside this repository; this package
// exists only to exercise the seam.
package httpref

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ridgeline-systems/zvault/internal/apifacade"
	"github.com/ridgeline-systems/zvault/internal/repository"
	"github.com/ridgeline-systems/zvault/internal/store"
)

// envelope mirrors the teacher's {"data": ...} / {"error": {...}} response
// shape.
type envelope map[string]any

func ok(w http.ResponseWriter, payload any) {
	writeJSON(w, http.StatusOK, envelope{"data": payload})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, err error) {
	var apiErr *apifacade.Error
	if errors.As(err, &apiErr) {
		writeJSON(w, apiErr.Kind.Status(), envelope{"error": envelope{"message": apiErr.Error(), "code": apiErr.Kind}})
		return
	}
	writeJSON(w, http.StatusInternalServerError, envelope{"error": envelope{"message": err.Error()}})
}

// tokenClaims mirrors the teacher's auth.Claims shape: standard registered
// claims plus the user/email/role trio APIFacade needs. Token issuance is
// out of scope here — this package only verifies bearer tokens handed to
// it, the same way a real HTTP surface would before ever reaching APIFacade.
type tokenClaims struct {
	jwt.RegisteredClaims
	UserID string `json:"uid"`
	Email  string `json:"email"`
	Role   string `json:"role"`
}

// claimsFromRequest verifies the Authorization: Bearer <token> header with
// HS256 against the server's configured secret key. A missing, malformed,
// or invalid token resolves to anonymous viewer claims rather than a hard
// failure — apifacade's requireRole still rejects anything that needs more than
// viewer access, so this fails closed without this reference wrapper having
// to duplicate Facade's role checks.
func (rt *Router) claimsFromRequest(r *http.Request) apifacade.Claims {
	const prefix = "Bearer "
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, prefix) {
		return apifacade.Claims{Role: apifacade.RoleViewer}
	}

	claims := &tokenClaims{}
	token, err := jwt.ParseWithClaims(
		strings.TrimPrefix(header, prefix),
		claims,
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("httpref: unexpected signing method")
			}
			return rt.secretKey, nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
	)
	if err != nil || !token.Valid {
		return apifacade.Claims{Role: apifacade.RoleViewer}
	}

	return apifacade.Claims{
		UserID: claims.UserID,
		Email:  claims.Email,
		Role:   apifacade.Role(claims.Role),
	}
}

// Router wires a chi.Mux over a Facade. Its only job is request
// parsing/response formatting; every business rule lives in Facade.
type Router struct {
	facade    *apifacade.Facade
	logger    *zap.Logger
	secretKey []byte
}

// New builds a Router around facade. secretKey verifies bearer tokens on
// incoming requests; it must match the key the (out-of-scope) token issuer
// signs with.
func New(facade *apifacade.Facade, logger *zap.Logger, secretKey []byte) *Router {
	return &Router{facade: facade, logger: logger.Named("httpref"), secretKey: secretKey}
}

// Handler returns the fully wired chi.Mux, mounted at /api.
func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Route("/nodes", func(r chi.Router) {
			r.Get("/", rt.listNodes)
			r.Post("/", rt.createNode)
			r.Get("/{id}", rt.getNode)
			r.Delete("/{id}", rt.deleteNode)
		})
		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", rt.listJobs)
			r.Post("/", rt.createJob)
			r.Get("/{id}", rt.getJob)
			r.Delete("/{id}", rt.deleteJob)
			r.Post("/{id}/trigger", rt.triggerJob)
			r.Get("/{id}/logs", rt.listJobLogs)
		})
	})
	return r
}

func (rt *Router) listNodes(w http.ResponseWriter, r *http.Request) {
	nodes, err := rt.facade.ListNodes(r.Context(), rt.claimsFromRequest(r), repository.ListOptions{})
	if err != nil {
		writeError(w, err)
		return
	}
	ok(w, nodes)
}

func (rt *Router) createNode(w http.ResponseWriter, r *http.Request) {
	var node store.Node
	if err := json.NewDecoder(r.Body).Decode(&node); err != nil {
		writeError(w, apifacade.BadRequestFromDecode(err))
		return
	}
	if err := rt.facade.CreateNode(r.Context(), rt.claimsFromRequest(r), &node); err != nil {
		writeError(w, err)
		return
	}
	ok(w, node)
}

func (rt *Router) getNode(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, apifacade.BadRequestFromDecode(err))
		return
	}
	node, err := rt.facade.GetNode(r.Context(), rt.claimsFromRequest(r), id)
	if err != nil {
		writeError(w, err)
		return
	}
	ok(w, node)
}

func (rt *Router) deleteNode(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, apifacade.BadRequestFromDecode(err))
		return
	}
	if err := rt.facade.DeleteNode(r.Context(), rt.claimsFromRequest(r), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (rt *Router) listJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := rt.facade.ListJobs(r.Context(), rt.claimsFromRequest(r), repository.ListOptions{})
	if err != nil {
		writeError(w, err)
		return
	}
	ok(w, jobs)
}

func (rt *Router) createJob(w http.ResponseWriter, r *http.Request) {
	var job store.Job
	if err := json.NewDecoder(r.Body).Decode(&job); err != nil {
		writeError(w, apifacade.BadRequestFromDecode(err))
		return
	}
	if err := rt.facade.CreateJob(r.Context(), rt.claimsFromRequest(r), &job); err != nil {
		writeError(w, err)
		return
	}
	ok(w, job)
}

func (rt *Router) getJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, apifacade.BadRequestFromDecode(err))
		return
	}
	job, err := rt.facade.GetJob(r.Context(), rt.claimsFromRequest(r), id)
	if err != nil {
		writeError(w, err)
		return
	}
	ok(w, job)
}

func (rt *Router) deleteJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, apifacade.BadRequestFromDecode(err))
		return
	}
	if err := rt.facade.DeleteJob(r.Context(), rt.claimsFromRequest(r), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (rt *Router) triggerJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, apifacade.BadRequestFromDecode(err))
		return
	}
	claims := rt.claimsFromRequest(r)
	userID, _ := uuid.Parse(claims.UserID)
	if err := rt.facade.TriggerJob(r.Context(), claims, id, userID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (rt *Router) listJobLogs(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, apifacade.BadRequestFromDecode(err))
		return
	}
	logs, err := rt.facade.ListJobLogs(r.Context(), rt.claimsFromRequest(r), id, repository.ListOptions{})
	if err != nil {
		writeError(w, err)
		return
	}
	ok(w, logs)
}
