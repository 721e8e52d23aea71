package web

import (
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"taskfire/engine"
	"taskfire/internal/models"
	"taskfire/internal/state"
)

const (
	PageSize = 15
)

// HttpRouteHandler exposes the JSON control surface the dashboard
// consumes: queue listings, task detail with audit trail, decision
// submission and recovery actions.
type HttpRouteHandler struct {
	engine    *engine.Engine
	SecretKey string
	UserName  string
	Password  string
	UseAuth   bool
	Port      uint
}

func NewRouteHandler(eng *engine.Engine, userName, password, secretKey string, useAuth bool, port uint) HttpRouteHandler {
	return HttpRouteHandler{
		engine:    eng,
		UserName:  userName,
		Password:  password,
		SecretKey: secretKey,
		UseAuth:   useAuth,
		Port:      port,
	}
}

func (handler *HttpRouteHandler) Serve() error {
	// handle routes
	handler.handleQueues()
	handler.handleTasks()
	handler.handleTaskDetail()
	handler.handleDecision()
	handler.handleRequeue()
	handler.handleCancel()
	handler.handleAudit()
	handler.handleHealth()
	handler.handleLogin()
	handler.handleLogout()

	addr := fmt.Sprintf(":%d", handler.Port)
	printBanner(addr)
	return http.ListenAndServe(addr, nil)
}

func (handler *HttpRouteHandler) handleQueues() {
	http.HandleFunc("GET /queues", handler.authMiddleware(func(w http.ResponseWriter, r *http.Request) {
		counts, err := handler.engine.CountQueues(r.Context())
		if err != nil {
			log.Printf("failed to count queues: %v", err)
			writeError(w, http.StatusInternalServerError, "failed to count queues")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"queues": counts,
			"states": state.AllStates,
		})
	}))
}

func (handler *HttpRouteHandler) handleTasks() {
	http.HandleFunc("GET /tasks", handler.authMiddleware(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		pageNumber := getPageNumber(r)
		stateParam := strings.TrimSpace(r.URL.Query().Get("state"))
		if stateParam == "" {
			stateParam = string(state.StatePendingApproval)
		}

		queue := state.TaskState(stateParam)
		page, err := handler.engine.ListQueue(ctx, queue, pageNumber, PageSize)
		if err != nil {
			log.Printf("failed to fetch tasks: %v", err)
			writeError(w, http.StatusInternalServerError, "failed to fetch tasks")
			return
		}

		data := NewPaginatedDataMap(*page).
			Add("States", state.AllStates).
			Add("CurrentState", queue)
		writeJSON(w, http.StatusOK, data.Data)
	}))
}

func (handler *HttpRouteHandler) handleTaskDetail() {
	http.HandleFunc("GET /tasks/{id}", handler.authMiddleware(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		id := r.PathValue("id")

		task, err := handler.engine.FindTask(ctx, id)
		if err != nil {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		trail, err := handler.engine.AuditTrail(ctx, id)
		if err != nil {
			log.Printf("failed to read audit trail for %s: %v", id, err)
			writeError(w, http.StatusInternalServerError, "failed to read audit trail")
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"task":        task,
			"audit_trail": trail,
		})
	}))
}

func (handler *HttpRouteHandler) handleDecision() {
	http.HandleFunc("POST /tasks/{id}/decision", handler.authMiddleware(func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")

		if err := r.ParseForm(); err != nil {
			writeError(w, http.StatusBadRequest, "bad request")
			return
		}
		decision := models.Decision(strings.TrimSpace(r.FormValue("decision")))
		actor := strings.TrimSpace(r.FormValue("actor"))
		if actor == "" {
			actor = handler.UserName
		}
		if decision != models.DecisionApproved && decision != models.DecisionRejected {
			writeError(w, http.StatusBadRequest, "decision must be approved or rejected")
			return
		}

		if err := handler.engine.SubmitDecision(r.Context(), id, decision, actor); err != nil {
			if engine.DecisionNotAllowed(err) {
				writeError(w, http.StatusConflict, err.Error())
				return
			}
			log.Printf("failed to submit decision for %s: %v", id, err)
			writeError(w, http.StatusInternalServerError, "failed to submit decision")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"task_id":  id,
			"decision": string(decision),
		})
	}))
}

func (handler *HttpRouteHandler) handleRequeue() {
	http.HandleFunc("POST /tasks/{id}/requeue", handler.authMiddleware(func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")

		fresh, err := handler.engine.ForceRequeue(r.Context(), id)
		if err != nil {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, fresh)
	}))
}

func (handler *HttpRouteHandler) handleCancel() {
	http.HandleFunc("POST /tasks/{id}/cancel", handler.authMiddleware(func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")

		if err := r.ParseForm(); err != nil {
			writeError(w, http.StatusBadRequest, "bad request")
			return
		}
		actor := strings.TrimSpace(r.FormValue("actor"))
		if actor == "" {
			actor = handler.UserName
		}

		if err := handler.engine.CancelTask(r.Context(), id, actor, r.FormValue("reason")); err != nil {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"task_id": id, "state": "quarantine"})
	}))
}

func (handler *HttpRouteHandler) handleAudit() {
	http.HandleFunc("GET /audit", handler.authMiddleware(func(w http.ResponseWriter, r *http.Request) {
		since := getInt64Param(r, "since", 0)
		limit := int(getInt64Param(r, "limit", 100))

		entries, err := handler.engine.ReadAuditLog(r.Context(), since, limit)
		if err != nil {
			log.Printf("failed to read audit log: %v", err)
			writeError(w, http.StatusInternalServerError, "failed to read audit log")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"since":   since,
			"entries": entries,
		})
	}))
}

func (handler *HttpRouteHandler) handleHealth() {
	http.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		counts, err := handler.engine.HealthCheck(r.Context())
		if err != nil {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "ok",
			"queues": counts,
		})
	})
}

func (handler *HttpRouteHandler) handleLogin() {
	http.HandleFunc("POST /login", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			writeError(w, http.StatusBadRequest, "bad request")
			return
		}
		username := r.FormValue("username")
		password := r.FormValue("password")

		if username != handler.UserName || password != handler.Password {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}

		http.SetCookie(w, &http.Cookie{
			Name:     authCookieName,
			Value:    generateAuthToken(username, handler.SecretKey, time.Now()),
			Path:     "/",
			HttpOnly: true,
		})
		writeJSON(w, http.StatusOK, map[string]string{"user": username})
	})
}

func (handler *HttpRouteHandler) handleLogout() {
	http.HandleFunc("POST /logout", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{
			Name:   authCookieName,
			Value:  "",
			Path:   "/",
			MaxAge: -1,
		})
		writeJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
	})
}
