package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/identity/internal/model"
	"github.com/sakif/identity/internal/service"
)

// UserService is what UserHandler needs from the identity service.
// *service.IdentityService satisfies it; tests may pass a fake.
type UserService interface {
	Create(ctx context.Context, in service.CreateUserInput) (*model.User, error)
	ListAll(ctx context.Context) ([]model.UserSummary, error)
	GetByID(ctx context.Context, id int64) (*model.User, error)
	Update(ctx context.Context, id int64, in service.UpdateUserInput) (*model.User, error)
	Delete(ctx context.Context, id int64) (*model.User, error)
}

var _ UserService = (*service.IdentityService)(nil)

// UserHandler serves the /users routes. It only translates HTTP to service
// calls and service outcomes to status codes.
type UserHandler struct {
	users  UserService
	logger *slog.Logger
}

// NewUserHandler creates a UserHandler.
func NewUserHandler(users UserService, logger *slog.Logger) *UserHandler {
	return &UserHandler{users: users, logger: logger}
}

// Routes mounts the user endpoints on r. None of them require a session.
//
//	POST   /create        → HandleCreate
//	GET    /              → HandleList
//	GET    /{id}          → HandleGet
//	PUT    /update/{id}   → HandleUpdate
//	DELETE /delete/{id}   → HandleDelete
func (h *UserHandler) Routes(r chi.Router) {
	r.Post("/create", h.HandleCreate)
	r.Get("/", h.HandleList)
	r.Get("/{id}", h.HandleGet)
	r.Put("/update/{id}", h.HandleUpdate)
	r.Delete("/delete/{id}", h.HandleDelete)
}

// HandleCreate registers a user.
//
// HTTP: POST /users/create
// REQUEST BODY: {"email": "a@x.com", "password": "Passw0rd!", "name": "A"}
// RESPONSE: 201 + user without password; 409 duplicate_account; 400 validation_error
func (h *UserHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var in service.CreateUserInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	user, err := h.users.Create(r.Context(), in)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, user)
}

// HandleList returns {id, email, name} for every user.
//
// HTTP: GET /users
func (h *UserHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	users, err := h.users.ListAll(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

// HandleGet returns one user.
//
// HTTP: GET /users/{id}
func (h *UserHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, err := userIDParam(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	user, err := h.users.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// HandleUpdate changes name and/or password.
//
// HTTP: PUT /users/update/{id}
// REQUEST BODY: {"name": "B", "password": "<current>", "newpassword": "<new>"}
// RESPONSE: 200 + user; 404 absent; 409 invalid_current_password; 400 weak_password
func (h *UserHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := userIDParam(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	var in service.UpdateUserInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	user, err := h.users.Update(r.Context(), id, in)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// HandleDelete removes a user and returns its last state.
//
// HTTP: DELETE /users/delete/{id}
func (h *UserHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := userIDParam(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	user, err := h.users.Delete(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}
