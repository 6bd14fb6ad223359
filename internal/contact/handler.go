package contact

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"

	"upcontacts/internal/auth"
	"upcontacts/internal/observability"
)

const maxJSONBodyBytes = 1 << 20

type Handler struct {
	store  Store
	logger *observability.Logger
}

func NewHandler(store Store, logger *observability.Logger) *Handler {
	return &Handler{store: store, logger: logger}
}

// RegisterRoutes mounts the contact endpoints behind bearer authentication.
// createLimiter may be nil.
func (h *Handler) RegisterRoutes(mux *http.ServeMux, resolver *auth.Resolver, createLimiter *auth.RateLimiter) {
	var create http.Handler = http.HandlerFunc(h.Create)
	if createLimiter != nil {
		create = createLimiter.Middleware(create)
	}

	mux.Handle("GET /contacts", auth.Middleware(resolver, http.HandlerFunc(h.List)))
	mux.Handle("POST /contacts", auth.Middleware(resolver, create))
	mux.Handle("GET /contacts/search", auth.Middleware(resolver, http.HandlerFunc(h.Search)))
	mux.Handle("GET /contacts/{id}", auth.Middleware(resolver, http.HandlerFunc(h.Get)))
	mux.Handle("PUT /contacts/{id}", auth.Middleware(resolver, http.HandlerFunc(h.Update)))
	mux.Handle("DELETE /contacts/{id}", auth.Middleware(resolver, http.HandlerFunc(h.Delete)))
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	owner, ok := currentAccount(w, r)
	if !ok {
		return
	}

	contacts, err := h.store.List(r.Context(), owner.ID)
	if err != nil {
		h.internalError(w, r, err, "failed to list contacts")
		return
	}

	writeJSON(w, http.StatusOK, contacts)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	owner, ok := currentAccount(w, r)
	if !ok {
		return
	}
	id, ok := contactID(w, r)
	if !ok {
		return
	}

	c, err := h.store.Get(r.Context(), owner.ID, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusNotFound, "contact not found")
			return
		}
		h.internalError(w, r, err, "failed to get contact")
		return
	}

	writeJSON(w, http.StatusOK, c)
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	owner, ok := currentAccount(w, r)
	if !ok {
		return
	}

	var input Input
	if !decodeJSON(w, r, &input) {
		return
	}
	input.Name = strings.TrimSpace(input.Name)
	input.Surname = strings.TrimSpace(input.Surname)
	input.Email = strings.TrimSpace(input.Email)
	input.Phone = strings.TrimSpace(input.Phone)
	input.Birthday = strings.TrimSpace(input.Birthday)
	if err := input.Validate(); err != nil {
		writeValidationError(w, err)
		return
	}

	taken, err := h.store.EmailTaken(r.Context(), owner.ID, input.Email, 0)
	if err != nil {
		h.internalError(w, r, err, "failed to create contact")
		return
	}
	if taken {
		writeError(w, http.StatusBadRequest, ErrDuplicateEmail.Error())
		return
	}

	c, err := h.store.Create(r.Context(), owner.ID, input)
	if err != nil {
		if errors.Is(err, ErrDuplicateEmail) {
			writeError(w, http.StatusBadRequest, ErrDuplicateEmail.Error())
			return
		}
		h.internalError(w, r, err, "failed to create contact")
		return
	}

	writeJSON(w, http.StatusCreated, c)
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	owner, ok := currentAccount(w, r)
	if !ok {
		return
	}
	id, ok := contactID(w, r)
	if !ok {
		return
	}

	var patch Patch
	if !decodeJSON(w, r, &patch) {
		return
	}
	trimField(&patch.Name)
	trimField(&patch.Surname)
	trimField(&patch.Email)
	trimField(&patch.Phone)
	trimField(&patch.Birthday)
	if err := patch.Validate(); err != nil {
		writeValidationError(w, err)
		return
	}

	if _, err := h.store.Get(r.Context(), owner.ID, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusNotFound, "contact not found")
			return
		}
		h.internalError(w, r, err, "failed to update contact")
		return
	}

	if patch.Email.Set {
		taken, err := h.store.EmailTaken(r.Context(), owner.ID, patch.Email.Value, id)
		if err != nil {
			h.internalError(w, r, err, "failed to update contact")
			return
		}
		if taken {
			writeError(w, http.StatusBadRequest, ErrDuplicateEmail.Error())
			return
		}
	}

	c, err := h.store.Update(r.Context(), owner.ID, id, patch)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			writeError(w, http.StatusNotFound, "contact not found")
		case errors.Is(err, ErrDuplicateEmail):
			writeError(w, http.StatusBadRequest, ErrDuplicateEmail.Error())
		default:
			h.internalError(w, r, err, "failed to update contact")
		}
		return
	}

	writeJSON(w, http.StatusOK, c)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	owner, ok := currentAccount(w, r)
	if !ok {
		return
	}
	id, ok := contactID(w, r)
	if !ok {
		return
	}

	if err := h.store.Delete(r.Context(), owner.ID, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusNotFound, "contact not found")
			return
		}
		h.internalError(w, r, err, "failed to delete contact")
		return
	}

	writeJSON(w, http.StatusOK, auth.Message{Detail: "contact deleted"})
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	owner, ok := currentAccount(w, r)
	if !ok {
		return
	}

	query := strings.TrimSpace(r.URL.Query().Get("query"))
	if err := validation.Validate(query, validation.Required); err != nil {
		writeValidationError(w, validation.Errors{"query": err})
		return
	}

	contacts, err := h.store.Search(r.Context(), owner.ID, query)
	if err != nil {
		h.internalError(w, r, err, "failed to search contacts")
		return
	}

	writeJSON(w, http.StatusOK, contacts)
}

func (h *Handler) internalError(w http.ResponseWriter, r *http.Request, err error, message string) {
	observability.CaptureRequestError(r, err)
	h.logger.Error("request_failed", map[string]any{
		"path":       r.URL.Path,
		"request_id": observability.RequestID(r.Context()),
		"error":      err.Error(),
	})
	writeError(w, http.StatusInternalServerError, message)
}

func currentAccount(w http.ResponseWriter, r *http.Request) (auth.Account, bool) {
	account, ok := auth.AccountFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "could not validate credentials")
	}
	return account, ok
}

func contactID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid contact id")
		return 0, false
	}
	return id, true
}

func trimField(f *Field[string]) {
	if f.Set && !f.Null {
		f.Value = strings.TrimSpace(f.Value)
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeValidationError(w, decodeError(err))
		return false
	}
	return true
}

// decodeError turns a body that could not be decoded into field errors.
func decodeError(err error) validation.Errors {
	var typeErr *json.UnmarshalTypeError
	var maxErr *http.MaxBytesError
	switch {
	case errors.Is(err, io.EOF):
		return validation.Errors{"body": errors.New("cannot be blank")}
	case errors.As(err, &maxErr):
		return validation.Errors{"body": errors.New("too large")}
	case errors.As(err, &typeErr) && typeErr.Field != "":
		return validation.Errors{typeErr.Field: fmt.Errorf("must be a %s", typeErr.Type)}
	}
	if field, ok := strings.CutPrefix(err.Error(), "json: unknown field "); ok {
		return validation.Errors{strings.Trim(field, `"`): errors.New("unknown field")}
	}
	return validation.Errors{"body": errors.New("malformed json")}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeValidationError(w http.ResponseWriter, err error) {
	fields := map[string]string{}
	var verrs validation.Errors
	if errors.As(err, &verrs) {
		for field, fieldErr := range verrs {
			fields[field] = fieldErr.Error()
		}
	}
	writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
		"error":  "validation failed",
		"fields": fields,
	})
}
