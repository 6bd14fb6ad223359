package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"

	"upcontacts/internal/media"
	"upcontacts/internal/observability"
)

const (
	maxJSONBodyBytes  = 1 << 20
	minPasswordLength = 6
	maxPasswordLength = 128
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (r registerRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.Password, validation.Required, validation.Length(minPasswordLength, maxPasswordLength)),
	)
}

type loginRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (r loginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Username, validation.Required),
		validation.Field(&r.Password, validation.Required),
	)
}

type resetRequest struct {
	Email string `json:"email"`
}

func (r resetRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
	)
}

type resetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

func (r resetPasswordRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Token, validation.Required),
		validation.Field(&r.NewPassword, validation.Required, validation.Length(minPasswordLength, maxPasswordLength)),
	)
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var body registerRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	body.Email = strings.TrimSpace(body.Email)
	if err := body.Validate(); err != nil {
		writeValidationError(w, err)
		return
	}

	account, err := h.service.Register(r.Context(), body.Email, body.Password)
	if err != nil {
		if errors.Is(err, ErrConflict) {
			writeError(w, http.StatusConflict, "an account with this email already exists")
			return
		}
		h.internalError(w, r, err, "failed to register")
		return
	}

	writeJSON(w, http.StatusCreated, account.View())
}

func (h *Handler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if err := validation.Validate(token, validation.Required); err != nil {
		writeValidationError(w, validation.Errors{"token": err})
		return
	}

	alreadyVerified, err := h.service.VerifyEmail(r.Context(), token)
	if err != nil {
		if errors.Is(err, ErrInvalidToken) {
			writeError(w, http.StatusBadRequest, "invalid or expired verification token")
			return
		}
		h.internalError(w, r, err, "failed to verify email")
		return
	}

	if alreadyVerified {
		writeJSON(w, http.StatusOK, Message{Detail: MessageAlreadyVerified})
		return
	}
	writeJSON(w, http.StatusOK, Message{Detail: MessageVerified})
}

// Login accepts the OAuth2 password form (username, password) as well as a
// JSON body carrying username or email.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var body loginRequest
	if isFormRequest(r) {
		r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
		if err := r.ParseForm(); err != nil {
			writeValidationError(w, validation.Errors{"body": errors.New("malformed form body")})
			return
		}
		body.Username = r.PostForm.Get("username")
		body.Password = r.PostForm.Get("password")
	} else if !decodeJSON(w, r, &body) {
		return
	}

	body.Username = strings.TrimSpace(body.Username)
	if body.Username == "" {
		body.Username = strings.TrimSpace(body.Email)
	}
	if err := body.Validate(); err != nil {
		writeValidationError(w, err)
		return
	}

	tokens, err := h.service.Login(r.Context(), body.Username, body.Password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			unauthorized(w, "incorrect email or password")
			return
		}
		if errors.Is(err, ErrNotVerified) {
			writeError(w, http.StatusForbidden, "email not verified, check your inbox")
			return
		}
		var lockedErr ErrLoginLocked
		if errors.As(err, &lockedErr) {
			retryAfter := int(time.Until(lockedErr.Until).Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			writeError(w, http.StatusTooManyRequests, "login temporarily locked")
			return
		}

		h.internalError(w, r, err, "failed to login")
		return
	}

	writeJSON(w, http.StatusOK, tokens)
}

func (h *Handler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var body resetRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	body.Email = strings.TrimSpace(body.Email)
	if err := body.Validate(); err != nil {
		writeValidationError(w, err)
		return
	}

	if err := h.service.RequestPasswordReset(r.Context(), body.Email); err != nil {
		h.internalError(w, r, err, "failed to request password reset")
		return
	}

	writeJSON(w, http.StatusOK, Message{Detail: MessageResetRequested})
}

func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var body resetPasswordRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	body.Token = strings.TrimSpace(body.Token)
	if err := body.Validate(); err != nil {
		writeValidationError(w, err)
		return
	}

	if err := h.service.ConsumePasswordReset(r.Context(), body.Token, body.NewPassword); err != nil {
		switch {
		case errors.Is(err, ErrInvalidToken):
			writeError(w, http.StatusBadRequest, "invalid or expired token")
		case errors.Is(err, ErrTokenExpired):
			writeError(w, http.StatusBadRequest, "token expired")
		default:
			h.internalError(w, r, err, "failed to reset password")
		}
		return
	}

	writeJSON(w, http.StatusOK, Message{Detail: MessagePasswordReset})
}

func (h *Handler) UploadAvatar(w http.ResponseWriter, r *http.Request) {
	account, ok := AccountFromContext(r.Context())
	if !ok {
		unauthorized(w, "could not validate credentials")
		return
	}

	upload, err := media.ReadUpload(w, r, "file")
	if err != nil {
		writeAvatarError(w, err)
		return
	}

	updated, err := h.service.UpdateProfileImage(r.Context(), account, upload.ContentType, upload.Data)
	if err != nil {
		if errors.Is(err, ErrUnsupportedImage) || errors.Is(err, ErrImageTooLarge) || errors.Is(err, media.ErrEmpty) {
			writeAvatarError(w, err)
			return
		}
		h.internalError(w, r, err, "failed to upload avatar")
		return
	}

	writeJSON(w, http.StatusOK, updated.View())
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	account, ok := AccountFromContext(r.Context())
	if !ok {
		unauthorized(w, "could not validate credentials")
		return
	}
	writeJSON(w, http.StatusOK, account.View())
}

func (h *Handler) DeleteMe(w http.ResponseWriter, r *http.Request) {
	account, ok := AccountFromContext(r.Context())
	if !ok {
		unauthorized(w, "could not validate credentials")
		return
	}

	if err := h.service.DeleteAccount(r.Context(), account); err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			unauthorized(w, "could not validate credentials")
			return
		}
		h.internalError(w, r, err, "failed to delete account")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) internalError(w http.ResponseWriter, r *http.Request, err error, message string) {
	observability.CaptureRequestError(r, err)
	h.service.logger.Error("request_failed", map[string]any{
		"path":       r.URL.Path,
		"request_id": observability.RequestID(r.Context()),
		"error":      err.Error(),
	})
	writeError(w, http.StatusInternalServerError, message)
}

func writeAvatarError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, media.ErrUnsupportedType):
		writeError(w, http.StatusBadRequest, "only JPEG and PNG images are supported")
	case errors.Is(err, media.ErrTooLarge):
		writeError(w, http.StatusBadRequest, "file size must not exceed 5MB")
	case errors.Is(err, media.ErrEmpty):
		writeError(w, http.StatusBadRequest, "file is empty")
	default:
		writeError(w, http.StatusBadRequest, "file is required")
	}
}

func isFormRequest(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == "application/x-www-form-urlencoded"
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
