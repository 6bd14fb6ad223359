package auth

import "net/http"

// RegisterRoutes mounts the /auth endpoints on mux. loginLimiter may be nil.
func (h *Handler) RegisterRoutes(mux *http.ServeMux, resolver *Resolver, loginLimiter *RateLimiter) {
	var login http.Handler = http.HandlerFunc(h.Login)
	if loginLimiter != nil {
		login = loginLimiter.Middleware(login)
	}

	mux.HandleFunc("POST /auth/register", h.Register)
	mux.HandleFunc("GET /auth/verify-email", h.VerifyEmail)
	mux.Handle("POST /auth/login", login)
	mux.HandleFunc("POST /auth/request-password-reset", h.RequestPasswordReset)
	mux.HandleFunc("POST /auth/reset-password", h.ResetPassword)
	mux.Handle("POST /auth/upload-avatar", Middleware(resolver, http.HandlerFunc(h.UploadAvatar)))
	mux.Handle("GET /auth/me", Middleware(resolver, http.HandlerFunc(h.Me)))
	mux.Handle("DELETE /auth/me", Middleware(resolver, http.HandlerFunc(h.DeleteMe)))
}
