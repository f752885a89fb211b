package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/kuitang/plansite/internal/errs"
	"github.com/kuitang/plansite/internal/obs"
)

// RegisterHook runs after a successful registration, before the session is created.
type RegisterHook func(ctx context.Context, user *User) error

// Handler provides HTTP handlers for authentication routes.
// Form posts from the HTML pages get redirects; JSON bodies get JSON responses.
type Handler struct {
	userService    *UserService
	sessionService *SessionService
	onRegister     RegisterHook
}

// NewHandler creates a new auth handler.
func NewHandler(userService *UserService, sessionService *SessionService) *Handler {
	return &Handler{
		userService:    userService,
		sessionService: sessionService,
	}
}

// SetRegisterHook installs a hook run after each registration.
func (h *Handler) SetRegisterHook(hook RegisterHook) {
	h.onRegister = hook
}

// RegisterRoutes registers all auth routes on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /auth/register", h.HandleRegister)
	mux.HandleFunc("POST /auth/login", h.HandleLogin)
	mux.HandleFunc("POST /auth/logout", h.HandleLogout)
	mux.HandleFunc("GET /auth/whoami", h.HandleWhoami)
}

// Credentials is the request body for login and registration.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Next     string `json:"next,omitempty"`
}

func isJSON(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "application/json")
}

func readCredentials(r *http.Request) (Credentials, error) {
	var c Credentials
	if isJSON(r) {
		if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
			return c, errs.New(errs.InvalidArgument, "invalid request body")
		}
	} else {
		if err := r.ParseForm(); err != nil {
			return c, errs.New(errs.InvalidArgument, "invalid form")
		}
		c.Email = r.PostFormValue("email")
		c.Password = r.PostFormValue("password")
		c.Next = r.PostFormValue("next")
	}
	if strings.TrimSpace(c.Email) == "" || c.Password == "" {
		return c, errs.New(errs.InvalidArgument, "email and password are required")
	}
	return c, nil
}

// HandleRegister handles email/password registration.
func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	creds, err := readCredentials(r)
	if err != nil {
		h.fail(w, r, "/register", creds, err)
		return
	}

	user, err := h.userService.Register(r.Context(), creds.Email, creds.Password)
	if err != nil {
		h.fail(w, r, "/register", creds, err)
		return
	}
	if h.onRegister != nil {
		if err := h.onRegister(r.Context(), user); err != nil {
			obs.From(r.Context()).Error("register hook failed", "user_id", user.ID, "error", err)
		}
	}

	h.startSession(w, r, user, creds.Next, http.StatusCreated)
}

// HandleLogin handles email/password login.
func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	creds, err := readCredentials(r)
	if err != nil {
		h.fail(w, r, "/login", creds, err)
		return
	}

	user, err := h.userService.Authenticate(r.Context(), creds.Email, creds.Password)
	if err != nil {
		h.fail(w, r, "/login", creds, err)
		return
	}

	h.startSession(w, r, user, creds.Next, http.StatusOK)
}

func (h *Handler) startSession(w http.ResponseWriter, r *http.Request, user *User, next string, jsonStatus int) {
	sessionID, err := h.sessionService.Create(r.Context(), user.ID)
	if err != nil {
		obs.From(r.Context()).Error("create session failed", "user_id", user.ID, "error", err)
		h.fail(w, r, "/login", Credentials{Email: user.Email}, errs.Wrap(errs.Internal, "failed to create session", err))
		return
	}
	h.sessionService.SetCookie(w, sessionID)

	if isJSON(r) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(jsonStatus)
		json.NewEncoder(w).Encode(map[string]string{
			"user_id": user.ID,
			"email":   user.Email,
		})
		return
	}
	http.Redirect(w, r, SafeNext(next, "/account"), http.StatusSeeOther)
}

// fail reports err as JSON, or redirects back to the form page with the message.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, page string, creds Credentials, err error) {
	if errs.CodeOf(err) == errs.Internal {
		obs.From(r.Context()).Error("auth request failed", "path", r.URL.Path, "error", err)
	}
	if isJSON(r) {
		errs.WriteJSON(w, err)
		return
	}
	q := url.Values{}
	q.Set("error", errs.MessageOf(err))
	if creds.Email != "" {
		q.Set("email", creds.Email)
	}
	if creds.Next != "" {
		q.Set("next", creds.Next)
	}
	http.Redirect(w, r, page+"?"+q.Encode(), http.StatusSeeOther)
}

// HandleLogout logs out the current user.
func (h *Handler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if sessionID, err := GetFromRequest(r); err == nil {
		_ = h.sessionService.Delete(r.Context(), sessionID)
	}
	h.sessionService.ClearCookie(w)

	if isJSON(r) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"message": "Logged out successfully"})
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// WhoamiResponse is the response for the whoami endpoint.
type WhoamiResponse struct {
	UserID        string `json:"user_id,omitempty"`
	Email         string `json:"email,omitempty"`
	Authenticated bool   `json:"authenticated"`
}

// HandleWhoami returns information about the current user.
func (h *Handler) HandleWhoami(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	sessionID, err := GetFromRequest(r)
	if err != nil {
		json.NewEncoder(w).Encode(WhoamiResponse{})
		return
	}
	userID, err := h.sessionService.Validate(r.Context(), sessionID)
	if err != nil {
		json.NewEncoder(w).Encode(WhoamiResponse{})
		return
	}
	resp := WhoamiResponse{UserID: userID, Authenticated: true}
	if user, err := h.userService.Get(r.Context(), userID); err == nil {
		resp.Email = user.Email
	}
	json.NewEncoder(w).Encode(resp)
}

// SafeNext returns next when it is a local absolute path, otherwise fallback.
func SafeNext(next, fallback string) string {
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.Contains(next, "\\") {
		return fallback
	}
	u, err := url.Parse(next)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return fallback
	}
	return next
}
