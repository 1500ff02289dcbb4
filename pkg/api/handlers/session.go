package handlers

import (
	"net/http"

	"pawlink/pkg/auth"
	"pawlink/pkg/utils"

	"github.com/gorilla/mux"
)

// RegisterSession registers the session probe endpoint.
func RegisterSession(r *mux.Router) {
	r.HandleFunc("/session", getSession).Methods(http.MethodGet)
}

// getSession echoes the verified caller identity. An unauthenticated
// caller never reaches this handler; the middleware answers 401 first.
func getSession(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		utils.JSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, id)
}
