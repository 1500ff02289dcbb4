package handlers

import (
	"encoding/json"
	"net/http"

	"pawlink/pkg/auth"
	"pawlink/pkg/config"
	"pawlink/pkg/utils"

	"github.com/gorilla/mux"
)

// RegisterSign registers the signature issuance endpoint. The host
// application's backend calls this when handing a messaging session to a
// logged-in user; the returned signature accompanies every frontend call.
func RegisterSign(r *mux.Router) {
	r.HandleFunc("/sign", signUser).Methods(http.MethodPost)
}

func signUser(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("X-Role-Name") != "backend" {
		utils.JSONError(w, http.StatusForbidden, "backend credentials required")
		return
	}
	var req struct {
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		utils.JSONError(w, http.StatusBadRequest, "user_id required")
		return
	}
	var key string
	for k := range config.GetSigningKeys() {
		key = k
		break
	}
	if key == "" {
		utils.JSONError(w, http.StatusInternalServerError, "no signing secrets available")
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		UserID    string `json:"user_id"`
		Signature string `json:"signature"`
	}{UserID: req.UserID, Signature: auth.Sign(key, req.UserID)})
}
