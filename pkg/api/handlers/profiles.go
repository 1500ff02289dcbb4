package handlers

import (
	"encoding/json"
	"net/http"

	"pawlink/pkg/models"
	"pawlink/pkg/store"
	"pawlink/pkg/utils"

	"github.com/gorilla/mux"
)

// RegisterProfiles registers participant directory endpoints. Writes are
// restricted to backend callers; the messaging core only reads.
func RegisterProfiles(r *mux.Router) {
	r.HandleFunc("/profiles/{id}", putProfile).Methods(http.MethodPut)
	r.HandleFunc("/profiles/{id}", getProfile).Methods(http.MethodGet)
}

func putProfile(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("X-Role-Name") != "backend" {
		utils.JSONError(w, http.StatusForbidden, "backend credentials required")
		return
	}
	var p models.Profile
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	p.ID = mux.Vars(r)["id"]
	if err := store.SaveProfile(p); err != nil {
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, p)
}

func getProfile(w http.ResponseWriter, r *http.Request) {
	p, err := store.GetProfile(mux.Vars(r)["id"])
	if err != nil {
		utils.JSONError(w, http.StatusNotFound, "profile not found")
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, p)
}
