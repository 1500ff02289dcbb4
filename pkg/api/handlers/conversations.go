package handlers

import (
	"net/http"

	"pawlink/pkg/auth"
	"pawlink/pkg/logger"
	"pawlink/pkg/models"
	"pawlink/pkg/store"
	"pawlink/pkg/telemetry"
	"pawlink/pkg/utils"

	"github.com/gorilla/mux"
)

// RegisterConversations registers conversation-scoped endpoints.
func RegisterConversations(r *mux.Router) {
	r.HandleFunc("/conversations", listConversations).Methods(http.MethodGet)
	r.HandleFunc("/conversations/{id}/messages", getHistory).Methods(http.MethodGet)
	r.HandleFunc("/conversations/{id}/read", markRead).Methods(http.MethodPut)
	r.HandleFunc("/unread", unreadCount).Methods(http.MethodGet)
}

func listConversations(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFromContext(r.Context())
	end := telemetry.StartSpan(r.Context(), "list_conversations")
	sums, err := store.Summaries(id.ID)
	end()
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	logger.Info("conversations_listed", "user", id.ID, "count", len(sums))
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Conversations []models.ConversationSummary `json:"conversations"`
	}{Conversations: sums})
}

func getHistory(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFromContext(r.Context())
	counterpart := mux.Vars(r)["id"]
	if counterpart == "" || counterpart == id.ID {
		utils.JSONError(w, http.StatusForbidden, "not a participant of this conversation")
		return
	}
	end := telemetry.StartSpan(r.Context(), "fetch_history")
	msgs, err := store.History(id.ID, counterpart)
	end()
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	logger.Info("history_fetched", "user", id.ID, "counterpart", counterpart, "count", len(msgs))
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Counterpart string           `json:"counterpart"`
		Messages    []models.Message `json:"messages"`
	}{Counterpart: counterpart, Messages: msgs})
}

func markRead(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFromContext(r.Context())
	counterpart := mux.Vars(r)["id"]
	if counterpart == "" || counterpart == id.ID {
		utils.JSONError(w, http.StatusForbidden, "not a participant of this conversation")
		return
	}
	end := telemetry.StartSpan(r.Context(), "mark_read")
	_, err := store.MarkRead(id.ID, counterpart)
	end()
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func unreadCount(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFromContext(r.Context())
	end := telemetry.StartSpan(r.Context(), "unread_count")
	n, err := store.UnreadCount(id.ID)
	end()
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, struct {
		Count int `json:"count"`
	}{Count: n})
}
