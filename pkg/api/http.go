package api

import (
	"net/http"

	"pawlink/pkg/api/handlers"
	"pawlink/pkg/auth"
	"pawlink/pkg/broker"

	"github.com/gorilla/mux"
)

// Handler returns the full messaging API: the versioned REST collaborator
// endpoints plus the live channel accept endpoint. Key-level auth happens
// in the outer middleware; identity verification happens here so every
// /v1 route and the live channel fail closed without a verified caller.
func Handler(b *broker.Broker) http.Handler {
	r := mux.NewRouter()

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.Use(mux.MiddlewareFunc(auth.RequireIdentity))
	handlers.RegisterSession(v1)
	handlers.RegisterConversations(v1)
	handlers.RegisterProfiles(v1)
	handlers.RegisterSign(v1)

	r.Handle("/ws", auth.RequireIdentity(b.Handler())).Methods(http.MethodGet)
	return r
}
