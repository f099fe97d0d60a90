package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-go-golems/forkchat/pkg/chat"
	"github.com/go-go-golems/forkchat/pkg/conversation"
)

// Server exposes a chat.Service over HTTP.
type Server struct {
	service *chat.Service
	retry   RetrySettings
}

type Option func(*Server)

func WithRetrySettings(settings RetrySettings) Option {
	return func(s *Server) {
		s.retry = settings
	}
}

func NewServer(service *chat.Service, options ...Option) *Server {
	ret := &Server{
		service: service,
		retry:   DefaultRetrySettings(),
	}
	for _, o := range options {
		o(ret)
	}
	return ret
}

// Handler builds the chi router with every route.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(accessLog)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/conversations", func(r chi.Router) {
		r.Get("/", s.listConversations)
		r.Post("/", s.createConversation)

		r.Route("/{cid}", func(r chi.Router) {
			r.Get("/", s.getConversation)
			r.Delete("/", s.deleteConversation)
			r.Get("/path", s.getActivePath)

			r.Post("/messages", s.addMessage)
			r.Route("/messages/{mid}", func(r chi.Router) {
				r.Put("/", s.editMessage)
				r.Post("/regenerate", s.regenerate)
				r.Post("/reply", s.reply)
				r.Get("/versions", s.versions)
				r.Post("/select", s.selectVersion)
			})

			r.Get("/branches", s.listBranches)
			r.Post("/branches", s.fork)
			r.Route("/branches/{bid}", func(r chi.Router) {
				r.Post("/activate", s.activateBranch)
				r.Patch("/", s.renameBranch)
				r.Delete("/", s.deleteBranch)
			})
		})
	})

	return r
}

// pathID parses a URL parameter; on failure it writes a 400.
func pathID(w http.ResponseWriter, r *http.Request, name string) (conversation.ID, bool) {
	raw := chi.URLParam(r, name)
	id, err := conversation.ParseID(raw)
	if err != nil || id.IsNull() {
		writeBadRequest(w, CodeBadRequest, "invalid "+name+": "+raw)
		return conversation.NullID, false
	}
	return id, true
}
