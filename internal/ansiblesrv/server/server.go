package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/apis"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/db"
	"github.com/pulp/pulp-ansible-sub001/internal/common/httpx"
	"github.com/pulp/pulp-ansible-sub001/internal/common/middleware"
	"github.com/rs/zerolog/log"
)

const (
	ServerVersion = "pulp_ansible: 0.21.0"
	ApiVersion    = "v3"
)

type AnsibleServer struct {
	Router   *chi.Mux
	db       db.DB_
	services *apis.Services
}

func CreateNewServer(d db.DB_, s *apis.Services) (*AnsibleServer, error) {
	return &AnsibleServer{
		Router:   chi.NewRouter(),
		db:       d,
		services: s,
	}, nil
}

func (s *AnsibleServer) MountHandlers() {
	s.Router.Use(middleware.RequestLogger)
	s.Router.Use(middleware.PanicHandler)
	if s.services.Config.HandleCORS {
		s.Router.Use(s.HandleCORS)
	}
	s.Router.Get("/version", s.getVersion)
	s.Router.Get("/ready", s.getReadiness)
	s.Router.Group(func(r chi.Router) {
		r.Use(db.LoadDBMiddleware(s.db))
		if prefix := s.services.Config.APIPrefix(); prefix != "" {
			r.Route(prefix, func(r chi.Router) {
				apis.Router(r, s.services)
			})
		} else {
			apis.Router(r, s.services)
		}
	})
	if log.Debug().Enabled() {
		walkFunc := func(method string, route string, handler http.Handler, middlewares ...func(http.Handler) http.Handler) error {
			log.Debug().Str("method", method).Str("route", route).Msg("route")
			return nil
		}
		if err := chi.Walk(s.Router, walkFunc); err != nil {
			log.Error().Err(err).Msg("Error walking router")
		}
	}
}

type GetVersionRsp struct {
	ServerVersion string `json:"serverVersion"`
	ApiVersion    string `json:"apiVersion"`
}

func (s *AnsibleServer) getVersion(w http.ResponseWriter, r *http.Request) {
	log.Ctx(r.Context()).Debug().Msg("GetVersion")
	rsp := &GetVersionRsp{
		ServerVersion: ServerVersion,
		ApiVersion:    ApiVersion,
	}
	httpx.SendJsonRsp(r.Context(), w, http.StatusOK, rsp)
}

func (s *AnsibleServer) getReadiness(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, err := s.db.ListDomains(ctx); err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("catalog not ready")
		httpx.SendJsonRsp(ctx, w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	httpx.SendJsonRsp(ctx, w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *AnsibleServer) HandleCORS(next http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Content-Length", "Accept-Encoding"},
		ExposedHeaders:   []string{"Link", "Location", "X-Pulp-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	})(next)
}
