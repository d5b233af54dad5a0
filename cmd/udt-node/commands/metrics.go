package commands

import (
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skycoin/udt/internal/httputil"
	"github.com/skycoin/udt/pkg/udt"
)

func metricsRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/multiplexers", func(w http.ResponseWriter, r *http.Request) {
		listening, err := httputil.QueryBool(r, "listening", false)
		if err != nil {
			httputil.WriteJSON(w, r, http.StatusBadRequest, err)
			return
		}
		infos := udt.Multiplexers()
		if listening {
			out := infos[:0]
			for _, info := range infos {
				if info.Listening {
					out = append(out, info)
				}
			}
			infos = out
		}
		httputil.WriteJSON(w, r, http.StatusOK, infos)
	})
	return r
}
