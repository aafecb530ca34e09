package transport

import "net/http"

type Handler interface {
	startProcessing(w http.ResponseWriter, r *http.Request)
	getResult(w http.ResponseWriter, r *http.Request)
	generateRecipes(w http.ResponseWriter, r *http.Request)
	recipes(w http.ResponseWriter, r *http.Request)
	health(w http.ResponseWriter, r *http.Request)
}

type router struct {
	h       Handler
	metrics http.Handler
}

func NewRouter(h Handler, metrics http.Handler) *router {
	return &router{h: h, metrics: metrics}
}

func (rt *router) MountRoutes(mux *http.ServeMux) *http.ServeMux {
	mux.HandleFunc("POST /start-processing", rt.h.startProcessing)
	mux.HandleFunc("GET /get-result/{task_id}", rt.h.getResult)
	mux.HandleFunc("POST /generate-recipes/{task_id}", rt.h.generateRecipes)
	mux.HandleFunc("GET /recipes/{task_id}", rt.h.recipes)
	mux.HandleFunc("GET /healthz", rt.h.health)
	if rt.metrics != nil {
		mux.Handle("GET /metrics", rt.metrics)
	}
	return mux
}
