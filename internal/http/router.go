package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fjod/go_cart/ordering-service/pkg/logger"
)

type Handlers struct {
	Menu    *MenuHandler
	Intents *IntentHandler
	Orders  *OrdersHandler
	// Ready reports whether a usable menu is loaded. Optional.
	Ready func() bool
}

type RouterOptions struct {
	RequestTimeout     time.Duration
	MaxRequestBodySize int64
}

func NewRouter(h Handlers, opts RouterOptions, log *slog.Logger) http.Handler {
	if log == nil {
		log = logger.Nop()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 60 * time.Second
	}
	if opts.MaxRequestBodySize <= 0 {
		opts.MaxRequestBodySize = 1 << 20 // 1MB
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(RequestLogger(log))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(opts.RequestTimeout))
	r.Use(middleware.RequestSize(opts.MaxRequestBodySize))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		body := map[string]string{"status": "ok", "menu": "ready"}
		if h.Ready != nil && !h.Ready() {
			body["menu"] = "not_ready"
		}
		respondJSON(w, http.StatusOK, body)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/menu", func(r chi.Router) {
			r.Get("/", h.Menu.GetMenu)
			r.Get("/categories/{category_id}/products", h.Menu.CategoryProducts)
			r.Post("/refresh", h.Menu.Refresh)
		})
		r.Route("/users/{user_id}", func(r chi.Router) {
			r.Get("/cart", h.Intents.GetCart)
			r.Post("/intents", h.Intents.Handle)
		})
		r.Route("/orders", func(r chi.Router) {
			r.Get("/", h.Orders.ListOrders)
			r.Get("/{order_id}", h.Orders.GetOrder)
		})
		r.Get("/stats", h.Orders.Stats)
	})

	return otelhttp.NewHandler(r, "ordering-service")
}

// RequestLogger logs every request once it is answered.
func RequestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				log.InfoContext(r.Context(), "http request",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.Int("status", ww.Status()),
					slog.Int("bytes", ww.BytesWritten()),
					slog.Duration("duration", time.Since(start)),
					slog.String("request_id", middleware.GetReqID(r.Context())))
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
