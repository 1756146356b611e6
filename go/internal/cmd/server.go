package main

import (
	"encoding/json"
	"fmt"
	"net/http"

	"connectrpc.com/grpcreflect"
	"github.com/mcdev12/scoreboard/go/internal/control"
	"github.com/mcdev12/scoreboard/go/internal/gateway"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

func setupServer(cfg *Config, services *Services) *http.Server {
	mux := http.NewServeMux()

	// Setup CORS middleware
	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
		},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})

	registerServices(mux, services)

	// Setup reflection for grpcui/grpcurl
	setupReflection(mux)

	mux.Handle("/health", services.Health)
	mux.HandleFunc("/info", infoHandler(services))
	gateway.NewWebSocketHandler(services.Gateway).RegisterRoutes(mux)

	handler := c.Handler(mux)

	return &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Port),
		Handler: h2c.NewHandler(handler, &http2.Server{}),
	}
}

func registerServices(mux *http.ServeMux, services *Services) {
	controlServicePath, controlServiceHandler := control.NewControlServiceHandler(services.Control)
	mux.Handle(controlServicePath, controlServiceHandler)
}

func setupReflection(mux *http.ServeMux) {
	// the descriptor must be registered before the reflector resolves the name
	if _, err := control.ServiceDescriptor(); err != nil {
		log.Warn().Err(err).Msg("reflection disabled")
		return
	}
	reflector := grpcreflect.NewStaticReflector(control.ControlServiceName)
	mux.Handle(grpcreflect.NewHandlerV1(reflector))
	mux.Handle(grpcreflect.NewHandlerV1Alpha(reflector))
}

func infoHandler(services *Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := services.App.Snapshot()
		info := map[string]any{
			"service":           "scoreboard",
			"transport":         services.backend,
			"game_time":         snap.GameTime(),
			"shot_clock":        snap.ShotClock,
			"state":             snap.State,
			"devices":           services.App.Devices(),
			"connected_devices": services.Transport.ConnectedCount(),
			"viewers":           services.Gateway.ConnectionCount(),
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(info); err != nil {
			log.Error().Err(err).Msg("failed to write info response")
		}
	}
}
