// Command cadtostl-server runs the conversion service used by the browser viewer: files are
// posted to /convert and the resulting STL is fetched from the returned download URL.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Lllllllleong/cadtostl/internal/config"
	"github.com/Lllllllleong/cadtostl/internal/pipeline"
	"github.com/Lllllllleong/cadtostl/internal/services"
)

// Multipart parts beyond this size spill to disk.
const formMemory = 32 << 20

type server struct {
	conv        *services.UploadConverterFunction
	allowOrigin string
}

func main() {
	addr := flag.String("addr", config.GetEnv("CADTOSTL_ADDR", ":3001"), "listen address")
	shutdownGrace := flag.Duration("shutdown-grace", 10*time.Second, "time allowed for in-flight conversions on shutdown")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)
	pipeline.SetLogger(logger)

	cfg, err := services.LoadUploadConfig()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}
	conv, err := services.NewUploadConverter(cfg)
	if err != nil {
		slog.Error("Critical: upload converter initialization failed", "error", err)
		os.Exit(1)
	}
	s := &server{conv: conv, allowOrigin: config.GetEnv("CADTOSTL_ALLOWED_ORIGIN", "*")}

	httpServer := &http.Server{
		Addr:              *addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Retention > 0 {
		go s.pruneLoop(ctx, cfg.Retention)
	}

	slog.Info("Listening.", "addr", *addr)
	errChan := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		slog.Error("Listen failed", "error", err)
		os.Exit(1)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), *shutdownGrace)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("Shutdown did not complete cleanly", "error", err)
	}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /convert", s.handleConvert)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET "+services.DownloadPrefix+"{name}", s.handleDownload)
	return s.cors(mux)
}

// cors lets the viewer, served from another origin, call the service.
func (s *server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.allowOrigin)
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) handleConvert(w http.ResponseWriter, r *http.Request) {
	cfg := s.conv.Config()
	r.Body = http.MaxBytesReader(w, r.Body, cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(formMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeMessage(w, http.StatusRequestEntityTooLarge, "File too large")
			return
		}
		slog.Warn("Could not parse multipart form", "error", err)
		writeMessage(w, http.StatusBadRequest, "Bad Request: invalid multipart payload")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("cadFile")
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "Bad Request: cadFile field is required")
		return
	}
	defer file.Close()

	d, err := services.FormDeflection(r.FormValue("precision"), r.FormValue("angularDeflection"), cfg.Deflection)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.conv.Process(r.Context(), services.Upload{Filename: header.Filename, Content: file, Deflection: d})
	switch {
	case errors.Is(err, services.ErrBadRequest):
		writeMessage(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, services.ErrConversionFailed) && res != nil:
		writeJSON(w, http.StatusUnprocessableEntity, res)
	case err != nil:
		writeMessage(w, http.StatusInternalServerError, "Internal Server Error: processing failed")
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

func (s *server) handleDownload(w http.ResponseWriter, r *http.Request) {
	path, err := s.conv.Download(r.PathValue("name"))
	if err != nil {
		writeMessage(w, http.StatusNotFound, "Converted file not found")
		return
	}
	w.Header().Set("Content-Type", "model/stl")
	w.Header().Set("Content-Disposition", `attachment; filename="`+r.PathValue("name")+`"`)
	http.ServeFile(w, r, path)
}

func (s *server) pruneLoop(ctx context.Context, retention time.Duration) {
	ticker := time.NewTicker(retention / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n, err := s.conv.Prune(now); err != nil {
				slog.Warn("Prune failed", "error", err)
			} else if n > 0 {
				slog.Info("Pruned converted files.", "count", n)
			}
		}
	}
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to write response", "error", err)
	}
}
