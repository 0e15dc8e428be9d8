// Package admin serves the management interface: generation listing, client
// messages, background sync and the outbox.
package admin

import (
	"context"
	"embed"
	"errors"
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/hlog"
	"gopkg.in/yaml.v3"

	"github.com/benjaminschubert/receiptcache/internal/cachestore"
	"github.com/benjaminschubert/receiptcache/internal/clients"
	"github.com/benjaminschubert/receiptcache/internal/config"
	"github.com/benjaminschubert/receiptcache/internal/handlers"
	"github.com/benjaminschubert/receiptcache/internal/lifecycle"
	"github.com/benjaminschubert/receiptcache/internal/middleware"
	"github.com/benjaminschubert/receiptcache/internal/outbox"
	"github.com/benjaminschubert/receiptcache/internal/units"
)

//go:embed templates
var templatesFS embed.FS

//go:embed static
var staticFS embed.FS

type Controller interface {
	clients.Dispatcher
	Generation() string
	State() lifecycle.State
	Sync(ctx context.Context, tag string) error
}

type Dependencies struct {
	Controller Controller
	Storage    *cachestore.Storage
	Outbox     *outbox.Outbox
	Hub        *clients.Hub
	// Statistics may be nil.
	Statistics *middleware.Statistics
}

type indexData struct {
	Generation string
	State      string
	Clients    int
	Outbox     int
	Stats      cachestore.Statistics
	Requests   middleware.StatisticsSnapshot
	Conf       string
}

type cacheListing struct {
	Name        string     `json:"name"`
	Current     bool       `json:"current"`
	CreatedAt   time.Time  `json:"createdAt"`
	InstalledAt *time.Time `json:"installedAt,omitempty"`
	Keys        []string   `json:"keys"`
}

type enqueued struct {
	ID string `json:"id"`
}

func RegisterHandler(handler *http.ServeMux, deps Dependencies, conf *config.Config) error {
	funcs := template.FuncMap{
		"bytes":    units.PrettyBytes[int64],
		"ubytes":   units.PrettyBytes[uint64],
		"datetime": func(t time.Time) string { return t.Format(time.RFC3339) },
	}
	templates, err := template.New("index").Funcs(funcs).ParseFS(templatesFS, "templates/*.tmpl")
	if err != nil {
		return err
	}

	renderedConfig, err := renderConfig(conf)
	if err != nil {
		return err
	}

	handler.Handle("GET /static/", http.FileServer(http.FS(staticFS)))
	handler.Handle("GET /clients", deps.Hub.Handler(deps.Controller))

	handler.HandleFunc("GET /caches", func(w http.ResponseWriter, r *http.Request) {
		listing, err := listCaches(r.Context(), deps)
		if err != nil {
			hlog.FromRequest(r).Error().Err(err).Msg("unable to list caches")
			http.Error(w, "Unable to gather information", http.StatusInternalServerError)
			return
		}
		handlers.WriteJSON(w, r, http.StatusOK, listing)
	})

	handler.HandleFunc("DELETE /caches/{name}", func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("name")
		logger := hlog.FromRequest(r)

		if name == deps.Controller.Generation() {
			http.Error(w, "The current cache cannot be removed", http.StatusConflict)
			return
		}

		deleted, err := deps.Storage.Delete(r.Context(), name)
		switch {
		case errors.Is(err, cachestore.ErrInvalidName):
			w.WriteHeader(http.StatusBadRequest)
		case err != nil:
			logger.Error().Err(err).Str("cache", name).Msg("Unable to remove cache")
			w.WriteHeader(http.StatusInternalServerError)
		case !deleted:
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	})

	handler.HandleFunc("POST /messages", func(w http.ResponseWriter, r *http.Request) {
		var msg clients.Message
		if err := handlers.ReadJSON(w, r, &msg); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		ctx := hlog.FromRequest(r).WithContext(r.Context())
		if err := deps.Controller.HandleMessage(ctx, msg); err != nil {
			hlog.FromRequest(r).Error().Err(err).Str("type", msg.Type).Msg("Unable to handle message")
			http.Error(w, "Unable to handle message", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	handler.HandleFunc("POST /sync/{tag}", func(w http.ResponseWriter, r *http.Request) {
		ctx := hlog.FromRequest(r).WithContext(r.Context())
		if err := deps.Controller.Sync(ctx, r.PathValue("tag")); err != nil {
			hlog.FromRequest(r).Warn().Err(err).Msg("Background sync failed, it should be retried")
			http.Error(w, "Sync failed, retry later", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	handler.HandleFunc("GET /outbox", func(w http.ResponseWriter, r *http.Request) {
		records, err := deps.Outbox.List(r.Context())
		if err != nil {
			hlog.FromRequest(r).Error().Err(err).Msg("unable to list the outbox")
			http.Error(w, "Unable to gather information", http.StatusInternalServerError)
			return
		}
		handlers.WriteJSON(w, r, http.StatusOK, records)
	})

	handler.HandleFunc("POST /outbox", func(w http.ResponseWriter, r *http.Request) {
		var record outbox.Record
		if err := handlers.ReadJSON(w, r, &record); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		id, err := deps.Outbox.Enqueue(r.Context(), record)
		if errors.Is(err, outbox.ErrInvalidRecord) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		} else if err != nil {
			hlog.FromRequest(r).Error().Err(err).Msg("Unable to defer request")
			http.Error(w, "Unable to defer request", http.StatusInternalServerError)
			return
		}
		handlers.WriteJSON(w, r, http.StatusCreated, enqueued{id})
	})

	handler.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		data, err := gatherIndexData(r.Context(), deps, renderedConfig)
		if err != nil {
			hlog.FromRequest(r).Error().Err(err).Msg("unable to gather statistics")
			http.Error(w, "Unable to gather statistics", http.StatusInternalServerError)
			return
		}

		err = templates.ExecuteTemplate(w, "index.html.tmpl", data)
		if err != nil {
			hlog.FromRequest(r).Panic().Err(err).Msg("error sending the index.html")
		}
	})

	return nil
}

func gatherIndexData(ctx context.Context, deps Dependencies, conf string) (indexData, error) {
	stats, err := deps.Storage.GetStatistics(ctx)
	if err != nil {
		return indexData{}, err
	}

	pending, err := deps.Outbox.Len(ctx)
	if err != nil {
		return indexData{}, err
	}

	data := indexData{
		Generation: deps.Controller.Generation(),
		State:      deps.Controller.State().String(),
		Clients:    deps.Hub.Len(),
		Outbox:     pending,
		Stats:      stats,
		Conf:       conf,
	}
	if deps.Statistics != nil {
		data.Requests = deps.Statistics.Snapshot()
	}
	return data, nil
}

func listCaches(ctx context.Context, deps Dependencies) ([]cacheListing, error) {
	names, err := deps.Storage.Keys(ctx)
	if err != nil {
		return nil, err
	}

	listing := make([]cacheListing, 0, len(names))
	for _, name := range names {
		cache, err := deps.Storage.Get(ctx, name)
		if errors.Is(err, cachestore.ErrNotFound) {
			// Removed while listing
			continue
		} else if err != nil {
			return nil, err
		}

		keys, err := cache.Keys(ctx)
		if err != nil {
			return nil, err
		}

		info := cache.Info()
		entry := cacheListing{
			Name:      name,
			Current:   name == deps.Controller.Generation(),
			CreatedAt: info.CreatedAt,
			Keys:      keys,
		}
		if !info.InstalledAt.IsZero() {
			entry.InstalledAt = &info.InstalledAt
		}
		listing = append(listing, entry)
	}
	return listing, nil
}

func renderConfig(conf *config.Config) (string, error) {
	buffer := strings.Builder{}
	encoder := yaml.NewEncoder(&buffer)
	err := encoder.Encode(conf)
	return buffer.String(), err
}
