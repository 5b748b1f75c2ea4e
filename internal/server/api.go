package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/KRYPTOHAUS/hyperfeed/internal/archive"
	"github.com/KRYPTOHAUS/hyperfeed/internal/model"
	"github.com/KRYPTOHAUS/hyperfeed/internal/opml"
	"github.com/KRYPTOHAUS/hyperfeed/internal/rss"
)

func (s *Server) handleListFeeds(w http.ResponseWriter, r *http.Request) {
	subs, err := s.hub.Store().GetSubscriptions(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if subs == nil {
		subs = []model.Subscription{}
	}
	writeJSON(w, http.StatusOK, subs)
}

type createRequest struct {
	URL      string `json:"url"`
	Title    string `json:"title"`
	Category string `json:"category"`
	// Sync fetches the source once before responding.
	Sync bool `json:"sync"`
}

func (s *Server) handleCreateFeed(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	_, sub, created, err := s.hub.Create(r.Context(), model.Subscription{
		Title:    req.Title,
		URL:      req.URL,
		Category: req.Category,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Sync && req.URL != "" {
		if _, err := s.syncer.SyncSubscription(r.Context(), sub); err != nil {
			s.writeError(w, r, err)
			return
		}
		if fresh, err := s.hub.Store().GetSubscriptionByKey(r.Context(), sub.ArchiveKey); err == nil {
			sub = *fresh
		}
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, sub)
}

type followRequest struct {
	Key    string `json:"key"`
	Source string `json:"source"` // ws(s) replication endpoint of the owner
	Title  string `json:"title"`
	Sync   bool   `json:"sync"`
}

func (s *Server) handleFollowFeed(w http.ResponseWriter, r *http.Request) {
	var req followRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	key, err := archive.ParseKey(req.Key)
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	_, sub, err := s.hub.Follow(r.Context(), key, req.Source, req.Title)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Sync && req.Source != "" {
		if _, err := s.syncer.SyncSubscription(r.Context(), sub); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, sub)
}

func (s *Server) handleDeleteFeed(w http.ResponseWriter, r *http.Request) {
	key, err := archive.ParseKey(chi.URLParam(r, "key"))
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	if err := s.hub.Remove(r.Context(), key); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSaveSettings(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PollingInterval int `json:"polling_interval"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	// Enforce minimum.
	if req.PollingInterval < rss.MinPollingIntervalMinutes {
		req.PollingInterval = rss.MinPollingIntervalMinutes
	}
	if err := s.hub.Store().SetSetting(r.Context(), model.SettingPollingInterval, strconv.Itoa(req.PollingInterval)); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "polling_interval": req.PollingInterval})
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	interval, err := s.hub.Store().GetPollingInterval(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"polling_interval": interval})
}

func (s *Server) handleImportOPML(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxDocumentBytes)
	file, _, err := r.FormFile("opml")
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%w: no file provided", errBadRequest))
		return
	}
	defer file.Close()

	subs, err := opml.Parse(file)
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}

	imported := 0
	for _, sub := range subs {
		_, _, created, err := s.hub.Create(r.Context(), sub)
		if err != nil {
			s.log.Warn(r.Context(), "import feed", "url", sub.URL, "error", err)
			continue
		}
		if created {
			imported++
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"imported": imported,
		"total":    len(subs),
	})
}

func (s *Server) handleExportOPML(w http.ResponseWriter, r *http.Request) {
	subs, err := s.hub.Store().GetSubscriptions(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	data, err := opml.Export("Hyperfeed Feeds", subs)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.Header().Set("Content-Disposition", "attachment; filename=hyperfeed-feeds.opml")
	w.Write(data)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
	defer cancel()

	results, err := s.syncer.SyncAll(ctx)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		s.writeError(w, r, err)
		return
	}

	saved := 0
	for _, st := range results {
		saved += st.Saved
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"saved":  saved,
		"feeds":  len(results),
	})
}
