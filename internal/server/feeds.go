package server

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"
	"nhooyr.io/websocket"

	"github.com/KRYPTOHAUS/hyperfeed/internal/archive"
	"github.com/KRYPTOHAUS/hyperfeed/internal/auth"
	"github.com/KRYPTOHAUS/hyperfeed/internal/feed"
	"github.com/KRYPTOHAUS/hyperfeed/internal/model"
	"github.com/KRYPTOHAUS/hyperfeed/internal/replica"
)

// feedFor resolves the {key} route parameter to an open feed.
func (s *Server) feedFor(r *http.Request) (*feed.Feed, error) {
	key, err := archive.ParseKey(chi.URLParam(r, "key"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return s.hub.Get(r.Context(), key)
}

// writableFeed is feedFor plus the token's feed scope.
func (s *Server) writableFeed(r *http.Request) (*feed.Feed, error) {
	f, err := s.feedFor(r)
	if err != nil {
		return nil, err
	}
	if claims, ok := auth.FromContext(r.Context()); ok && !claims.Allows(f.Key().String()) {
		return nil, &feed.PermissionError{Op: "token scope"}
	}
	return f, nil
}

// pathName returns the wildcard tail of the route, unescaped.
func pathName(r *http.Request) string {
	name := chi.URLParam(r, "*")
	if u, err := url.PathUnescape(name); err == nil {
		return u
	}
	return name
}

func truthy(v string) bool {
	b, err := strconv.ParseBool(v)
	return err == nil && b
}

func (s *Server) handleRSS(w http.ResponseWriter, r *http.Request) {
	f, err := s.feedFor(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	count := 0
	if v := r.URL.Query().Get("count"); v != "" {
		count, err = strconv.Atoi(v)
		if err != nil || count < 0 {
			s.writeError(w, r, fmt.Errorf("%w: invalid count %q", errBadRequest, v))
			return
		}
	}
	out, err := f.XML(r.Context(), count)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/rss+xml; charset=utf-8")
	w.Write(out)
}

func (s *Server) handleGetMeta(w http.ResponseWriter, r *http.Request) {
	f, err := s.feedFor(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	meta, err := f.Meta(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	f, err := s.feedFor(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	entries, err := f.List(r.Context(), feed.ListOptions{WithScrapped: truthy(r.URL.Query().Get("scrapped"))})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []archive.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleGetItem(w http.ResponseWriter, r *http.Request) {
	f, err := s.feedFor(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	name := pathName(r)
	if truthy(r.URL.Query().Get("raw")) {
		raw, err := f.LoadRaw(r.Context(), name)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(raw)
		return
	}
	item, err := f.Load(r.Context(), name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) handleGetScrap(w http.ResponseWriter, r *http.Request) {
	f, err := s.feedFor(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	data, err := f.LoadScrap(r.Context(), pathName(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.Write(data)
}

type pushRequest struct {
	model.Item
	Target string `json:"target,omitempty"`
	Scrap  string `json:"scrap,omitempty"` // stored verbatim as the side record
}

type pushResponse struct {
	Item  model.Item `json:"item"`
	Saved bool       `json:"saved"`
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	f, err := s.writableFeed(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req pushRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := f.Save(r.Context(), req.Item, feed.SaveOptions{Target: req.Target, SideData: []byte(req.Scrap)})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if res.Saved {
		status = http.StatusCreated
	}
	writeJSON(w, status, pushResponse{Item: res.Item, Saved: res.Saved})
}

func (s *Server) handleSetMeta(w http.ResponseWriter, r *http.Request) {
	f, err := s.writableFeed(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var meta model.Meta
	if err := decodeJSON(w, r, &meta); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := f.SetMeta(r.Context(), meta); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type statsResponse struct {
	Saved      int `json:"saved"`
	Duplicates int `json:"duplicates"`
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	f, err := s.writableFeed(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	stats, err := f.Update(r.Context(), http.MaxBytesReader(w, r.Body, maxDocumentBytes))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{Saved: stats.Saved, Duplicates: stats.Duplicates})
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	f, err := s.writableFeed(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	sub, err := s.hub.Store().GetSubscriptionByKey(r.Context(), f.Key().String())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	stats, err := s.syncer.SyncSubscription(r.Context(), *sub)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{Saved: stats.Saved, Duplicates: stats.Duplicates})
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	f, err := s.feedFor(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	stream, err := f.Live(r.Context(), feed.ListOptions{WithScrapped: truthy(r.URL.Query().Get("scrapped"))})
	if err != nil {
		conn.Close(websocket.StatusInternalError, "watch failed")
		return
	}
	if err := replica.ServeLive(r.Context(), conn, stream); err != nil {
		s.log.Warn(r.Context(), "live listing ended", "feed", f.Key().String(), "error", err)
	}
}

func (s *Server) handleReplicate(w http.ResponseWriter, r *http.Request) {
	f, err := s.feedFor(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	live := truthy(r.URL.Query().Get("live"))
	if err := replica.Serve(r.Context(), conn, f.Archive(), live); err != nil {
		s.log.Warn(r.Context(), "replication ended", "feed", f.Key().String(), "error", err)
	}
}
