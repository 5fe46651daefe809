// Package httpapi is the room document REST surface. Identity arrives in the
// X-User-Id header; authentication itself lives in front of this service.
// Furniture mutations fan a fresh ROOM_UPDATE out to legacy watchers.
package httpapi

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"beaverden.app/internal/persistence/roomdb"
	"beaverden.app/internal/presence"
	"beaverden.app/internal/protocol"
	"beaverden.app/internal/sim/catalogs"
)

const userHeader = "X-User-Id"

type Server struct {
	store *roomdb.Store
	cats  *catalogs.Catalogs
	hub   *presence.WatchHub
	log   *log.Logger
}

func NewServer(store *roomdb.Store, cats *catalogs.Catalogs, hub *presence.WatchHub, logger *log.Logger) *Server {
	return &Server{store: store, cats: cats, hub: hub, log: logger}
}

func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/items", s.handleItems)
	mux.HandleFunc("GET /v1/room", s.handleOwnRoom)
	mux.HandleFunc("GET /v1/rooms/{ownerID}", s.handleVisitRoom)
	mux.HandleFunc("POST /v1/room/items", s.handlePlace)
	mux.HandleFunc("PATCH /v1/room/items/{instanceID}", s.handlePatchItem)
	mux.HandleFunc("DELETE /v1/room/items/{instanceID}", s.handleRemove)
	mux.HandleFunc("PATCH /v1/room/pose", s.handlePatchPose)
	mux.HandleFunc("PATCH /v1/room/wallpaper", s.handlePatchWallpaper)
	mux.HandleFunc("GET /v1/inventory", s.handleInventory)
	mux.HandleFunc("GET /v1/wallet", s.handleWallet)
	mux.HandleFunc("POST /v1/shop/buy", s.handleBuy)
	mux.HandleFunc("POST /v1/wallet/credit", s.handleCredit)
}

func (s *Server) handleItems(w http.ResponseWriter, r *http.Request) {
	out := make([]catalogs.ItemDef, 0, len(s.cats.Items.Keys))
	for _, k := range s.cats.Items.Keys {
		out = append(out, s.cats.Items.Defs[k])
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleOwnRoom(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.identity(w, r)
	if !ok {
		return
	}
	room, err := s.store.LoadOrCreate(r.Context(), userID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

func (s *Server) handleVisitRoom(w http.ResponseWriter, r *http.Request) {
	room, err := s.store.LoadReadOnly(r.Context(), r.PathValue("ownerID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

func (s *Server) handlePlace(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.identity(w, r)
	if !ok {
		return
	}
	var req struct {
		ItemKey string  `json:"item_key"`
		X       float64 `json:"x"`
		Y       float64 `json:"y"`
		Scale   float64 `json:"scale"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	it, err := s.store.Place(r.Context(), userID, req.ItemKey, req.X, req.Y, req.Scale)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.broadcastRoom(r, userID)
	writeJSON(w, http.StatusCreated, it)
}

func (s *Server) handlePatchItem(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.identity(w, r)
	if !ok {
		return
	}
	var req struct {
		X     float64 `json:"x"`
		Y     float64 `json:"y"`
		Scale float64 `json:"scale"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	it, err := s.store.PatchItem(r.Context(), userID, r.PathValue("instanceID"), req.X, req.Y, req.Scale)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.broadcastRoom(r, userID)
	writeJSON(w, http.StatusOK, it)
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.identity(w, r)
	if !ok {
		return
	}
	res, err := s.store.Remove(r.Context(), userID, r.PathValue("instanceID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.broadcastRoom(r, userID)
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handlePatchPose(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.identity(w, r)
	if !ok {
		return
	}
	var req struct {
		X   float64 `json:"x"`
		Y   float64 `json:"y"`
		Dir string  `json:"dir"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if req.Dir != "" && !protocol.IsDir(req.Dir) {
		s.writeCode(w, http.StatusBadRequest, protocol.ErrBadRequest)
		return
	}
	if err := s.store.PatchRestPose(r.Context(), userID, req.X, req.Y, req.Dir); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

func (s *Server) handlePatchWallpaper(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.identity(w, r)
	if !ok {
		return
	}
	var req struct {
		WallpaperKey string `json:"wallpaper_key"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.store.PatchWallpaper(r.Context(), userID, req.WallpaperKey); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

func (s *Server) handleInventory(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.identity(w, r)
	if !ok {
		return
	}
	rows, err := s.store.Inventory(r.Context(), userID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if rows == nil {
		rows = []roomdb.InventoryRow{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleWallet(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.identity(w, r)
	if !ok {
		return
	}
	coins, err := s.store.Coins(r.Context(), userID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"coins": coins})
}

func (s *Server) handleBuy(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.identity(w, r)
	if !ok {
		return
	}
	var req struct {
		ItemKey string `json:"item_key"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	row, err := s.store.Buy(r.Context(), userID, req.ItemKey)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, row)
}

func (s *Server) handleCredit(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.identity(w, r)
	if !ok {
		return
	}
	var req struct {
		Amount int `json:"amount"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.store.CreditCoins(r.Context(), userID, req.Amount); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

// broadcastRoom pushes the owner's current placement list to everyone on the
// legacy watch channel. Best-effort: a failed reload is logged and skipped.
func (s *Server) broadcastRoom(r *http.Request, ownerID string) {
	if s.hub == nil {
		return
	}
	room, err := s.store.LoadReadOnly(r.Context(), ownerID)
	if err != nil {
		if s.log != nil {
			s.log.Printf("httpapi: reload for broadcast: %v", err)
		}
		return
	}
	items := make([]protocol.PlacedItemWire, 0, len(room.PlacedItems))
	for _, it := range room.PlacedItems {
		items = append(items, protocol.PlacedItemWire{
			InstanceID: it.InstanceID,
			ItemKey:    it.ItemKey,
			X:          it.X,
			Y:          it.Y,
			Scale:      it.Scale,
		})
	}
	s.hub.BroadcastUpdate(ownerID, "", protocol.RoomUpdateMsg{PlacedItems: items})
}

func (s *Server) identity(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := r.Header.Get(userHeader)
	if userID == "" {
		s.writeCode(w, http.StatusUnauthorized, protocol.ErrUnauthorized)
		return "", false
	}
	return userID, true
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		s.writeCode(w, http.StatusBadRequest, protocol.ErrBadRequest)
		return false
	}
	return true
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, roomdb.ErrValidation):
		s.writeCode(w, http.StatusBadRequest, protocol.ErrBadRequest)
	case errors.Is(err, roomdb.ErrNotFound):
		s.writeCode(w, http.StatusNotFound, protocol.ErrNotFound)
	case errors.Is(err, roomdb.ErrConflict):
		s.writeCode(w, http.StatusConflict, protocol.ErrConflict)
	case errors.Is(err, roomdb.ErrNoCoins):
		s.writeCode(w, http.StatusConflict, protocol.ErrNoCoins)
	default:
		// Storage failures stay opaque to the caller.
		if s.log != nil {
			s.log.Printf("httpapi: %v", err)
		}
		s.writeCode(w, http.StatusInternalServerError, protocol.ErrInternal)
	}
}

func (s *Server) writeCode(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
