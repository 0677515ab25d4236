package api

import (
	"errors"
	"net/http"
	"net/netip"
	"strconv"

	"grimm.is/warden/internal/blocker"
	"grimm.is/warden/internal/config"
	"grimm.is/warden/internal/firewall"
	"grimm.is/warden/internal/geo"
	"grimm.is/warden/internal/logging"
)

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, s.mgr.Status())
}

func (s *Server) handleRules(w http.ResponseWriter, r *http.Request) {
	st := s.mgr.Status()
	WriteJSON(w, http.StatusOK, RulesResponse{
		DefaultAction: st.DefaultAction,
		Generation:    st.RuleGeneration,
		Rules:         s.mgr.Rules(),
		Defects:       s.mgr.RuleDefects(),
	})
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if s.reload == nil {
		WriteError(w, http.StatusNotImplemented, "reload not available")
		return
	}
	if err := s.reload(); err != nil {
		WriteError(w, http.StatusUnprocessableEntity, "reload failed", err.Error())
		return
	}
	s.logger.Audit("reload", "config", map[string]any{"client": clientIP(r)})
	s.handleRules(w, r)
}

func (s *Server) handleBlocklist(w http.ResponseWriter, r *http.Request) {
	entries := s.mgr.Blocklist()
	out := make([]BlocklistEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, entryFrom(e))
	}
	WriteJSON(w, http.StatusOK, out)
}

func (s *Server) handleBlock(w http.ResponseWriter, r *http.Request) {
	var req BlockRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	addr, err := netip.ParseAddr(req.IP)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid ip", err.Error())
		return
	}
	d, err := config.ParseDuration(req.Duration)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid duration", err.Error())
		return
	}

	e, err := s.mgr.AddToBlacklist(addr, d)
	switch {
	case errors.Is(err, blocker.ErrWhitelisted):
		WriteError(w, http.StatusForbidden, err.Error())
		return
	case err != nil:
		WriteError(w, http.StatusInternalServerError, "block failed", err.Error())
		return
	}
	s.logger.Audit("block", e.Addr.String(), map[string]any{"duration": d.String(), "client": clientIP(r)})
	WriteJSON(w, http.StatusCreated, entryFrom(e))
}

func (s *Server) handleUnblock(w http.ResponseWriter, r *http.Request) {
	addr, err := netip.ParseAddr(r.PathValue("ip"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid ip", err.Error())
		return
	}
	err = s.mgr.RemoveFromBlacklist(addr)
	switch {
	case errors.Is(err, blocker.ErrNotBlocked):
		WriteError(w, http.StatusNotFound, err.Error())
		return
	case err != nil:
		WriteError(w, http.StatusInternalServerError, "unblock failed", err.Error())
		return
	}
	s.logger.Audit("unblock", addr.Unmap().String(), map[string]any{"client": clientIP(r)})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) geoResponse(changed *bool) GeoResponse {
	return GeoResponse{
		Enabled:   s.mgr.GeoEnabled(),
		Countries: s.mgr.BlockedCountries(),
		Changed:   changed,
	}
}

func (s *Server) handleGeo(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, s.geoResponse(nil))
}

func (s *Server) handleGeoEnabled(w http.ResponseWriter, r *http.Request) {
	var req GeoEnabledRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	s.mgr.SetGeoEnabled(req.Enabled)
	s.logger.Audit("geo", "enabled", map[string]any{"enabled": req.Enabled, "client": clientIP(r)})
	WriteJSON(w, http.StatusOK, s.geoResponse(nil))
}

func (s *Server) handleBlockCountry(w http.ResponseWriter, r *http.Request) {
	var req CountryRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	code := geo.Normalize(req.Code)
	if code == "" {
		WriteError(w, http.StatusBadRequest, "country code required")
		return
	}
	changed := s.mgr.BlockCountry(code)
	if changed {
		s.logger.Audit("geo", "block_country", map[string]any{"code": code, "client": clientIP(r)})
	}
	WriteJSON(w, http.StatusOK, s.geoResponse(&changed))
}

func (s *Server) handleUnblockCountry(w http.ResponseWriter, r *http.Request) {
	code := geo.Normalize(r.PathValue("code"))
	if !s.mgr.UnblockCountry(code) {
		WriteError(w, http.StatusNotFound, "country not blocked", code)
		return
	}
	s.logger.Audit("geo", "unblock_country", map[string]any{"code": code, "client": clientIP(r)})
	changed := true
	WriteJSON(w, http.StatusOK, s.geoResponse(&changed))
}

func (s *Server) handleThreatProtection(w http.ResponseWriter, r *http.Request) {
	s.mgr.EnableThreatProtection()
	s.logger.Audit("geo", "threat_protection", map[string]any{"client": clientIP(r)})
	WriteJSON(w, http.StatusOK, s.geoResponse(nil))
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	err := s.mgr.Start()
	switch {
	case errors.Is(err, firewall.ErrAlreadyRunning):
		WriteError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		WriteError(w, http.StatusInternalServerError, "start failed", err.Error())
		return
	}
	s.logger.Audit("start", "firewall", map[string]any{"client": clientIP(r)})
	WriteJSON(w, http.StatusOK, s.mgr.Status())
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	err := s.mgr.Stop()
	switch {
	case errors.Is(err, firewall.ErrNotRunning):
		WriteError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		WriteError(w, http.StatusInternalServerError, "stop failed", err.Error())
		return
	}
	s.logger.Audit("stop", "firewall", map[string]any{"client": clientIP(r)})
	WriteJSON(w, http.StatusOK, s.mgr.Status())
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			WriteError(w, http.StatusBadRequest, "invalid limit", v)
			return
		}
		limit = n
	}
	entries := logging.Recent().Last(limit, r.URL.Query().Get("component"))
	WriteJSON(w, http.StatusOK, entries)
}
