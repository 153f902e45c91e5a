package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/foker/tgflats-sub000/internal/ai"
	"github.com/foker/tgflats-sub000/internal/cluster"
	"github.com/foker/tgflats-sub000/internal/costguard"
	"github.com/foker/tgflats-sub000/internal/domain/entity"
	"github.com/foker/tgflats-sub000/internal/geocode"
	"github.com/foker/tgflats-sub000/internal/pipeline"
	"github.com/foker/tgflats-sub000/internal/platform/logger"
	"github.com/foker/tgflats-sub000/internal/repository"
)

// Handler carries the application services the HTTP surface exposes. The
// surface is deliberately thin: batch intake, the map query, and synchronous
// admin runs of the extraction and geocoding paths.
type Handler struct {
	coordinator *pipeline.Coordinator
	analyzer    *ai.Analyzer
	resolver    *geocode.Resolver
	engine      *cluster.Engine
	listings    repository.ListingRepository
	usage       repository.AIUsageRepository
	guard       *costguard.Guard
	log         logger.Logger
}

func NewHandler(
	coordinator *pipeline.Coordinator,
	analyzer *ai.Analyzer,
	resolver *geocode.Resolver,
	engine *cluster.Engine,
	listings repository.ListingRepository,
	usage repository.AIUsageRepository,
	guard *costguard.Guard,
	log logger.Logger,
) *Handler {
	return &Handler{
		coordinator: coordinator,
		analyzer:    analyzer,
		resolver:    resolver,
		engine:      engine,
		listings:    listings,
		usage:       usage,
		guard:       guard,
		log:         log,
	}
}

func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleSubmitPosts ingests a scraped batch. The response reports per-unit
// validation errors; the accepted units continue asynchronously.
func (h *Handler) HandleSubmitPosts(w http.ResponseWriter, r *http.Request) {
	var posts []pipeline.RawPostInput
	if err := json.NewDecoder(r.Body).Decode(&posts); err != nil {
		h.log.Warnf("invalid posts payload: %v", err)
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(posts) == 0 {
		writeError(w, http.StatusBadRequest, "empty batch")
		return
	}

	results := h.coordinator.SubmitBatch(r.Context(), posts)
	writeJSON(w, http.StatusAccepted, map[string]any{"results": results})
}

// HandleClusters serves the map browse query: listings matching the filters
// inside the viewport, bucketed for the requested zoom.
func (h *Handler) HandleClusters(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	zoom, err := strconv.Atoi(q.Get("zoom"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid zoom")
		return
	}

	bounds, err := parseBounds(q.Get("minLat"), q.Get("minLng"), q.Get("maxLat"), q.Get("maxLng"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	query := repository.ListingQuery{
		Status:   entity.ListingStatusActive,
		District: q.Get("district"),
		Bounds:   &bounds,
	}
	if query.PriceMin, err = queryFloat(q, "priceMin"); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if query.PriceMax, err = queryFloat(q, "priceMax"); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if query.RoomsMin, err = queryInt(q, "roomsMin"); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if query.RoomsMax, err = queryInt(q, "roomsMax"); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	listings, err := h.listings.Find(r.Context(), query)
	if err != nil {
		h.log.Errorf("listing query failed: %v", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}

	results := h.engine.Cluster(listings, zoom, bounds)
	writeJSON(w, http.StatusOK, map[string]any{
		"zoom":    zoom,
		"results": results,
	})
}

// HandleAdminExtract runs the extraction path synchronously on the supplied
// text. Used for tuning prompts and the heuristic without touching storage.
func (h *Handler) HandleAdminExtract(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := h.analyzer.Analyze(r.Context(), req.Text)
	if err != nil {
		h.log.Errorf("admin extract failed: %v", err)
		writeError(w, http.StatusInternalServerError, "extraction failed")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleAdminGeocode runs the geocode resolver synchronously on one address.
func (h *Handler) HandleAdminGeocode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Address string `json:"address"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := h.resolver.Resolve(r.Context(), req.Address)
	if err != nil {
		h.log.Errorf("admin geocode failed: %v", err)
		writeError(w, http.StatusInternalServerError, "geocoding failed")
		return
	}
	if res == nil {
		writeError(w, http.StatusUnprocessableEntity, "address not resolvable")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleAdminSpending reports the inference budget status and the spend
// breakdown by provider, model and day.
func (h *Handler) HandleAdminSpending(w http.ResponseWriter, r *http.Request) {
	status := h.guard.CheckSpendingLimits(r.Context())

	now := time.Now().UTC()
	breakdown, err := h.usage.Breakdown(r.Context(), now.AddDate(0, -1, 0), now)
	if err != nil {
		h.log.Errorf("usage breakdown failed: %v", err)
		writeError(w, http.StatusInternalServerError, "breakdown failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":    status,
		"breakdown": breakdown,
	})
}

// queryFloat and queryInt treat an absent parameter as zero (no filter) but
// reject a malformed one, same as zoom and bounds.
func queryFloat(q url.Values, name string) (float64, error) {
	v := q.Get(name)
	if v == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s", name)
	}
	return f, nil
}

func queryInt(q url.Values, name string) (int, error) {
	v := q.Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s", name)
	}
	return n, nil
}

func parseBounds(minLat, minLng, maxLat, maxLng string) (entity.Bounds, error) {
	var b entity.Bounds
	var err error
	if b.MinLat, err = strconv.ParseFloat(minLat, 64); err != nil {
		return b, errBadBounds
	}
	if b.MinLng, err = strconv.ParseFloat(minLng, 64); err != nil {
		return b, errBadBounds
	}
	if b.MaxLat, err = strconv.ParseFloat(maxLat, 64); err != nil {
		return b, errBadBounds
	}
	if b.MaxLng, err = strconv.ParseFloat(maxLng, 64); err != nil {
		return b, errBadBounds
	}
	if b.MinLat >= b.MaxLat || b.MinLng >= b.MaxLng {
		return b, errBadBounds
	}
	return b, nil
}

var errBadBounds = boundsError{}

type boundsError struct{}

func (boundsError) Error() string { return "invalid bounds: expected minLat,minLng,maxLat,maxLng" }

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
