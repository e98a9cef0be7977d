package main

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/claims-router/internal/agent"
	"github.com/sells-group/claims-router/internal/audit"
	"github.com/sells-group/claims-router/internal/kpi"
	"github.com/sells-group/claims-router/internal/model"
	"github.com/sells-group/claims-router/internal/review"
	"github.com/sells-group/claims-router/internal/store"
	"github.com/sells-group/claims-router/internal/verification"
)

// Actor headers identify who is calling. A missing type means adjuster.
const (
	headerActorID   = "X-Actor-ID"
	headerActorType = "X-Actor-Type"
)

// maxPhotoBytes bounds a photo upload body (base64 of a ~15MB image).
const maxPhotoBytes = 20 << 20

type api struct {
	env *appEnv
	now func() time.Time
}

// buildRouter mounts the claims API on a chi router.
func buildRouter(env *appEnv, origins []string) http.Handler {
	a := &api{env: env, now: time.Now}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", headerActorID, headerActorType},
		MaxAge:         300,
	}))

	r.Get("/health", a.health)

	r.Route("/claims", func(r chi.Router) {
		r.Post("/", a.createClaim)
		r.Get("/", a.listClaims)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", a.getClaim)
			r.Post("/photo", a.processPhoto)
			r.Post("/route", a.rerouteClaim)
			r.Post("/human-review", a.requestHumanReview)
			r.Get("/verification", a.getClaim)
			r.Post("/parts/{index}/{action}", a.partAction)
			r.Post("/boxes/{detectionID}/{action}", a.boxAction)
			r.Put("/annotations", a.saveAnnotations)
			r.Post("/decision", a.decide)
			r.Get("/audit", a.auditTrail)
			r.Get("/audit/verify", a.auditVerify)
		})
	})

	r.Route("/controls", func(r chi.Router) {
		r.Get("/", a.getControls)
		r.Put("/", a.updateControls)
		r.Put("/{key}", a.updateControl)
		r.Post("/reset", a.resetControls)
	})

	r.Get("/kpis", a.kpis)
	if env.Registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(env.Registry, promhttp.HandlerOpts{
			ErrorHandling: promhttp.HTTPErrorOnError,
		}))
	}
	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func actorFrom(r *http.Request) (review.Actor, error) {
	a := review.Actor{ID: r.Header.Get(headerActorID), Type: audit.ActorType(r.Header.Get(headerActorType))}
	switch a.Type {
	case "", audit.ActorAdjuster, audit.ActorSeniorAdjuster, audit.ActorQAReviewer, audit.ActorManager:
		return a, nil
	}
	return a, eris.Wrapf(model.ErrInvalidInput, "unknown actor type %q", a.Type)
}

func decode(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return eris.Wrapf(model.ErrInvalidInput, "invalid request body: %v", err)
	}
	return nil
}

func (a *api) health(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{"status": "ok"}
	if a.env.Breakers != nil {
		body["circuits"] = a.env.Breakers.States()
	}
	writeJSON(w, http.StatusOK, body)
}

func (a *api) createClaim(w http.ResponseWriter, r *http.Request) {
	var in model.ClaimInput
	if err := decode(r, &in); err != nil {
		writeErr(w, r, err)
		return
	}
	c, err := a.env.Pipeline.CreateClaim(r.Context(), in)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (a *api) listClaims(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.ClaimFilter{
		Status:        model.ClaimStatus(q.Get("status")),
		RoutingStatus: q.Get("routing_status"),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "limit must be a non-negative integer")
			return
		}
		filter.Limit = n
	}
	claims, err := a.env.Store.ListClaims(r.Context(), filter)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if claims == nil {
		claims = []model.Claim{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"claims": claims})
}

func (a *api) getClaim(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	v, err := a.env.Review.View(r.Context(), chi.URLParam(r, "id"), actor)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

type photoRequest struct {
	ImageBase64 string `json:"image_base64"`
	MediaType   string `json:"media_type"`
}

func (a *api) processPhoto(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxPhotoBytes)
	var req photoRequest
	if err := decode(r, &req); err != nil {
		writeErr(w, r, err)
		return
	}
	photo, err := agent.ParsePhoto(req.ImageBase64, req.MediaType)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	out, err := a.env.Pipeline.Process(r.Context(), chi.URLParam(r, "id"), photo)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *api) rerouteClaim(w http.ResponseWriter, r *http.Request) {
	c, res, err := a.env.Pipeline.Reroute(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"claim": c, "routing": res})
}

func (a *api) requestHumanReview(w http.ResponseWriter, r *http.Request) {
	writeErr(w, r, a.env.Review.RequestHumanReview(r.Context(), chi.URLParam(r, "id")))
}

// verifyRequest is the body of every part and box action. Fields that an
// action does not use are ignored.
type verifyRequest struct {
	ReasonCode verification.ReasonCode `json:"reason_code"`
	Notes      string                  `json:"notes"`
	PartEdits  verification.PartEdits  `json:"part_edits"`
	BoxEdits   verification.BoxEdits   `json:"box_edits"`
	BoxIDs     []string                `json:"box_ids"`
	PartIndex  *int                    `json:"part_index"`
}

func (a *api) verifyInput(w http.ResponseWriter, r *http.Request) (review.Actor, verifyRequest, bool) {
	var req verifyRequest
	actor, err := actorFrom(r)
	if err == nil && r.ContentLength != 0 {
		err = decode(r, &req)
	}
	if err != nil {
		writeErr(w, r, err)
		return actor, req, false
	}
	return actor, req, true
}

func (a *api) partAction(w http.ResponseWriter, r *http.Request) {
	i, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "part index must be an integer")
		return
	}
	actor, req, ok := a.verifyInput(w, r)
	if !ok {
		return
	}

	ctx, id, svc := r.Context(), chi.URLParam(r, "id"), a.env.Review
	var v *review.View
	switch chi.URLParam(r, "action") {
	case "verify":
		v, err = svc.VerifyPart(ctx, id, actor, i)
	case "reject":
		v, err = svc.RejectPart(ctx, id, actor, i, req.ReasonCode, req.Notes)
	case "edit":
		v, err = svc.EditPart(ctx, id, actor, i, req.PartEdits, req.ReasonCode)
	case "evidence":
		v, err = svc.LinkEvidence(ctx, id, actor, i, req.BoxIDs)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "unknown part action")
		return
	}
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (a *api) boxAction(w http.ResponseWriter, r *http.Request) {
	actor, req, ok := a.verifyInput(w, r)
	if !ok {
		return
	}

	ctx, id, box, svc := r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "detectionID"), a.env.Review
	var (
		v   *review.View
		err error
	)
	switch chi.URLParam(r, "action") {
	case "verify":
		v, err = svc.VerifyBox(ctx, id, actor, box)
	case "reject":
		v, err = svc.RejectBox(ctx, id, actor, box, req.ReasonCode, req.Notes)
	case "edit":
		v, err = svc.EditBox(ctx, id, actor, box, req.BoxEdits, req.ReasonCode)
	case "uncertain":
		v, err = svc.MarkBoxUncertain(ctx, id, actor, box)
	case "link":
		v, err = svc.LinkBoxToPart(ctx, id, actor, box, req.PartIndex)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "unknown box action")
		return
	}
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (a *api) saveAnnotations(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	var ann model.Annotations
	if err := decode(r, &ann); err != nil {
		writeErr(w, r, err)
		return
	}
	v, err := a.env.Review.SaveAnnotations(r.Context(), chi.URLParam(r, "id"), actor, ann)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (a *api) decide(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	var d review.Decision
	if err := decode(r, &d); err != nil {
		writeErr(w, r, err)
		return
	}
	v, err := a.env.Review.Decide(r.Context(), chi.URLParam(r, "id"), actor, d)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (a *api) trail(r *http.Request) (*audit.Trail, error) {
	id := chi.URLParam(r, "id")
	if _, err := a.env.Store.GetClaim(r.Context(), id); err != nil {
		return nil, err
	}
	events, err := a.env.Store.ListAuditEvents(r.Context(), audit.Filter{ClaimID: id})
	if err != nil {
		return nil, err
	}
	return audit.NewTrail(id, events, a.now())
}

func (a *api) auditTrail(w http.ResponseWriter, r *http.Request) {
	t, err := a.trail(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}

	format := r.URL.Query().Get("format")
	switch format {
	case "", "json":
		writeJSON(w, http.StatusOK, t)
	case "xlsx":
		actor, _ := actorFrom(r) //nolint:errcheck // export is read-only; an odd type is still recorded
		a.env.Audit.Record(r.Context(), audit.Entry{
			ClaimID:   t.ClaimID,
			EventType: audit.EventAuditExported,
			ActorType: audit.ActorManager,
			ActorID:   actor.ID,
			Payload:   map[string]any{"format": format, "event_count": t.EventCount, "chain_valid": t.ChainValid},
		})
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", `attachment; filename="audit-`+t.ClaimID+`.xlsx"`)
		if err := t.WriteXLSX(w); err != nil {
			zap.L().Error("api: write xlsx trail", zap.String("claim_id", t.ClaimID), zap.Error(err))
		}
	default:
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "format must be json or xlsx")
	}
}

func (a *api) auditVerify(w http.ResponseWriter, r *http.Request) {
	t, err := a.trail(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"claim_id":    t.ClaimID,
		"chain_valid": t.ChainValid,
		"broken_link": t.BrokenLink,
		"event_count": t.EventCount,
	})
}

func (a *api) getControls(w http.ResponseWriter, r *http.Request) {
	current, err := a.env.Controls.Current(r.Context())
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"controls": current, "defaults": a.env.Controls.Defaults()})
}

func (a *api) updateControls(w http.ResponseWriter, r *http.Request) {
	var values map[string]any
	if err := decode(r, &values); err != nil {
		writeErr(w, r, err)
		return
	}
	c, err := a.env.Controls.UpdateMany(r.Context(), values, r.Header.Get(headerActorID))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"controls": c})
}

func (a *api) updateControl(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Value any `json:"value"`
	}
	if err := decode(r, &body); err != nil {
		writeErr(w, r, err)
		return
	}
	c, err := a.env.Controls.Update(r.Context(), chi.URLParam(r, "key"), body.Value, r.Header.Get(headerActorID))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"controls": c})
}

func (a *api) resetControls(w http.ResponseWriter, r *http.Request) {
	c, err := a.env.Controls.Reset(r.Context(), r.Header.Get(headerActorID))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"controls": c})
}

func (a *api) kpis(w http.ResponseWriter, r *http.Request) {
	tf, err := kpi.ParseTimeframe(r.URL.Query().Get("timeframe"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	snap, err := a.env.KPI.Collect(r.Context(), tf)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	a.env.Metrics.Observe(snap)
	writeJSON(w, http.StatusOK, snap)
}
