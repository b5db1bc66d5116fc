// internal/api/server.go
package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"solar-salesops/internal/common/auth"
	"solar-salesops/internal/common/errors"
	"solar-salesops/internal/common/logger"
	"solar-salesops/internal/common/observability"
	"solar-salesops/internal/dealstage"
	"solar-salesops/internal/financing"
	"solar-salesops/internal/models"
	"solar-salesops/internal/pricing"
	"solar-salesops/internal/proposals"
)

// GateService exposes gate evaluation and checklist completion.
type GateService interface {
	EvaluateGates(ctx context.Context, dealID uuid.UUID) ([]models.GateWithStatus, error)
	GetGateStatus(ctx context.Context, dealID uuid.UUID, stage models.Stage) ([]models.GateWithStatus, error)
	CompleteGate(ctx context.Context, dealID, gateID uuid.UUID, value string) error
	UncompleteGate(ctx context.Context, dealID, gateID uuid.UUID) error
}

// StageService moves deals through the pipeline.
type StageService interface {
	Transition(ctx context.Context, dealID uuid.UUID, targetStage models.Stage, notes string) error
	History(ctx context.Context, dealID uuid.UUID) ([]models.DealStageHistory, error)
}

// FinancingService manages lender applications.
type FinancingService interface {
	CreateApplication(ctx context.Context, dealID uuid.UUID, input financing.CreateApplicationInput) (*models.FinancingApplication, error)
	UpdateStatus(ctx context.Context, appID uuid.UUID, input financing.UpdateStatusInput) (*models.FinancingApplication, error)
	History(ctx context.Context, appID uuid.UUID) ([]models.FinancingStatusHistory, error)
}

// ProposalService prices and stores proposals.
type ProposalService interface {
	CreateDraft(ctx context.Context, dealID uuid.UUID, input proposals.DraftInput) (*models.Proposal, error)
	UpdateDraft(ctx context.Context, proposalID uuid.UUID, input proposals.DraftInput) (*models.Proposal, error)
	Finalize(ctx context.Context, proposalID uuid.UUID) (*models.Proposal, error)
	Get(ctx context.Context, proposalID uuid.UUID) (*models.Proposal, error)
	ListByDeal(ctx context.Context, dealID uuid.UUID) ([]models.Proposal, error)
}

// SubmissionService runs the intake submission workflow.
type SubmissionService interface {
	Submit(ctx context.Context, dealID uuid.UUID) (*models.SubmissionResult, error)
	Decide(ctx context.Context, dealID uuid.UUID, approved bool, reasons []string) error
	History(ctx context.Context, dealID uuid.UUID) ([]models.SubmissionAttempt, error)
}

// Deps collects everything the API serves.
type Deps struct {
	Gates       GateService
	Stages      StageService
	Financing   FinancingService
	Proposals   ProposalService
	Submissions SubmissionService
	Calculator  *pricing.Calculator
	Obs         *observability.Observability
	Log         logger.Logger
}

// Server is the HTTP front for the deal pipeline.
type Server struct {
	httpServer *http.Server
	deps       Deps
	obs        *observability.Observability
	log        logger.Logger
	startedAt  time.Time
}

// NewServer creates an API server bound to addr.
func NewServer(addr string, deps Deps) *Server {
	s := &Server{
		deps:      deps,
		obs:       deps.Obs,
		log:       deps.Log,
		startedAt: time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /api/deals/{id}/gates", s.handleEvaluateGates)
	mux.HandleFunc("GET /api/deals/{id}/gates/{stage}", s.handleGateStatus)
	mux.HandleFunc("POST /api/deals/{id}/gates/{gateId}/complete", s.handleCompleteGate)
	mux.HandleFunc("POST /api/deals/{id}/gates/{gateId}/uncomplete", s.handleUncompleteGate)

	mux.HandleFunc("POST /api/deals/{id}/stage", s.handleStageTransition)
	mux.HandleFunc("GET /api/deals/{id}/stage/history", s.handleStageHistory)
	mux.HandleFunc("GET /api/stages/{stage}/next", s.handleNextStages)

	mux.HandleFunc("POST /api/deals/{id}/financing", s.handleCreateApplication)
	mux.HandleFunc("POST /api/financing/{id}/status", s.handleFinancingStatus)
	mux.HandleFunc("GET /api/financing/{id}/history", s.handleFinancingHistory)
	mux.HandleFunc("GET /api/financing-statuses/{status}/next", s.handleNextStatuses)

	mux.HandleFunc("POST /api/deals/{id}/proposals", s.handleCreateProposal)
	mux.HandleFunc("GET /api/deals/{id}/proposals", s.handleListProposals)
	mux.HandleFunc("GET /api/proposals/{id}", s.handleGetProposal)
	mux.HandleFunc("PUT /api/proposals/{id}", s.handleUpdateProposal)
	mux.HandleFunc("POST /api/proposals/{id}/finalize", s.handleFinalizeProposal)

	mux.HandleFunc("POST /api/deals/{id}/submit", s.handleSubmit)
	mux.HandleFunc("POST /api/deals/{id}/intake-decision", s.handleIntakeDecision)
	mux.HandleFunc("GET /api/deals/{id}/submissions", s.handleSubmissionHistory)

	mux.HandleFunc("POST /api/pricing/adder-amount", s.handleAdderAmount)
	mux.HandleFunc("POST /api/pricing/goal-seek", s.handleGoalSeek)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.withActor(s.withLogging(mux)),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the fully wrapped handler, used by tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins serving HTTP requests.
func (s *Server) Start(_ context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	s.log.Info("api server listening", map[string]interface{}{"addr": s.httpServer.Addr})
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.WithError(err).Error("api server stopped", nil)
		}
	}()
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ==========================
// Middleware
// ==========================

// withActor reads the caller identity headers set by the edge proxy. Missing
// headers pass through; the services reject unauthenticated mutations.
func (s *Server) withActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, errUser := uuid.Parse(r.Header.Get("X-User-Id"))
		companyID, errCompany := uuid.Parse(r.Header.Get("X-Company-Id"))
		if errUser == nil && errCompany == nil {
			actor := auth.Actor{
				ID:        userID,
				CompanyID: companyID,
				Role:      auth.ParseRole(r.Header.Get("X-Role")),
			}
			r = r.WithContext(auth.WithActor(r.Context(), actor))
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		if s.obs != nil {
			outcome := "success"
			if rec.status >= 400 {
				outcome = "error"
			}
			s.obs.RecordOperation(r.Context(), r.Method, outcome)
			s.obs.RecordOperationDuration(r.Context(), r.Method, time.Since(start))
		}
		s.log.Debug("request handled", map[string]interface{}{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      rec.status,
			"duration_ms": time.Since(start).Milliseconds(),
		})
	})
}

// ==========================
// Response helpers
// ==========================

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.WithError(err).Error("response encode failed", nil)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	if stdErr := errors.Standard(err); stdErr != nil {
		s.writeJSON(w, errors.HTTPStatus(stdErr.Code), stdErr)
		return
	}
	s.log.WithError(err).Error("unhandled error", nil)
	s.writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
		"code":    "INTERNAL",
		"message": "internal server error",
	})
}

func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		return uuid.Nil, errors.NewValidationError(name + " must be a uuid")
	}
	return id, nil
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.NewValidationError("invalid request body: " + err.Error())
	}
	return nil
}

// ==========================
// Health
// ==========================

// GET /api/health — liveness probe.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":       true,
		"uptime_s": time.Since(s.startedAt).Seconds(),
	})
}

// ==========================
// Gates
// ==========================

// GET /api/deals/{id}/gates — live evaluation of the deal's current stage.
func (s *Server) handleEvaluateGates(w http.ResponseWriter, r *http.Request) {
	dealID, err := pathUUID(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	gates, err := s.deps.Gates.EvaluateGates(r.Context(), dealID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"gates": gates})
}

// GET /api/deals/{id}/gates/{stage} — gate status for a specific stage.
func (s *Server) handleGateStatus(w http.ResponseWriter, r *http.Request) {
	dealID, err := pathUUID(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	stage := models.Stage(r.PathValue("stage"))
	gates, err := s.deps.Gates.GetGateStatus(r.Context(), dealID, stage)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"stage": stage, "gates": gates})
}

// POST /api/deals/{id}/gates/{gateId}/complete — mark a manual gate done.
func (s *Server) handleCompleteGate(w http.ResponseWriter, r *http.Request) {
	dealID, err := pathUUID(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	gateID, err := pathUUID(r, "gateId")
	if err != nil {
		s.writeError(w, err)
		return
	}
	var body struct {
		Value string `json:"value"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.deps.Gates.CompleteGate(r.Context(), dealID, gateID, body.Value); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"completed": true})
}

// POST /api/deals/{id}/gates/{gateId}/uncomplete — reopen a manual gate.
func (s *Server) handleUncompleteGate(w http.ResponseWriter, r *http.Request) {
	dealID, err := pathUUID(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	gateID, err := pathUUID(r, "gateId")
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.deps.Gates.UncompleteGate(r.Context(), dealID, gateID); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"completed": false})
}

// ==========================
// Deal stage
// ==========================

// POST /api/deals/{id}/stage — request a stage transition.
func (s *Server) handleStageTransition(w http.ResponseWriter, r *http.Request) {
	dealID, err := pathUUID(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	var body struct {
		TargetStage models.Stage `json:"targetStage"`
		Notes       string       `json:"notes"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.deps.Stages.Transition(r.Context(), dealID, body.TargetStage, body.Notes); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"stage": body.TargetStage})
}

// GET /api/deals/{id}/stage/history — stage audit trail, oldest first.
func (s *Server) handleStageHistory(w http.ResponseWriter, r *http.Request) {
	dealID, err := pathUUID(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	history, err := s.deps.Stages.History(r.Context(), dealID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"history": history})
}

// GET /api/stages/{stage}/next — legal exits from a stage.
func (s *Server) handleNextStages(w http.ResponseWriter, r *http.Request) {
	stage := models.Stage(r.PathValue("stage"))
	if !models.IsValidStage(stage) {
		s.writeError(w, errors.NewValidationError("unknown stage: "+string(stage)))
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"stage": stage,
		"next":  dealstage.NextStages(stage),
	})
}

// ==========================
// Financing
// ==========================

// POST /api/deals/{id}/financing — open a draft application.
func (s *Server) handleCreateApplication(w http.ResponseWriter, r *http.Request) {
	dealID, err := pathUUID(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	var input financing.CreateApplicationInput
	if err := decodeBody(r, &input); err != nil {
		s.writeError(w, err)
		return
	}
	app, err := s.deps.Financing.CreateApplication(r.Context(), dealID, input)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, app)
}

// POST /api/financing/{id}/status — move an application through its lifecycle.
func (s *Server) handleFinancingStatus(w http.ResponseWriter, r *http.Request) {
	appID, err := pathUUID(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	var input financing.UpdateStatusInput
	if err := decodeBody(r, &input); err != nil {
		s.writeError(w, err)
		return
	}
	app, err := s.deps.Financing.UpdateStatus(r.Context(), appID, input)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, app)
}

// GET /api/financing/{id}/history — status audit trail, oldest first.
func (s *Server) handleFinancingHistory(w http.ResponseWriter, r *http.Request) {
	appID, err := pathUUID(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	history, err := s.deps.Financing.History(r.Context(), appID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"history": history})
}

// GET /api/financing-statuses/{status}/next — legal exits from a status.
func (s *Server) handleNextStatuses(w http.ResponseWriter, r *http.Request) {
	status := models.FinancingStatus(r.PathValue("status"))
	next := financing.NextStatuses(status)
	if next == nil {
		s.writeError(w, errors.NewValidationError("unknown status: "+string(status)))
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": status,
		"next":   next,
	})
}

// ==========================
// Proposals
// ==========================

// POST /api/deals/{id}/proposals — price and store a draft.
func (s *Server) handleCreateProposal(w http.ResponseWriter, r *http.Request) {
	dealID, err := pathUUID(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	var input proposals.DraftInput
	if err := decodeBody(r, &input); err != nil {
		s.writeError(w, err)
		return
	}
	proposal, err := s.deps.Proposals.CreateDraft(r.Context(), dealID, input)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, proposal)
}

// GET /api/deals/{id}/proposals — all proposals for a deal, newest first.
func (s *Server) handleListProposals(w http.ResponseWriter, r *http.Request) {
	dealID, err := pathUUID(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	list, err := s.deps.Proposals.ListByDeal(r.Context(), dealID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"proposals": list})
}

// GET /api/proposals/{id}
func (s *Server) handleGetProposal(w http.ResponseWriter, r *http.Request) {
	proposalID, err := pathUUID(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	proposal, err := s.deps.Proposals.Get(r.Context(), proposalID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, proposal)
}

// PUT /api/proposals/{id} — replace a draft's pricing input.
func (s *Server) handleUpdateProposal(w http.ResponseWriter, r *http.Request) {
	proposalID, err := pathUUID(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	var input proposals.DraftInput
	if err := decodeBody(r, &input); err != nil {
		s.writeError(w, err)
		return
	}
	proposal, err := s.deps.Proposals.UpdateDraft(r.Context(), proposalID, input)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, proposal)
}

// POST /api/proposals/{id}/finalize — lock the proposal and make it active.
func (s *Server) handleFinalizeProposal(w http.ResponseWriter, r *http.Request) {
	proposalID, err := pathUUID(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	proposal, err := s.deps.Proposals.Finalize(r.Context(), proposalID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, proposal)
}

// ==========================
// Submission
// ==========================

// POST /api/deals/{id}/submit — run the checklist and submit for intake.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	dealID, err := pathUUID(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	result, err := s.deps.Submissions.Submit(r.Context(), dealID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	status := http.StatusOK
	if !result.Passed {
		status = http.StatusUnprocessableEntity
	}
	s.writeJSON(w, status, result)
}

// POST /api/deals/{id}/intake-decision — approve or reject a submitted deal.
func (s *Server) handleIntakeDecision(w http.ResponseWriter, r *http.Request) {
	dealID, err := pathUUID(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	var body struct {
		Approved bool     `json:"approved"`
		Reasons  []string `json:"reasons"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.deps.Submissions.Decide(r.Context(), dealID, body.Approved, body.Reasons); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"approved": body.Approved})
}

// GET /api/deals/{id}/submissions — submission attempts, newest first.
func (s *Server) handleSubmissionHistory(w http.ResponseWriter, r *http.Request) {
	dealID, err := pathUUID(r, "id")
	if err != nil {
		s.writeError(w, err)
		return
	}
	attempts, err := s.deps.Submissions.History(r.Context(), dealID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"attempts": attempts})
}

// ==========================
// Pricing
// ==========================

// POST /api/pricing/adder-amount — resolve one adder line without persisting.
func (s *Server) handleAdderAmount(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name            string                  `json:"name"`
		PricingType     models.AdderPricingType `json:"pricingType"`
		Amount          decimal.Decimal         `json:"amount"`
		Tiers           map[string]string       `json:"tiers"`
		DefaultTier     string                  `json:"defaultTier"`
		IsDiscount      bool                    `json:"isDiscount"`
		SystemSizeWatts decimal.Decimal         `json:"systemSizeWatts"`
		Quantity        int                     `json:"quantity"`
		TierSelection   string                  `json:"tierSelection"`
		CustomAmount    *decimal.Decimal        `json:"customAmount"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, err)
		return
	}

	tiers := make(map[string]decimal.Decimal, len(body.Tiers))
	for tier, raw := range body.Tiers {
		amount, err := decimal.NewFromString(raw)
		if err != nil {
			s.writeError(w, errors.NewValidationError("tier "+tier+": "+err.Error()))
			return
		}
		tiers[tier] = amount
	}

	result, err := s.deps.Calculator.CalculateAdderAmount(
		pricing.AdderTemplate{
			Name:        body.Name,
			PricingType: body.PricingType,
			Amount:      body.Amount,
			Tiers:       tiers,
			DefaultTier: body.DefaultTier,
			IsDiscount:  body.IsDiscount,
		},
		body.SystemSizeWatts,
		pricing.AdderInput{
			Quantity:      body.Quantity,
			TierSelection: body.TierSelection,
			CustomAmount:  body.CustomAmount,
		},
	)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

// POST /api/pricing/goal-seek — solve the base PPW for a target gross cost.
// Bounds, tax and fee come from company pricing config.
func (s *Server) handleGoalSeek(w http.ResponseWriter, r *http.Request) {
	var body struct {
		TargetGross     decimal.Decimal `json:"targetGross"`
		SystemSizeWatts decimal.Decimal `json:"systemSizeWatts"`
		AddersTotal     decimal.Decimal `json:"addersTotal"`
		DiscountTotal   decimal.Decimal `json:"discountTotal"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, err)
		return
	}

	ppw, ok := pricing.GoalSeekPPW(pricing.GoalSeekInput{
		TargetGross:     body.TargetGross,
		SystemSizeWatts: body.SystemSizeWatts,
		AddersTotal:     body.AddersTotal,
		DiscountTotal:   body.DiscountTotal,
		TaxRate:         s.deps.Calculator.TaxRate(),
		DealerFee:       s.deps.Calculator.DealerFee(),
		MinPPW:          s.deps.Calculator.MinPPW(),
		MaxPPW:          s.deps.Calculator.MaxPPW(),
	})
	if !ok {
		s.writeError(w, errors.NewValidationError("goal seek target is unreachable within ppw bounds"))
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"basePpw": ppw,
	})
}

