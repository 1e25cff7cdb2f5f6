package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/alem-hub/mastery-engine/internal/application/command"
	"github.com/alem-hub/mastery-engine/internal/application/query"
	"github.com/alem-hub/mastery-engine/internal/domain/catalog"
	"github.com/alem-hub/mastery-engine/internal/domain/progress"
	"github.com/alem-hub/mastery-engine/internal/domain/sprint"
	"github.com/alem-hub/mastery-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS API
// ══════════════════════════════════════════════════════════════════════════════

// ProgressAPI serves the ledger, mistake bank, sprint and league endpoints.
// The account id always comes from the path; identity is verified upstream.
type ProgressAPI struct {
	OpenAccount   *command.OpenAccountHandler
	SubmitSolve   *command.SubmitSolveHandler
	SubmitMistake *command.SubmitMistakeHandler
	Purchase      *command.PurchaseItemHandler
	ApplyMutation *command.ApplyMutationHandler

	GetLedger          *query.GetLedgerHandler
	GetMistakeBank     *query.GetMistakeBankHandler
	GetDailySprint     *query.GetDailySprintHandler
	GetLeagueStandings *query.GetLeagueStandingsHandler

	Problems catalog.Catalog
}

// Routes mounts the API on r.
func (a *ProgressAPI) Routes(r chi.Router) {
	r.Route("/accounts/{accountID}", func(r chi.Router) {
		r.Put("/", a.handleOpenAccount)
		r.Get("/ledger", a.handleGetLedger)
		r.Post("/solves", a.handleSubmitSolve)
		r.Post("/mistakes", a.handleSubmitMistake)
		r.Get("/mistakes", a.handleGetMistakes)
		r.Post("/purchases", a.handlePurchase)
		r.Post("/mutations", a.handleApplyMutation)
		r.Get("/sprint", a.handleGetSprint)
	})
	r.Get("/problems/{problemID}", a.handleGetProblem)
	if a.GetLeagueStandings != nil {
		r.Get("/league/standings", a.handleGetStandings)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// DTOs
// ─────────────────────────────────────────────────────────────────────────────

type solveRequest struct {
	MutationID       string `json:"mutationId" validate:"required,max=128"`
	ProblemID        string `json:"problemId" validate:"required,max=128"`
	XPReward         int    `json:"xpReward" validate:"gte=0"`
	TimeSpentMinutes int    `json:"timeSpentMinutes" validate:"gte=0"`
}

type mistakeRequest struct {
	MutationID string `json:"mutationId" validate:"required,max=128"`
	ProblemID  string `json:"problemId" validate:"required,max=128"`
}

type purchaseRequest struct {
	MutationID string `json:"mutationId" validate:"required,max=128"`
	ItemID     string `json:"itemId" validate:"required,max=128"`
	Price      int    `json:"price" validate:"gte=0"`
}

type mutationRequest struct {
	MutationID string          `json:"mutationId" validate:"required,max=128"`
	Kind       string          `json:"kind" validate:"required,oneof=Solve RegisterMistake Purchase"`
	Payload    json.RawMessage `json:"payload" validate:"required"`
}

type ledgerResponse struct {
	Ledger   progress.Ledger `json:"ledger"`
	Replayed bool            `json:"replayed"`
}

type mistakeResponse struct {
	Mistakes []progress.Mistake `json:"mistakes"`
	Ledger   progress.Ledger    `json:"ledger"`
	Replayed bool               `json:"replayed"`
}

type mutationAck struct {
	MutationID string          `json:"mutationId"`
	Ledger     progress.Ledger `json:"ledger"`
	Replayed   bool            `json:"replayed"`
}

type mistakeItem struct {
	Problem       catalog.ProblemSummary `json:"problem"`
	RetryCount    int                    `json:"retryCount"`
	NextRetryDate time.Time              `json:"nextRetryDate"`
	Due           bool                   `json:"due"`
}

type mistakeBankResponse struct {
	AccountID  string        `json:"accountId"`
	AsOf       time.Time     `json:"asOf"`
	ReadyCount int           `json:"readyCount"`
	Items      []mistakeItem `json:"items"`
}

type sprintResponse struct {
	AccountID string        `json:"accountId"`
	Date      string        `json:"date"`
	Items     []sprint.Item `json:"items"`
	FromCache bool          `json:"fromCache"`
}

type standingsResponse struct {
	WeekStart string              `json:"weekStart"`
	Top       []progress.Standing `json:"top"`
	Self      *progress.Standing  `json:"self,omitempty"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Commands
// ─────────────────────────────────────────────────────────────────────────────

func (a *ProgressAPI) handleOpenAccount(w http.ResponseWriter, r *http.Request) {
	l, err := a.OpenAccount.Handle(r.Context(), command.OpenAccountCommand{AccountID: chi.URLParam(r, "accountID")})
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, ledgerResponse{Ledger: l})
}

func (a *ProgressAPI) handleSubmitSolve(w http.ResponseWriter, r *http.Request) {
	var req solveRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		WriteError(w, r, err)
		return
	}

	res, err := a.SubmitSolve.Handle(r.Context(), command.SubmitSolveCommand{
		AccountID:        chi.URLParam(r, "accountID"),
		ProblemID:        req.ProblemID,
		XPReward:         req.XPReward,
		TimeSpentMinutes: req.TimeSpentMinutes,
		MutationID:       req.MutationID,
	})
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, ledgerResponse{Ledger: res.Ledger, Replayed: res.Replayed})
}

func (a *ProgressAPI) handleSubmitMistake(w http.ResponseWriter, r *http.Request) {
	var req mistakeRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		WriteError(w, r, err)
		return
	}

	res, err := a.SubmitMistake.Handle(r.Context(), command.SubmitMistakeCommand{
		AccountID:  chi.URLParam(r, "accountID"),
		ProblemID:  req.ProblemID,
		MutationID: req.MutationID,
	})
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, mistakeResponse{Mistakes: res.Mistakes, Ledger: res.Ledger, Replayed: res.Replayed})
}

func (a *ProgressAPI) handlePurchase(w http.ResponseWriter, r *http.Request) {
	var req purchaseRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		WriteError(w, r, err)
		return
	}

	res, err := a.Purchase.Handle(r.Context(), command.PurchaseItemCommand{
		AccountID:  chi.URLParam(r, "accountID"),
		ItemID:     req.ItemID,
		Price:      req.Price,
		MutationID: req.MutationID,
	})
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, ledgerResponse{Ledger: res.Ledger, Replayed: res.Replayed})
}

// handleApplyMutation is the replay endpoint of the device queue. The
// response is the acknowledgment: once a device sees it, the queued entry
// can be dropped.
func (a *ProgressAPI) handleApplyMutation(w http.ResponseWriter, r *http.Request) {
	var req mutationRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		WriteError(w, r, err)
		return
	}

	res, err := a.ApplyMutation.Handle(r.Context(), command.ApplyMutationCommand{
		AccountID:  chi.URLParam(r, "accountID"),
		MutationID: req.MutationID,
		Kind:       progress.MutationKind(req.Kind),
		Payload:    req.Payload,
	})
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, mutationAck{MutationID: res.MutationID, Ledger: res.Ledger, Replayed: res.Replayed})
}

// ─────────────────────────────────────────────────────────────────────────────
// Queries
// ─────────────────────────────────────────────────────────────────────────────

func (a *ProgressAPI) handleGetLedger(w http.ResponseWriter, r *http.Request) {
	l, err := a.GetLedger.Handle(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, ledgerResponse{Ledger: l})
}

func (a *ProgressAPI) handleGetMistakes(w http.ResponseWriter, r *http.Request) {
	onlyDue, _ := strconv.ParseBool(r.URL.Query().Get("due"))

	view, err := a.GetMistakeBank.Handle(r.Context(), query.GetMistakeBankQuery{
		AccountID: chi.URLParam(r, "accountID"),
		OnlyDue:   onlyDue,
	})
	if err != nil {
		WriteError(w, r, err)
		return
	}

	resp := mistakeBankResponse{
		AccountID:  view.AccountID,
		AsOf:       view.AsOf,
		ReadyCount: view.ReadyCount,
		Items:      make([]mistakeItem, 0, len(view.Items)),
	}
	for _, it := range view.Items {
		resp.Items = append(resp.Items, mistakeItem{
			Problem:       it.Problem,
			RetryCount:    it.RetryCount,
			NextRetryDate: it.NextRetryAt,
			Due:           it.Due,
		})
	}
	WriteJSON(w, http.StatusOK, resp)
}

func (a *ProgressAPI) handleGetSprint(w http.ResponseWriter, r *http.Request) {
	view, err := a.GetDailySprint.Handle(r.Context(), query.GetDailySprintQuery{AccountID: chi.URLParam(r, "accountID")})
	if err != nil {
		WriteError(w, r, err)
		return
	}

	items := view.Items
	if items == nil {
		items = []sprint.Item{}
	}
	WriteJSON(w, http.StatusOK, sprintResponse{
		AccountID: view.AccountID,
		Date:      timeutil.FormatDate(view.Date),
		Items:     items,
		FromCache: view.FromCache,
	})
}

func (a *ProgressAPI) handleGetStandings(w http.ResponseWriter, r *http.Request) {
	q := query.GetLeagueStandingsQuery{AccountID: r.URL.Query().Get("accountId")}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			WriteJSON(w, http.StatusBadRequest, ErrorBody{Error: ErrorDetail{Code: CodeValidation, Message: "limit must be an integer"}})
			return
		}
		q.Limit = n
	}

	view, err := a.GetLeagueStandings.Handle(r.Context(), q)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	top := view.Top
	if top == nil {
		top = []progress.Standing{}
	}
	WriteJSON(w, http.StatusOK, standingsResponse{
		WeekStart: timeutil.FormatDate(view.WeekStart),
		Top:       top,
		Self:      view.Self,
	})
}

func (a *ProgressAPI) handleGetProblem(w http.ResponseWriter, r *http.Request) {
	p, err := a.Problems.Get(r.Context(), chi.URLParam(r, "problemID"))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, p)
}
