package http

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"costrologer/internal/core"
	applog "costrologer/internal/log"
	"costrologer/internal/services"
)

func (s *Server) handleRegisterUser(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	u, err := s.deps.Ledger.RegisterUser(r.Context(), req.Email, req.Name)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserResponse(u))
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.deps.Ledger.ListAccounts(r.Context(), userID(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	out := make([]accountResponse, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, toAccountResponse(a))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req accountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}

	in := services.AccountInput{
		Name:      req.Name,
		Type:      core.AccountType(strings.ToUpper(req.Type)),
		IsDefault: req.IsDefault,
	}
	if req.Balance != "" {
		bal, err := core.ParseMoney(req.Balance)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		in.Balance = bal
	}

	a, err := s.deps.Ledger.CreateAccount(r.Context(), userID(r), in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAccountResponse(a))
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	detail, err := s.deps.Ledger.GetAccount(r.Context(), userID(r), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	out := accountDetailResponse{
		accountResponse: toAccountResponse(detail.Account),
		Transactions:    make([]transactionResponse, 0, len(detail.Transactions)),
	}
	for _, t := range detail.Transactions {
		out.Transactions = append(out.Transactions, toTransactionResponse(t))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSetDefaultAccount(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Ledger.SetDefaultAccount(r.Context(), userID(r), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req transactionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	in, err := req.toInput(s.deps.Location)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	t, err := s.deps.Ledger.CreateTransaction(r.Context(), userID(r), in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionResponse(t))
}

func (s *Server) handleBulkDelete(w http.ResponseWriter, r *http.Request) {
	var req bulkDeleteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	n, err := s.deps.Ledger.BulkDeleteTransactions(r.Context(), userID(r), req.IDs)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bulkDeleteResponse{Deleted: n})
}

func (s *Server) handleGetBudget(w http.ResponseWriter, r *http.Request) {
	status, err := s.deps.Ledger.CurrentBudget(r.Context(), userID(r), r.URL.Query().Get("accountId"), s.deps.Now())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	out := budgetStatusResponse{
		AccountID:       status.AccountID,
		CurrentExpenses: status.CurrentExpenses.String(),
	}
	if status.Budget != nil {
		b := toBudgetResponse(*status.Budget)
		out.Budget = &b
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleUpsertBudget(w http.ResponseWriter, r *http.Request) {
	var req budgetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	b, err := s.deps.Ledger.UpsertBudget(r.Context(), userID(r), amount)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBudgetResponse(b))
}

func (s *Server) handleRunJob(w http.ResponseWriter, r *http.Request) {
	if s.deps.Jobs == nil {
		writeError(w, http.StatusServiceUnavailable, "job runner not configured")
		return
	}
	if s.jobsCtx.Err() != nil {
		writeError(w, http.StatusServiceUnavailable, "server shutting down")
		return
	}
	name := chi.URLParam(r, "name")

	// A dropped client does not abort the run; server shutdown does.
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()
	stop := context.AfterFunc(s.jobsCtx, cancel)
	defer stop()

	n, err := s.deps.Jobs.RunNow(ctx, name)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	applog.FromContext(r.Context()).InfoContext(r.Context(), "Job run on demand",
		applog.FieldJob, name,
		applog.FieldProcessed, n,
		applog.FieldClientIP, clientIP(r))
	writeJSON(w, http.StatusOK, jobResponse{Job: name, Processed: n})
}
