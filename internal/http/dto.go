package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"costrologer/internal/core"
	"costrologer/internal/services"
)

const maxBodyBytes = 1 << 20

// decodeJSON reads a single JSON object from the request body. Unknown
// fields are rejected.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return &services.ValidationError{Err: errors.New("empty request body")}
		}
		return &services.ValidationError{Err: fmt.Errorf("malformed JSON: %w", err)}
	}
	return nil
}

// parseDate accepts YYYY-MM-DD (midnight in loc) or RFC 3339.
func parseDate(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.ParseInLocation("2006-01-02", s, loc); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: want YYYY-MM-DD or RFC 3339", s)
	}
	return t, nil
}

func parseAmount(s string) (core.Money, error) {
	m, err := core.ParseMoney(s)
	if err != nil {
		return core.Money{}, &services.ValidationError{Err: err}
	}
	return m, nil
}

type userRequest struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

type userResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

func toUserResponse(u core.User) userResponse {
	return userResponse{ID: u.ID, Email: u.Email, Name: u.Name, CreatedAt: u.CreatedAt}
}

type accountRequest struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	Balance   string `json:"balance"`
	IsDefault bool   `json:"isDefault"`
}

type accountResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	Balance   string    `json:"balance"`
	IsDefault bool      `json:"isDefault"`
	CreatedAt time.Time `json:"createdAt"`
}

func toAccountResponse(a core.Account) accountResponse {
	return accountResponse{
		ID:        a.ID,
		Name:      a.Name,
		Type:      string(a.Type),
		Balance:   a.Balance.String(),
		IsDefault: a.IsDefault,
		CreatedAt: a.CreatedAt,
	}
}

type accountDetailResponse struct {
	accountResponse
	Transactions []transactionResponse `json:"transactions"`
}

type transactionRequest struct {
	AccountID         string `json:"accountId"`
	Type              string `json:"type"`
	Amount            string `json:"amount"`
	Description       string `json:"description"`
	Date              string `json:"date"`
	Category          string `json:"category"`
	IsRecurring       bool   `json:"isRecurring"`
	RecurringInterval string `json:"recurringInterval"`
}

func (req transactionRequest) toInput(loc *time.Location) (services.TransactionInput, error) {
	amount, err := parseAmount(req.Amount)
	if err != nil {
		return services.TransactionInput{}, err
	}
	date := time.Now().In(loc)
	if req.Date != "" {
		if date, err = parseDate(req.Date, loc); err != nil {
			return services.TransactionInput{}, &services.ValidationError{Err: err}
		}
	}
	if req.AccountID == "" {
		return services.TransactionInput{}, &services.ValidationError{Err: errors.New("accountId is required")}
	}
	return services.TransactionInput{
		AccountID:         req.AccountID,
		Type:              core.TransactionType(strings.ToUpper(req.Type)),
		Amount:            amount,
		Description:       req.Description,
		Date:              date,
		Category:          req.Category,
		IsRecurring:       req.IsRecurring,
		RecurringInterval: core.RecurringInterval(strings.ToUpper(req.RecurringInterval)),
	}, nil
}

type transactionResponse struct {
	ID                string     `json:"id"`
	AccountID         string     `json:"accountId"`
	Type              string     `json:"type"`
	Amount            string     `json:"amount"`
	Description       string     `json:"description"`
	Date              time.Time  `json:"date"`
	Category          string     `json:"category"`
	IsRecurring       bool       `json:"isRecurring"`
	RecurringInterval string     `json:"recurringInterval,omitempty"`
	Status            string     `json:"status"`
	LastProcessed     *time.Time `json:"lastProcessed,omitempty"`
	NextRecurringDate *time.Time `json:"nextRecurringDate,omitempty"`
}

func toTransactionResponse(t core.Transaction) transactionResponse {
	return transactionResponse{
		ID:                t.ID,
		AccountID:         t.AccountID,
		Type:              string(t.Type),
		Amount:            t.Amount.String(),
		Description:       t.Description,
		Date:              t.Date,
		Category:          t.Category,
		IsRecurring:       t.IsRecurring,
		RecurringInterval: string(t.RecurringInterval),
		Status:            string(t.Status),
		LastProcessed:     t.LastProcessed,
		NextRecurringDate: t.NextRecurringDate,
	}
}

type bulkDeleteRequest struct {
	IDs []string `json:"ids"`
}

type bulkDeleteResponse struct {
	Deleted int `json:"deleted"`
}

type budgetRequest struct {
	Amount string `json:"amount"`
}

type budgetResponse struct {
	ID            string     `json:"id"`
	Amount        string     `json:"amount"`
	LastAlertSent *time.Time `json:"lastAlertSent,omitempty"`
}

func toBudgetResponse(b core.Budget) budgetResponse {
	return budgetResponse{ID: b.ID, Amount: b.Amount.String(), LastAlertSent: b.LastAlertSent}
}

type budgetStatusResponse struct {
	Budget          *budgetResponse `json:"budget"`
	AccountID       string          `json:"accountId,omitempty"`
	CurrentExpenses string          `json:"currentExpenses"`
}

type jobResponse struct {
	Job       string `json:"job"`
	Processed int    `json:"processed"`
}
