package notify

import (
	"bytes"
	"fmt"
	"html/template"

	"costrologer/internal/core"
	appweb "costrologer/web"
)

const (
	TemplateBudgetAlert   = "budget-alert"
	TemplateMonthlyReport = "monthly-report"
)

// BudgetAlertData feeds the budget-alert template.
type BudgetAlertData struct {
	UserName       string
	AccountName    string
	PercentageUsed float64
	BudgetAmount   core.Money
	TotalExpenses  core.Money
	Remaining      core.Money
}

// MonthlyReportData feeds the monthly-report template.
type MonthlyReportData struct {
	UserName         string
	Month            string
	TotalIncome      core.Money
	TotalExpenses    core.Money
	NetIncome        core.Money
	TransactionCount int
	Categories       []core.CategoryAmount
	Insights         []string
}

// Renderer executes the embedded email templates.
type Renderer struct {
	templates *template.Template
}

func NewRenderer() (*Renderer, error) {
	t, err := template.ParseFS(appweb.TemplatesFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse email templates: %w", err)
	}
	return &Renderer{templates: t}, nil
}

// Render executes the named template with data.
func (r *Renderer) Render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := r.templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}

func (r *Renderer) BudgetAlert(to string, data BudgetAlertData) (Email, error) {
	html, err := r.Render(TemplateBudgetAlert, data)
	if err != nil {
		return Email{}, err
	}
	return Email{
		To:      to,
		Subject: fmt.Sprintf("Budget alert for %s", data.AccountName),
		HTML:    html,
	}, nil
}

func (r *Renderer) MonthlyReport(to string, data MonthlyReportData) (Email, error) {
	html, err := r.Render(TemplateMonthlyReport, data)
	if err != nil {
		return Email{}, err
	}
	return Email{
		To:      to,
		Subject: fmt.Sprintf("Your monthly financial report - %s", data.Month),
		HTML:    html,
	}, nil
}
