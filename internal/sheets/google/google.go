package google

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"tally/internal/core"
	applog "tally/internal/log"
	ports "tally/internal/sheets"
)

// Config selects the spreadsheet and its tabs.
type Config struct {
	SpreadsheetID string
	SavingsSheet  string
	ExpenseSheet  string
	// CredentialsJSON and CredentialsFile hold a service account key; when
	// both are empty GOOGLE_APPLICATION_CREDENTIALS is used.
	CredentialsJSON string
	CredentialsFile string
}

// valuesGetter is the slice of the Sheets API the client uses.
type valuesGetter interface {
	Get(ctx context.Context, spreadsheetID, rng string) ([][]interface{}, error)
}

type sheetsValues struct {
	svc *gsheet.Service
}

func (s sheetsValues) Get(ctx context.Context, spreadsheetID, rng string) ([][]interface{}, error) {
	resp, err := s.svc.Spreadsheets.Values.Get(spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	return resp.Values, nil
}

// Client reads the "Savings" and "Expense-Detail" tabs.
type Client struct {
	values        valuesGetter
	spreadsheetID string
	savingsSheet  string
	expenseSheet  string
	logger        *applog.Logger
}

var _ ports.Reader = (*Client)(nil)

// New creates a Sheets client authenticated with a service account.
func New(ctx context.Context, cfg Config, logger *applog.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.SpreadsheetID) == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}
	if logger == nil {
		logger = applog.Nop()
	}
	logger = logger.WithComponent(applog.ComponentSheets)

	svc, err := newSheetsService(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	return newClient(sheetsValues{svc: svc}, cfg, logger), nil
}

func newClient(values valuesGetter, cfg Config, logger *applog.Logger) *Client {
	if cfg.SavingsSheet == "" {
		cfg.SavingsSheet = "Savings"
	}
	if cfg.ExpenseSheet == "" {
		cfg.ExpenseSheet = "Expense-Detail"
	}
	if logger == nil {
		logger = applog.Nop()
	}
	return &Client{
		values:        values,
		spreadsheetID: cfg.SpreadsheetID,
		savingsSheet:  cfg.SavingsSheet,
		expenseSheet:  cfg.ExpenseSheet,
		logger:        logger,
	}
}

// newSheetsService initializes a read-only Sheets service from service
// account credentials.
func newSheetsService(ctx context.Context, cfg Config, logger *applog.Logger) (*gsheet.Service, error) {
	credsJSON := strings.TrimSpace(cfg.CredentialsJSON)
	credsFile := strings.TrimSpace(cfg.CredentialsFile)
	if credsJSON == "" && credsFile == "" {
		credsFile = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	var credentialsJSON []byte
	switch {
	case credsJSON != "":
		credentialsJSON = []byte(credsJSON)
	case credsFile != "":
		b, err := os.ReadFile(credsFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		credentialsJSON = b
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}

	logger.InfoContext(ctx, "Creating Google Sheets service", "credentials_size", len(credentialsJSON))
	service, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsReadonlyScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return service, nil
}

func (c *Client) read(ctx context.Context, sheet string) ([][]string, error) {
	rng := fmt.Sprintf("%s!A:Z", quoteSheet(sheet))
	raw, err := c.values.Get(ctx, c.spreadsheetID, rng)
	if err != nil {
		c.logger.ErrorContext(ctx, "Sheets read failed", "range", rng, applog.FieldError, err)
		return nil, core.Upstream("google sheets", err)
	}
	out := make([][]string, len(raw))
	for i, row := range raw {
		out[i] = toStrings(row)
	}
	return out, nil
}

func (c *Client) ReadSavings(ctx context.Context) ([]core.AssetSnapshot, error) {
	values, err := c.read(ctx, c.savingsSheet)
	if err != nil {
		return nil, err
	}
	rows, err := ports.ParseSavings(values)
	if err != nil {
		return nil, err
	}
	c.logger.DebugContext(ctx, "Savings tab read", applog.FieldCount, len(rows))
	return rows, nil
}

func (c *Client) ReadExpenseDetail(ctx context.Context) ([]ports.ExpenseRow, error) {
	values, err := c.read(ctx, c.expenseSheet)
	if err != nil {
		return nil, err
	}
	rows, err := ports.ParseExpenseDetail(values)
	if err != nil {
		return nil, err
	}
	c.logger.DebugContext(ctx, "Expense detail tab read", applog.FieldCount, len(rows))
	return rows, nil
}

// quoteSheet wraps names containing spaces or punctuation for A1 notation.
func quoteSheet(name string) string {
	if strings.ContainsAny(name, " -'!") {
		return "'" + strings.ReplaceAll(name, "'", "''") + "'"
	}
	return name
}

func toStrings(in []interface{}) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = strings.TrimSpace(fmt.Sprint(v))
	}
	return out
}
