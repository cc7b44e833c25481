package http

import (
	"net/http"
	"strings"

	applog "tally/internal/log"
	"tally/internal/services"
)

func (s *Server) handleImportCSV(w http.ResponseWriter, r *http.Request) {
	dryRun, err := ParseBoolParam(r, "dry_run")
	if err != nil {
		writeError(w, r, "import_csv", err)
		return
	}
	up, err := ReadUpload(w, r, s.opts.MaxUploadBytes)
	if err != nil {
		writeError(w, r, "import_csv", err)
		return
	}

	report, err := s.svc.Imports.ImportCSV(r.Context(), services.ImportRequest{
		UserID:        UserID(r.Context()),
		BankAccountID: strings.TrimSpace(r.URL.Query().Get("account")),
		Filename:      up.Filename,
		Body:          up.Body,
		DryRun:        dryRun,
	})
	if err != nil {
		writeError(w, r, "import_csv", err)
		return
	}

	applog.FromContext(r.Context()).InfoContext(r.Context(), "CSV imported",
		applog.FieldFilename, up.Filename,
		applog.FieldCount, len(report.InsertedIDs),
		"dry_run", dryRun)
	writeJSON(w, importStatus(report), report)
}

func (s *Server) handleImportSheet(w http.ResponseWriter, r *http.Request) {
	dryRun, err := ParseBoolParam(r, "dry_run")
	if err != nil {
		writeError(w, r, "import_sheet", err)
		return
	}

	report, err := s.svc.Imports.ImportSheet(r.Context(), services.ImportRequest{
		UserID:        UserID(r.Context()),
		BankAccountID: strings.TrimSpace(r.URL.Query().Get("account")),
		DryRun:        dryRun,
	})
	if err != nil {
		writeError(w, r, "import_sheet", err)
		return
	}
	writeJSON(w, importStatus(report), report)
}

// importStatus is 201 when rows were stored, 200 otherwise.
func importStatus(report *services.ImportReport) int {
	if !report.DryRun && len(report.InsertedIDs) > 0 {
		return http.StatusCreated
	}
	return http.StatusOK
}
