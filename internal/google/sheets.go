package google

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/klaroops/backend/internal/apperr"
	"github.com/klaroops/backend/internal/ingest"
)

var sheetURLPattern = regexp.MustCompile(`/spreadsheets/d/([a-zA-Z0-9_-]+)`)

// ParseSheetID accepts a spreadsheet URL or a bare id.
func ParseSheetID(input string) (string, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return "", apperr.Invalid("sheet", "sheet URL or id is required")
	}
	if m := sheetURLPattern.FindStringSubmatch(s); m != nil {
		return m[1], nil
	}
	if u, err := url.Parse(s); err == nil && u.Host != "" {
		return "", apperr.Invalid("sheet", "not a Google Sheets URL")
	}
	for _, r := range s {
		if !(r == '-' || r == '_' || r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z') {
			return "", apperr.Invalid("sheet", "invalid sheet id")
		}
	}
	return s, nil
}

type ScanRequest struct {
	Sheet     string `json:"sheet"`
	Tab       string `json:"tab"`
	HeaderRow int    `json:"header_row"`
}

type ScanResult struct {
	SheetID     string          `json:"sheet_id"`
	Tab         string          `json:"tab"`
	Headers     []string        `json:"headers"`
	Rows        [][]string      `json:"rows"`
	PreviewRows int             `json:"preview_rows"`
	Columns     []ingest.Column `json:"columns"`
}

// Scan reads the header row and up to ingest.PreviewRows rows below it.
func (s *Service) Scan(ctx context.Context, req ScanRequest, opts ...option.ClientOption) (*ScanResult, error) {
	res, err := s.scan(ctx, req, opts...)
	if s.observe != nil {
		var e *apperr.Error
		if err == nil || errors.As(err, &e) && e.Kind == apperr.KindUpstream {
			s.observe(err)
		}
	}
	return res, err
}

func (s *Service) scan(ctx context.Context, req ScanRequest, opts ...option.ClientOption) (*ScanResult, error) {
	id, err := ParseSheetID(req.Sheet)
	if err != nil {
		return nil, err
	}
	headerRow := req.HeaderRow
	if headerRow <= 0 {
		headerRow = 1
	}

	ts, email, err := s.TokenSource(ctx)
	if err != nil {
		return nil, err
	}
	svc, err := sheets.NewService(ctx, append([]option.ClientOption{option.WithTokenSource(ts)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("create sheets client: %w", err)
	}

	tab := strings.TrimSpace(req.Tab)
	if tab == "" {
		meta, err := svc.Spreadsheets.Get(id).Fields("sheets.properties.title").Context(ctx).Do()
		if err != nil {
			return nil, mapSheetsError(err, email)
		}
		if len(meta.Sheets) == 0 || meta.Sheets[0].Properties == nil {
			return nil, apperr.NotFound("sheet tab")
		}
		tab = meta.Sheets[0].Properties.Title
	}

	rng := fmt.Sprintf("'%s'!A%d:ZZ%d", strings.ReplaceAll(tab, "'", "''"), headerRow, headerRow+ingest.PreviewRows)
	vr, err := svc.Spreadsheets.Values.Get(id, rng).Context(ctx).Do()
	if err != nil {
		return nil, mapSheetsError(err, email)
	}

	res := &ScanResult{SheetID: id, Tab: tab, Headers: []string{}, Rows: [][]string{}}
	for i, row := range vr.Values {
		cells := make([]string, len(row))
		for j, v := range row {
			cells[j] = strings.TrimSpace(fmt.Sprint(v))
		}
		if i == 0 {
			res.Headers = cells
			continue
		}
		res.Rows = append(res.Rows, cells)
	}
	if len(res.Headers) == 0 {
		return nil, apperr.Invalid("header_row", fmt.Sprintf("row %d of %q is empty", headerRow, tab))
	}
	res.PreviewRows = len(res.Rows)
	res.Columns = ingest.InferColumns(res.Headers, res.Rows)
	return res, nil
}

func mapSheetsError(err error, identity string) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusForbidden:
			msg := "share the sheet with the connected Google account"
			if identity != "" {
				msg = "share the sheet with " + identity
			}
			return apperr.Upstream("google", http.StatusForbidden, msg, err)
		case http.StatusNotFound:
			return apperr.Upstream("google", http.StatusNotFound, "sheet not found", err)
		}
		msg := gerr.Message
		if msg == "" {
			msg = gerr.Error()
		}
		return apperr.Upstream("google", http.StatusInternalServerError, msg, err)
	}
	return apperr.Upstream("google", http.StatusInternalServerError, err.Error(), err)
}
