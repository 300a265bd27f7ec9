package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"finboard/internal/core"
)

// maxBodyBytes bounds request bodies; a filter is a few dozen bytes.
const maxBodyBytes = 16 << 10

// filterRequest is the PUT /api/filter body. type accepts either the Go
// name (lastMonth) or the wire value (month).
type filterRequest struct {
	Type      string     `json:"type"`
	StartDate *core.Date `json:"startDate"`
	EndDate   *core.Date `json:"endDate"`
}

var errBadBody = errors.New("malformed request body")

// ParseFilter decodes and validates a date filter from the request body.
// Syntax problems wrap errBadBody; semantic ones wrap core.ErrInvalidFilter.
func ParseFilter(r *http.Request) (core.DateFilter, error) {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()

	var req filterRequest
	if err := dec.Decode(&req); err != nil {
		return core.DateFilter{}, fmt.Errorf("%w: %w", errBadBody, err)
	}

	typ, err := core.ParseFilterType(req.Type)
	if err != nil {
		return core.DateFilter{}, err
	}
	f := core.DateFilter{Type: typ, StartDate: req.StartDate, EndDate: req.EndDate}
	if err := f.Validate(); err != nil {
		return core.DateFilter{}, err
	}
	return f, nil
}
