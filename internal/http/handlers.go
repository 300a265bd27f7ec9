package http

import (
	"errors"
	"net/http"

	"finboard/internal/core"
	"finboard/internal/dashboard"
	"finboard/internal/log"
)

// stateResponse is the JSON form of dashboard.State. Errors are flattened to
// strings keyed by resource; absent keys mean no error.
type stateResponse struct {
	Version      uint64               `json:"version"`
	DateFilter   core.DateFilter      `json:"dateFilter"`
	Label        string               `json:"label"`
	KPIs         core.KPISnapshot     `json:"kpis"`
	Charts       core.ChartSnapshot   `json:"charts"`
	Widgets      core.WidgetSnapshot  `json:"widgets"`
	Transactions core.TransactionPage `json:"transactions"`
	Loading      dashboard.Loading    `json:"loading"`
	Errors       map[string]string    `json:"errors"`
}

func newStateResponse(st dashboard.State) stateResponse {
	errs := make(map[string]string)
	for name, err := range map[string]error{
		dashboard.ResourceKPIs:         st.Errors.KPIs,
		dashboard.ResourceCharts:       st.Errors.Charts,
		dashboard.ResourceWidgets:      st.Errors.Widgets,
		dashboard.ResourceTransactions: st.Errors.Transactions,
	} {
		if err != nil {
			errs[name] = err.Error()
		}
	}
	return stateResponse{
		Version:      st.Version,
		DateFilter:   st.DateFilter,
		Label:        st.DateFilter.Label(),
		KPIs:         st.KPIs,
		Charts:       st.Charts,
		Widgets:      st.Widgets,
		Transactions: st.Transactions,
		Loading:      st.Loading,
		Errors:       errs,
	}
}

func (s *Server) writeState(w http.ResponseWriter) {
	NewJSONResponse().Data(newStateResponse(s.dash.State())).Write(w)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	m := s.tracer.GetMetrics()
	NewJSONResponse().Data(map[string]any{
		"status":            "ok",
		"requests":          m.TotalRequests,
		"failed_requests":   m.FailedRequests,
		"avg_response_us":   m.AverageResponseTime,
		"refresh_throttled": s.limiter.GetMetrics().Rejected,
	}).Write(w)
}

// handleReady reports not ready while every dashboard class is failing,
// which means the backend is unreachable.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	errs := s.dash.State().Errors
	if errs.KPIs != nil && errs.Charts != nil && errs.Widgets != nil {
		ErrorResponse(http.StatusServiceUnavailable, "backend unavailable").Write(w)
		return
	}
	NewJSONResponse().Data(map[string]string{"status": "ready"}).Write(w)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	s.writeState(w)
}

func (s *Server) handleSetFilter(w http.ResponseWriter, r *http.Request) {
	logger := log.FromContext(r.Context())

	f, err := ParseFilter(r)
	switch {
	case errors.Is(err, errBadBody):
		BadRequestError(err.Error()).Write(w)
		return
	case err != nil:
		logger.Warn("Rejected date filter", log.FieldError, err)
		UnprocessableEntityError(err.Error()).Write(w)
		return
	}

	if err := s.dash.SetDateFilter(f); err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	s.writeState(w)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.dash.RefreshDashboard(r.Context()); err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	s.writeState(w)
}

func (s *Server) handleRefreshOne(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")

	var err error
	switch class := r.PathValue("class"); class {
	case dashboard.ResourceKPIs:
		err = s.dash.RefreshSingleKPI(r.Context(), key)
	case dashboard.ResourceCharts:
		err = s.dash.RefreshSingleChart(r.Context(), key)
	case dashboard.ResourceWidgets:
		err = s.dash.RefreshSingleWidget(r.Context(), key)
	default:
		NotFoundError("unknown resource class " + class).Write(w)
		return
	}
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	s.writeState(w)
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	q, err := core.ParseTransactionQuery(r.URL.Query())
	if err != nil {
		UnprocessableEntityError(err.Error()).Write(w)
		return
	}
	page, err := s.dash.FetchTransactions(r.Context(), q)
	switch {
	case err == nil:
		NewJSONResponse().Data(page).Write(w)
	case isStoreError(err):
		s.writeStoreError(w, r, err)
	default:
		BadGatewayError(err.Error()).Write(w)
	}
}

// isStoreError reports errors raised by the store itself rather than the backend.
func isStoreError(err error) bool {
	return errors.Is(err, core.ErrInvalidFilter) ||
		errors.Is(err, core.ErrInvalidKey) ||
		errors.Is(err, core.ErrInvalidQuery) ||
		errors.Is(err, dashboard.ErrClosed)
}

// writeStoreError maps store errors onto status codes.
func (s *Server) writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, core.ErrInvalidFilter),
		errors.Is(err, core.ErrInvalidKey),
		errors.Is(err, core.ErrInvalidQuery):
		UnprocessableEntityError(err.Error()).Write(w)
	case errors.Is(err, dashboard.ErrClosed):
		ErrorResponse(http.StatusServiceUnavailable, err.Error()).Write(w)
	default:
		log.FromContext(r.Context()).Error("Request failed", log.FieldError, err)
		ErrorResponse(http.StatusInternalServerError, "internal error").Write(w)
	}
}
