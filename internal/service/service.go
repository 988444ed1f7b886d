package service

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"gitlab.com/dirk.krummacker/calllist-service/internal/apperrors"
	"gitlab.com/dirk.krummacker/calllist-service/internal/callqueue"
	"gitlab.com/dirk.krummacker/calllist-service/internal/codec"
	"gitlab.com/dirk.krummacker/calllist-service/internal/export"
	"gitlab.com/dirk.krummacker/calllist-service/internal/metrics"
	"gitlab.com/dirk.krummacker/calllist-service/internal/model"
	"gitlab.com/dirk.krummacker/calllist-service/internal/normalize"
	api "gitlab.com/dirk.krummacker/calllist-service/pkg/model"
)

// xlsxContentType is the media type of the spreadsheets we return.
const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Config controls the behaviour of the HTTP layer.
type Config struct {
	// MergeImports merges an import into the current set instead of replacing it.
	MergeImports bool
	// HTTPLogging turns gin's request logging on.
	HTTPLogging bool
}

// Service exposes the call queue over HTTP.
type Service struct {
	engine   *callqueue.Engine
	codec    *codec.Codec
	composer *export.Composer
	config   Config
	logger   *zap.Logger

	// importing is held while an uploaded sheet is parsed and applied.
	importing sync.Mutex
}

// New creates the service around an engine.
func New(engine *callqueue.Engine, c *codec.Codec, composer *export.Composer, config Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{engine: engine, codec: c, composer: composer, config: config, logger: logger}
}

// SetupHttpRouter initializes the REST API router and registers all endpoints.
func (s *Service) SetupHttpRouter() *gin.Engine {
	var router *gin.Engine
	if s.config.HTTPLogging {
		router = gin.Default()
	} else {
		s.logger.Info("Turning off HTTP request logging.")
		router = gin.New()
		router.Use(gin.Recovery())
	}
	router.GET("/customers", s.findCustomers)
	router.GET("/customers/pending", s.findPendingCustomers)
	router.POST("/customers/import", s.importCustomers)
	router.POST("/customers/:id/call", s.startCall)
	router.POST("/customers/:id/outcome", s.completeCall)
	router.DELETE("/customers", s.resetCustomers)
	router.DELETE("/calls/current", s.cancelCall)
	router.GET("/summary", s.getSummary)
	router.GET("/export", s.exportCustomers)
	router.GET("/template", s.getTemplate)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})))
	return router
}

// findCustomers responds with all customers in display order.
//
// The URL parameter 'q' restricts the list to customers whose name contains q (ignoring case) or
// whose phone number contains the digits of q.
//
// REST API calls:
//
//	> curl "http://localhost:8080/customers"
//	> curl "http://localhost:8080/customers?q=nguyen"
//	> curl "http://localhost:8080/customers?q=0901"
func (s *Service) findCustomers(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, s.views(s.engine.Customers(c.Query("q"))))
}

// findPendingCustomers responds with the customers that still have to be called today.
//
// Example REST API call:
//
//	> curl http://localhost:8080/customers/pending
func (s *Service) findPendingCustomers(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, s.views(slices.Collect(s.engine.PendingCustomers())))
}

// getSummary responds with the counts and the state of the queue.
//
// Example REST API call:
//
//	> curl http://localhost:8080/summary
func (s *Service) getSummary(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, s.summary())
}

func (s *Service) summary() api.Summary {
	total := s.engine.Total()
	pending := s.engine.PendingCount()
	state := s.engine.State()
	summary := api.Summary{
		Total:           total,
		Pending:         pending,
		Completed:       total - pending,
		State:           string(state),
		SessionComplete: state == callqueue.StateSessionComplete,
	}
	if meta := s.engine.Metadata(); !meta.SavedAt.IsZero() {
		summary.FileName = meta.FileName
		summary.SavedAt = &meta.SavedAt
	}
	if awaiting, ok := s.engine.Awaiting(); ok {
		view := s.view(awaiting)
		summary.Awaiting = &view
	}
	return summary
}

// importCustomers reads the uploaded spreadsheet (form field 'file'). Depending on the
// configuration the rows replace the current customers or are merged into them. Rows that cannot
// be decoded are skipped and reported in the response.
//
// Example REST API call:
//
//	> curl http://localhost:8080/customers/import --request "POST" --form "file=@customers.xlsx"
func (s *Service) importCustomers(c *gin.Context) {
	if !s.importing.TryLock() {
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"message": "another import is in progress"})
		return
	}
	defer s.importing.Unlock()

	header, err := c.FormFile("file")
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"message": "missing file"})
		return
	}
	file, err := header.Open()
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"message": "unreadable file"})
		return
	}
	defer file.Close()

	rows, err := codec.ReadWorkbook(file)
	if err != nil {
		s.respondError(c, err)
		return
	}
	result := s.codec.DecodeSheet(rows)
	metrics.ObserveImport(len(result.Valid), len(result.Errors))
	rowErrors := toRowErrors(result.Errors)

	mode := "load"
	if s.config.MergeImports {
		mode = "merge"
	}
	if len(result.Valid) == 0 {
		metrics.ImportsTotal.WithLabelValues(mode, "rejected").Inc()
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"message": "no valid rows", "errors": rowErrors})
		return
	}

	response := api.ImportResponse{
		Mode:     mode,
		FileName: header.Filename,
		Imported: len(result.Valid),
		Errors:   rowErrors,
	}
	meta := model.Metadata{FileName: header.Filename}
	if s.config.MergeImports {
		merged, err := s.engine.Merge(c.Request.Context(), result.Valid, meta)
		if err != nil {
			metrics.ImportsTotal.WithLabelValues(mode, "failed").Inc()
			s.respondError(c, err)
			return
		}
		response.Inserted = merged.Inserted
		response.Updated = merged.Updated
	} else {
		if err := s.engine.Load(c.Request.Context(), result.Valid, meta); err != nil {
			metrics.ImportsTotal.WithLabelValues(mode, "failed").Inc()
			s.respondError(c, err)
			return
		}
		response.Inserted = len(result.Valid)
	}
	metrics.ImportsTotal.WithLabelValues(mode, "ok").Inc()
	s.updateQueueMetrics()

	response.Message = fmt.Sprintf("imported %d customers", response.Imported)
	if len(rowErrors) > 0 {
		response.Message += fmt.Sprintf(", skipped %d rows", len(rowErrors))
	}
	s.logger.Info("import finished",
		zap.String("file", header.Filename),
		zap.String("mode", mode),
		zap.Int("imported", response.Imported),
		zap.Int("skipped", len(rowErrors)))
	c.IndentedJSON(http.StatusCreated, response)
}

// startCall dials the customer whose ID matches the id parameter of the request URL. The customer
// then awaits the outcome of the call.
//
// Example REST API call:
//
//	> curl http://localhost:8080/customers/17/call --request "POST"
func (s *Service) startCall(c *gin.Context) {
	request, err := s.engine.StartCall(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	metrics.CallsStartedTotal.Inc()
	c.IndentedJSON(http.StatusOK, api.CallResponse{Customer: s.view(request.Customer), DialURI: request.DialURI})
}

// completeCall records the outcome of the call to the customer whose ID matches the id parameter
// of the request URL. The status is one of 'called_ok', 'called_unreachable' and
// 'called_wrong_number'; display labels are accepted as well.
//
// Example REST API call:
//
//	> curl http://localhost:8080/customers/17/outcome --request "POST" --include --header "Content-Type: application/json" --data '{"status": "called_ok", "note": "call back tomorrow"}'
func (s *Service) completeCall(c *gin.Context) {
	var outcome api.Outcome
	if err := c.BindJSON(&outcome); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"message": "invalid JSON"})
		return
	}
	status := parseOutcomeStatus(outcome.Status)
	customer, err := s.engine.CompleteCall(c.Request.Context(), c.Param("id"), status, outcome.Note)
	if err != nil {
		s.respondError(c, err)
		return
	}
	metrics.CallsCompletedTotal.WithLabelValues(status.String()).Inc()
	s.updateQueueMetrics()
	c.IndentedJSON(http.StatusOK, s.view(customer))
}

// parseOutcomeStatus accepts a status code or a free-text label. Anything else is StatusNone.
func parseOutcomeStatus(raw string) model.Status {
	if status, err := model.ParseStatus(raw); err == nil {
		return status
	}
	return normalize.ClassifyStatus(raw)
}

// cancelCall leaves the awaiting state without recording an outcome.
//
// Example REST API call:
//
//	> curl http://localhost:8080/calls/current --request "DELETE"
func (s *Service) cancelCall(c *gin.Context) {
	if err := s.engine.CancelCall(); err != nil {
		s.respondError(c, err)
		return
	}
	c.IndentedJSON(http.StatusOK, gin.H{"message": "call cancelled"})
}

// resetCustomers removes all customers and the saved list.
//
// Example REST API call:
//
//	> curl http://localhost:8080/customers --request "DELETE"
func (s *Service) resetCustomers(c *gin.Context) {
	if err := s.engine.Reset(c.Request.Context()); err != nil {
		s.respondError(c, err)
		return
	}
	s.updateQueueMetrics()
	c.IndentedJSON(http.StatusOK, gin.H{"message": "customer list cleared"})
}

// exportCustomers responds with a spreadsheet of all customers in display order. If the URL
// parameter 'clear' is 'true' the customer list is cleared once the spreadsheet has been built.
//
// REST API calls:
//
//	> curl http://localhost:8080/export --output export.xlsx
//	> curl "http://localhost:8080/export?clear=true" --output export.xlsx
func (s *Service) exportCustomers(c *gin.Context) {
	clearAfter := false
	if raw := c.Query("clear"); raw != "" {
		var err error
		clearAfter, err = strconv.ParseBool(raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"message": "invalid clear parameter"})
			return
		}
	}

	exported := s.composer.ExportAll(s.engine.Customers(""), s.engine.Now())
	var buf bytes.Buffer
	if err := exported.Write(&buf); err != nil {
		s.respondError(c, err)
		return
	}
	if clearAfter {
		if err := s.engine.Reset(c.Request.Context()); err != nil {
			s.respondError(c, err)
			return
		}
		s.updateQueueMetrics()
		s.logger.Info("customer list exported and cleared", zap.Int("customers", len(exported.Rows)))
	}
	sendWorkbook(c, exported.FileName, buf.Bytes())
}

// getTemplate responds with an empty import spreadsheet containing a few sample rows.
//
// Example REST API call:
//
//	> curl http://localhost:8080/template --output template.xlsx
func (s *Service) getTemplate(c *gin.Context) {
	template := s.composer.Template()
	var buf bytes.Buffer
	if err := template.Write(&buf); err != nil {
		s.respondError(c, err)
		return
	}
	sendWorkbook(c, template.FileName, buf.Bytes())
}

func sendWorkbook(c *gin.Context, fileName string, data []byte) {
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fileName))
	c.Data(http.StatusOK, xlsxContentType, data)
}

// respondError maps an error to an HTTP status and aborts the request with a JSON message.
func (s *Service) respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	var backendErr *apperrors.BackendError
	switch {
	case apperrors.IsValidation(err):
		status = http.StatusBadRequest
	case apperrors.IsNotFound(err):
		status = http.StatusNotFound
	case apperrors.IsInvalidState(err):
		status = http.StatusConflict
	case errors.As(err, &backendErr):
		status = http.StatusBadGateway
		metrics.BackendErrorsTotal.WithLabelValues(backendErr.Op).Inc()
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.AbortWithStatusJSON(status, gin.H{"message": err.Error()})
}

func (s *Service) updateQueueMetrics() {
	metrics.SetQueueSize(s.engine.Total(), s.engine.PendingCount())
}

func (s *Service) views(customers []model.Customer) []api.Customer {
	views := make([]api.Customer, len(customers))
	for i, customer := range customers {
		views[i] = s.view(customer)
	}
	return views
}

func (s *Service) view(customer model.Customer) api.Customer {
	view := api.Customer{
		ID:           customer.ID,
		Name:         customer.Name,
		Phone:        customer.Phone,
		PhoneDisplay: normalize.FormatPhoneForDisplay(customer.Phone),
		LastCall:     customer.LastCall,
		StatusLabel:  normalize.Label(customer.Status),
		StatusColor:  normalize.Color(customer.Status),
		StatusIcon:   normalize.Icon(customer.Status),
		Note:         customer.Note,
		Pending:      callqueue.IsPending(customer, s.engine.Now()),
		CreatedAt:    customer.CreatedAt,
	}
	if customer.Status.IsOutcome() {
		code := customer.Status.String()
		view.Status = &code
	}
	return view
}

func toRowErrors(issues []model.RowIssue) []api.RowError {
	rowErrors := make([]api.RowError, len(issues))
	for i, issue := range issues {
		rowErrors[i] = api.RowError{Row: issue.Row, Message: issue.Message}
	}
	return rowErrors
}
