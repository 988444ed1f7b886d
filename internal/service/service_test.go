package service

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/dirk.krummacker/calllist-service/internal/callqueue"
	"gitlab.com/dirk.krummacker/calllist-service/internal/codec"
	"gitlab.com/dirk.krummacker/calllist-service/internal/export"
	"gitlab.com/dirk.krummacker/calllist-service/internal/store"
	"gitlab.com/dirk.krummacker/calllist-service/internal/telephony"
	api "gitlab.com/dirk.krummacker/calllist-service/pkg/model"
)

var fixedNow = time.Date(2025, time.November, 4, 10, 30, 0, 0, time.UTC)

// createMockObjects builds a mock database handle and a mock object for defining our expected SQL
// calls.
func createMockObjects(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	return db, mock
}

// initializeCallListService sets up the service on top of the given store and returns it
// together with the gin engine against which requests can be executed.
func initializeCallListService(st store.Store, merge bool) (*Service, *gin.Engine, *[]string) {
	clock := func() time.Time { return fixedNow }
	dialed := &[]string{}
	opts := []callqueue.Option{
		callqueue.WithClock(clock),
		callqueue.WithLocation(time.UTC),
		callqueue.WithDialer(telephony.DialerFunc(func(_ context.Context, uri string) { *dialed = append(*dialed, uri) })),
	}
	if merge {
		opts = append(opts, callqueue.WithOrdering(callqueue.LastCallOrder))
	}
	engine := callqueue.New(st, opts...)
	c := codec.New(time.UTC, clock)
	svc := New(engine, c, export.NewComposer(c, ""), Config{MergeImports: merge}, nil)
	gin.SetMode(gin.ReleaseMode)
	return svc, svc.SetupHttpRouter(), dialed
}

// initializeLocalService uses a throwaway snapshot database.
func initializeLocalService(t *testing.T) (*Service, *gin.Engine, *[]string) {
	st, err := store.OpenSQLite(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return initializeCallListService(st, false)
}

// runTest executes the HTTP request with the specified arguments and returns the response.
func runTest(router *gin.Engine, method string, url string, body *strings.Reader) *httptest.ResponseRecorder {
	recorder := httptest.NewRecorder()
	if body == nil {
		body = strings.NewReader("")
	}
	request, _ := http.NewRequest(method, url, body)
	if body.Len() > 0 {
		request.Header.Set("Content-Type", "application/json")
	}
	router.ServeHTTP(recorder, request)
	return recorder
}

// upload posts the data as the 'file' field of a multipart form.
func upload(t *testing.T, router *gin.Engine, fileName string, data []byte) *httptest.ResponseRecorder {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", fileName)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	recorder := httptest.NewRecorder()
	request, _ := http.NewRequest("POST", "/customers/import", &body)
	request.Header.Set("Content-Type", writer.FormDataContentType())
	router.ServeHTTP(recorder, request)
	return recorder
}

// workbook builds an xlsx file with the given rows.
func workbook(t *testing.T, rows ...codec.Row) []byte {
	var buf bytes.Buffer
	require.NoError(t, codec.WriteWorkbook(&buf, rows))
	return buf.Bytes()
}

func row(id, name, phone string) codec.Row {
	return codec.Row{codec.ColumnID: id, codec.ColumnName: name, codec.ColumnPhone: phone}
}

func decode[T any](t *testing.T, recorder *httptest.ResponseRecorder) T {
	var value T
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &value))
	return value
}

func message(t *testing.T, recorder *httptest.ResponseRecorder) string {
	return decode[map[string]any](t, recorder)["message"].(string)
}

// TestImportAndList uploads a sheet with one bad row. It expects the good rows to be imported and
// the bad one to be reported with its row number.
func TestImportAndList(t *testing.T) {
	_, router, _ := initializeLocalService(t)

	recorder := upload(t, router, "list.xlsx", workbook(t,
		row("1", "Nguyễn Văn A", "0901234567"),
		row("2", "Trần Thị B", "091.234.5678"),
		row("3", "", "0923456789"),
		row("4", "Lê Văn C", "0923456789"),
		row("5", "Phạm Văn D", "09345678901"),
	))
	require.Equal(t, http.StatusCreated, recorder.Code, recorder.Body.String())
	response := decode[api.ImportResponse](t, recorder)
	assert.Equal(t, "load", response.Mode)
	assert.Equal(t, "list.xlsx", response.FileName)
	assert.Equal(t, 4, response.Imported)
	assert.Equal(t, []api.RowError{{Row: 4, Message: "missing name"}}, response.Errors)

	recorder = runTest(router, "GET", "/customers", nil)
	assert.Equal(t, http.StatusOK, recorder.Code)
	customers := decode[[]api.Customer](t, recorder)
	require.Len(t, customers, 4)
	assert.Equal(t, "1", customers[0].ID)
	assert.Equal(t, "0912345678", customers[1].Phone)
	assert.Equal(t, "091-234-5678", customers[1].PhoneDisplay)
	assert.Equal(t, "0934-567-8901", customers[3].PhoneDisplay)
	assert.Nil(t, customers[0].Status)
	assert.Equal(t, "Chưa gọi", customers[0].StatusLabel)
	assert.True(t, customers[0].Pending)

	recorder = runTest(router, "GET", "/summary", nil)
	summary := decode[api.Summary](t, recorder)
	assert.Equal(t, 4, summary.Total)
	assert.Equal(t, 4, summary.Pending)
	assert.Equal(t, "ACTIVE", summary.State)
	assert.Equal(t, "list.xlsx", summary.FileName)
	assert.Nil(t, summary.Awaiting)
}

func TestSearchCustomers(t *testing.T) {
	_, router, _ := initializeLocalService(t)
	upload(t, router, "list.xlsx", workbook(t,
		row("1", "Nguyễn Văn A", "0901234567"),
		row("2", "Trần Thị B", "0912345678"),
	))

	customers := decode[[]api.Customer](t, runTest(router, "GET", "/customers?q=tr%E1%BA%A7n", nil))
	require.Len(t, customers, 1)
	assert.Equal(t, "2", customers[0].ID)

	customers = decode[[]api.Customer](t, runTest(router, "GET", "/customers?q=0901", nil))
	require.Len(t, customers, 1)
	assert.Equal(t, "1", customers[0].ID)

	customers = decode[[]api.Customer](t, runTest(router, "GET", "/customers?q=nobody", nil))
	assert.Empty(t, customers)
}

func TestImportNoValidRows(t *testing.T) {
	_, router, _ := initializeLocalService(t)

	recorder := upload(t, router, "bad.xlsx", workbook(t, row("1", "An", "123"), row("2", "", "0901234567")))
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	body := decode[map[string]any](t, recorder)
	assert.Equal(t, "no valid rows", body["message"])
	assert.Len(t, body["errors"], 2)

	summary := decode[api.Summary](t, runTest(router, "GET", "/summary", nil))
	assert.Equal(t, "EMPTY", summary.State)
}

func TestImportMissingFile(t *testing.T) {
	_, router, _ := initializeLocalService(t)
	recorder := runTest(router, "POST", "/customers/import", nil)
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.Equal(t, "missing file", message(t, recorder))
}

func TestImportNotASpreadsheet(t *testing.T) {
	_, router, _ := initializeLocalService(t)
	recorder := upload(t, router, "notes.txt", []byte("hello"))
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestImportWhileImportRunning(t *testing.T) {
	svc, router, _ := initializeLocalService(t)
	svc.importing.Lock()
	defer svc.importing.Unlock()

	recorder := upload(t, router, "list.xlsx", workbook(t, row("1", "An", "0901234567")))
	assert.Equal(t, http.StatusConflict, recorder.Code)
}

// TestCallFlow starts and completes a call and checks the state transitions on the way.
func TestCallFlow(t *testing.T) {
	_, router, dialed := initializeLocalService(t)
	upload(t, router, "list.xlsx", workbook(t, row("1", "An", "0901234567")))

	recorder := runTest(router, "POST", "/customers/1/outcome", strings.NewReader(`{"status": "called_ok"}`))
	assert.Equal(t, http.StatusConflict, recorder.Code)

	recorder = runTest(router, "POST", "/customers/1/call", nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	call := decode[api.CallResponse](t, recorder)
	assert.Equal(t, "tel:090-123-4567", call.DialURI)
	assert.Equal(t, []string{"tel:090-123-4567"}, *dialed)

	summary := decode[api.Summary](t, runTest(router, "GET", "/summary", nil))
	require.NotNil(t, summary.Awaiting)
	assert.Equal(t, "1", summary.Awaiting.ID)

	recorder = runTest(router, "POST", "/customers/1/outcome", strings.NewReader(`{"status": "", "note": "x"}`))
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.Equal(t, "choose a status", message(t, recorder))

	recorder = runTest(router, "POST", "/customers/1/outcome", strings.NewReader(`{"status": "Gọi được", "note": "hẹn gọi lại"}`))
	require.Equal(t, http.StatusOK, recorder.Code)
	customer := decode[api.Customer](t, recorder)
	require.NotNil(t, customer.Status)
	assert.Equal(t, "called_ok", *customer.Status)
	assert.Equal(t, "hẹn gọi lại", customer.Note)
	assert.Equal(t, "#22c55e", customer.StatusColor)
	assert.False(t, customer.Pending)
	require.NotNil(t, customer.LastCall)
	assert.True(t, fixedNow.Equal(*customer.LastCall))

	summary = decode[api.Summary](t, runTest(router, "GET", "/summary", nil))
	assert.Equal(t, "SESSION_COMPLETE", summary.State)
	assert.True(t, summary.SessionComplete)
	assert.Equal(t, 1, summary.Completed)

	pending := decode[[]api.Customer](t, runTest(router, "GET", "/customers/pending", nil))
	assert.Empty(t, pending)
}

func TestStartCallUnknownCustomer(t *testing.T) {
	_, router, _ := initializeLocalService(t)
	upload(t, router, "list.xlsx", workbook(t, row("1", "An", "0901234567")))

	recorder := runTest(router, "POST", "/customers/99/call", nil)
	assert.Equal(t, http.StatusNotFound, recorder.Code)
}

func TestSecondCallWhileAwaiting(t *testing.T) {
	_, router, _ := initializeLocalService(t)
	upload(t, router, "list.xlsx", workbook(t, row("1", "An", "0901234567"), row("2", "Bình", "0912345678")))

	assert.Equal(t, http.StatusOK, runTest(router, "POST", "/customers/1/call", nil).Code)
	assert.Equal(t, http.StatusConflict, runTest(router, "POST", "/customers/2/call", nil).Code)
}

func TestCancelCall(t *testing.T) {
	_, router, _ := initializeLocalService(t)
	upload(t, router, "list.xlsx", workbook(t, row("1", "An", "0901234567")))

	assert.Equal(t, http.StatusConflict, runTest(router, "DELETE", "/calls/current", nil).Code)
	runTest(router, "POST", "/customers/1/call", nil)

	recorder := runTest(router, "DELETE", "/calls/current", nil)
	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "call cancelled", message(t, recorder))

	summary := decode[api.Summary](t, runTest(router, "GET", "/summary", nil))
	assert.Nil(t, summary.Awaiting)
	assert.Equal(t, 1, summary.Pending)
}

func TestCompleteCallInvalidJSON(t *testing.T) {
	_, router, _ := initializeLocalService(t)
	recorder := runTest(router, "POST", "/customers/1/outcome", strings.NewReader(`{"status": `))
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.Equal(t, "invalid JSON", message(t, recorder))
}

// TestExport downloads the export twice: once without side effects and once clearing the list.
func TestExport(t *testing.T) {
	_, router, _ := initializeLocalService(t)
	upload(t, router, "list.xlsx", workbook(t, row("1", "An", "0901234567"), row("2", "Bình", "0912345678")))

	recorder := runTest(router, "GET", "/export", nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, xlsxContentType, recorder.Header().Get("Content-Type"))
	assert.Contains(t, recorder.Header().Get("Content-Disposition"), "CallToDie_Export_2025-11-04.xlsx")
	rows, err := codec.ReadWorkbook(bytes.NewReader(recorder.Body.Bytes()))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "An", rows[0][codec.ColumnName])
	assert.Equal(t, "-", rows[0][codec.ColumnLastCall])

	assert.Equal(t, 2, decode[api.Summary](t, runTest(router, "GET", "/summary", nil)).Total)

	assert.Equal(t, http.StatusBadRequest, runTest(router, "GET", "/export?clear=maybe", nil).Code)

	recorder = runTest(router, "GET", "/export?clear=true", nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	rows, err = codec.ReadWorkbook(bytes.NewReader(recorder.Body.Bytes()))
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	assert.Equal(t, "EMPTY", decode[api.Summary](t, runTest(router, "GET", "/summary", nil)).State)
}

func TestTemplate(t *testing.T) {
	_, router, _ := initializeLocalService(t)
	recorder := runTest(router, "GET", "/template", nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Contains(t, recorder.Header().Get("Content-Disposition"), "CallToDie_Template.xlsx")

	// the template itself is a valid import
	recorder = upload(t, router, "CallToDie_Template.xlsx", recorder.Body.Bytes())
	assert.Equal(t, http.StatusCreated, recorder.Code)
	assert.Equal(t, 3, decode[api.ImportResponse](t, recorder).Imported)
}

func TestReset(t *testing.T) {
	_, router, _ := initializeLocalService(t)
	upload(t, router, "list.xlsx", workbook(t, row("1", "An", "0901234567")))

	recorder := runTest(router, "DELETE", "/customers", nil)
	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "customer list cleared", message(t, recorder))
	assert.Empty(t, decode[[]api.Customer](t, runTest(router, "GET", "/customers", nil)))
}

func TestMetricsEndpoint(t *testing.T) {
	_, router, _ := initializeLocalService(t)
	upload(t, router, "list.xlsx", workbook(t, row("1", "An", "0901234567")))
	runTest(router, "POST", "/customers/1/call", nil)

	recorder := runTest(router, "GET", "/metrics", nil)
	assert.Equal(t, http.StatusOK, recorder.Code)
	body, _ := io.ReadAll(recorder.Body)
	assert.Contains(t, string(body), "calllist_calls_started_total")
	assert.Contains(t, string(body), "calllist_imported_rows_total")
}

// TestRemoteImportMerge imports into the customer table twice. It expects inserts the first time
// and updates the second time, then a single row update for the call outcome.
func TestRemoteImportMerge(t *testing.T) {
	db, mock := createMockObjects(t)
	defer db.Close()

	mock.ExpectPrepare("UPDATE customers")
	st, err := store.NewMySQLStore(sqlx.NewDb(db, "mysql"), nil)
	require.NoError(t, err)
	_, router, _ := initializeCallListService(st, true)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO customers").
		WithArgs("1", "An", "0901234567", nil, nil, "", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO customers").
		WithArgs("2", "Bình", "0912345678", nil, nil, "", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO call_list_meta").
		WithArgs("list.xlsx", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	recorder := upload(t, router, "list.xlsx", workbook(t, row("1", "An", "0901234567"), row("2", "Bình", "0912345678")))
	require.Equal(t, http.StatusCreated, recorder.Code, recorder.Body.String())
	response := decode[api.ImportResponse](t, recorder)
	assert.Equal(t, "merge", response.Mode)
	assert.Equal(t, 2, response.Inserted)
	assert.Equal(t, 0, response.Updated)

	// never called customers are listed by descending id
	customers := decode[[]api.Customer](t, runTest(router, "GET", "/customers", nil))
	require.Len(t, customers, 2)
	assert.Equal(t, "2", customers[0].ID)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE customers").
		WithArgs("An Nguyễn", "0901234567", nil, nil, "", "1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE customers").
		WithArgs("Bình", "0912345678", nil, nil, "", "2").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO call_list_meta").
		WithArgs("list2.xlsx", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	recorder = upload(t, router, "list2.xlsx", workbook(t, row("1", "An Nguyễn", "0901234567"), row("2", "Bình", "0912345678")))
	require.Equal(t, http.StatusCreated, recorder.Code, recorder.Body.String())
	response = decode[api.ImportResponse](t, recorder)
	assert.Equal(t, 0, response.Inserted)
	assert.Equal(t, 2, response.Updated)

	mock.ExpectExec("UPDATE customers").
		WithArgs("An Nguyễn", "0901234567", sqlmock.AnyArg(), "called_wrong_number", "", "1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.Equal(t, http.StatusOK, runTest(router, "POST", "/customers/1/call", nil).Code)
	recorder = runTest(router, "POST", "/customers/1/outcome", strings.NewReader(`{"status": "called_wrong_number"}`))
	require.Equal(t, http.StatusOK, recorder.Code, recorder.Body.String())

	customers = decode[[]api.Customer](t, runTest(router, "GET", "/customers", nil))
	assert.Equal(t, "1", customers[1].ID)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

// TestRemoteBackendFailure expects a 502 and an unchanged queue when the database refuses the write.
func TestRemoteBackendFailure(t *testing.T) {
	db, mock := createMockObjects(t)
	defer db.Close()

	mock.ExpectPrepare("UPDATE customers")
	st, err := store.NewMySQLStore(sqlx.NewDb(db, "mysql"), nil)
	require.NoError(t, err)
	_, router, _ := initializeCallListService(st, true)

	mock.ExpectBegin().WillReturnError(errors.New("db down"))

	recorder := upload(t, router, "list.xlsx", workbook(t, row("1", "An", "0901234567")))
	assert.Equal(t, http.StatusBadGateway, recorder.Code)
	assert.Contains(t, message(t, recorder), "db down")
	assert.Equal(t, "EMPTY", decode[api.Summary](t, runTest(router, "GET", "/summary", nil)).State)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}
