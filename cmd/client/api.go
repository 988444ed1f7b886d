package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	api "gitlab.com/dirk.krummacker/calllist-service/pkg/model"
)

// apiClient talks to a running call list service.
type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient(baseURL string) *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// apiError is a non-2xx answer of the service.
type apiError struct {
	StatusCode int
	Message    string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), e.Message)
}

func (c *apiClient) customers(query string) ([]api.Customer, error) {
	path := "/customers"
	if query != "" {
		path += "?q=" + url.QueryEscape(query)
	}
	var customers []api.Customer
	err := c.doJSON(http.MethodGet, path, nil, &customers)
	return customers, err
}

func (c *apiClient) pending() ([]api.Customer, error) {
	var customers []api.Customer
	err := c.doJSON(http.MethodGet, "/customers/pending", nil, &customers)
	return customers, err
}

func (c *apiClient) summary() (api.Summary, error) {
	var summary api.Summary
	err := c.doJSON(http.MethodGet, "/summary", nil, &summary)
	return summary, err
}

func (c *apiClient) startCall(id string) (api.CallResponse, error) {
	var response api.CallResponse
	err := c.doJSON(http.MethodPost, "/customers/"+url.PathEscape(id)+"/call", nil, &response)
	return response, err
}

func (c *apiClient) completeCall(id string, outcome api.Outcome) (api.Customer, error) {
	var customer api.Customer
	err := c.doJSON(http.MethodPost, "/customers/"+url.PathEscape(id)+"/outcome", outcome, &customer)
	return customer, err
}

func (c *apiClient) cancelCall() error {
	return c.doJSON(http.MethodDelete, "/calls/current", nil, nil)
}

func (c *apiClient) reset() error {
	return c.doJSON(http.MethodDelete, "/customers", nil, nil)
}

// importFile uploads a spreadsheet.
func (c *apiClient) importFile(path string) (api.ImportResponse, error) {
	var response api.ImportResponse
	data, err := os.ReadFile(path) // nosemgrep
	if err != nil {
		return response, err
	}
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return response, err
	}
	if _, err := part.Write(data); err != nil {
		return response, err
	}
	if err := writer.Close(); err != nil {
		return response, err
	}

	request, err := http.NewRequest(http.MethodPost, c.baseURL+"/customers/import", &body)
	if err != nil {
		return response, err
	}
	request.Header.Set("Content-Type", writer.FormDataContentType())
	err = c.send(request, &response)
	return response, err
}

// download fetches a spreadsheet and returns its content and the file name suggested by the
// service.
func (c *apiClient) download(path string) ([]byte, string, error) {
	res, err := c.http.Get(c.baseURL + path)
	if err != nil {
		return nil, "", err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, "", readError(res)
	}
	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, "", err
	}
	return data, attachmentName(res.Header.Get("Content-Disposition")), nil
}

func attachmentName(disposition string) string {
	_, name, found := strings.Cut(disposition, "filename=")
	if !found {
		return ""
	}
	return strings.Trim(name, `"`)
}

func (c *apiClient) doJSON(method, path string, in any, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	request, err := http.NewRequest(method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	return c.send(request, out)
}

func (c *apiClient) send(request *http.Request, out any) error {
	res, err := c.http.Do(request)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return readError(res)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(res.Body).Decode(out)
}

func readError(res *http.Response) error {
	var body struct {
		Message string         `json:"message"`
		Errors  []api.RowError `json:"errors"`
	}
	_ = json.NewDecoder(res.Body).Decode(&body)
	message := body.Message
	for _, rowErr := range body.Errors {
		message += fmt.Sprintf("\n  row %d: %s", rowErr.Row, rowErr.Message)
	}
	return &apiError{StatusCode: res.StatusCode, Message: message}
}
