package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"

	"billsync/internal/books"
	"billsync/internal/ingest"
	"billsync/internal/ledger"
	"billsync/internal/model"
	"billsync/internal/mw"
	"billsync/internal/service"
	"billsync/internal/worker"
)

const testJWTSecret = "test-secret"

const sampleCSV = `Bill No.,Vendor,Customer,Project,Amount,Bill Date,Invoice Date,Attachments
B1,Bolt Supply,Acme Corp,Roof Repair,100,2024-03-01,2024-03-05,receipt.pdf
B1,Bolt Supply,Acme Corp,Garage,50,2024-03-01,2024-03-05,
B2,Beta Supply,Acme Corp,Roof Repair,75,2024-03-02,2024-03-06,
`

// booksStub fakes the books API over HTTP: every find misses, every
// create succeeds.
type booksStub struct {
	mu          sync.Mutex
	entities    int
	bills       int
	invoices    int
	attachments int
}

func (s *booksStub) counts() (bills, invoices, attachments int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bills, s.invoices, s.attachments
}

func (s *booksStub) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/accounts/default-expense"):
			json.NewEncoder(w).Encode(map[string]string{"id": "acc-exp", "name": "Expenses"})
		case r.Method == http.MethodGet:
			w.WriteHeader(http.StatusNotFound)
		case strings.HasSuffix(r.URL.Path, "/bills"):
			s.bills++
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(map[string]string{"id": fmt.Sprintf("bill-%d", s.bills)})
		case strings.HasSuffix(r.URL.Path, "/invoices"):
			s.invoices++
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(map[string]string{"id": fmt.Sprintf("inv-%d", s.invoices)})
		case strings.HasSuffix(r.URL.Path, "/attachments"):
			s.attachments++
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(map[string]string{"id": fmt.Sprintf("att-%d", s.attachments)})
		default:
			s.entities++
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(map[string]string{"id": fmt.Sprintf("ent-%d", s.entities), "name": "created"})
		}
	}
}

type testApp struct {
	router   *chi.Mux
	batches  *BatchStore
	registry *worker.Registry
	stub     *booksStub
}

// newTestApp wires the full route tree against a stubbed books server.
// With startRunner false, queued jobs are never drained.
func newTestApp(t *testing.T, startRunner bool) *testApp {
	t.Helper()

	stub := &booksStub{}
	booksSrv := httptest.NewServer(stub.handler())
	t.Cleanup(booksSrv.Close)

	batches := NewBatchStore()
	orchestrator := service.NewOrchestrator(ledger.NewMemoryStore())
	registry := worker.NewRegistry()
	dial := func(cred books.Credential, env model.Environment) books.API {
		return books.NewRetrier(books.NewClient(booksSrv.URL, cred))
	}
	runner := worker.NewRunner(registry, orchestrator, dial)

	if startRunner {
		ctx, cancel := context.WithCancel(context.Background())
		t.Cleanup(cancel)
		go runner.Start(ctx)
	}

	profiles := map[string]ingest.Mapping{
		"default": {"billNumber": "Bill No.", "vendorName": "Vendor"},
	}

	r := chi.NewRouter()
	r.Get("/api/health", HealthHandler())
	r.Post("/api/batches", CreateBatchHandler(batches, profiles, model.DefaultSettings()))
	r.Post("/api/batches/{id}/files", AddFilesHandler(batches))
	r.Get("/api/batches/{id}", GetBatchHandler(batches))
	r.Post("/api/batches/{id}/dry-run", DryRunHandler(batches, orchestrator))
	r.Get("/api/jobs/{id}", GetJobHandler(registry))
	r.Group(func(pr chi.Router) {
		pr.Use(mw.CredentialMiddleware(testJWTSecret))
		pr.Post("/api/batches/{id}/execute", ExecuteBatchHandler(batches, runner))
	})

	return &testApp{router: r, batches: batches, registry: registry, stub: stub}
}

func (a *testApp) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func multipartBody(t *testing.T, fileField, fileName string, content []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	if fileName != "" {
		part, err := form.CreateFormFile(fileField, fileName)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := part.Write(content); err != nil {
			t.Fatalf("write form file: %v", err)
		}
	}
	for k, v := range fields {
		if err := form.WriteField(k, v); err != nil {
			t.Fatalf("write field %s: %v", k, err)
		}
	}
	if err := form.Close(); err != nil {
		t.Fatalf("close form: %v", err)
	}
	return &buf, form.FormDataContentType()
}

func (a *testApp) uploadCSV(t *testing.T, csv string, fields map[string]string) (*httptest.ResponseRecorder, batchResponse) {
	t.Helper()
	body, contentType := multipartBody(t, "file", "orders.csv", []byte(csv), fields)
	req := httptest.NewRequest(http.MethodPost, "/api/batches", body)
	req.Header.Set("Content-Type", contentType)
	rec := a.do(req)

	var resp batchResponse
	if rec.Code == http.StatusCreated {
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode batch response: %v", err)
		}
	}
	return rec, resp
}

func executeToken(t *testing.T) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"account_id":  "acct-1",
		"books_token": "books-tok",
	})
	signed, err := token.SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestCreateBatch(t *testing.T) {
	app := newTestApp(t, false)

	rec, resp := app.uploadCSV(t, sampleCSV, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	if resp.BatchID == "" {
		t.Error("response has no batch id")
	}
	if resp.RowCount != 3 {
		t.Errorf("RowCount = %d, want 3", resp.RowCount)
	}
	if resp.FileName != "orders.csv" {
		t.Errorf("FileName = %q, want orders.csv", resp.FileName)
	}
	// Without an explicit mapping or profile, headers are matched
	// automatically.
	if resp.Mapping["billNumber"] != "Bill No." || resp.Mapping["vendorName"] != "Vendor" {
		t.Errorf("Mapping = %v, want suggested headers", resp.Mapping)
	}
	if resp.Settings.DefaultCurrency != "USD" {
		t.Errorf("Settings = %+v, want the server defaults", resp.Settings)
	}
}

func TestCreateBatchSettingsOverride(t *testing.T) {
	app := newTestApp(t, false)

	rec, resp := app.uploadCSV(t, sampleCSV, map[string]string{
		"settings": `{"autoCreate":false,"defaultCurrency":"EUR"}`,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if resp.Settings.AutoCreate || resp.Settings.DefaultCurrency != "EUR" {
		t.Errorf("Settings = %+v, want the overridden values", resp.Settings)
	}
	// Untouched fields keep their defaults.
	if !resp.Settings.FromBillableExpenses {
		t.Error("FromBillableExpenses lost its default")
	}
}

func TestCreateBatchRejects(t *testing.T) {
	app := newTestApp(t, false)

	tests := []struct {
		name     string
		fileName string
		content  string
		fields   map[string]string
		want     int
	}{
		{
			name:     "unsupported extension",
			fileName: "orders.pdf",
			content:  "x",
			want:     http.StatusUnsupportedMediaType,
		},
		{
			name:     "unparseable csv",
			fileName: "orders.csv",
			content:  "a,\"b\nbroken",
			want:     http.StatusUnprocessableEntity,
		},
		{
			name:     "unknown profile",
			fileName: "orders.csv",
			content:  sampleCSV,
			fields:   map[string]string{"profile": "nope"},
			want:     http.StatusBadRequest,
		},
		{
			name:     "bad settings json",
			fileName: "orders.csv",
			content:  sampleCSV,
			fields:   map[string]string{"settings": "{"},
			want:     http.StatusBadRequest,
		},
		{
			name:     "bad environment",
			fileName: "orders.csv",
			content:  sampleCSV,
			fields:   map[string]string{"settings": `{"environment":"staging"}`},
			want:     http.StatusBadRequest,
		},
		{
			name:     "missing file field",
			fileName: "",
			want:     http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, contentType := multipartBody(t, "file", tt.fileName, []byte(tt.content), tt.fields)
			req := httptest.NewRequest(http.MethodPost, "/api/batches", body)
			req.Header.Set("Content-Type", contentType)

			if rec := app.do(req); rec.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestCreateBatchWithProfile(t *testing.T) {
	app := newTestApp(t, false)

	rec, resp := app.uploadCSV(t, sampleCSV, map[string]string{"profile": "default"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	// The profile mapping is used verbatim, not the suggestion.
	if len(resp.Mapping) != 2 {
		t.Errorf("Mapping = %v, want exactly the profile's two fields", resp.Mapping)
	}
}

func TestGetBatch(t *testing.T) {
	app := newTestApp(t, false)
	_, created := app.uploadCSV(t, sampleCSV, nil)

	rec := app.do(httptest.NewRequest(http.MethodGet, "/api/batches/"+created.BatchID, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got batchResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.BatchID != created.BatchID || got.RowCount != 3 {
		t.Errorf("got %+v, want the staged batch", got)
	}

	rec = app.do(httptest.NewRequest(http.MethodGet, "/api/batches/missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d for unknown batch, want 404", rec.Code)
	}
}

func TestAddFiles(t *testing.T) {
	app := newTestApp(t, false)
	_, created := app.uploadCSV(t, sampleCSV, nil)

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	part, _ := form.CreateFormFile("files", "receipt.pdf")
	part.Write([]byte("pdf-bytes"))
	form.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/batches/"+created.BatchID+"/files", &buf)
	req.Header.Set("Content-Type", form.FormDataContentType())
	rec := app.do(req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp map[string]int
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["fileCount"] != 1 {
		t.Errorf("fileCount = %d, want 1", resp["fileCount"])
	}

	batch, _ := app.batches.Get(created.BatchID)
	if string(batch.Files["receipt.pdf"]) != "pdf-bytes" {
		t.Errorf("staged file = %q, want pdf-bytes", batch.Files["receipt.pdf"])
	}
}

func TestDryRunEndpoint(t *testing.T) {
	app := newTestApp(t, false)
	_, created := app.uploadCSV(t, sampleCSV, nil)

	rec := app.do(httptest.NewRequest(http.MethodPost, "/api/batches/"+created.BatchID+"/dry-run", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Results []model.DryRunResult `json:"results"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Results) != 3 {
		t.Fatalf("got %d results, want 3", len(resp.Results))
	}
	plan := strings.Join(resp.Results[0].Actions, "\n")
	if !strings.Contains(plan, "Create Bill #B1 with 2 line item(s)") {
		t.Errorf("dry-run plan missing the bill action:\n%s", plan)
	}
	// receipt.pdf was never staged, so the plan warns about it.
	if len(resp.Results[0].Warnings) != 1 || !strings.Contains(resp.Results[0].Warnings[0], "receipt.pdf") {
		t.Errorf("Warnings = %v, want a missing-file warning", resp.Results[0].Warnings)
	}

	// Nothing reached the books system.
	if bills, invoices, attachments := app.stub.counts(); bills+invoices+attachments != 0 {
		t.Errorf("dry run created documents: %d/%d/%d", bills, invoices, attachments)
	}
}

func TestExecuteRequiresToken(t *testing.T) {
	app := newTestApp(t, false)
	_, created := app.uploadCSV(t, sampleCSV, nil)

	rec := app.do(httptest.NewRequest(http.MethodPost, "/api/batches/"+created.BatchID+"/execute", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestExecuteConflictsWhileQueued(t *testing.T) {
	app := newTestApp(t, false) // runner not started: the job stays queued
	_, created := app.uploadCSV(t, sampleCSV, nil)
	token := executeToken(t)

	req := httptest.NewRequest(http.MethodPost, "/api/batches/"+created.BatchID+"/execute", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	if rec := app.do(req); rec.Code != http.StatusAccepted {
		t.Fatalf("first execute status = %d, body %s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodPost, "/api/batches/"+created.BatchID+"/execute", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	if rec := app.do(req); rec.Code != http.StatusConflict {
		t.Errorf("second execute status = %d, want 409", rec.Code)
	}
}

func TestExecuteBatchEndToEnd(t *testing.T) {
	app := newTestApp(t, true)
	_, created := app.uploadCSV(t, sampleCSV, nil)

	// Stage the attachment the first row references.
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	part, _ := form.CreateFormFile("files", "receipt.pdf")
	part.Write([]byte("pdf-bytes"))
	form.Close()
	req := httptest.NewRequest(http.MethodPost, "/api/batches/"+created.BatchID+"/files", &buf)
	req.Header.Set("Content-Type", form.FormDataContentType())
	if rec := app.do(req); rec.Code != http.StatusOK {
		t.Fatalf("stage files: status = %d", rec.Code)
	}

	token := executeToken(t)
	req = httptest.NewRequest(http.MethodPost, "/api/batches/"+created.BatchID+"/execute", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := app.do(req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("execute status = %d, body %s", rec.Code, rec.Body.String())
	}
	var accepted map[string]string
	json.Unmarshal(rec.Body.Bytes(), &accepted)
	jobID := accepted["jobId"]
	if jobID == "" {
		t.Fatalf("no jobId in %s", rec.Body.String())
	}

	job := app.pollJob(t, jobID, string(worker.JobCompleted))
	if job.Processed != 3 || job.Total != 3 {
		t.Errorf("progress = %d/%d, want 3/3", job.Processed, job.Total)
	}
	if len(job.Results) != 3 {
		t.Fatalf("got %d results, want 3", len(job.Results))
	}
	for i, res := range job.Results {
		if res.Status != model.StatusSuccess {
			t.Errorf("results[%d] = %q (error %q), want success", i, res.Status, res.Error)
		}
	}
	// Two rows of B1 share one bill; B2 gets its own.
	if job.Results[0].BillID != job.Results[1].BillID {
		t.Error("B1 rows report different bills")
	}
	if job.Results[2].BillID == job.Results[0].BillID {
		t.Error("B2 row reports the B1 bill")
	}
	if len(job.Results[0].AttachmentResults) != 1 || job.Results[0].AttachmentResults[0].Status != model.StatusSuccess {
		t.Errorf("attachments = %+v, want one uploaded file", job.Results[0].AttachmentResults)
	}

	bills, invoices, attachments := app.stub.counts()
	if bills != 2 || invoices != 2 || attachments != 1 {
		t.Errorf("books system saw %d bills, %d invoices, %d attachments; want 2/2/1", bills, invoices, attachments)
	}

	// Replaying the same batch books nothing new.
	req = httptest.NewRequest(http.MethodPost, "/api/batches/"+created.BatchID+"/execute", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = app.do(req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("second execute status = %d", rec.Code)
	}
	json.Unmarshal(rec.Body.Bytes(), &accepted)

	replay := app.pollJob(t, accepted["jobId"], string(worker.JobCompleted))
	for i, res := range replay.Results {
		if res.Status != model.StatusSkipped {
			t.Errorf("replay results[%d] = %q, want skipped", i, res.Status)
		}
	}
	if bills, invoices, _ := app.stub.counts(); bills != 2 || invoices != 2 {
		t.Errorf("replay created documents: %d bills, %d invoices", bills, invoices)
	}
}

type jobView struct {
	ID        string                   `json:"id"`
	Status    string                   `json:"status"`
	Processed int                      `json:"processed"`
	Total     int                      `json:"total"`
	Results   []model.ProcessingResult `json:"results"`
	Error     string                   `json:"error"`
}

func (a *testApp) pollJob(t *testing.T, jobID, want string) jobView {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	var job jobView
	for time.Now().Before(deadline) {
		rec := a.do(httptest.NewRequest(http.MethodGet, "/api/jobs/"+jobID, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("job poll status = %d", rec.Code)
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &job); err != nil {
			t.Fatalf("decode job: %v", err)
		}
		if job.Status == want {
			return job
		}
		if job.Status == string(worker.JobFailed) && want != string(worker.JobFailed) {
			t.Fatalf("job failed: %s", job.Error)
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s never reached %s, last state %+v", jobID, want, job)
	return jobView{}
}

func TestGetJobNotFound(t *testing.T) {
	app := newTestApp(t, false)

	rec := app.do(httptest.NewRequest(http.MethodGet, "/api/jobs/missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	app := newTestApp(t, false)

	rec := app.do(httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp map[string]string
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["status"] != "ok" {
		t.Errorf("body = %s, want status ok", rec.Body.String())
	}
}
