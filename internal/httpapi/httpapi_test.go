package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fpang/page-restyle/internal/auth"
	"github.com/fpang/page-restyle/internal/compositor"
	"github.com/fpang/page-restyle/internal/metrics"
	"github.com/fpang/page-restyle/internal/restyle"
	"github.com/fpang/page-restyle/internal/store"
)

func TestMain(m *testing.M) {
	metrics.SetOutput(nil)
	m.Run()
}

// --- Fakes ---

type fakeRunner struct {
	jobs []restyle.Job
	// errDuring is the job context's error observed while Run executes.
	errDuring error
}

func (f *fakeRunner) Run(ctx context.Context, job restyle.Job, sink restyle.Sink) (*store.RestyleJob, error) {
	f.jobs = append(f.jobs, job)
	f.errDuring = ctx.Err()
	sink.Emit(restyle.CompleteEvent{})
	return &store.RestyleJob{ID: job.ID}, nil
}

type echoRestyler struct{}

func (echoRestyler) Restyle(_ context.Context, call restyle.Call) (*compositor.Image, error) {
	img := call.Segment
	return &img, nil
}

type mapFetcher map[string][]byte

func (m mapFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	data, ok := m[url]
	if !ok {
		return nil, fmt.Errorf("GET %s: 404", url)
	}
	return data, nil
}

type nopUploader struct{}

func (nopUploader) Upload(_ context.Context, key string, _ []byte, _ string) (string, error) {
	return "https://cdn.test/" + key, nil
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewNRGBA(image.Rect(0, 0, w, h))); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

type fixture struct {
	store   *store.MemoryStore
	runner  Runner
	fake    *fakeRunner
	handler http.Handler
}

// newFixture builds a server over a MemoryStore where "alice" owns page-1
// and holds an active entitlement with quota units.
func newFixture(t *testing.T, quota int, useFakeRunner bool) *fixture {
	t.Helper()
	ctx := context.Background()
	ms := store.NewMemoryStore()
	fetch := mapFetcher{}
	var sections []store.Section
	for i, h := range []int{120, 160} {
		url := fmt.Sprintf("https://img.test/s%d.png", i+1)
		fetch[url] = pngBytes(t, 200, h)
		sections = append(sections, store.Section{
			ID:      fmt.Sprintf("s%d", i+1),
			Order:   i,
			Desktop: &store.ImageRef{ID: int64(10 + i), URL: url, Width: 200, Height: h},
		})
	}
	if err := ms.PutPage(ctx, &store.Page{ID: "page-1", OwnerID: "alice", Sections: sections}); err != nil {
		t.Fatal(err)
	}
	if err := ms.PutEntitlement(ctx, &store.Entitlement{UserID: "alice", Feature: store.FeatureRestyle, Active: true, Remaining: quota}); err != nil {
		t.Fatal(err)
	}

	f := &fixture{store: ms, fake: &fakeRunner{}}
	if useFakeRunner {
		f.runner = f.fake
	} else {
		f.runner = restyle.New(restyle.Config{Store: ms, Fetcher: fetch, Uploader: nopUploader{}})
	}
	srv := New(Config{
		Store:  ms,
		Runner: f.runner,
		Keys:   auth.NewKeyResolver(ms, "server-key"),
		NewRestyler: func(_ context.Context, apiKey string) (restyle.Restyler, error) {
			if apiKey == "" {
				return nil, errors.New("no key")
			}
			return echoRestyler{}, nil
		},
	})
	f.handler = srv.Routes()
	return f
}

const validBody = `{"editOptions":{"color":{"enabled":true,"scheme":"ocean"}}}`

func doRequest(h http.Handler, method, path, user, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if user != "" {
		req.Header.Set(auth.UserHeader, user)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeFrames(t *testing.T, body string) []map[string]interface{} {
	t.Helper()
	var frames []map[string]interface{}
	for _, chunk := range strings.Split(body, "\n\n") {
		if chunk == "" {
			continue
		}
		if !strings.HasPrefix(chunk, "data: ") {
			t.Fatalf("frame without data prefix: %q", chunk)
		}
		var m map[string]interface{}
		if err := json.Unmarshal([]byte(strings.TrimPrefix(chunk, "data: ")), &m); err != nil {
			t.Fatalf("frame is not JSON: %v", err)
		}
		frames = append(frames, m)
	}
	return frames
}

// --- Tests ---

func TestHealth(t *testing.T) {
	f := newFixture(t, 1, true)
	rec := doRequest(f.handler, http.MethodGet, "/health", "", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("health = %d %s", rec.Code, rec.Body.String())
	}
}

func TestRestyleStreamsJob(t *testing.T) {
	f := newFixture(t, 3, false)
	rec := doRequest(f.handler, http.MethodPost, "/pages/page-1/restyle", "alice", validBody)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}
	jobID := rec.Header().Get(JobIDHeader)
	if !strings.HasPrefix(jobID, "rst-") {
		t.Errorf("job id header = %q", jobID)
	}

	frames := decodeFrames(t, rec.Body.String())
	last := frames[len(frames)-1]
	if last["type"] != restyle.EventComplete {
		t.Fatalf("last frame = %v", last)
	}
	if last["updatedCount"].(float64) != 2 || last["totalCount"].(float64) != 2 {
		t.Errorf("complete = %v", last)
	}
	for _, fr := range frames[:len(frames)-1] {
		if fr["type"] != restyle.EventProgress {
			t.Errorf("unexpected frame before complete: %v", fr)
		}
	}

	ent, _ := f.store.GetEntitlement(context.Background(), "alice", store.FeatureRestyle)
	if ent.Remaining != 2 {
		t.Errorf("remaining quota = %d, want 2", ent.Remaining)
	}

	job := doRequest(f.handler, http.MethodGet, "/restyle-jobs/"+jobID, "alice", "")
	if job.Code != http.StatusOK {
		t.Fatalf("job status = %d", job.Code)
	}
	var got store.RestyleJob
	if err := json.Unmarshal(job.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.Status != store.JobStatusComplete || got.UpdatedCount != 2 {
		t.Errorf("job record = %+v", got)
	}
}

func TestRestyleForeignPageStreamsError(t *testing.T) {
	f := newFixture(t, 1, false)
	ctx := context.Background()
	f.store.PutEntitlement(ctx, &store.Entitlement{UserID: "mallory", Feature: store.FeatureRestyle, Active: true, Remaining: 1})

	rec := doRequest(f.handler, http.MethodPost, "/pages/page-1/restyle", "mallory", validBody)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	frames := decodeFrames(t, rec.Body.String())
	if len(frames) != 1 || frames[0]["type"] != restyle.EventError {
		t.Errorf("frames = %v, want one error event", frames)
	}
}

func TestRestyleRejections(t *testing.T) {
	tests := []struct {
		name   string
		user   string
		body   string
		setup  func(*store.MemoryStore)
		keys   KeyResolver
		status int
	}{
		{name: "no identity", user: "", body: validBody, status: http.StatusUnauthorized},
		{name: "malformed body", user: "alice", body: `{"editOptions":`, status: http.StatusBadRequest},
		{name: "no edit option", user: "alice", body: `{"editOptions":{}}`, status: http.StatusBadRequest},
		{name: "no api key", user: "alice", body: validBody, keys: auth.NewKeyResolver(nil, ""), status: http.StatusForbidden},
		{
			name: "no entitlement", user: "bob", body: validBody, status: http.StatusPaymentRequired,
		},
		{
			name: "inactive entitlement", user: "alice", body: validBody, status: http.StatusPaymentRequired,
			setup: func(ms *store.MemoryStore) {
				ms.PutEntitlement(context.Background(), &store.Entitlement{UserID: "alice", Feature: store.FeatureRestyle, Remaining: 5})
			},
		},
		{
			name: "suspended", user: "alice", body: validBody, status: http.StatusForbidden,
			setup: func(ms *store.MemoryStore) {
				ms.PutEntitlement(context.Background(), &store.Entitlement{UserID: "alice", Feature: store.FeatureRestyle, Active: true, Suspended: true, Remaining: 5})
			},
		},
		{
			name: "quota exhausted", user: "alice", body: validBody, status: http.StatusTooManyRequests,
			setup: func(ms *store.MemoryStore) {
				ms.PutEntitlement(context.Background(), &store.Entitlement{UserID: "alice", Feature: store.FeatureRestyle, Active: true, Remaining: 0})
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 1, true)
			if tt.setup != nil {
				tt.setup(f.store)
			}
			h := f.handler
			if tt.keys != nil {
				h = New(Config{Store: f.store, Runner: f.fake, Keys: tt.keys, NewRestyler: func(context.Context, string) (restyle.Restyler, error) {
					return echoRestyler{}, nil
				}}).Routes()
			}
			rec := doRequest(h, http.MethodPost, "/pages/page-1/restyle", tt.user, tt.body)
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.status, rec.Body.String())
			}
			if len(f.fake.jobs) != 0 {
				t.Error("job must not start when the request is rejected")
			}
		})
	}
}

func TestRestyleValidationFields(t *testing.T) {
	f := newFixture(t, 1, true)
	body := `{"editOptions":{"people":{"enabled":true,"mode":"clone"}},"sectionBoundaries":[{"id":"","boundaryOffsetTop":10}]}`
	rec := doRequest(f.handler, http.MethodPost, "/pages/page-1/restyle", "alice", body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp validationResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	got := map[string]bool{}
	for _, fe := range resp.Fields {
		got[fe.Field] = true
	}
	for _, want := range []string{"editOptions.people.mode", "sectionBoundaries[0].id"} {
		if !got[want] {
			t.Errorf("missing field %q in %+v", want, resp.Fields)
		}
	}
}

func TestRestylerFailureKeepsQuota(t *testing.T) {
	f := newFixture(t, 1, true)
	h := New(Config{Store: f.store, Runner: f.fake, Keys: auth.NewKeyResolver(f.store, "server-key"),
		NewRestyler: func(context.Context, string) (restyle.Restyler, error) {
			return nil, errors.New("client init failed")
		}}).Routes()

	rec := doRequest(h, http.MethodPost, "/pages/page-1/restyle", "alice", validBody)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if len(f.fake.jobs) != 0 {
		t.Error("job started without a restyler")
	}
	ent, err := f.store.GetEntitlement(context.Background(), "alice", store.FeatureRestyle)
	if err != nil || ent == nil {
		t.Fatalf("GetEntitlement = %v, %v", ent, err)
	}
	if ent.Remaining != 1 {
		t.Errorf("remaining = %d, want 1", ent.Remaining)
	}
}

func TestBufferedTransportRefusesStream(t *testing.T) {
	f := newFixture(t, 1, true)
	f.store.PutRestyleJob(context.Background(), &store.RestyleJob{ID: "rst-b", OwnerID: "alice", Status: store.JobStatusComplete})
	h := New(Config{Store: f.store, Runner: f.fake, Keys: auth.NewKeyResolver(f.store, "server-key"),
		NewRestyler: func(context.Context, string) (restyle.Restyler, error) {
			return echoRestyler{}, nil
		},
		BufferedResponses: true,
	}).Routes()

	rec := doRequest(h, http.MethodPost, "/pages/page-1/restyle", "alice", validBody)
	if rec.Code != http.StatusNotImplemented {
		t.Errorf("restyle status = %d, want 501", rec.Code)
	}
	if len(f.fake.jobs) != 0 {
		t.Error("job started on a buffered transport")
	}
	if ent, _ := f.store.GetEntitlement(context.Background(), "alice", store.FeatureRestyle); ent == nil || ent.Remaining != 1 {
		t.Errorf("entitlement = %+v, want quota untouched", ent)
	}

	if rec := doRequest(h, http.MethodGet, "/restyle-jobs/rst-b", "alice", ""); rec.Code != http.StatusOK {
		t.Errorf("job status = %d, want 200", rec.Code)
	}
	if rec := doRequest(h, http.MethodGet, "/health", "", ""); rec.Code != http.StatusOK {
		t.Errorf("health status = %d, want 200", rec.Code)
	}
}

func TestRestyleJobOutlivesRequest(t *testing.T) {
	f := newFixture(t, 1, true)
	reqCtx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodPost, "/pages/page-1/restyle", strings.NewReader(validBody)).WithContext(reqCtx)
	req.Header.Set(auth.UserHeader, "alice")
	cancel()

	f.handler.ServeHTTP(httptest.NewRecorder(), req)

	if len(f.fake.jobs) != 1 {
		t.Fatalf("jobs = %d", len(f.fake.jobs))
	}
	if err := f.fake.errDuring; err != nil {
		t.Errorf("job context cancelled with the request: %v", err)
	}
	job := f.fake.jobs[0]
	if job.OwnerID != "alice" || job.PageID != "page-1" || job.Restyler == nil {
		t.Errorf("job = %+v", job)
	}
}

func TestGetJobOwnerOnly(t *testing.T) {
	f := newFixture(t, 1, true)
	f.store.PutRestyleJob(context.Background(), &store.RestyleJob{ID: "rst-x", OwnerID: "alice", Status: store.JobStatusComplete})

	if rec := doRequest(f.handler, http.MethodGet, "/restyle-jobs/rst-x", "alice", ""); rec.Code != http.StatusOK {
		t.Errorf("owner status = %d", rec.Code)
	}
	if rec := doRequest(f.handler, http.MethodGet, "/restyle-jobs/rst-x", "bob", ""); rec.Code != http.StatusNotFound {
		t.Errorf("foreign status = %d", rec.Code)
	}
	if rec := doRequest(f.handler, http.MethodGet, "/restyle-jobs/missing", "alice", ""); rec.Code != http.StatusNotFound {
		t.Errorf("missing status = %d", rec.Code)
	}
}

func TestOriginSecret(t *testing.T) {
	f := newFixture(t, 1, true)
	h := New(Config{Store: f.store, Runner: f.fake, Keys: auth.NewKeyResolver(nil, "k"), OriginSecret: "s3cret"}).Routes()

	if rec := doRequest(h, http.MethodGet, "/restyle-jobs/x", "alice", ""); rec.Code != http.StatusForbidden {
		t.Errorf("without secret = %d", rec.Code)
	}
	req := httptest.NewRequest(http.MethodGet, "/restyle-jobs/x", nil)
	req.Header.Set(auth.UserHeader, "alice")
	req.Header.Set(auth.OriginHeader, "s3cret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("with secret = %d, want 404 for a missing job", rec.Code)
	}
}
