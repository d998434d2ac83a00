package http

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"stocktrend/internal/auth"
	"stocktrend/internal/repository/memory"
	"stocktrend/internal/service"

	"github.com/xuri/excelize/v2"
)

func newTestServer(t *testing.T, opts Options) (*httptest.Server, *http.Client) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := service.New(memory.New(), auth.NewTokenIssuer("test-secret", time.Hour), logger)
	server := httptest.NewServer(NewRouter(NewHandler(svc, logger, opts)))
	t.Cleanup(server.Close)

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookie jar: %v", err)
	}
	return server, &http.Client{Jar: jar}
}

func postJSON(t *testing.T, client *http.Client, url string, body any) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := client.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func workbookBytes(t *testing.T, rows [][]any) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			t.Fatalf("cell name: %v", err)
		}
		values := row
		if err := f.SetSheetRow("Sheet1", cell, &values); err != nil {
			t.Fatalf("set row: %v", err)
		}
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("write workbook: %v", err)
	}
	return buf.Bytes()
}

func uploadFile(t *testing.T, client *http.Client, url, filename string, data []byte) *http.Response {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	resp, err := client.Post(url, writer.FormDataContentType(), &body)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	return resp
}

func register(t *testing.T, client *http.Client, baseURL string) {
	t.Helper()
	resp := postJSON(t, client, baseURL+"/api/v1/auth/register", map[string]string{
		"email":    "ops@example.com",
		"username": "ops",
		"password": "password123",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register status = %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestHealth(t *testing.T) {
	server, client := newTestServer(t, Options{})
	resp, err := client.Get(server.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	var body map[string]string
	decodeBody(t, resp, &body)
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" {
		t.Errorf("health = %d %v", resp.StatusCode, body)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("expected a request id header")
	}
}

func TestProtectedRoutesRequireSession(t *testing.T) {
	server, client := newTestServer(t, Options{})
	for _, path := range []string{"/api/v1/products", "/api/v1/products/1/series", "/api/v1/series/export?ids=1"} {
		resp, err := client.Get(server.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("GET %s status = %d, want 401", path, resp.StatusCode)
		}
	}

	resp, err := client.Get(server.URL + "/api/v1/auth/me")
	if err != nil {
		t.Fatalf("GET me: %v", err)
	}
	var me map[string]any
	decodeBody(t, resp, &me)
	if v, ok := me["user"]; !ok || v != nil {
		t.Errorf("me without session = %v", me)
	}
}

func TestAuthFlow(t *testing.T) {
	server, client := newTestServer(t, Options{})
	register(t, client, server.URL)

	resp := postJSON(t, client, server.URL+"/api/v1/auth/register", map[string]string{
		"email": "ops@example.com", "username": "other", "password": "password123",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("duplicate register status = %d", resp.StatusCode)
	}

	resp = postJSON(t, client, server.URL+"/api/v1/auth/register", map[string]string{
		"email": "bad", "username": "x", "password": "1",
	})
	var invalid map[string]any
	decodeBody(t, resp, &invalid)
	if resp.StatusCode != http.StatusBadRequest || invalid["fields"] == nil {
		t.Errorf("invalid register = %d %v", resp.StatusCode, invalid)
	}

	resp = postJSON(t, client, server.URL+"/api/v1/auth/login", map[string]string{
		"email": "ops@example.com", "password": "wrong-password",
	})
	var failed map[string]string
	decodeBody(t, resp, &failed)
	if resp.StatusCode != http.StatusUnauthorized || failed["error"] != "Invalid credentials" {
		t.Errorf("bad login = %d %v", resp.StatusCode, failed)
	}

	meResp, err := client.Get(server.URL + "/api/v1/auth/me")
	if err != nil {
		t.Fatalf("GET me: %v", err)
	}
	var me struct {
		User *userView `json:"user"`
	}
	decodeBody(t, meResp, &me)
	if me.User == nil || me.User.Username != "ops" {
		t.Fatalf("me = %+v", me.User)
	}

	logoutResp := postJSON(t, client, server.URL+"/api/v1/auth/logout", map[string]string{})
	logoutResp.Body.Close()
	if logoutResp.StatusCode != http.StatusNoContent {
		t.Errorf("logout status = %d", logoutResp.StatusCode)
	}
	after, err := client.Get(server.URL + "/api/v1/products")
	if err != nil {
		t.Fatalf("GET products: %v", err)
	}
	after.Body.Close()
	if after.StatusCode != http.StatusUnauthorized {
		t.Errorf("products after logout status = %d", after.StatusCode)
	}
}

func TestUploadAndReadSeries(t *testing.T) {
	server, client := newTestServer(t, Options{})
	register(t, client, server.URL)

	data := workbookBytes(t, [][]any{
		{"ID", "Product Name", "Opening Inventory", "Procurement Qty (Day 1)", "Procurement Price (Day 1)", "Sales Qty (Day 1)", "Sales Price (Day 1)", "Sales Qty (Day 3)", "Sales Price (Day 3)"},
		{1, "Widget", 100, 20, 5, 5, 10, 30, 8},
		{2, "Bolt", 10, 0, 0, 50, 2, 0, 0},
	})
	resp := uploadFile(t, client, server.URL+"/api/v1/upload", "week.xlsx", data)
	var result struct {
		OK          bool  `json:"ok"`
		BatchID     int64 `json:"batchId"`
		Days        []int `json:"days"`
		DataQuality struct {
			NegativeInventory []struct {
				ProductID int64   `json:"productId"`
				Name      string  `json:"name"`
				Day       int     `json:"day"`
				Inventory float64 `json:"inventory"`
			} `json:"negativeInventory"`
		} `json:"dataQuality"`
		Summary struct {
			CreatedProducts        int `json:"createdProducts"`
			CreatedTx              int `json:"createdTx"`
			NegativeInventoryCount int `json:"negativeInventoryCount"`
		} `json:"summary"`
	}
	decodeBody(t, resp, &result)
	if resp.StatusCode != http.StatusOK || !result.OK {
		t.Fatalf("upload status = %d, body = %+v", resp.StatusCode, result)
	}
	if result.Summary.CreatedProducts != 2 || result.Summary.CreatedTx != 4 || result.Summary.NegativeInventoryCount != 1 {
		t.Errorf("summary = %+v", result.Summary)
	}
	if len(result.Days) != 2 || result.Days[0] != 1 || result.Days[1] != 3 {
		t.Errorf("days = %v", result.Days)
	}
	negative := result.DataQuality.NegativeInventory
	if len(negative) != 1 || negative[0].Name != "Bolt" || negative[0].Inventory != -40 {
		t.Fatalf("negative inventory = %+v", negative)
	}

	listResp, err := client.Get(server.URL + "/api/v1/products?q=wid")
	if err != nil {
		t.Fatalf("GET products: %v", err)
	}
	var list struct {
		Products []struct {
			ID   int64  `json:"id"`
			Name string `json:"name"`
		} `json:"products"`
	}
	decodeBody(t, listResp, &list)
	if len(list.Products) != 1 || list.Products[0].Name != "Widget" {
		t.Fatalf("products = %+v", list.Products)
	}
	widgetID := list.Products[0].ID

	seriesResp, err := client.Get(server.URL + "/api/v1/products/" + strconv.FormatInt(widgetID, 10) + "/series")
	if err != nil {
		t.Fatalf("GET series: %v", err)
	}
	var series struct {
		Product struct {
			ID   int64  `json:"id"`
			Name string `json:"name"`
		} `json:"product"`
		Points []struct {
			Day               int     `json:"day"`
			Inventory         float64 `json:"inventory"`
			ProcurementAmount float64 `json:"procurementAmount"`
			SalesAmount       float64 `json:"salesAmount"`
		} `json:"points"`
	}
	decodeBody(t, seriesResp, &series)
	if series.Product.Name != "Widget" || len(series.Points) != 3 {
		t.Fatalf("series = %+v", series)
	}
	wantInventory := []float64{115, 115, 85}
	for i, point := range series.Points {
		if point.Day != i+1 || point.Inventory != wantInventory[i] {
			t.Errorf("point %d = %+v", i, point)
		}
	}
	if series.Points[0].ProcurementAmount != 100 || series.Points[0].SalesAmount != 50 || series.Points[2].SalesAmount != 240 {
		t.Errorf("amounts = %+v", series.Points)
	}

	missing, err := client.Get(server.URL + "/api/v1/products/9999/series")
	if err != nil {
		t.Fatalf("GET missing series: %v", err)
	}
	missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Errorf("missing series status = %d", missing.StatusCode)
	}

	compareResp := postJSON(t, client, server.URL+"/api/v1/series/compare", map[string]any{
		"productIds": []int64{negative[0].ProductID, widgetID},
	})
	var compared struct {
		Series []struct {
			Product struct {
				Name string `json:"name"`
			} `json:"product"`
		} `json:"series"`
	}
	decodeBody(t, compareResp, &compared)
	if len(compared.Series) != 2 || compared.Series[0].Product.Name != "Bolt" || compared.Series[1].Product.Name != "Widget" {
		t.Errorf("compare = %+v", compared)
	}

	emptyCompare := postJSON(t, client, server.URL+"/api/v1/series/compare", map[string]any{"productIds": []int64{}})
	emptyCompare.Body.Close()
	if emptyCompare.StatusCode != http.StatusBadRequest {
		t.Errorf("empty compare status = %d", emptyCompare.StatusCode)
	}

	exportResp, err := client.Get(server.URL + "/api/v1/series/export?ids=" + strconv.FormatInt(negative[0].ProductID, 10))
	if err != nil {
		t.Fatalf("GET export: %v", err)
	}
	csvBody, _ := io.ReadAll(exportResp.Body)
	exportResp.Body.Close()
	if !strings.HasPrefix(exportResp.Header.Get("Content-Type"), "text/csv") {
		t.Errorf("export content type = %q", exportResp.Header.Get("Content-Type"))
	}
	if want := "Day,Product,Inventory,ProcurementAmount,SalesAmount\n1,Bolt,-40,0,100\n"; string(csvBody) != want {
		t.Errorf("export = %q, want %q", csvBody, want)
	}
}

func TestUploadRejections(t *testing.T) {
	server, client := newTestServer(t, Options{})
	register(t, client, server.URL)

	missing := workbookBytes(t, [][]any{
		{"ID", "Opening Inventory"},
		{1, 5},
	})
	resp := uploadFile(t, client, server.URL+"/api/v1/upload", "bad.xlsx", missing)
	var body struct {
		Error  string   `json:"error"`
		Errors []string `json:"errors"`
	}
	decodeBody(t, resp, &body)
	if resp.StatusCode != http.StatusBadRequest || body.Error != "Validation failed" || len(body.Errors) != 1 {
		t.Errorf("missing column upload = %d %+v", resp.StatusCode, body)
	}

	blankNames := []byte("ID,Product Name,Opening Inventory\n1,,5\n")
	resp = uploadFile(t, client, server.URL+"/api/v1/upload", "blank.csv", blankNames)
	var noRows struct {
		Error    string   `json:"error"`
		Warnings []string `json:"warnings"`
	}
	decodeBody(t, resp, &noRows)
	if resp.StatusCode != http.StatusBadRequest || noRows.Error != "No valid rows found" || len(noRows.Warnings) == 0 {
		t.Errorf("no rows upload = %d %+v", resp.StatusCode, noRows)
	}

	noFile, err := client.Post(server.URL+"/api/v1/upload", "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("POST upload: %v", err)
	}
	noFile.Body.Close()
	if noFile.StatusCode != http.StatusBadRequest {
		t.Errorf("non-multipart upload status = %d", noFile.StatusCode)
	}
}

func TestUploadTooLarge(t *testing.T) {
	server, client := newTestServer(t, Options{MaxUploadBytes: 256})
	register(t, client, server.URL)

	resp := uploadFile(t, client, server.URL+"/api/v1/upload", "big.csv", bytes.Repeat([]byte("x"), 4096))
	resp.Body.Close()
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", resp.StatusCode)
	}
}

func TestAuthRateLimit(t *testing.T) {
	server, client := newTestServer(t, Options{AuthRateLimitRPS: 0.001, AuthRateLimitBurst: 1})
	body := map[string]string{"email": "nobody@example.com", "password": "password123"}

	first := postJSON(t, client, server.URL+"/api/v1/auth/login", body)
	first.Body.Close()
	if first.StatusCode != http.StatusUnauthorized {
		t.Errorf("first login status = %d", first.StatusCode)
	}
	second := postJSON(t, client, server.URL+"/api/v1/auth/login", body)
	second.Body.Close()
	if second.StatusCode != http.StatusTooManyRequests {
		t.Errorf("second login status = %d, want 429", second.StatusCode)
	}
}

func TestCORS(t *testing.T) {
	server, client := newTestServer(t, Options{AllowedOrigins: []string{"http://app.test"}})

	req, _ := http.NewRequest(http.MethodOptions, server.URL+"/api/v1/products", nil)
	req.Header.Set("Origin", "http://app.test")
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent || resp.Header.Get("Access-Control-Allow-Origin") != "http://app.test" {
		t.Errorf("preflight = %d %q", resp.StatusCode, resp.Header.Get("Access-Control-Allow-Origin"))
	}

	req, _ = http.NewRequest(http.MethodOptions, server.URL+"/api/v1/products", nil)
	req.Header.Set("Origin", "http://evil.test")
	resp, err = client.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS: %v", err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("unexpected allow origin %q", got)
	}
}

func TestParseIDList(t *testing.T) {
	ids, err := parseIDList("3, 1,,2")
	if err != nil || len(ids) != 3 || ids[0] != 3 || ids[2] != 2 {
		t.Errorf("parseIDList() = %v, %v", ids, err)
	}
	if _, err := parseIDList("1,x"); err == nil {
		t.Error("expected error for non-numeric id")
	}
	if ids, err := parseIDList(""); err != nil || len(ids) != 0 {
		t.Errorf("parseIDList(\"\") = %v, %v", ids, err)
	}
}

func TestWriteJSON_UnencodablePayload(t *testing.T) {
	rec := httptest.NewRecorder()
	writeJSON(rec, http.StatusOK, map[string]any{"amount": math.Inf(1)})

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	if body["error"] != "internal error" {
		t.Errorf("body = %v", body)
	}

	rec = httptest.NewRecorder()
	writeJSON(rec, http.StatusCreated, map[string]any{"ok": true})
	if rec.Code != http.StatusCreated || strings.TrimSpace(rec.Body.String()) != `{"ok":true}` {
		t.Errorf("got %d %q", rec.Code, rec.Body.String())
	}
}
