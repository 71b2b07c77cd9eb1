package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWriteJSON(t *testing.T) {
	t.Run("sets content type and status code", func(t *testing.T) {
		w := httptest.NewRecorder()
		data := map[string]string{"status": "ok"}

		WriteJSON(w, http.StatusOK, data)

		if got := w.Header().Get("Content-Type"); got != "application/json" {
			t.Errorf("Content-Type = %q, want %q", got, "application/json")
		}
		if w.Code != http.StatusOK {
			t.Errorf("status code = %d, want %d", w.Code, http.StatusOK)
		}

		var result map[string]string
		if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if result["status"] != "ok" {
			t.Errorf("body status = %q, want %q", result["status"], "ok")
		}
	})

	t.Run("writes 500", func(t *testing.T) {
		w := httptest.NewRecorder()

		WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal_error"})

		if w.Code != http.StatusInternalServerError {
			t.Errorf("status code = %d, want %d", w.Code, http.StatusInternalServerError)
		}
	})

	t.Run("encodes decimal numbers without quotes", func(t *testing.T) {
		type resp struct {
			OrderID string      `json:"orderId"`
			Price   json.Number `json:"price"`
		}
		w := httptest.NewRecorder()
		WriteJSON(w, http.StatusOK, resp{OrderID: "o1", Price: json.Number("100.5")})

		body := w.Body.String()
		if !strings.Contains(body, `"price":100.5`) {
			t.Errorf("body = %s, want unquoted price", body)
		}
		if !strings.Contains(body, `"orderId":"o1"`) {
			t.Errorf("body = %s, want orderId", body)
		}
	})

	t.Run("encodes null fields", func(t *testing.T) {
		type resp struct {
			Price *float64 `json:"price"`
		}
		w := httptest.NewRecorder()
		WriteJSON(w, http.StatusOK, resp{Price: nil})

		var raw map[string]any
		if err := json.NewDecoder(w.Body).Decode(&raw); err != nil {
			t.Fatalf("failed to decode: %v", err)
		}
		if raw["price"] != nil {
			t.Errorf("price = %v, want nil", raw["price"])
		}
	})
}

func TestWriteError(t *testing.T) {
	t.Run("writes standard error format", func(t *testing.T) {
		w := httptest.NewRecorder()

		WriteError(w, http.StatusBadRequest, "invalid_request", "missing required field")

		if w.Code != http.StatusBadRequest {
			t.Errorf("status code = %d, want %d", w.Code, http.StatusBadRequest)
		}
		if got := w.Header().Get("Content-Type"); got != "application/json" {
			t.Errorf("Content-Type = %q, want %q", got, "application/json")
		}

		var resp errorResponse
		if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
			t.Fatalf("failed to decode: %v", err)
		}
		if resp.Error != "invalid_request" {
			t.Errorf("error = %q, want %q", resp.Error, "invalid_request")
		}
		if resp.Message != "missing required field" {
			t.Errorf("message = %q, want %q", resp.Message, "missing required field")
		}
	})

	t.Run("writes validation error", func(t *testing.T) {
		w := httptest.NewRecorder()

		WriteError(w, http.StatusBadRequest, "validation_error", "price: off_scale")

		var resp errorResponse
		if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
			t.Fatalf("failed to decode: %v", err)
		}
		if resp.Error != "validation_error" {
			t.Errorf("error = %q, want %q", resp.Error, "validation_error")
		}
	})
}

func TestParseJSON(t *testing.T) {
	t.Run("decodes valid JSON with correct content type", func(t *testing.T) {
		body := `{"name":"test","value":42}`
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")

		var result struct {
			Name  string `json:"name"`
			Value int    `json:"value"`
		}
		if err := ParseJSON(r, &result); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.Name != "test" {
			t.Errorf("name = %q, want %q", result.Name, "test")
		}
		if result.Value != 42 {
			t.Errorf("value = %d, want %d", result.Value, 42)
		}
	})

	t.Run("accepts content type with charset", func(t *testing.T) {
		body := `{"name":"test"}`
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json; charset=utf-8")

		var result struct {
			Name string `json:"name"`
		}
		if err := ParseJSON(r, &result); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.Name != "test" {
			t.Errorf("name = %q, want %q", result.Name, "test")
		}
	})

	t.Run("rejects missing content type", func(t *testing.T) {
		body := `{"name":"test"}`
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))

		var result struct {
			Name string `json:"name"`
		}
		err := ParseJSON(r, &result)
		if err == nil {
			t.Fatal("expected error for missing Content-Type")
		}
		if !strings.Contains(err.Error(), "Content-Type") {
			t.Errorf("error = %q, should mention Content-Type", err.Error())
		}
	})

	t.Run("rejects wrong content type", func(t *testing.T) {
		body := `{"name":"test"}`
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		r.Header.Set("Content-Type", "text/plain")

		var result struct {
			Name string `json:"name"`
		}
		err := ParseJSON(r, &result)
		if err == nil {
			t.Fatal("expected error for wrong Content-Type")
		}
	})

	t.Run("rejects malformed JSON", func(t *testing.T) {
		body := `{invalid json}`
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")

		var result struct {
			Name string `json:"name"`
		}
		err := ParseJSON(r, &result)
		if err == nil {
			t.Fatal("expected error for malformed JSON")
		}
	})

	t.Run("rejects unknown fields", func(t *testing.T) {
		body := `{"name":"test","unknown_field":"value"}`
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")

		var result struct {
			Name string `json:"name"`
		}
		err := ParseJSON(r, &result)
		if err == nil {
			t.Fatal("expected error for unknown fields")
		}
	})

	t.Run("rejects empty body", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
		r.Header.Set("Content-Type", "application/json")

		var result struct {
			Name string `json:"name"`
		}
		err := ParseJSON(r, &result)
		if err == nil {
			t.Fatal("expected error for empty body")
		}
		if !strings.Contains(err.Error(), "empty") {
			t.Errorf("error = %q, should mention empty body", err.Error())
		}
	})

	t.Run("rejects trailing data", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"a"}{"name":"b"}`))
		r.Header.Set("Content-Type", "application/json")

		var result struct {
			Name string `json:"name"`
		}
		if err := ParseJSON(r, &result); err == nil {
			t.Fatal("expected error for trailing data")
		}
	})
}
