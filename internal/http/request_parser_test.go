package http

import (
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
)

func TestRequestBodyParser_JSON(t *testing.T) {
	body := `{"credit_type": ["Consumo", "Vivienda"], "effective_rate_min": 10.5, "entity_name": "Banco A", "ignored": null}`
	req := httptest.NewRequest(http.MethodPost, "/api/views/x", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	p := NewRequestBodyParser(req)
	if err := p.Parse(); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !p.IsJSON() {
		t.Error("expected JSON body")
	}
	v := p.Values()
	if !reflect.DeepEqual(v["credit_type"], []string{"Consumo", "Vivienda"}) {
		t.Errorf("credit_type = %v", v["credit_type"])
	}
	if v.Get("effective_rate_min") != "10.5" || v.Get("entity_name") != "Banco A" {
		t.Errorf("unexpected values %v", v)
	}
	if _, ok := v["ignored"]; ok {
		t.Error("null values must be dropped")
	}
}

func TestRequestBodyParser_JSONWithoutContentType(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(` {"person_type":"Natural"}`))
	p := NewRequestBodyParser(req)
	if err := p.Parse(); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if p.Values().Get("person_type") != "Natural" {
		t.Errorf("values = %v", p.Values())
	}
}

func TestRequestBodyParser_InvalidJSON(t *testing.T) {
	tests := []string{`{"a":`, `{"a": {"nested": 1}}`, `{"a": [[1]]}`}
	for _, body := range tests {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		if err := NewRequestBodyParser(req).Parse(); err == nil {
			t.Errorf("body %s: expected error", body)
		}
	}
}

func TestRequestBodyParser_FormData(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("credit_type=Consumo&credit_type=Vivienda&entity_name=%20Banco%01%20"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	p := NewRequestBodyParser(req)
	if err := p.Parse(); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	v := p.Values()
	if len(v["credit_type"]) != 2 {
		t.Errorf("credit_type = %v", v["credit_type"])
	}
	if v.Get("entity_name") != "Banco" {
		t.Errorf("entity_name = %q, want sanitized", v.Get("entity_name"))
	}
}

func TestRequestBodyParser_EmptyBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	p := NewRequestBodyParser(req)
	if err := p.Parse(); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(p.Values()) != 0 {
		t.Errorf("expected no values, got %v", p.Values())
	}
}

func TestRequestBodyParser_TooLarge(t *testing.T) {
	body := "a=" + strings.Repeat("x", maxBodyBytes)
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	if err := NewRequestBodyParser(req).Parse(); err == nil {
		t.Error("oversized body must be rejected")
	}
}

func TestSelectionValues(t *testing.T) {
	get := httptest.NewRequest(http.MethodGet, "/ui/panels?credit_type=Consumo&effective_rate_max=20", nil)
	v, err := selectionValues(get)
	if err != nil || v.Get("credit_type") != "Consumo" || v.Get("effective_rate_max") != "20" {
		t.Errorf("GET values = %v, %v", v, err)
	}

	post := httptest.NewRequest(http.MethodPost, "/api/views/x?credit_type=Consumo&entity_name=A", strings.NewReader(`{"entity_name":"B"}`))
	post.Header.Set("Content-Type", "application/json")
	v, err = selectionValues(post)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	if v.Get("credit_type") != "Consumo" || v.Get("entity_name") != "B" {
		t.Errorf("body must override the query: %v", v)
	}
}

func TestSanitizeInput(t *testing.T) {
	tests := map[string]string{
		"  Consumo ":          "Consumo",
		"a\x00b":              "ab",
		"línea\tuno":          "línea\tuno",
		"\x1b[31mrojo\x1b[0m": "[31mrojo[0m",
	}
	for in, want := range tests {
		if got := sanitizeInput(in); got != want {
			t.Errorf("sanitizeInput(%q) = %q, want %q", in, got, want)
		}
	}
}
