package encoding

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/longregen/chattree/internal/domain/models"
)

func TestNegotiateContentType(t *testing.T) {
	tests := []struct {
		name         string
		acceptHeader string
		expectedType string
	}{
		{"empty accept defaults to JSON", "", ContentTypeJSON},
		{"explicit msgpack", "application/msgpack", ContentTypeMsgpack},
		{"legacy x-msgpack", "application/x-msgpack", ContentTypeMsgpack},
		{"explicit JSON", "application/json", ContentTypeJSON},
		{"wildcard defaults to JSON", "*/*", ContentTypeJSON},
		{"msgpack among several", "application/json, application/msgpack;q=0.9", ContentTypeMsgpack},
		{"garbage header", ";;;", ContentTypeJSON},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.acceptHeader != "" {
				req.Header.Set("Accept", tt.acceptHeader)
			}
			if got := NegotiateContentType(req); got != tt.expectedType {
				t.Errorf("expected %s, got %s", tt.expectedType, got)
			}
		})
	}
}

func TestWrite_Msgpack(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept", ContentTypeMsgpack)
	rr := httptest.NewRecorder()

	parent := "m1"
	in := []*models.PersistedMessage{{
		ID:       "m2",
		ParentID: &parent,
		Role:     models.MessageRoleAssistant,
		Parts:    models.TextParts("hello"),
		Status:   models.PersistedStatusCompleted,
	}}
	if err := Write(rr, req, http.StatusOK, in); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if ct := rr.Header().Get("Content-Type"); ct != ContentTypeMsgpack {
		t.Fatalf("expected msgpack content type, got %s", ct)
	}

	var out []*models.PersistedMessage
	if err := msgpack.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("failed to decode msgpack: %v", err)
	}
	if len(out) != 1 || out[0].ParentID == nil || *out[0].ParentID != "m1" || out[0].PlainText() != "hello" {
		t.Errorf("unexpected decoded messages %#v", out)
	}
}

func TestDecode_ByContentType(t *testing.T) {
	type body struct {
		Title string `json:"title" msgpack:"title"`
	}

	packed, err := msgpack.Marshal(body{Title: "packed"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(packed))
	req.Header.Set("Content-Type", ContentTypeMsgpack)

	var got body
	if err := Decode(req, &got); err != nil {
		t.Fatalf("Decode msgpack failed: %v", err)
	}
	if got.Title != "packed" {
		t.Errorf("expected packed, got %q", got.Title)
	}

	req = httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(`{"title":"plain"}`))
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	if err := Decode(req, &got); err != nil {
		t.Fatalf("Decode JSON failed: %v", err)
	}
	if got.Title != "plain" {
		t.Errorf("expected plain, got %q", got.Title)
	}
}
