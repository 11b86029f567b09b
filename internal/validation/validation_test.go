package validation

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestIsValidEmail(t *testing.T) {
	tests := []struct {
		email string
		valid bool
	}{
		{"jane@example.com", true},
		{"jane.doe+tag@sub.example.co.uk", true},
		{"UPPER@EXAMPLE.COM", true},
		{"", false},
		{"no-at-sign", false},
		{"no@tld", false},
		{"spaces in@example.com", false},
		{"@example.com", false},
		{"jane@", false},
		{strings.Repeat("a", 250) + "@x.com", false}, // over 254 chars
	}

	for _, tt := range tests {
		if got := IsValidEmail(tt.email); got != tt.valid {
			t.Errorf("IsValidEmail(%q) = %v, want %v", tt.email, got, tt.valid)
		}
	}
}

func TestIsValidSlug(t *testing.T) {
	tests := []struct {
		slug  string
		valid bool
	}{
		{"photo-editor", true},
		{"a", true},
		{"abc123", true},
		{"a-b-c", true},
		{"", false},
		{"-leading", false},
		{"trailing-", false},
		{"UPPER", false},
		{"has spaces", false},
		{"under_score", false},
		{strings.Repeat("a", 65), false}, // over 64 chars
		{strings.Repeat("a", 64), true},
	}

	for _, tt := range tests {
		if got := IsValidSlug(tt.slug); got != tt.valid {
			t.Errorf("IsValidSlug(%q) = %v, want %v", tt.slug, got, tt.valid)
		}
	}
}

func TestIsValidInstanceID(t *testing.T) {
	tests := []struct {
		id    string
		valid bool
	}{
		{"machine-01", true},
		{"https://blog.example.com", true},
		{"DESKTOP-ABC123", true},
		{"", false},
		{"has\x00null", false},
		{"has\nnewline", false},
		{strings.Repeat("x", MaxInstanceIDLength), true},
		{strings.Repeat("x", MaxInstanceIDLength+1), false},
	}

	for _, tt := range tests {
		if got := IsValidInstanceID(tt.id); got != tt.valid {
			t.Errorf("IsValidInstanceID(%q) = %v, want %v", tt.id, got, tt.valid)
		}
	}
}

func TestSanitizeString(t *testing.T) {
	tests := []struct {
		in     string
		maxLen int
		want   string
	}{
		{"  hello  ", 100, "hello"},
		{"hello\x00world", 100, "helloworld"},
		{"truncate me", 8, "truncate"},
		{"", 10, ""},
	}

	for _, tt := range tests {
		if got := SanitizeString(tt.in, tt.maxLen); got != tt.want {
			t.Errorf("SanitizeString(%q, %d) = %q, want %q", tt.in, tt.maxLen, got, tt.want)
		}
	}
}

func TestNormalizeEmail(t *testing.T) {
	if got := NormalizeEmail("  Jane@Example.COM "); got != "jane@example.com" {
		t.Errorf("NormalizeEmail = %q, want jane@example.com", got)
	}
}

func TestNormalizeSlug(t *testing.T) {
	if got := NormalizeSlug(" Photo-Editor "); got != "photo-editor" {
		t.Errorf("NormalizeSlug = %q, want photo-editor", got)
	}
}

func TestRequestSizeMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RequestSizeMiddleware(64))
	router.POST("/echo", func(c *gin.Context) {
		var body struct {
			Data string `json:"data"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	// Small body passes
	req := httptest.NewRequest("POST", "/echo", strings.NewReader(`{"data":"hi"}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200 for small body, got %d", w.Code)
	}

	// Oversized body rejected
	big := `{"data":"` + strings.Repeat("x", 200) + `"}`
	req = httptest.NewRequest("POST", "/echo", strings.NewReader(big))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for oversized body, got %d", w.Code)
	}
}
