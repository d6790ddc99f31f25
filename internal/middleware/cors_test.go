package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCORS(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	tests := []struct {
		name        string
		allowed     []string
		origin      string
		method      string
		wantStatus  int
		wantOrigin  string
		wantCreds   string
		wantExposed string
	}{
		{"explicit origin", []string{"https://author.example"}, "https://author.example", http.MethodGet, http.StatusTeapot, "https://author.example", "true", "Content-Disposition"},
		{"wildcard has no credentials", []string{"*"}, "https://any.example", http.MethodGet, http.StatusTeapot, "https://any.example", "", "Content-Disposition"},
		{"rejected origin", []string{"https://author.example"}, "https://evil.example", http.MethodGet, http.StatusTeapot, "", "", ""},
		{"preflight", []string{"*"}, "https://any.example", http.MethodOptions, http.StatusOK, "https://any.example", "", "Content-Disposition"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/projects", nil)
			req.Header.Set("Origin", tt.origin)
			w := httptest.NewRecorder()

			CORS(tt.allowed)(next).ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.wantOrigin {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.wantOrigin)
			}
			if got := w.Header().Get("Access-Control-Allow-Credentials"); got != tt.wantCreds {
				t.Errorf("Allow-Credentials = %q, want %q", got, tt.wantCreds)
			}
			if got := w.Header().Get("Access-Control-Expose-Headers"); got != tt.wantExposed {
				t.Errorf("Expose-Headers = %q, want %q", got, tt.wantExposed)
			}
		})
	}
}
