package lookup

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/GoCodeAlone/forgedocs/store"
)

func serve(t *testing.T, h *Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	mux := http.NewServeMux()
	NewHTTPHandler(h, nil).Register(mux)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, target, nil))
	return rr
}

func TestHTTPHandlerMissingParameter(t *testing.T) {
	rr := serve(t, newTestHandler(store.NewMemoryStore()), "/module?author=puppetlabs&version=5.0.2")

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if rr.Body.Len() != 0 {
		t.Errorf("expected empty body, got %q", rr.Body.String())
	}
}

func TestHTTPHandlerEmptyParameterIsMissing(t *testing.T) {
	st := store.NewMemoryStore()
	rr := serve(t, newTestHandler(st), "/module?author=&name=stdlib&version=5.0.2")

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if st.PutCount() != 0 {
		t.Errorf("an empty author must not create a record, got %d puts", st.PutCount())
	}
}

func TestHTTPHandlerAcceptsNewRequest(t *testing.T) {
	for _, path := range []string{"/module", "/api/module"} {
		t.Run(path, func(t *testing.T) {
			rr := serve(t, newTestHandler(store.NewMemoryStore()), path+"?author=puppetlabs&name=stdlib&version=5.0.2")

			if rr.Code != http.StatusAccepted {
				t.Fatalf("expected 202, got %d", rr.Code)
			}
			if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("expected application/json, got %q", ct)
			}
			if !strings.Contains(rr.Body.String(), `"module_name":"stdlib"`) {
				t.Errorf("expected placeholder record, got %s", rr.Body.String())
			}
		})
	}
}

func TestHTTPHandlerStorageFailure(t *testing.T) {
	rr := serve(t, newTestHandler(errStore{err: errors.New("AccessDenied")}), "/module?author=a&name=b&version=1")

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"error"`) {
		t.Errorf("expected JSON error body, got %q", rr.Body.String())
	}
}

func TestHTTPHandlerRejectsOtherMethods(t *testing.T) {
	mux := http.NewServeMux()
	NewHTTPHandler(newTestHandler(store.NewMemoryStore()), nil).Register(mux)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/module?author=a&name=b&version=1", nil))

	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rr.Code)
	}
}

func TestHTTPHandlerMiddlewareOrder(t *testing.T) {
	var order []string
	tag := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	mux := http.NewServeMux()
	NewHTTPHandler(newTestHandler(store.NewMemoryStore()), nil).Register(mux, tag("outer"), tag("inner"))
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/module?author=a", nil))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if strings.Join(order, ",") != "outer,inner" {
		t.Errorf("unexpected middleware order %v", order)
	}
}
