package middleware_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"codelab/internal/common/http/middleware"
	pkgerrors "codelab/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret"

func signToken(t *testing.T, method jwt.SigningMethod, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(method, claims)
	raw, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return raw
}

func validClaims(role string) jwt.MapClaims {
	return jwt.MapClaims{
		"sub":  "user-42",
		"role": role,
		"typ":  "access",
		"iss":  "codelab-identity",
		"exp":  time.Now().Add(time.Hour).Unix(),
	}
}

func newRouter(verifier *middleware.TokenVerifier, roles ...string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.TraceContextMiddleware())
	r.Use(middleware.AuthMiddleware(verifier))
	if len(roles) > 0 {
		r.Use(middleware.RequireRoles(roles...))
	}
	r.GET("/whoami", func(c *gin.Context) {
		p, _ := middleware.CurrentPrincipal(c)
		c.JSON(http.StatusOK, gin.H{"user": p.UserID, "role": p.Role})
	})
	return r
}

func decodeCode(t *testing.T, w *httptest.ResponseRecorder) pkgerrors.ErrorCode {
	t.Helper()
	var body struct {
		Code pkgerrors.ErrorCode `json:"code"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return body.Code
}

func TestAuthMiddleware(t *testing.T) {
	verifier := middleware.NewTokenVerifier(testSecret, "codelab-identity")
	expired := validClaims("student")
	expired["exp"] = time.Now().Add(-time.Minute).Unix()
	refresh := validClaims("student")
	refresh["typ"] = "refresh"
	otherIssuer := validClaims("student")
	otherIssuer["iss"] = "elsewhere"

	cases := []struct {
		name       string
		header     string
		wantStatus int
		wantCode   pkgerrors.ErrorCode
	}{
		{name: "valid", header: "Bearer " + signToken(t, jwt.SigningMethodHS256, validClaims("student")), wantStatus: http.StatusOK},
		{name: "missing", header: "", wantStatus: http.StatusUnauthorized, wantCode: pkgerrors.TokenInvalid},
		{name: "wrong scheme", header: "Basic abc", wantStatus: http.StatusUnauthorized, wantCode: pkgerrors.TokenInvalid},
		{name: "expired", header: "Bearer " + signToken(t, jwt.SigningMethodHS256, expired), wantStatus: http.StatusUnauthorized, wantCode: pkgerrors.TokenExpired},
		{name: "refresh token", header: "Bearer " + signToken(t, jwt.SigningMethodHS256, refresh), wantStatus: http.StatusUnauthorized, wantCode: pkgerrors.TokenInvalid},
		{name: "issuer mismatch", header: "Bearer " + signToken(t, jwt.SigningMethodHS256, otherIssuer), wantStatus: http.StatusUnauthorized, wantCode: pkgerrors.TokenInvalid},
		{name: "hs512 rejected", header: "Bearer " + signToken(t, jwt.SigningMethodHS512, validClaims("student")), wantStatus: http.StatusUnauthorized, wantCode: pkgerrors.TokenInvalid},
	}
	router := newRouter(verifier)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			if w.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", w.Code, tc.wantStatus, w.Body.String())
			}
			if tc.wantStatus != http.StatusOK {
				if code := decodeCode(t, w); code != tc.wantCode {
					t.Fatalf("code = %d, want %d", code, tc.wantCode)
				}
				return
			}
			var body map[string]string
			_ = json.Unmarshal(w.Body.Bytes(), &body)
			if body["user"] != "user-42" || body["role"] != middleware.RoleStudent {
				t.Fatalf("unexpected principal: %v", body)
			}
			if w.Header().Get("X-Trace-Id") == "" {
				t.Fatalf("trace id header missing")
			}
		})
	}
}

func TestRequireRoles(t *testing.T) {
	verifier := middleware.NewTokenVerifier(testSecret, "")
	router := newRouter(verifier, middleware.RoleTeacher)

	cases := []struct {
		role       string
		wantStatus int
	}{
		{role: "teacher", wantStatus: http.StatusOK},
		{role: "admin", wantStatus: http.StatusOK},
		{role: "student", wantStatus: http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.role, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
			req.Header.Set("Authorization", "Bearer "+signToken(t, jwt.SigningMethodHS256, validClaims(tc.role)))
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			if w.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tc.wantStatus)
			}
		})
	}
}

func TestTraceContextKeepsIncomingIDs(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.TraceContextMiddleware(), middleware.RequestLogMiddleware())
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, c.GetString("trace_id")) })

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-Trace-Id", "trace-abc")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Body.String() != "trace-abc" || w.Header().Get("X-Trace-Id") != "trace-abc" {
		t.Fatalf("trace id not propagated: body=%q header=%q", w.Body.String(), w.Header().Get("X-Trace-Id"))
	}
	if w.Header().Get("X-Request-Id") == "" {
		t.Fatalf("request id missing")
	}
}
