package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func testService(t *testing.T, dur time.Duration) *Service {
	t.Helper()
	hash, err := HashPassword("council-pass")
	if err != nil {
		t.Fatal(err)
	}
	return NewService("test-secret", dur, "admin", hash)
}

func TestLoginAndValidateRoundTrip(t *testing.T) {
	s := testService(t, time.Minute)

	resp, err := s.Login("admin", "council-pass")
	if err != nil {
		t.Fatal(err)
	}
	if resp.TokenType != "Bearer" || resp.ExpiresIn != 60 {
		t.Errorf("token response = %+v", resp)
	}

	claims, err := s.ValidateAccessToken(resp.AccessToken)
	if err != nil {
		t.Fatal(err)
	}
	if claims.Username != "admin" {
		t.Errorf("username = %q", claims.Username)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	s := testService(t, time.Minute)

	if _, err := s.Login("admin", "wrong"); err != ErrInvalidCredentials {
		t.Errorf("wrong password: err = %v", err)
	}
	if _, err := s.Login("root", "council-pass"); err != ErrInvalidCredentials {
		t.Errorf("wrong user: err = %v", err)
	}
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	s := testService(t, time.Minute)
	other := NewService("other-secret", time.Minute, "admin", "x")

	token, err := s.GenerateAccessToken("admin")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := other.ValidateAccessToken(token); err != ErrInvalidToken {
		t.Errorf("cross-secret validation: err = %v", err)
	}
}

func TestValidateRejectsExpiredToken(t *testing.T) {
	s := testService(t, time.Minute)
	s.accessTokenDuration = -time.Minute

	token, err := s.GenerateAccessToken("admin")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.ValidateAccessToken(token); err != ErrTokenExpired {
		t.Errorf("expired token: err = %v", err)
	}
}

func middlewareStatus(t *testing.T, service *Service, header string) int {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(Middleware(service))
	router.GET("/guarded", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/guarded", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec.Code
}

func TestMiddlewareGuardsRoutes(t *testing.T) {
	s := testService(t, time.Minute)
	token, err := s.GenerateAccessToken("admin")
	if err != nil {
		t.Fatal(err)
	}

	if code := middlewareStatus(t, s, ""); code != http.StatusUnauthorized {
		t.Errorf("no header: status = %d", code)
	}
	if code := middlewareStatus(t, s, "Basic abc"); code != http.StatusUnauthorized {
		t.Errorf("non-bearer: status = %d", code)
	}
	if code := middlewareStatus(t, s, "Bearer garbage"); code != http.StatusUnauthorized {
		t.Errorf("garbage token: status = %d", code)
	}
	if code := middlewareStatus(t, s, "Bearer "+token); code != http.StatusOK {
		t.Errorf("valid token: status = %d", code)
	}
}

func TestMiddlewareDisabledPassesThrough(t *testing.T) {
	if code := middlewareStatus(t, nil, ""); code != http.StatusOK {
		t.Errorf("disabled auth: status = %d", code)
	}
}
