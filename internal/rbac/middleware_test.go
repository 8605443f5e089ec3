package rbac

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"djtips-platform/internal/auth"
	"djtips-platform/internal/domain"

	"github.com/gin-gonic/gin"
)

func routerWithRole(role string, guard gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/x", func(c *gin.Context) {
		if role != "" {
			ctx := auth.WithPrincipal(c.Request.Context(), auth.Principal{ID: domain.NewID(), Role: role})
			c.Request = c.Request.WithContext(ctx)
		}
		c.Next()
	}, guard, func(c *gin.Context) {
		c.Status(200)
	})
	return r
}

func serve(r *gin.Engine) int {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	return w.Code
}

func TestRequireAnyRole_AdminBypasses(t *testing.T) {
	if code := serve(routerWithRole(RoleAdmin, RequireAnyRole(RoleDJ))); code != 200 {
		t.Fatalf("expected 200, got %d", code)
	}
}

func TestRequireAnyRole_DeniesOtherRoles(t *testing.T) {
	if code := serve(routerWithRole(RoleUser, RequireAnyRole(RoleDJ))); code != 403 {
		t.Fatalf("expected 403, got %d", code)
	}
	if code := serve(routerWithRole("network_operator", RequireAnyRole("network_operator"))); code != 403 {
		t.Fatalf("expected unknown role denied, got %d", code)
	}
}

func TestRequireAnyRole_NoPrincipal(t *testing.T) {
	if code := serve(routerWithRole("", RequireAnyRole(RoleUser))); code != 401 {
		t.Fatalf("expected 401, got %d", code)
	}
}

func TestRequireAdmin(t *testing.T) {
	if code := serve(routerWithRole(RoleDJ, RequireAdmin())); code != 403 {
		t.Fatalf("expected 403, got %d", code)
	}
	if code := serve(routerWithRole(RoleAdmin, RequireAdmin())); code != 200 {
		t.Fatalf("expected 200, got %d", code)
	}
}
