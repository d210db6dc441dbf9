package rbac

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"roofcrm/internal/auth"

	"github.com/gin-gonic/gin"
)

func protectedRoute(identityRole, identityWorkspace string, allowed ...string) *gin.Engine {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.GET("/x", func(c *gin.Context) {
		ctx := auth.WithIdentity(c.Request.Context(), "u", identityWorkspace, identityRole)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}, RequireWorkspace(), RequireAnyRole(allowed...), func(c *gin.Context) {
		c.Status(200)
	})
	return r
}

func TestRequireAnyRole_SuperAdminBypasses(t *testing.T) {
	r := protectedRoute(RoleSuperAdmin, "w", RoleOwner)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestRequireAnyRole_DeniesUnlistedRole(t *testing.T) {
	r := protectedRoute(RoleCrew, "w", RoleOwner, RoleOffice)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	if w.Code != 403 {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}

func TestRequireAnyRole_AllowsListedRole(t *testing.T) {
	r := protectedRoute(RoleSales, "w", RoleOffice, RoleSales)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestRequireWorkspace_MissingWorkspace(t *testing.T) {
	r := protectedRoute(RoleOwner, "", RoleOwner)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	if w.Code != 401 {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}
