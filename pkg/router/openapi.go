package router

import (
	"fmt"

	"booking-inbox/client/pkg/validator"

	"github.com/gin-gonic/gin"
)

// addOpenAPIValidation checks requests against the gateway document and
// serves the document. It must run before routes are registered.
func (r *Router) addOpenAPIValidation() error {
	v, err := validator.New()
	if err != nil {
		return fmt.Errorf("failed to initialize OpenAPI validator: %w", err)
	}
	r.Validator = v

	r.Engine.Use(v.Middleware())
	r.Engine.GET("/api/docs/openapi.yaml", func(c *gin.Context) {
		c.Data(200, "application/yaml", v.Document())
	})
	r.Logger.Info("OpenAPI validation enabled", "paths", len(v.Paths()), "url", "/api/docs/openapi.yaml")
	return nil
}
