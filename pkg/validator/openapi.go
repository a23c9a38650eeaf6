// Package validator checks gateway requests against the OpenAPI document of
// the gateway before they reach a handler.
package validator

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"sync"

	apperrors "booking-inbox/client/pkg/errors"
	"booking-inbox/client/pkg/logger"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/gorillamux"
	"github.com/gin-gonic/gin"
)

// Schema is the gateway's OpenAPI document
//
//go:embed openapi.yaml
var Schema []byte

// CodeSchemaViolation is the error code of a request the document rejects
const CodeSchemaViolation = "SCHEMA_VIOLATION"

// OpenAPIValidator validates requests against an OpenAPI document
type OpenAPIValidator struct {
	mutex  sync.RWMutex
	doc    *openapi3.T
	router routers.Router
	raw    []byte
}

// New returns a validator for the embedded gateway document
func New() (*OpenAPIValidator, error) {
	return NewFromData(Schema)
}

// NewFromData creates a validator from a YAML or JSON document
func NewFromData(data []byte) (*OpenAPIValidator, error) {
	v := &OpenAPIValidator{}
	if err := v.Reload(data); err != nil {
		return nil, err
	}
	return v, nil
}

func load(data []byte) (*openapi3.T, routers.Router, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(data)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load OpenAPI schema: %w", err)
	}
	if err := doc.Validate(context.Background()); err != nil {
		return nil, nil, fmt.Errorf("invalid OpenAPI schema: %w", err)
	}

	router, err := gorillamux.NewRouter(doc)
	if err != nil {
		return nil, nil, fmt.Errorf("error creating OpenAPI router: %w", err)
	}
	return doc, router, nil
}

// Reload swaps in a new document. The old one stays active if data is invalid.
func (v *OpenAPIValidator) Reload(data []byte) error {
	doc, router, err := load(data)
	if err != nil {
		return err
	}

	v.mutex.Lock()
	defer v.mutex.Unlock()
	v.doc = doc
	v.router = router
	v.raw = append([]byte(nil), data...)
	return nil
}

// Document returns the raw document currently in use
func (v *OpenAPIValidator) Document() []byte {
	v.mutex.RLock()
	defer v.mutex.RUnlock()
	return v.raw
}

// Paths lists the templated paths the document describes
func (v *OpenAPIValidator) Paths() []string {
	v.mutex.RLock()
	defer v.mutex.RUnlock()
	return v.doc.Paths.InMatchingOrder()
}

// Middleware rejects requests that break the document. Requests to routes
// the document does not describe pass through unchecked.
func (v *OpenAPIValidator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		v.mutex.RLock()
		router := v.router
		v.mutex.RUnlock()

		route, pathParams, err := router.FindRoute(c.Request)
		if err != nil {
			c.Next()
			return
		}

		input := &openapi3filter.RequestValidationInput{
			Request:    c.Request,
			PathParams: pathParams,
			Route:      route,
			Options: &openapi3filter.Options{
				AuthenticationFunc: openapi3filter.NoopAuthenticationFunc,
			},
		}

		if err := openapi3filter.ValidateRequest(c.Request.Context(), input); err != nil {
			logger.FromContext(c).Warn("Request rejected by schema",
				"path", c.Request.URL.Path,
				"method", c.Request.Method,
				"error", err.Error(),
			)
			_ = c.Error(apperrors.NewBadRequestError(CodeSchemaViolation, describe(err)))
			c.Abort()
			return
		}

		c.Next()
	}
}

// describe keeps the client-facing message short
func describe(err error) string {
	var reqErr *openapi3filter.RequestError
	if errors.As(err, &reqErr) {
		if reqErr.Parameter != nil {
			return fmt.Sprintf("invalid parameter %q", reqErr.Parameter.Name)
		}
		if reqErr.RequestBody != nil {
			return "request body does not match the schema"
		}
		return reqErr.Reason
	}
	return "request does not match the schema"
}
