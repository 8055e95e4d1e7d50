package api

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/oapi-codegen/runtime"
)

// ListAuditParams defines parameters for ListAudit.
type ListAuditParams struct {
	// Page is zero-based.
	Page *int `form:"page,omitempty" json:"page,omitempty"`
	// PageSize defaults to 50, at most 500.
	PageSize *int `form:"page_size,omitempty" json:"page_size,omitempty"`
}

// ServerInterface represents all server handlers of the admin API
// described by openapi.yaml.
type ServerInterface interface {
	// (GET /connections)
	ListConnections(ctx echo.Context) error
	// (POST /connections)
	CreateConnection(ctx echo.Context) error
	// (GET /connections/{id})
	GetConnection(ctx echo.Context, id string) error
	// (PUT /connections/{id})
	UpdateConnection(ctx echo.Context, id string) error
	// (DELETE /connections/{id})
	DeleteConnection(ctx echo.Context, id string) error
	// (POST /connections/{id}/activate)
	ActivateConnection(ctx echo.Context, id string) error
	// (POST /connections/{id}/test)
	TestConnection(ctx echo.Context, id string) error
	// (GET /settings)
	ListSettings(ctx echo.Context) error
	// (PUT /settings/{key})
	PutSetting(ctx echo.Context, key string) error
	// (GET /audit)
	ListAudit(ctx echo.Context, params ListAuditParams) error
}

// ServerInterfaceWrapper converts echo contexts to parameters.
type ServerInterfaceWrapper struct {
	Handler ServerInterface
}

func (w *ServerInterfaceWrapper) ListConnections(ctx echo.Context) error {
	return w.Handler.ListConnections(ctx)
}

func (w *ServerInterfaceWrapper) CreateConnection(ctx echo.Context) error {
	return w.Handler.CreateConnection(ctx)
}

func (w *ServerInterfaceWrapper) GetConnection(ctx echo.Context) error {
	id, err := bindPathString(ctx, "id")
	if err != nil {
		return err
	}
	return w.Handler.GetConnection(ctx, id)
}

func (w *ServerInterfaceWrapper) UpdateConnection(ctx echo.Context) error {
	id, err := bindPathString(ctx, "id")
	if err != nil {
		return err
	}
	return w.Handler.UpdateConnection(ctx, id)
}

func (w *ServerInterfaceWrapper) DeleteConnection(ctx echo.Context) error {
	id, err := bindPathString(ctx, "id")
	if err != nil {
		return err
	}
	return w.Handler.DeleteConnection(ctx, id)
}

func (w *ServerInterfaceWrapper) ActivateConnection(ctx echo.Context) error {
	id, err := bindPathString(ctx, "id")
	if err != nil {
		return err
	}
	return w.Handler.ActivateConnection(ctx, id)
}

func (w *ServerInterfaceWrapper) TestConnection(ctx echo.Context) error {
	id, err := bindPathString(ctx, "id")
	if err != nil {
		return err
	}
	return w.Handler.TestConnection(ctx, id)
}

func (w *ServerInterfaceWrapper) ListSettings(ctx echo.Context) error {
	return w.Handler.ListSettings(ctx)
}

func (w *ServerInterfaceWrapper) PutSetting(ctx echo.Context) error {
	key, err := bindPathString(ctx, "key")
	if err != nil {
		return err
	}
	return w.Handler.PutSetting(ctx, key)
}

func (w *ServerInterfaceWrapper) ListAudit(ctx echo.Context) error {
	var params ListAuditParams

	err := runtime.BindQueryParameter("form", true, false, "page", ctx.QueryParams(), &params.Page)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Invalid format for parameter page: %s", err))
	}
	err = runtime.BindQueryParameter("form", true, false, "page_size", ctx.QueryParams(), &params.PageSize)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Invalid format for parameter page_size: %s", err))
	}
	return w.Handler.ListAudit(ctx, params)
}

func bindPathString(ctx echo.Context, name string) (string, error) {
	var value string
	err := runtime.BindStyledParameterWithOptions("simple", name, ctx.Param(name), &value,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		return "", echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Invalid format for parameter %s: %s", name, err))
	}
	return value, nil
}

// EchoRouter is satisfied by *echo.Echo and *echo.Group.
type EchoRouter interface {
	DELETE(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
	GET(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
	POST(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
	PUT(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
}

// RegisterHandlers adds each server route to the router.
func RegisterHandlers(router EchoRouter, si ServerInterface) {
	wrapper := ServerInterfaceWrapper{Handler: si}

	router.GET("/connections", wrapper.ListConnections)
	router.POST("/connections", wrapper.CreateConnection)
	router.GET("/connections/:id", wrapper.GetConnection)
	router.PUT("/connections/:id", wrapper.UpdateConnection)
	router.DELETE("/connections/:id", wrapper.DeleteConnection)
	router.POST("/connections/:id/activate", wrapper.ActivateConnection)
	router.POST("/connections/:id/test", wrapper.TestConnection)
	router.GET("/settings", wrapper.ListSettings)
	router.PUT("/settings/:key", wrapper.PutSetting)
	router.GET("/audit", wrapper.ListAudit)
}
