package apply

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"statusflow/internal/logger"
	"statusflow/internal/store"
	"statusflow/pkg/errors"
)

// APIHandler serves a read-only view of the status store.
type APIHandler struct {
	store  store.Store
	logger logger.Logger
}

func NewAPIHandler(s store.Store, log logger.Logger) *APIHandler {
	return &APIHandler{
		store:  s,
		logger: log,
	}
}

func (h *APIHandler) RegisterRoutes(router gin.IRouter) {
	v1 := router.Group("/api/v1")
	{
		modules := v1.Group("/modules")
		{
			modules.GET("", h.ListModules)
			modules.GET("/:id", h.GetModule)
		}
	}
}

func (h *APIHandler) HandleError(c *gin.Context, err error) {
	status := errors.ToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorwCtx(c.Request.Context(), "Request error", "error", err, "path", c.Request.URL.Path)
	}
	c.JSON(status, errors.ToErrorResponse(err))
}

func (h *APIHandler) ListModules(c *gin.Context) {
	records, err := h.store.List(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, records)
}

func (h *APIHandler) GetModule(c *gin.Context) {
	record, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}
