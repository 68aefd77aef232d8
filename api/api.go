package api

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/cedarmint/cedar"
	"github.com/cedarmint/cedar/api/middleware"
	"github.com/cedarmint/cedar/config"
	"github.com/cedarmint/cedar/internal/apierror"
)

type Api struct {
	cedar  *cedar.Cedar
	router *gin.Engine
}

func (a Api) Router() *gin.Engine {
	router := a.router
	router.POST("/transactions", a.SubmitTransaction)
	router.GET("/transactions/:id", a.GetTransaction)
	router.GET("/transactions", a.GetAllTransactions)
	router.PUT("/transactions/hold/:id", a.ResolveHold)
	router.POST("/transactions/reverse/:id", a.ReverseTransaction)
	router.GET("/transactions/:id/verdicts", a.GetFraudVerdicts)

	router.POST("/accounts", a.CreateAccount)
	router.GET("/accounts/:number", a.GetAccount)
	router.GET("/accounts", a.GetAllAccounts)
	router.PUT("/accounts/:number/status", a.UpdateAccountStatus)

	return a.router
}

func NewAPI(c *cedar.Cedar) *Api {
	gin.SetMode(gin.ReleaseMode)
	conf, err := config.Fetch()
	if err != nil {
		return nil
	}
	r := gin.Default()
	r.Use(middleware.RateLimitMiddleware(conf))
	if conf.Server.Secure {
		r.Use(middleware.SecretKeyAuthMiddleware())
	}

	r.GET("/", func(c *gin.Context) {
		c.JSON(200, "server running...")
	})

	return &Api{cedar: c, router: r}
}

// respondError maps a coordinator error onto an HTTP status. Unrecognized
// errors are treated as internal.
func respondError(c *gin.Context, err error) {
	status := apierror.MapErrorToHTTPStatus(err)
	var apiErr apierror.APIError
	if errors.As(err, &apiErr) {
		c.JSON(status, gin.H{"error": apiErr.Message})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
