package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	model2 "github.com/cedarmint/cedar/api/model"
	"github.com/cedarmint/cedar/config"
)

// SubmitTransaction handles a transaction submission. The request is
// validated and converted to minor units before the coordinator runs the
// full lifecycle: fraud gate first, then the atomic ledger commit.
//
// Responses:
// - 400 Bad Request: malformed body or failed validation.
// - 201 Created: the transaction reached a recorded state, which the
//   caller must inspect: CLEARED, FLAGGED or DECLINED.
func (a Api) SubmitTransaction(c *gin.Context) {
	var newTransaction model2.SubmitTransaction
	if err := c.ShouldBindJSON(&newTransaction); err != nil {
		logrus.Error(err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input"})
		return
	}

	if err := newTransaction.ValidateSubmitTransaction(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	conf, err := config.Fetch()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp, err := a.cedar.Submit(c.Request.Context(), newTransaction.ToTransaction(conf.Precision))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// GetTransaction retrieves a transaction by its ID.
func (a Api) GetTransaction(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	resp, err := a.cedar.GetTransaction(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (a Api) GetAllTransactions(c *gin.Context) {
	limit, offset := pagination(c)
	resp, err := a.cedar.GetAllTransactions(c.Request.Context(), limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// ResolveHold finalizes a flagged transaction on behalf of a reviewer.
// The body carries the outcome: CLEARED applies the held legs exactly
// once, DECLINED finalizes with no balance effect.
//
// Responses:
// - 400 Bad Request: missing ID or unsupported outcome.
// - 409 Conflict: the transaction is not currently held.
// - 200 OK: the hold was resolved.
func (a Api) ResolveHold(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	var req model2.ResolveHold
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := req.ValidateResolveHold(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	resp, err := a.cedar.ResolveHold(c.Request.Context(), id, req.Status)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// ReverseTransaction records a compensating transaction for a cleared
// one. The original is marked REVERSED; history is never edited.
func (a Api) ReverseTransaction(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	resp, err := a.cedar.ReverseTransaction(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// GetFraudVerdicts returns the audit trail of fraud evaluations recorded
// for a transaction.
func (a Api) GetFraudVerdicts(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	resp, err := a.cedar.GetFraudVerdicts(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func pagination(c *gin.Context) (limit, offset int) {
	limit = 50
	offset = 0
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if raw := c.Query("offset"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed >= 0 {
			offset = parsed
		}
	}
	return limit, offset
}
