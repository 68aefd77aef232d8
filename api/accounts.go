package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	model2 "github.com/cedarmint/cedar/api/model"
	"github.com/cedarmint/cedar/config"
)

// CreateAccount registers a new account with zeroed balances.
func (a Api) CreateAccount(c *gin.Context) {
	var newAccount model2.CreateAccount
	if err := c.ShouldBindJSON(&newAccount); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input"})
		return
	}

	if err := newAccount.ValidateCreateAccount(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	conf, err := config.Fetch()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp, err := a.cedar.CreateAccount(c.Request.Context(), newAccount.ToAccount(conf.Precision))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// GetAccount returns the account with its recent transaction history.
func (a Api) GetAccount(c *gin.Context) {
	number, passed := c.Params.Get("number")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "account number is required. pass it in the route /:number"})
		return
	}

	account, transactions, err := a.cedar.GetAccountWithActivity(c.Request.Context(), number)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"account": account, "recent_transactions": transactions})
}

func (a Api) GetAllAccounts(c *gin.Context) {
	limit, offset := pagination(c)
	resp, err := a.cedar.GetAllAccounts(c.Request.Context(), limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// UpdateAccountStatus moves an account between ACTIVE, FROZEN and
// CLOSED. A closed account is terminal and rejects further updates.
func (a Api) UpdateAccountStatus(c *gin.Context) {
	number, passed := c.Params.Get("number")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "account number is required. pass it in the route /:number"})
		return
	}

	var req model2.UpdateAccountStatus
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := req.ValidateUpdateAccountStatus(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	if err := a.cedar.UpdateAccountStatus(c.Request.Context(), number, req.Status); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"account_number": number, "status": req.Status})
}
