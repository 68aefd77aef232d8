package cedar

import (
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/cedarmint/cedar/config"
	"github.com/cedarmint/cedar/database"
	"github.com/cedarmint/cedar/fraud"
	redis_db "github.com/cedarmint/cedar/internal/redis-db"
)

// Cedar is the transaction coordinator. It owns the lifecycle of every
// submission: validation, fraud evaluation, the atomic ledger commit, and
// the async notification dispatch.
type Cedar struct {
	queue      *Queue
	redis      redis.UniversalClient
	datasource database.IDataSource
	fraud      *fraud.Engine
}

// NewCedar initializes a coordinator backed by the provided datasource.
// It wires up the redis client, the task queue, and the fraud engine with
// the default rule set.
func NewCedar(db database.IDataSource) (*Cedar, error) {
	configuration, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	redisClient, err := redis_db.NewRedisClient([]string{fmt.Sprintf("redis://%s", configuration.Redis.Dns)})
	if err != nil {
		return nil, err
	}
	newQueue := NewQueue(configuration)
	newCedar := &Cedar{
		datasource: db,
		queue:      newQueue,
		redis:      redisClient.Client(),
		fraud:      fraud.NewEngine(),
	}
	return newCedar, nil
}

// FraudEngine exposes the rule engine so operators can hot-swap the rule
// set.
func (c *Cedar) FraudEngine() *fraud.Engine {
	return c.fraud
}
