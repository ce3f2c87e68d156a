package executor

import (
	"fmt"

	"github.com/lunfardo314/nodexec/api"
	"github.com/lunfardo314/nodexec/api/server"
	"github.com/lunfardo314/nodexec/api/subscription"
	"github.com/lunfardo314/nodexec/global"
)

// queryEnvironment is what query handlers need: logging and metrics of the process, data of the node
type queryEnvironment struct {
	*global.Global
	api.NodeReader
}

func (e *Executor) attachQueryAPI() error {
	table := e.node.QueryTable()
	if err := server.Attach(table, &queryEnvironment{Global: e.env, NodeReader: e.node}); err != nil {
		return fmt.Errorf("attach query API: %w", err)
	}
	e.log.Infof("query API attached: %d paths", table.Len())
	return nil
}

func (e *Executor) attachSubscriptionAPI() error {
	if _, err := subscription.Attach(e.node.SubscriptionTable(), e.node, e.env); err != nil {
		return fmt.Errorf("attach subscription API: %w", err)
	}
	e.log.Infof("subscription API attached")
	return nil
}
