package dbbuilder

import (
	"math/big"

	"github.com/blocksettledb/bdv-server/logger"
	"github.com/blocksettledb/bdv-server/logs"
)

func bigOne() *big.Int {
	return big.NewInt(1)
}

func noopLogger() *logs.Logger {
	l, _ := logger.Get(logger.SubsystemDBBuilder)
	return l
}
