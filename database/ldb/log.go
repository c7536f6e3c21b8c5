package ldb

import (
	"github.com/amjuarez/bytecoin-sub001/logger"
)

var log, _ = logger.Get(logger.SubsystemTags.BCDB)
