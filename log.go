package main

import (
	"github.com/amjuarez/bytecoin-sub001/logger"
)

var log, _ = logger.Get(logger.SubsystemTags.BYTD)
