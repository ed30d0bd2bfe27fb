// Copyright © 2019 Binance
//
// This file is part of Binance. The full Binance copyright notice, including
// terms governing use, modification, and redistribution, is contained in the
// file LICENSE at the root of the source code distribution tree.

package common

import (
	logging "github.com/ipfs/go-log/v2"
)

// Logger is shared across every package in the engine, the same way the
// teacher library exposes a single package-level common.Logger backed by
// go-log. go-log/v2 is itself a thin structured-logging facade over zap.
var Logger = logging.Logger("ceremony")

// SetLogLevel adjusts the verbosity of the shared logger at runtime, e.g.
// from a node's configuration file.
func SetLogLevel(level string) error {
	return logging.SetLogLevel("ceremony", level)
}
