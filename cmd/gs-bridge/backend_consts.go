package main

import "time"

const (
	txQueueSize       = 1024 // capacity of async TX ring
	serialReadBufSize = 4096 // per read() buffer for the RX pump
	rxChanDepth       = 64   // decoded-chunk channel between pump and core
	rxBackoffMin      = 20 * time.Millisecond
	rxBackoffMax      = 500 * time.Millisecond
	// Reopen attempts after the device vanishes are spaced further apart;
	// udev can take seconds to re-create the node after a replug.
	reopenBackoffMin = 250 * time.Millisecond
	reopenBackoffMax = 5 * time.Second
)
