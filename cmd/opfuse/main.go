// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command opfuse finds fusible operator partitions in computation graphs.
//
// Usage:
//
//	opfuse patterns [--describe]
//	opfuse samples
//	opfuse match --sample mlp [--workers 4] [--order reverse]
//	opfuse match --graph model.json --json
//	opfuse serve --addr :8080
//	opfuse cache keys | purge
//	opfuse config init | show | validate FILE
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
