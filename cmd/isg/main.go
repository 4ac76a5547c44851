// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command isg manages an interface signature graph.
//
// The graph lives in the configured storage backend. Every subcommand except
// serve opens the store, runs one operation and closes it, so a persistent
// backend (badger or sqlite) is needed for state to carry between runs.
//
// Usage:
//
//	isg serve --config isg.yaml
//	isg load parsed.json --backend sqlite --path ./isg.db
//	isg query "entity_type='fn', is_public=true"
//	isg export --level 1 --format tsv --filter "file_path ~ 'src/'"
//	isg mutate rust:fn:run:src_lib_rs:1-5 edit --code-file run.rs
//	isg changes
//	isg commit
//	isg cluster
//	isg blast-radius rust:fn:helper:src_lib_rs:7-9 --depth 3
//
// Example requests against a running server:
//
//	# Health check
//	curl http://127.0.0.1:12217/v1/isg/health
//
//	# Level 0 edge export
//	curl 'http://127.0.0.1:12217/v1/isg/export?level=0'
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
