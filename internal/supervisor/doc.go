// Offsite - Live Server Snapshot and Remote Transfer
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/offsite

/*
Package supervisor runs the daemon's long-lived services under suture v4.

The tree has two layers so a failing control API never takes the backup
core down with it:

	RootSupervisor ("offsite")
	├── CoreSupervisor ("core-layer")
	│   └── AgentService (scheduler, server process, backup manager)
	└── APISupervisor ("api-layer")
	    └── HTTPServerService (control API)

Supervisor events are logged through sutureslog on top of the zerolog-backed
slog handler from the logging package.

# Usage

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.TreeConfig{})
	if err != nil {
	    return err
	}
	tree.AddCoreService(services.NewAgentService(a))
	tree.AddAPIService(services.NewHTTPServerService(srv, 10*time.Second))
	return tree.Serve(ctx)
*/
package supervisor
