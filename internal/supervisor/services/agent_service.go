// Offsite - Live Server Snapshot and Remote Transfer
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/offsite

package services

import (
	"context"

	"github.com/thejerf/suture/v4"

	"github.com/tomtom215/offsite/internal/logging"
)

// Runner is satisfied by *agent.Agent.
type Runner interface {
	Run(ctx context.Context) error
}

// AgentService runs the backup agent for the life of the tree.
//
// The agent owns the server process and the in-flight backup, so it is not
// restartable: Run may only be called once. If it stops while the tree is
// still running, the whole tree is terminated and the daemon exits.
type AgentService struct {
	agent Runner
	name  string
}

// NewAgentService wraps a.
func NewAgentService(a Runner) *AgentService {
	return &AgentService{agent: a, name: "backup-agent"}
}

// Serve implements suture.Service.
func (s *AgentService) Serve(ctx context.Context) error {
	err := s.agent.Run(ctx)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	logging.Error().Err(err).Msg("Backup agent stopped unexpectedly, terminating")
	return suture.ErrTerminateSupervisorTree
}

// String names the service in supervisor logs.
func (s *AgentService) String() string {
	return s.name
}
