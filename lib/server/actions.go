// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"errors"
	"path/filepath"

	"github.com/bureau-foundation/driverfleet/lib/deploy"
	"github.com/bureau-foundation/driverfleet/lib/protocol"
	"github.com/bureau-foundation/driverfleet/lib/service"
	"github.com/bureau-foundation/driverfleet/lib/session"
	"github.com/bureau-foundation/driverfleet/lib/store"
	"github.com/bureau-foundation/driverfleet/lib/version"
)

// Operator socket actions.
const (
	ActionStatus        = "status"
	ActionListSessions  = "list-sessions"
	ActionListPackages  = "list-packages"
	ActionDeploy        = "deploy"
	ActionMassDeploy    = "mass-deploy"
	ActionUploadPackage = "upload-package"
)

// Status is the reply to the status action.
type Status struct {
	ListenAddress string `cbor:"listen_address" json:"listen_address"`
	SessionCount  int    `cbor:"session_count" json:"session_count"`
	PackageCount  int    `cbor:"package_count" json:"package_count"`
	StoreDir      string `cbor:"store_dir" json:"store_dir"`
	Version       string `cbor:"version" json:"version"`
}

// DeployRequest carries the deploy action's fields.
type DeployRequest struct {
	SessionID string `cbor:"session_id"`
	Package   string `cbor:"package"`
}

// MassDeployRequest carries the mass-deploy action's fields.
type MassDeployRequest struct {
	Package string `cbor:"package"`
}

// MassDeployReply is the outcome list plus per-status counts.
type MassDeployReply struct {
	Outcomes []deploy.Outcome        `cbor:"outcomes" json:"outcomes"`
	Summary  map[protocol.Status]int `cbor:"summary" json:"summary"`
}

// UploadRequest names a file on the server's filesystem.
type UploadRequest struct {
	Path string `cbor:"path"`
}

// Status reports the server's counters.
func (s *Server) Status() (Status, error) {
	packages, err := s.store.List()
	if err != nil {
		return Status{}, err
	}
	return Status{
		ListenAddress: s.Address(),
		SessionCount:  s.registry.Count(),
		PackageCount:  len(packages),
		StoreDir:      s.store.Dir(),
		Version:       version.Info(),
	}, nil
}

func (s *Server) registerActions(socket *service.SocketServer) {
	socket.Handle(ActionStatus, func(ctx context.Context, raw []byte) (any, error) {
		return s.Status()
	})

	socket.Handle(ActionListSessions, func(ctx context.Context, raw []byte) (any, error) {
		sessions := s.Sessions()
		if sessions == nil {
			sessions = []session.Info{}
		}
		return sessions, nil
	})

	socket.Handle(ActionListPackages, func(ctx context.Context, raw []byte) (any, error) {
		packages, err := s.Packages()
		if err != nil {
			return nil, err
		}
		if packages == nil {
			packages = []store.Package{}
		}
		return packages, nil
	})

	socket.Handle(ActionDeploy, func(ctx context.Context, raw []byte) (any, error) {
		var request DeployRequest
		if err := service.DecodeRequest(raw, &request); err != nil {
			return nil, err
		}
		if request.SessionID == "" {
			return nil, errors.New("missing required field: session_id")
		}
		if request.Package == "" {
			return nil, errors.New("missing required field: package")
		}
		return s.Deploy(ctx, request.SessionID, request.Package), nil
	})

	socket.Handle(ActionMassDeploy, func(ctx context.Context, raw []byte) (any, error) {
		var request MassDeployRequest
		if err := service.DecodeRequest(raw, &request); err != nil {
			return nil, err
		}
		if request.Package == "" {
			return nil, errors.New("missing required field: package")
		}
		outcomes := s.MassDeploy(ctx, request.Package)
		if outcomes == nil {
			outcomes = []deploy.Outcome{}
		}
		return MassDeployReply{Outcomes: outcomes, Summary: deploy.Summarize(outcomes)}, nil
	})

	socket.Handle(ActionUploadPackage, func(ctx context.Context, raw []byte) (any, error) {
		var request UploadRequest
		if err := service.DecodeRequest(raw, &request); err != nil {
			return nil, err
		}
		if request.Path == "" {
			return nil, errors.New("missing required field: path")
		}
		if !filepath.IsAbs(request.Path) {
			return nil, errors.New("path must be absolute")
		}
		return s.Upload(request.Path)
	})
}
