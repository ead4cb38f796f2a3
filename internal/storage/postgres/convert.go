package postgres

import (
	"encoding/json"

	"github.com/okanya/scriptbox/internal/domain"
)

func toInstanceModel(inst *domain.Instance) InstanceModel {
	return InstanceModel{
		ID:                   inst.ID,
		Name:                 inst.Name,
		Kind:                 string(inst.Kind),
		Host:                 inst.Host,
		Port:                 inst.Port,
		User:                 inst.User,
		URI:                  inst.URI,
		CredentialsEnvPrefix: inst.CredentialsEnvPrefix,
		Enabled:              inst.Enabled,
		CreatedAt:            inst.CreatedAt,
		UpdatedAt:            inst.UpdatedAt,
	}
}

func toInstanceDomain(m *InstanceModel) *domain.Instance {
	return &domain.Instance{
		ID:                   m.ID,
		Name:                 m.Name,
		Kind:                 domain.DatabaseKind(m.Kind),
		Host:                 m.Host,
		Port:                 m.Port,
		User:                 m.User,
		URI:                  m.URI,
		CredentialsEnvPrefix: m.CredentialsEnvPrefix,
		Enabled:              m.Enabled,
		CreatedAt:            m.CreatedAt,
		UpdatedAt:            m.UpdatedAt,
	}
}

func toRequestModel(req *domain.ScriptRequest) ScriptRequestModel {
	return ScriptRequestModel{
		ID:              req.ID,
		Title:           req.Title,
		Script:          req.Script,
		Language:        string(req.Language),
		DatabaseKind:    string(req.DatabaseKind),
		InstanceName:    req.InstanceName,
		DatabaseName:    req.DatabaseName,
		RequestedBy:     req.RequestedBy,
		ReviewedBy:      req.ReviewedBy,
		Reason:          req.Reason,
		Status:          int16(req.Status),
		ExecutionResult: JSONB(req.ExecutionResult),
		SubmittedAt:     req.SubmittedAt,
		ExpiresAt:       req.ExpiresAt,
		ReviewedAt:      req.ReviewedAt,
		ExecutedAt:      req.ExecutedAt,
		UpdatedAt:       req.UpdatedAt,
	}
}

func toRequestDomain(m *ScriptRequestModel) *domain.ScriptRequest {
	return &domain.ScriptRequest{
		ID:              m.ID,
		Title:           m.Title,
		Script:          m.Script,
		Language:        domain.Language(m.Language),
		DatabaseKind:    domain.DatabaseKind(m.DatabaseKind),
		InstanceName:    m.InstanceName,
		DatabaseName:    m.DatabaseName,
		RequestedBy:     m.RequestedBy,
		ReviewedBy:      m.ReviewedBy,
		Reason:          m.Reason,
		Status:          domain.RequestStatus(m.Status),
		ExecutionResult: json.RawMessage(m.ExecutionResult),
		SubmittedAt:     m.SubmittedAt,
		ExpiresAt:       m.ExpiresAt,
		ReviewedAt:      m.ReviewedAt,
		ExecutedAt:      m.ExecutedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}
