package infrastructure

import (
	"strings"

	"riskgate/internal/service/risk/domain"
)

func toEventModel(e *domain.ProfileEvent) *ProfileEventModel {
	return &ProfileEventModel{
		ID:                e.Seq,
		EventID:           e.ID,
		Email:             e.Email,
		Type:              string(e.Type),
		OrderID:           e.OrderID,
		LotID:             e.LotID,
		Quantity:          e.Quantity,
		DeviceFingerprint: e.DeviceFingerprint,
		Reason:            e.Reason,
		OccurredAt:        e.OccurredAt,
	}
}

func toDomainEvent(m *ProfileEventModel) *domain.ProfileEvent {
	return &domain.ProfileEvent{
		Seq:               m.ID,
		ID:                m.EventID,
		Email:             m.Email,
		Type:              domain.EventType(m.Type),
		OrderID:           m.OrderID,
		LotID:             m.LotID,
		Quantity:          m.Quantity,
		DeviceFingerprint: m.DeviceFingerprint,
		Reason:            m.Reason,
		OccurredAt:        m.OccurredAt,
	}
}

func toAssessmentModel(a *domain.Assessment) *AssessmentModel {
	flags := make([]string, len(a.Flags))
	for i, f := range a.Flags {
		flags[i] = string(f)
	}
	return &AssessmentModel{
		AssessmentID:      a.ID,
		Email:             a.Email,
		LotID:             a.LotID,
		Quantity:          a.Quantity,
		DeviceFingerprint: a.DeviceFingerprint,
		Allowed:           a.Allowed,
		Decision:          string(a.Decision),
		Flags:             strings.Join(flags, ","),
		Score:             a.Score,
		Tier:              string(a.Tier),
		EvaluatedAt:       a.EvaluatedAt,
	}
}

func toDomainAssessment(m *AssessmentModel) *domain.Assessment {
	flags := []domain.RiskFlag{}
	if m.Flags != "" {
		for _, f := range strings.Split(m.Flags, ",") {
			flags = append(flags, domain.RiskFlag(f))
		}
	}
	return &domain.Assessment{
		ID:                m.AssessmentID,
		Email:             m.Email,
		LotID:             m.LotID,
		Quantity:          m.Quantity,
		DeviceFingerprint: m.DeviceFingerprint,
		Allowed:           m.Allowed,
		Decision:          domain.Decision(m.Decision),
		Flags:             flags,
		Score:             m.Score,
		Tier:              domain.TrustTier(m.Tier),
		EvaluatedAt:       m.EvaluatedAt,
	}
}
