package handler

import (
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/nanoassist/dashboard/internal/domain"
)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report JSON field names in validation errors.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type registerRequest struct {
	Email           string `json:"email" validate:"required,email"`
	FullName        string `json:"fullName" validate:"max=200"`
	Password        string `json:"password" validate:"required,min=8"`
	ConfirmPassword string `json:"confirmPassword" validate:"required,eqfield=Password"`
}

type profileUpdateRequest struct {
	Role      string   `json:"role" validate:"omitempty,oneof=admin user"`
	FullName  *string  `json:"fullName" validate:"omitempty,max=200"`
	AvatarURL *string  `json:"avatarUrl" validate:"omitempty,max=2048"`
	Stores    []string `json:"stores" validate:"omitempty,dive,max=200"`
}

type recordingIngest struct {
	UserID           string     `json:"userId" validate:"required"`
	StoreName        string     `json:"storeName" validate:"required,max=200"`
	CreatedAt        *time.Time `json:"createdAt"`
	DurationSeconds  *int       `json:"durationSeconds" validate:"omitempty,gte=0"`
	RecordingURL     string     `json:"recordingUrl" validate:"omitempty,url"`
	PhoneNumber      string     `json:"phoneNumber" validate:"max=64"`
	Direction        string     `json:"direction" validate:"omitempty,oneof=inbound outbound"`
	ClientPersonalID string     `json:"clientPersonalId"`
	Transcript       string     `json:"transcript"`
	Status           string     `json:"status" validate:"max=64"`
}

func (in recordingIngest) toDomain() *domain.CallRecord {
	rec := &domain.CallRecord{
		UserID:           in.UserID,
		StoreName:        in.StoreName,
		DurationSeconds:  in.DurationSeconds,
		RecordingURL:     in.RecordingURL,
		PhoneNumber:      in.PhoneNumber,
		Direction:        domain.Direction(in.Direction),
		ClientPersonalID: in.ClientPersonalID,
		Transcript:       in.Transcript,
		Status:           in.Status,
	}
	if in.CreatedAt != nil {
		rec.CreatedAt = *in.CreatedAt
	}
	return rec
}

type metricIngest struct {
	UserID              string     `json:"userId" validate:"required"`
	StoreName           string     `json:"storeName" validate:"required,max=200"`
	CreatedAt           *time.Time `json:"createdAt"`
	TotalCalls          int        `json:"totalCalls" validate:"gte=0"`
	InitiatedCalls      int        `json:"initiatedCalls" validate:"gte=0"`
	ReceivedCalls       int        `json:"receivedCalls" validate:"gte=0"`
	ConversionRate      float64    `json:"conversionRate" validate:"gte=0"`
	DraftConversionRate float64    `json:"draftConversionRate" validate:"gte=0"`
	MinutesConsumed     float64    `json:"minutesConsumed" validate:"gte=0"`
	TotalOrders         int        `json:"totalOrders" validate:"gte=0"`
	AbandonedCarts      int        `json:"abandonedCarts" validate:"gte=0"`
	RecoveredCarts      int        `json:"recoveredCarts" validate:"gte=0"`
	GeneratedSales      float64    `json:"generatedSales" validate:"gte=0"`
	ConfirmedOrders     int        `json:"confirmedOrders" validate:"gte=0"`
	AdminName           string     `json:"adminName" validate:"max=200"`
}

func (in metricIngest) toDomain() *domain.MetricSnapshot {
	m := &domain.MetricSnapshot{
		UserID:              in.UserID,
		StoreName:           in.StoreName,
		TotalCalls:          in.TotalCalls,
		InitiatedCalls:      in.InitiatedCalls,
		ReceivedCalls:       in.ReceivedCalls,
		ConversionRate:      in.ConversionRate,
		DraftConversionRate: in.DraftConversionRate,
		MinutesConsumed:     in.MinutesConsumed,
		TotalOrders:         in.TotalOrders,
		AbandonedCarts:      in.AbandonedCarts,
		RecoveredCarts:      in.RecoveredCarts,
		GeneratedSales:      in.GeneratedSales,
		ConfirmedOrders:     in.ConfirmedOrders,
		AdminName:           in.AdminName,
	}
	if in.CreatedAt != nil {
		m.CreatedAt = *in.CreatedAt
	}
	return m
}

// UserDTO is the JSON representation of a user account.
type UserDTO struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	CreatedAt string `json:"createdAt"`
}

func toUserDTO(u *domain.User) UserDTO {
	return UserDTO{
		ID:        u.ID,
		Email:     u.Email,
		CreatedAt: u.CreatedAt.Format(time.RFC3339),
	}
}

// SessionDTO is the JSON representation of a session. The token itself
// travels in the auth cookie only.
type SessionDTO struct {
	UserID    string `json:"userId"`
	Email     string `json:"email"`
	ExpiresAt string `json:"expiresAt"`
}

func toSessionDTO(s *domain.Session) SessionDTO {
	return SessionDTO{
		UserID:    s.UserID,
		Email:     s.Email,
		ExpiresAt: s.ExpiresAt.UTC().Format(time.RFC3339),
	}
}

// RecordingDTO is the JSON representation of a call record. Transcript is
// only present on single-record reads.
type RecordingDTO struct {
	ID               int64  `json:"id"`
	CreatedAt        string `json:"createdAt"`
	DurationSeconds  *int   `json:"durationSeconds"`
	RecordingURL     string `json:"recordingUrl,omitempty"`
	PhoneNumber      string `json:"phoneNumber"`
	Direction        string `json:"direction"`
	StoreName        string `json:"storeName"`
	ClientPersonalID string `json:"clientPersonalId,omitempty"`
	Transcript       string `json:"transcript,omitempty"`
	Status           string `json:"status,omitempty"`
}

func toRecordingDTO(r domain.CallRecord) RecordingDTO {
	return RecordingDTO{
		ID:               r.ID,
		CreatedAt:        r.CreatedAt.UTC().Format(time.RFC3339),
		DurationSeconds:  r.DurationSeconds,
		RecordingURL:     r.RecordingURL,
		PhoneNumber:      r.PhoneNumber,
		Direction:        string(r.Direction),
		StoreName:        r.StoreName,
		ClientPersonalID: r.ClientPersonalID,
		Transcript:       r.Transcript,
		Status:           r.Status,
	}
}

func toRecordingDTOs(records []domain.CallRecord) []RecordingDTO {
	dtos := make([]RecordingDTO, len(records))
	for i, r := range records {
		dtos[i] = toRecordingDTO(r)
	}
	return dtos
}

// MetricDTO is the JSON representation of a metrics snapshot.
type MetricDTO struct {
	ID                  int64   `json:"id"`
	CreatedAt           string  `json:"createdAt"`
	StoreName           string  `json:"storeName"`
	TotalCalls          int     `json:"totalCalls"`
	InitiatedCalls      int     `json:"initiatedCalls"`
	ReceivedCalls       int     `json:"receivedCalls"`
	ConversionRate      float64 `json:"conversionRate"`
	DraftConversionRate float64 `json:"draftConversionRate"`
	MinutesConsumed     float64 `json:"minutesConsumed"`
	TotalOrders         int     `json:"totalOrders"`
	AbandonedCarts      int     `json:"abandonedCarts"`
	RecoveredCarts      int     `json:"recoveredCarts"`
	GeneratedSales      float64 `json:"generatedSales"`
	ConfirmedOrders     int     `json:"confirmedOrders"`
	AdminName           string  `json:"adminName,omitempty"`
}

func toMetricDTO(m domain.MetricSnapshot) MetricDTO {
	return MetricDTO{
		ID:                  m.ID,
		CreatedAt:           m.CreatedAt.UTC().Format(time.RFC3339),
		StoreName:           m.StoreName,
		TotalCalls:          m.TotalCalls,
		InitiatedCalls:      m.InitiatedCalls,
		ReceivedCalls:       m.ReceivedCalls,
		ConversionRate:      m.ConversionRate,
		DraftConversionRate: m.DraftConversionRate,
		MinutesConsumed:     m.MinutesConsumed,
		TotalOrders:         m.TotalOrders,
		AbandonedCarts:      m.AbandonedCarts,
		RecoveredCarts:      m.RecoveredCarts,
		GeneratedSales:      m.GeneratedSales,
		ConfirmedOrders:     m.ConfirmedOrders,
		AdminName:           m.AdminName,
	}
}

func toMetricDTOs(ms []domain.MetricSnapshot) []MetricDTO {
	dtos := make([]MetricDTO, len(ms))
	for i, m := range ms {
		dtos[i] = toMetricDTO(m)
	}
	return dtos
}
