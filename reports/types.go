/*
Package reports defines the concrete report types of the field-service CRM.

PURPOSE:
  One Details variant per engine.ActivityType. Each carries only its own
  fields and declares required ones with validator tags.

CASCADING:
  ASScheduleDetails implements engine.Cascader: editing the A/S sub-type
  of a schedule updates the paired completion.

SEE ALSO:
  - descriptors.go: Per-type behavior matrix, registered on init()
  - engine/report.go: The registry
*/
package reports

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/fieldservice-engine/engine"
)

// =============================================================================
// INQUIRY / DEMO / PURCHASE
// =============================================================================

type InquiryDetails struct {
	Channel string `json:"channel" validate:"required"`
	Content string `json:"content" validate:"required"`
}

func (InquiryDetails) ActivityType() engine.ActivityType { return engine.TypeInquiry }

func (d InquiryDetails) Fields() []engine.Field {
	return []engine.Field{{Name: "channel", Value: d.Channel}, {Name: "content", Value: d.Content}}
}

type DemoScheduleDetails struct {
	ScheduledAt time.Time `json:"scheduled_at" validate:"required"`
	Location    string    `json:"location" validate:"required"`
}

func (DemoScheduleDetails) ActivityType() engine.ActivityType { return engine.TypeDemoSchedule }

func (d DemoScheduleDetails) Fields() []engine.Field {
	return []engine.Field{{Name: "scheduled_at", Value: formatTime(d.ScheduledAt)}, {Name: "location", Value: d.Location}}
}

type DemoCompleteDetails struct {
	Outcome  string `json:"outcome" validate:"required"`
	Feedback string `json:"feedback,omitempty"`
}

func (DemoCompleteDetails) ActivityType() engine.ActivityType { return engine.TypeDemoComplete }

func (d DemoCompleteDetails) Fields() []engine.Field {
	return []engine.Field{{Name: "outcome", Value: d.Outcome}, {Name: "feedback", Value: d.Feedback}}
}

type PurchaseConfirmDetails struct {
	PaymentMethod string          `json:"payment_method" validate:"required"`
	Amount        decimal.Decimal `json:"amount"`
	ContractDate  time.Time       `json:"contract_date" validate:"required"`
}

func (PurchaseConfirmDetails) ActivityType() engine.ActivityType { return engine.TypePurchaseConfirm }

func (d PurchaseConfirmDetails) Fields() []engine.Field {
	return []engine.Field{
		{Name: "payment_method", Value: d.PaymentMethod},
		{Name: "amount", Value: d.Amount.String()},
		{Name: "contract_date", Value: formatTime(d.ContractDate)},
	}
}

// =============================================================================
// INSTALLATION
// =============================================================================

type InstallScheduleDetails struct {
	ScheduledAt time.Time `json:"scheduled_at" validate:"required"`
	Address     string    `json:"address" validate:"required"`
	Installer   string    `json:"installer,omitempty"`
}

func (InstallScheduleDetails) ActivityType() engine.ActivityType { return engine.TypeInstallSchedule }

func (d InstallScheduleDetails) Fields() []engine.Field {
	return []engine.Field{
		{Name: "scheduled_at", Value: formatTime(d.ScheduledAt)},
		{Name: "address", Value: d.Address},
		{Name: "installer", Value: d.Installer},
	}
}

type InstallCompleteDetails struct {
	CompletedAt time.Time `json:"completed_at" validate:"required"`
	Installer   string    `json:"installer" validate:"required"`
	Notes       string    `json:"notes,omitempty"`
}

func (InstallCompleteDetails) ActivityType() engine.ActivityType { return engine.TypeInstallComplete }

func (d InstallCompleteDetails) Fields() []engine.Field {
	return []engine.Field{
		{Name: "completed_at", Value: formatTime(d.CompletedAt)},
		{Name: "installer", Value: d.Installer},
		{Name: "notes", Value: d.Notes},
	}
}

// =============================================================================
// AFTER-SALES (A/S)
// =============================================================================

type ASScheduleDetails struct {
	ScheduledAt time.Time `json:"scheduled_at" validate:"required"`
	ServiceType string    `json:"service_type" validate:"required"`
	Symptom     string    `json:"symptom,omitempty"`
}

func (ASScheduleDetails) ActivityType() engine.ActivityType { return engine.TypeASSchedule }

func (d ASScheduleDetails) Fields() []engine.Field {
	return []engine.Field{
		{Name: "scheduled_at", Value: formatTime(d.ScheduledAt)},
		{Name: "service_type", Value: d.ServiceType},
		{Name: "symptom", Value: d.Symptom},
	}
}

// CascadeTo keeps the completion's A/S sub-type equal to the schedule's.
func (d ASScheduleDetails) CascadeTo(completion engine.Details) (engine.Details, bool) {
	c, ok := completion.(ASCompleteDetails)
	if !ok || c.ServiceType == d.ServiceType {
		return completion, false
	}
	c.ServiceType = d.ServiceType
	return c, true
}

type ASCompleteDetails struct {
	CompletedAt time.Time `json:"completed_at" validate:"required"`
	ServiceType string    `json:"service_type" validate:"required"`
	Resolution  string    `json:"resolution" validate:"required"`
}

func (ASCompleteDetails) ActivityType() engine.ActivityType { return engine.TypeASComplete }

func (d ASCompleteDetails) Fields() []engine.Field {
	return []engine.Field{
		{Name: "completed_at", Value: formatTime(d.CompletedAt)},
		{Name: "service_type", Value: d.ServiceType},
		{Name: "resolution", Value: d.Resolution},
	}
}

type RemoteASCompleteDetails struct {
	CompletedAt time.Time `json:"completed_at" validate:"required"`
	Channel     string    `json:"channel" validate:"required"`
	Resolution  string    `json:"resolution" validate:"required"`
}

func (RemoteASCompleteDetails) ActivityType() engine.ActivityType { return engine.TypeRemoteASComplete }

func (d RemoteASCompleteDetails) Fields() []engine.Field {
	return []engine.Field{
		{Name: "completed_at", Value: formatTime(d.CompletedAt)},
		{Name: "channel", Value: d.Channel},
		{Name: "resolution", Value: d.Resolution},
	}
}

// =============================================================================
// HELPERS
// =============================================================================

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}

// decoderFor returns a decoder producing a value of type T.
func decoderFor[T engine.Details]() engine.DetailsDecoder {
	return func(raw json.RawMessage) (engine.Details, error) {
		var d T
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, err
		}
		return d, nil
	}
}
