package reports

import (
	"github.com/warp/fieldservice-engine/engine"
)

// Families.
const (
	FamilyInquiry  engine.Family = "inquiry"
	FamilyDemo     engine.Family = "demo"
	FamilyPurchase engine.Family = "purchase"
	FamilyInstall  engine.Family = "install"
	FamilyAS       engine.Family = "as"
	FamilyRemoteAS engine.Family = "remoteas"
)

// Defaults returns the default per-type behavior matrix.
//
//	type               stage       settle reserve delete-privileged photos
//	inquiry            standalone  -      -       -                 0
//	demo_schedule      schedule    -      -       -                 0
//	demo_complete      completion  -      -       -                 0
//	purchase_confirm   standalone  -      -       yes               0
//	install_schedule   schedule    -      yes     yes               0
//	install_complete   completion  yes    -       yes               1
//	as_schedule        schedule    -      yes     -                 0
//	as_complete        completion  yes    -       yes               1
//	remoteas_complete  completion  yes    -       -                 0
func Defaults() []engine.Descriptor {
	inquiry := descriptor(engine.TypeInquiry, FamilyInquiry, engine.StageStandalone, "channel", "content")
	demoSchedule := descriptor(engine.TypeDemoSchedule, FamilyDemo, engine.StageSchedule, "scheduled_at", "location")
	demoComplete := descriptor(engine.TypeDemoComplete, FamilyDemo, engine.StageCompletion, "outcome")

	purchase := descriptor(engine.TypePurchaseConfirm, FamilyPurchase, engine.StageStandalone, "payment_method", "contract_date")
	purchase.DeleteRequiresPrivileged = true

	installSchedule := descriptor(engine.TypeInstallSchedule, FamilyInstall, engine.StageSchedule, "scheduled_at", "address")
	installSchedule.ReservesStock = true
	installSchedule.DeleteRequiresPrivileged = true

	installComplete := descriptor(engine.TypeInstallComplete, FamilyInstall, engine.StageCompletion, "completed_at", "installer")
	installComplete.RequiresSettlement = true
	installComplete.MinPhotos = 1
	installComplete.DeleteRequiresPrivileged = true

	asSchedule := descriptor(engine.TypeASSchedule, FamilyAS, engine.StageSchedule, "scheduled_at", "service_type")
	asSchedule.ReservesStock = true

	asComplete := descriptor(engine.TypeASComplete, FamilyAS, engine.StageCompletion, "completed_at", "service_type", "resolution")
	asComplete.RequiresSettlement = true
	asComplete.MinPhotos = 1
	asComplete.DeleteRequiresPrivileged = true

	remoteComplete := descriptor(engine.TypeRemoteASComplete, FamilyRemoteAS, engine.StageCompletion, "completed_at", "channel", "resolution")
	remoteComplete.RequiresSettlement = true

	return []engine.Descriptor{
		inquiry, demoSchedule, demoComplete,
		purchase,
		installSchedule, installComplete,
		asSchedule, asComplete,
		remoteComplete,
	}
}

func descriptor(t engine.ActivityType, f engine.Family, s engine.Stage, required ...string) engine.Descriptor {
	return engine.Descriptor{
		Type:           t,
		Family:         f,
		Stage:          s,
		RequiredFields: required,
		EditWindowDays: engine.DefaultEditWindowDays,
	}
}

var decoders = map[engine.ActivityType]engine.DetailsDecoder{
	engine.TypeInquiry:          decoderFor[InquiryDetails](),
	engine.TypeDemoSchedule:     decoderFor[DemoScheduleDetails](),
	engine.TypeDemoComplete:     decoderFor[DemoCompleteDetails](),
	engine.TypePurchaseConfirm:  decoderFor[PurchaseConfirmDetails](),
	engine.TypeInstallSchedule:  decoderFor[InstallScheduleDetails](),
	engine.TypeInstallComplete:  decoderFor[InstallCompleteDetails](),
	engine.TypeASSchedule:       decoderFor[ASScheduleDetails](),
	engine.TypeASComplete:       decoderFor[ASCompleteDetails](),
	engine.TypeRemoteASComplete: decoderFor[RemoteASCompleteDetails](),
}

// Register (re)registers every report type with the default matrix.
func Register() {
	for _, d := range Defaults() {
		engine.RegisterReport(d, decoders[d.Type])
	}
}

func init() {
	Register()
}
