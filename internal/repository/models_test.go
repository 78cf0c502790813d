package repository

import (
	"testing"
	"time"

	"github.com/kursadbilgin/podledger/internal/domain"
)

func TestNotificationModelMapping(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("x", 3600))
	n := &domain.Notification{
		ID:           "n-1",
		RecordID:     "chain-7",
		StageID:      "sprout",
		StageName:    "Sprout",
		StageIcon:    "🌱",
		Title:        "🌱 Sprout stage starting",
		Body:         "First leaves",
		ScheduledFor: at,
		Read:         true,
	}

	got := notificationModelToDomain(notificationModelFromDomain(n))
	if got.RecordID != n.RecordID || got.StageID != n.StageID || got.Title != n.Title || !got.Read {
		t.Fatalf("round trip = %+v, want %+v", got, n)
	}
	if !got.ScheduledFor.Equal(at) || got.ScheduledFor.Location() != time.UTC {
		t.Fatalf("ScheduledFor = %v, want %v in UTC", got.ScheduledFor, at)
	}
}

func TestModelMappingNil(t *testing.T) {
	t.Parallel()

	if notificationModelFromDomain(nil) != nil || notificationModelToDomain(nil) != nil {
		t.Fatal("notification mapping should keep nil")
	}
	if observationModelFromDomain(nil) != nil || localHarvestModelFromDomain(nil) != nil {
		t.Fatal("journal mapping should keep nil")
	}
}

func TestLocalHarvestModelMapping(t *testing.T) {
	t.Parallel()

	h := &domain.LocalHarvest{
		ID:            "h-1",
		ThrowID:       "chain-9",
		PlantID:       "basil",
		QuantityClass: domain.QuantityMedium,
		HarvestedAt:   time.Date(2026, 5, 2, 0, 0, 0, 0, time.UTC),
		Notes:         "first cut",
	}

	got := localHarvestModelToDomain(localHarvestModelFromDomain(h))
	if *got != *h {
		t.Fatalf("round trip = %+v, want %+v", got, h)
	}
}
