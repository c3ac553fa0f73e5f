package journal

import (
	"testing"
	"time"

	"github.com/example/dispatch-client/internal/models"
)

func TestMemoryJournalRecords(t *testing.T) {
	j := NewMemoryJournal()
	now := time.Now()

	offer := models.RideOffer{RideID: "r1", OfferID: "of-1"}
	if err := j.SaveOfferResolution(offer, models.OfferRejected, now); err != nil {
		t.Fatal(err)
	}
	if err := j.SaveTransition("r1", "idle", "assigned", now); err != nil {
		t.Fatal(err)
	}
	if err := j.SaveTransition("r1", "assigned", "completed", now); err != nil {
		t.Fatal(err)
	}
	if err := j.SaveTransition("other", "idle", "assigned", now); err != nil {
		t.Fatal(err)
	}

	if res := j.OfferResolutions("r1"); len(res) != 1 || res[0] != models.OfferRejected {
		t.Fatalf("resolutions = %v", res)
	}
	tr := j.Transitions("r1")
	if len(tr) != 2 || tr[1][1] != "completed" {
		t.Fatalf("transitions = %v", tr)
	}
}
