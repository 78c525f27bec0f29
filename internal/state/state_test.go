package state

import (
	"context"
	"testing"

	"apflow/pkg/models"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	st, err := s.Load(ctx, "https://acme.odoo.com|acme|bot@acme.com|3")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if st.LastDocID != 0 {
		t.Errorf("fresh key LastDocID = %d, want 0", st.LastDocID)
	}

	if err := s.Save(ctx, "key-a", models.RunState{LastDocID: 120}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Save(ctx, "key-b", models.RunState{LastDocID: 9}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	st, _ = s.Load(ctx, "key-a")
	if st.LastDocID != 120 {
		t.Errorf("key-a LastDocID = %d, want 120", st.LastDocID)
	}
	st, _ = s.Load(ctx, "key-b")
	if st.LastDocID != 9 {
		t.Errorf("key-b LastDocID = %d, want 9", st.LastDocID)
	}
}

func TestGCSObjectNameEscapesTargetKey(t *testing.T) {
	s := &GCSStore{prefix: "AP_BILL_STATE_V1"}
	got := s.objectName("https://acme.odoo.com|acme|bot@acme.com|3")
	want := "AP_BILL_STATE_V1/" + "https%3A%2F%2Facme.odoo.com%7Cacme%7Cbot%40acme.com%7C3" + ".json"
	if got != want {
		t.Errorf("objectName = %q, want %q", got, want)
	}
}
