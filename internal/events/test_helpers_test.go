package events

import "testing"

func mustEventID(t *testing.T, value string) EventID {
	t.Helper()
	id, err := NewEventID(value)
	if err != nil {
		t.Fatalf("unexpected event id error: %v", err)
	}
	return id
}

func mustSlotID(t *testing.T, value string) SlotID {
	t.Helper()
	id, err := NewSlotID(value)
	if err != nil {
		t.Fatalf("unexpected slot id error: %v", err)
	}
	return id
}

func mustUserID(t *testing.T, value string) UserID {
	t.Helper()
	id, err := NewUserID(value)
	if err != nil {
		t.Fatalf("unexpected user id error: %v", err)
	}
	return id
}

func mustResponseValue(t *testing.T, value string) ResponseValue {
	t.Helper()
	parsed, err := ParseResponseValue(value)
	if err != nil {
		t.Fatalf("unexpected response value error: %v", err)
	}
	return parsed
}
