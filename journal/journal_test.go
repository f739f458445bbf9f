package journal

import (
	"context"
	"testing"
)

func TestOpenInvalidURL(t *testing.T) {
	if _, err := Open(context.Background(), "host=localhost port=notaport", "kiosk-1"); err == nil {
		t.Fatal("Open() accepted an invalid connection string")
	}
}

func TestCloseWithoutPool(t *testing.T) {
	s := &Store{}
	s.Close()
}
