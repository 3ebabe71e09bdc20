package main

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/eugenenazirov/fractal-balances/internal/tracker"
)

type fakeSnapshotter struct {
	exportErr error
	gotDir    string
	closed    bool
}

func (f *fakeSnapshotter) ExportSnapshot(_ context.Context, dir string) (tracker.Snapshot, error) {
	f.gotDir = dir
	return tracker.Snapshot{}, f.exportErr
}

func (f *fakeSnapshotter) Close() error {
	f.closed = true
	return nil
}

func TestRunSnapshotClosesApplication(t *testing.T) {
	tests := []struct {
		name      string
		exportErr error
	}{
		{name: "success"},
		{name: "export failure", exportErr: errors.New("refresh balances: boom")},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			app := &fakeSnapshotter{exportErr: tc.exportErr}

			err := runSnapshot(context.Background(), app, "out", zaptest.NewLogger(t))
			if !errors.Is(err, tc.exportErr) {
				t.Fatalf("expected error %v, got %v", tc.exportErr, err)
			}
			if !app.closed {
				t.Fatalf("expected application to be closed")
			}
			if app.gotDir != "out" {
				t.Fatalf("expected output dir to be passed through, got %q", app.gotDir)
			}
		})
	}
}
