package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUploadStatusIsTerminal(t *testing.T) {
	tests := []struct {
		status UploadStatus
		want   bool
	}{
		{StatusPending, false},
		{StatusProcessing, false},
		{StatusAwaitingConfirmation, true},
		{StatusCompleted, true},
		{StatusFailed, true},
		{StatusTimedOut, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.status.IsTerminal())
		})
	}
}

func TestProgressSnapshotPercent(t *testing.T) {
	tests := []struct {
		name     string
		snapshot ProgressSnapshot
		want     float64
	}{
		{
			name:     "empty snapshot",
			snapshot: ProgressSnapshot{},
			want:     0,
		},
		{
			name:     "half done",
			snapshot: ProgressSnapshot{Total: 4, Completed: 2, Processing: 2},
			want:     50,
		},
		{
			name:     "failed jobs count toward completion",
			snapshot: ProgressSnapshot{Total: 5, Completed: 3, Failed: 2},
			want:     100,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, tt.snapshot.Percent(), 0.001)
		})
	}
}

func TestProgressSnapshotAllDone(t *testing.T) {
	assert.False(t, ProgressSnapshot{}.AllDone(), "zero total is never done")
	assert.False(t, ProgressSnapshot{Total: 3, Processing: 1}.AllDone())
	assert.True(t, ProgressSnapshot{Total: 5, Completed: 3, Failed: 2}.AllDone())
}

func TestFilePayloadHash(t *testing.T) {
	a := FilePayload{Name: "labs.pdf", Content: []byte("report body")}
	b := FilePayload{Name: "renamed.pdf", Content: []byte("report body")}
	c := FilePayload{Name: "labs.pdf", Content: []byte("different body")}

	assert.Equal(t, a.Hash(), b.Hash(), "hash depends on content only")
	assert.NotEqual(t, a.Hash(), c.Hash())
	assert.Len(t, a.Hash(), 64)
}
