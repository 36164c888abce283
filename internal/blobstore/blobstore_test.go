package blobstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKey(t *testing.T) {
	tests := []struct {
		name, file, want string
	}{
		{"plain", "report.pdf", "d1/report.pdf"},
		{"strips directories", "../../etc/passwd", "d1/passwd"},
		{"windows path", `C:\docs\notes.txt`, "d1/notes.txt"},
		{"empty", "", "d1/upload"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Key("d1", tt.file))
		})
	}
}
