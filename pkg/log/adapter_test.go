package log

import (
	"bytes"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestNew_Level(t *testing.T) {
	logger := New("debug", io.Discard)
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())

	var buf bytes.Buffer
	logger = New("loud", &buf)
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())
	assert.Contains(t, buf.String(), "Invalid log level 'loud'")
}

func TestComponent(t *testing.T) {
	entry := Component(New("info", io.Discard), "engine")
	assert.Equal(t, "engine", entry.Data["component"])
}

func TestBadgerLogrusAdapter_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger := New("info", &buf)
	adapter := NewBadgerLogrusAdapter(Component(logger, "storage"))

	adapter.Infof("replaying value log\n")
	adapter.Debugf("compaction detail\n")
	assert.Empty(t, buf.String(), "info and debug from badger are demoted below info")

	adapter.Warningf("slow write %d\n", 3)
	adapter.Errorf("disk %s\n", "full")
	out := buf.String()
	assert.Contains(t, out, "slow write 3")
	assert.Contains(t, out, "disk full")
	assert.Contains(t, out, "subsystem=badger")
	assert.NotContains(t, out, "full\n\n")
}
