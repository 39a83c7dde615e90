package elog

import (
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestNewProgressWithoutTTY(t *testing.T) {

	log := &CLI{DisableTTY: true}

	p := log.NewProgress("test", "%", 100)
	if _, ok := p.(*nilProgress); !ok {
		t.Errorf("expected nil progress when TTY is disabled")
	}

	// The nil progress must be safe to drive.
	p.Increment(50)
	p.Finish(true)
	p.Finish(true)
}

func TestFormat(t *testing.T) {

	log := &CLI{DisableColors: true}

	entry := &logrus.Entry{
		Message: "hello",
		Level:   logrus.InfoLevel,
	}

	out, err := log.Format(entry)
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(string(out)) != "hello" {
		t.Errorf("unexpected format output: %q", out)
	}
}

func TestViewInterface(t *testing.T) {

	// CLI must satisfy the full View contract.
	var _ View = &CLI{}
}
