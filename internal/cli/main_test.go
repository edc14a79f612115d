package cli

import (
	"os"
	"testing"

	"github.com/fatih/color"
)

func TestMain(m *testing.M) {
	// Output assertions compare plain text.
	color.NoColor = true
	os.Exit(m.Run())
}
