package builders

import (
	"testing"

	"github.com/rushteam/nearrec/config"
	"github.com/rushteam/nearrec/pipeline"
)

func TestDefaultPipelineIsValid(t *testing.T) {
	if err := config.ValidatePipelineConfig(pipeline.DefaultConfig()); err != nil {
		t.Fatalf("default pipeline: %v", err)
	}
	if got := len(config.SupportedTypes()); got < 7 {
		t.Fatalf("expected built-in types to be registered, got %d", got)
	}
}
