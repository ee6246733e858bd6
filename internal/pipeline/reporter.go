package pipeline

import "github.com/yungbote/arfor-backend/internal/realtime"

// Stage names as they appear on the event stream.
const (
	StageIntake      = "Stage 1"
	StageDeepDive    = "Stage 2"
	StageEvaluation  = "Stage 3"
	StageArbitration = "Stage 4"
	StageAssembly    = "Stage 5"
)

// Reporter receives progress from the running pipeline. Implementations
// must be safe for concurrent use; fan-out phases report from many
// goroutines.
type Reporter interface {
	Report(stage string, status realtime.StageStatus, detail string)
}

type ReporterFunc func(stage string, status realtime.StageStatus, detail string)

func (f ReporterFunc) Report(stage string, status realtime.StageStatus, detail string) {
	f(stage, status, detail)
}

type nopReporter struct{}

func (nopReporter) Report(string, realtime.StageStatus, string) {}

// NopReporter discards progress.
var NopReporter Reporter = nopReporter{}
