package pipeline

import "fmt"

// Stage is the closed set of pipeline stages. Exactly one stage runs per
// invocation; there is no automatic chaining. Progress across invocations
// is inferred from filesystem markers and staleness checks, never from a
// persisted state record, which is what makes interrupted runs safely
// re-runnable.
type Stage int

const (
	StageInit Stage = iota
	StageInstall
	StageRun
	StagePrepare
	StageChecksum
	StagePkglist
	StageIso
)

var stageNames = map[Stage]string{
	StageInit:     "init",
	StageInstall:  "install",
	StageRun:      "run",
	StagePrepare:  "prepare",
	StageChecksum: "checksum",
	StagePkglist:  "pkglist",
	StageIso:      "iso",
}

func (s Stage) String() string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// Stages lists all stages in pipeline order.
func Stages() []Stage {
	return []Stage{StageInit, StageInstall, StageRun, StagePrepare, StageChecksum, StagePkglist, StageIso}
}

// ParseStage resolves a stage name. Unknown names are usage errors.
func ParseStage(name string) (Stage, error) {
	for stage, stageName := range stageNames {
		if name == stageName {
			return stage, nil
		}
	}
	return 0, Usagef("unknown stage %q", name)
}
