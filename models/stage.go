package models

import (
	"fmt"
	"strings"
)

// Stage is a phase of the deployment pipeline. It decides whether a task's
// commands run on the controller or on the target host.
type Stage int

const (
	StageNone Stage = iota
	StagePreDeploy
	StageDeploy
	StagePostRelease
	StagePostDeploy
)

var stageNames = map[Stage]string{
	StageNone:        "",
	StagePreDeploy:   "pre-deploy",
	StageDeploy:      "deploy",
	StagePostRelease: "post-release",
	StagePostDeploy:  "post-deploy",
}

func (s Stage) String() string {
	if n, ok := stageNames[s]; ok {
		return n
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// Section is the key under `tasks` in an environment file holding the
// steps of this stage.
func (s Stage) Section() string {
	if s == StageDeploy {
		return "on-deploy"
	}
	return s.String()
}

// IsRemote reports whether commands of this stage execute on the target host.
func (s Stage) IsRemote() bool {
	return s == StageDeploy || s == StagePostRelease
}

// Stages returns the pipeline stages in execution order.
func Stages() []Stage {
	return []Stage{StagePreDeploy, StageDeploy, StagePostRelease, StagePostDeploy}
}

func ParseStage(s string) (Stage, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pre-deploy":
		return StagePreDeploy, nil
	case "deploy", "on-deploy":
		return StageDeploy, nil
	case "post-release":
		return StagePostRelease, nil
	case "post-deploy":
		return StagePostDeploy, nil
	}
	return StageNone, fmt.Errorf("unknown stage %q", s)
}
