package db

import (
	"time"
)

type DeploymentStatus string

var (
	DeploymentRunning DeploymentStatus = "running"
	DeploymentSuccess DeploymentStatus = "success"
	DeploymentFailed  DeploymentStatus = "failed"
	DeploymentAborted DeploymentStatus = "aborted"
)

type DeploymentKind string

var (
	KindDeploy   DeploymentKind = "deploy"
	KindRollback DeploymentKind = "rollback"
)

type Deployment struct {
	ID          int64
	RunID       string
	Environment string
	ReleaseID   string
	Kind        DeploymentKind
	Status      DeploymentStatus
	Error       string
	StartedAt   time.Time
	FinishedAt  time.Time
}

// Duration is zero while the deployment is still running.
func (d Deployment) Duration() time.Duration {
	if d.FinishedAt.IsZero() {
		return 0
	}
	return d.FinishedAt.Sub(d.StartedAt)
}

func (db *DB) StartDeployment(runID, environment, releaseID string, kind DeploymentKind) error {
	_, err := db.Exec(`
		insert into deployments (run_id, environment, release_id, kind, status, started_at)
		values (?, ?, ?, ?, ?, ?)
	`, runID, environment, releaseID, kind, DeploymentRunning, formatTime(time.Now()))
	return err
}

// FinishDeployment closes a run. A rollback only learns its release once it
// has run, so a non-empty releaseID replaces the one it was started with.
func (db *DB) FinishDeployment(runID, releaseID string, status DeploymentStatus, errorMsg string) error {
	_, err := db.Exec(`
		update deployments
		set status = ?, error = ?, finished_at = ?,
			release_id = case when ? = '' then release_id else ? end
		where run_id = ?
	`, status, errorMsg, formatTime(time.Now()), releaseID, releaseID, runID)
	return err
}

// GetDeployments returns the latest deployments of an environment, newest
// first.
func (db *DB) GetDeployments(environment string, limit int) ([]Deployment, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := db.Query(`
		select id, run_id, environment, release_id, kind, status, error, started_at, finished_at
		from deployments
		where environment = ?
		order by id desc
		limit ?
	`, environment, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deployments []Deployment
	for rows.Next() {
		var d Deployment
		var startedAt, finishedAt string
		err := rows.Scan(&d.ID, &d.RunID, &d.Environment, &d.ReleaseID, &d.Kind, &d.Status, &d.Error, &startedAt, &finishedAt)
		if err != nil {
			return nil, err
		}
		d.StartedAt = parseTime(startedAt)
		d.FinishedAt = parseTime(finishedAt)
		deployments = append(deployments, d)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return deployments, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
