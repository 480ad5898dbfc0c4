package db

import (
	"database/sql"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

type DB struct {
	*sql.DB
}

func Make(dbPath string) (*DB, error) {
	// https://github.com/mattn/go-sqlite3#connection-string
	opts := []string{
		"_foreign_keys=1",
		"_journal_mode=WAL",
		"_synchronous=NORMAL",
		"_auto_vacuum=incremental",
	}

	db, err := sql.Open("sqlite3", dbPath+"?"+strings.Join(opts, "&"))
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`
		create table if not exists deployments (
			id integer primary key autoincrement,
			run_id text not null unique,
			environment text not null,
			release_id text not null default '',
			kind text not null,
			status text not null,
			error text not null default '',
			started_at text not null default (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),
			finished_at text not null default ''
		);

		create index if not exists deployments_environment on deployments (environment, id);
	`)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &DB{db}, nil
}
