package sqlstore_test

import (
	"database/sql"
	"testing"

	"github.com/corverroos/truss"
	_ "github.com/go-sql-driver/mysql"
)

var migrations = []string{
	`
	create table eventfold_events (
		id             bigint not null auto_increment,
		version        int not null,
		timestamp      bigint not null,
		user           varchar(255) not null default '',
		ip             varchar(255) not null default '',
		cmd            varchar(255) not null,
		data           blob,
		correlation_id varchar(255) not null default '',
		causation_id   bigint not null default 0,
		meta           blob,

		primary key (id),

		index by_correlation (correlation_id),
		index by_cmd (cmd),
		index by_causation (causation_id)
	)`,
	`
	create table eventfold_pending (
		id         bigint not null auto_increment,
		candidate  blob not null,
		wait_for   blob not null,
		status     int not null,
		created_at bigint not null,
		expires_at bigint not null default 0,

		primary key (id),

		index by_status (status)
	)`,
	`
	create table eventfold_snapshots (
		id         varchar(64) not null,
		model_name varchar(255) not null,
		event_id   bigint not null,
		state      longblob not null,
		meta       blob,
		created_at bigint not null,

		primary key (model_name, event_id)
	)`,
}

func ConnectForTesting(t *testing.T) *sql.DB {
	return truss.ConnectForTesting(t, migrations...)
}
