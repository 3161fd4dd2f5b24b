// SPDX-FileCopyrightText: 2025 InsightZen GmbH
// SPDX-License-Identifier: Apache-2.0

package db

import (
	"database/sql"
	"net/url"
	"os"

	"github.com/dlmiddlecote/sqlstats"
	gorp "github.com/go-gorp/gorp/v3"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sapcc/go-api-declarations/bininfo"
	"github.com/sapcc/go-bits/easypg"
	"github.com/sapcc/go-bits/osext"
	"github.com/sapcc/go-bits/sqlext"
)

// Configuration returns the easypg.Configuration object that func Init() needs
// to initialize the DB connection.
func Configuration() easypg.Configuration {
	return easypg.Configuration{
		Migrations: sqlMigrations,
	}
}

// Init initializes the connection to the database.
func Init() (*gorp.DbMap, error) {
	dbURL, err := easypg.URLFrom(easypg.URLParts{
		HostName:          osext.GetenvOrDefault("DIALERD_DB_HOSTNAME", "localhost"),
		Port:              osext.GetenvOrDefault("DIALERD_DB_PORT", "5432"),
		UserName:          osext.GetenvOrDefault("DIALERD_DB_USERNAME", "postgres"),
		Password:          os.Getenv("DIALERD_DB_PASSWORD"),
		ConnectionOptions: os.Getenv("DIALERD_DB_CONNECTION_OPTIONS"),
		DatabaseName:      osext.GetenvOrDefault("DIALERD_DB_NAME", "dialerd"),
	})
	if err != nil {
		return nil, err
	}
	dbMap, err := InitFromURL(&dbURL)
	if err != nil {
		return nil, err
	}
	prometheus.MustRegister(sqlstats.NewStatsCollector(bininfo.Component(), dbMap.Db))
	return dbMap, nil
}

// InitFromURL is like Init, but takes an explicit URL and does not register
// metrics. This is used to connect to the test database.
func InitFromURL(dbURL *url.URL) (*gorp.DbMap, error) {
	dbConn, err := easypg.Connect(*dbURL, Configuration())
	if err != nil {
		return nil, err
	}
	return initORM(dbConn), nil
}

// initORM wraps a database connection into a gorp.DbMap instance.
func initORM(dbConn *sql.DB) *gorp.DbMap {
	// ensure that this process does not starve other dialerd processes for DB connections
	dbConn.SetMaxOpenConns(16)

	dbMap := &gorp.DbMap{Db: dbConn, Dialect: gorp.PostgresDialect{}}
	initGorp(dbMap)
	return dbMap
}

// Interface provides the common methods that both SQL connections and
// transactions implement.
type Interface interface {
	// from database/sql
	sqlext.Executor

	// from github.com/go-gorp/gorp
	Insert(args ...any) error
	Update(args ...any) (int64, error)
	Delete(args ...any) (int64, error)
	Select(i any, query string, args ...any) ([]any, error)
	SelectOne(holder any, query string, args ...any) error
	SelectInt(query string, args ...any) (int64, error)
}
