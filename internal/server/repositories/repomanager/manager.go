// Package repomanager hands out repository implementations bound to a DB
// handle or a transaction, so services can run multi-repo work inside one
// dbx.WithTx block.
package repomanager

import (
	"context"
	"database/sql"

	"driftsend/internal/dbx"
	"driftsend/internal/server/repositories/accounts"
	"driftsend/internal/server/repositories/anonusage"
	"driftsend/internal/server/repositories/transferfiles"
	"driftsend/internal/server/repositories/transfers"
)

type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Transfers(db dbx.DBTX) transfers.Repository
	TransferFiles(db dbx.DBTX) transferfiles.Repository
	Accounts(db dbx.DBTX) accounts.Repository
	AnonUsage(db dbx.DBTX) anonusage.Repository
}
